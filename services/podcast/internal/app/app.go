package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"podpdf/internal/util"
	"podpdf/pkg/domain"
	"podpdf/pkg/podcast"
	"podpdf/pkg/storage"
	"podpdf/pkg/wav"
)

// Config holds runtime dependencies.
type Config struct {
	Orchestrator *podcast.Orchestrator
	// Extractor defaults to ExtractText.
	Extractor TextExtractor
	// Store enables chapter archiving when set.
	Store               storage.ObjectStore
	ArchiveURLExpiry    time.Duration
	PrefetchConcurrency int
}

// App owns listener sessions and drives the orchestrator on their behalf.
type App struct {
	orch                *podcast.Orchestrator
	extract             TextExtractor
	store               storage.ObjectStore
	archiveExpiry       time.Duration
	prefetchConcurrency int

	mu       sync.RWMutex
	sessions map[string]*session
}

// Player is a session snapshot plus the playable source of the current chapter.
type Player struct {
	domain.Session
	AudioSrc string `json:"audioSrc,omitempty"`
}

// Archive describes a chapter WAV stored in object storage.
type Archive struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PlaybackEvent is a transport notification from the player.
type PlaybackEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type session struct {
	mu       sync.Mutex
	state    domain.Session
	audioSrc string

	// loadSeq increases with every navigation; a finishing load whose
	// sequence is stale must not touch the state.
	loadSeq      uint64
	loadKey      podcast.CacheKey
	loadAutoplay bool
	cancelLoad   context.CancelFunc

	archives map[string]struct{}

	// lastSeen covers reads too; the janitor sweeps on it.
	lastSeen time.Time
}

// New constructs the app.
func New(cfg Config) (*App, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator required")
	}
	extract := cfg.Extractor
	if extract == nil {
		extract = ExtractText
	}
	expiry := cfg.ArchiveURLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	concurrency := cfg.PrefetchConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	return &App{
		orch:                cfg.Orchestrator,
		extract:             extract,
		store:               cfg.Store,
		archiveExpiry:       expiry,
		prefetchConcurrency: concurrency,
		sessions:            make(map[string]*session),
	}, nil
}

// ArchiveEnabled reports whether object storage is configured.
func (a *App) ArchiveEnabled() bool {
	return a.store != nil
}

// CreateSession starts an empty session with default settings.
func (a *App) CreateSession() domain.Session {
	now := time.Now().UTC()
	s := &session{
		state: domain.Session{
			ID:           uuid.NewString(),
			Voice:        domain.DefaultVoice,
			Emotion:      domain.DefaultEmotion,
			PlaybackRate: 1,
			Bookmarks:    []domain.Bookmark{},
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		archives: make(map[string]struct{}),
		lastSeen: now,
	}
	snap := s.snapshot()
	a.mu.Lock()
	a.sessions[snap.ID] = s
	a.mu.Unlock()
	return snap
}

// GetSession returns the current state of a session.
func (a *App) GetSession(id string) (domain.Session, error) {
	s, err := a.session(id)
	if err != nil {
		return domain.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now().UTC()
	return s.snapshot(), nil
}

// DeleteSession removes a session, its cached audio and its archived files.
func (a *App) DeleteSession(ctx context.Context, id string) error {
	a.mu.Lock()
	s, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	a.release(ctx, id, s)
	return nil
}

// release frees what a removed session still holds.
func (a *App) release(ctx context.Context, id string, s *session) {
	s.mu.Lock()
	s.abortLoad()
	docID := s.state.DocumentID
	keys := make([]string, 0, len(s.archives))
	for key := range s.archives {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	logger := util.LoggerFromContext(ctx)
	if docID != "" {
		if err := a.orch.DropDocument(ctx, docID); err != nil {
			logger.Warn("drop cached audio failed", "session_id", id, "document_id", docID, "err", err)
		}
	}
	for _, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil {
			logger.Warn("delete archived audio failed", "session_id", id, "key", key, "err", err)
		}
	}
}

// UploadDocument extracts the document text, generates a script and, only on
// success, replaces the session's script. The previous document's audio and
// the session's bookmarks are discarded.
func (a *App) UploadDocument(ctx context.Context, id, filename string, r io.Reader) (domain.Session, error) {
	s, err := a.session(id)
	if err != nil {
		return domain.Session{}, err
	}
	logger := util.LoggerFromContext(ctx).With("session_id", id)

	text, err := a.extract(ctx, filename, r)
	if err != nil {
		logger.Error("text extraction failed", "filename", filename, "err", err)
		return domain.Session{}, err
	}
	script, err := a.orch.GenerateScript(ctx, text)
	if err != nil {
		logger.Error("script generation failed", "filename", filename, "err", err)
		return domain.Session{}, err
	}

	s.mu.Lock()
	s.abortLoad()
	previousDoc := s.state.DocumentID
	s.state.Script = &script
	s.state.DocumentID = uuid.NewString()
	s.state.CurrentChapter = 0
	s.state.Bookmarks = []domain.Bookmark{}
	s.state.LoadingAudio = false
	s.state.AudioLoaded = false
	s.state.Playing = false
	s.audioSrc = ""
	s.touch()
	snap := s.snapshot()
	s.mu.Unlock()

	if previousDoc != "" {
		if err := a.orch.DropDocument(ctx, previousDoc); err != nil {
			logger.Warn("drop cached audio failed", "document_id", previousDoc, "err", err)
		}
	}
	logger.Info("document loaded",
		"filename", filename,
		"document_id", snap.DocumentID,
		"text_length", len([]rune(text)),
		"chapters", len(script.Chapters),
	)
	return snap, nil
}

// SelectChapter makes index the current chapter and loads its audio with the
// session's voice and emotion.
func (a *App) SelectChapter(ctx context.Context, id string, index int, autoplay bool) (Player, error) {
	s, err := a.session(id)
	if err != nil {
		return Player{}, err
	}
	return a.loadChapter(ctx, s, index, autoplay)
}

// UpdateSettings changes voice and/or emotion. When audio is loaded (or
// loading) for the current chapter it is fetched again with the new settings
// and keeps its previous playing state.
func (a *App) UpdateSettings(ctx context.Context, id string, voice, emotion *string) (Player, error) {
	s, err := a.session(id)
	if err != nil {
		return Player{}, err
	}
	var (
		newVoice   domain.Voice
		newEmotion domain.Emotion
		ok         bool
	)
	if voice != nil {
		if newVoice, ok = domain.ParseVoice(*voice); !ok {
			return Player{}, fmt.Errorf("%w: %q", ErrInvalidVoice, *voice)
		}
	}
	if emotion != nil {
		if newEmotion, ok = domain.ParseEmotion(*emotion); !ok {
			return Player{}, fmt.Errorf("%w: %q", ErrInvalidEmotion, *emotion)
		}
	}

	s.mu.Lock()
	changed := false
	if voice != nil && newVoice != s.state.Voice {
		s.state.Voice = newVoice
		changed = true
	}
	if emotion != nil && newEmotion != s.state.Emotion {
		s.state.Emotion = newEmotion
		changed = true
	}
	reload := changed && (s.state.AudioLoaded || s.state.LoadingAudio)
	autoplay := s.state.Playing || (s.state.LoadingAudio && s.loadAutoplay)
	index := s.state.CurrentChapter
	s.touch()
	player := s.player()
	s.mu.Unlock()

	if !reload {
		return player, nil
	}
	return a.loadChapter(ctx, s, index, autoplay)
}

// CyclePlaybackRate advances the playback rate through domain.PlaybackRates.
func (a *App) CyclePlaybackRate(id string) (domain.Session, error) {
	s, err := a.session(id)
	if err != nil {
		return domain.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PlaybackRate = domain.NextPlaybackRate(s.state.PlaybackRate)
	s.touch()
	return s.snapshot(), nil
}

// HandlePlayback applies a transport event. A finished chapter advances to
// the next one; playback errors stop the player without retrying.
func (a *App) HandlePlayback(ctx context.Context, id string, ev PlaybackEvent) (Player, error) {
	s, err := a.session(id)
	if err != nil {
		return Player{}, err
	}
	s.mu.Lock()
	switch strings.ToLower(strings.TrimSpace(ev.Type)) {
	case "play":
		if !s.state.AudioLoaded {
			s.mu.Unlock()
			return Player{}, ErrAudioNotLoaded
		}
		s.state.Playing = true
	case "pause":
		s.state.Playing = false
	case "ended":
		if s.state.Script == nil {
			s.mu.Unlock()
			return Player{}, ErrNoScript
		}
		next := s.state.CurrentChapter + 1
		if next < len(s.state.Script.Chapters) {
			s.mu.Unlock()
			return a.loadChapter(ctx, s, next, true)
		}
		s.state.Playing = false
	case "error":
		s.state.Playing = false
		util.LoggerFromContext(ctx).Warn("audio playback failed",
			"session_id", id,
			"chapter", s.state.CurrentChapter,
			"err", fmt.Errorf("%w: %s", podcast.ErrPlayback, ev.Message),
		)
	default:
		s.mu.Unlock()
		return Player{}, fmt.Errorf("%w: %q", ErrInvalidEvent, ev.Type)
	}
	s.touch()
	player := s.player()
	s.mu.Unlock()
	return player, nil
}

// AddBookmark marks timestamp (seconds) in the current chapter.
func (a *App) AddBookmark(id string, timestamp float64, note string) (domain.Bookmark, error) {
	if timestamp < 0 || math.IsNaN(timestamp) || math.IsInf(timestamp, 0) {
		return domain.Bookmark{}, ErrInvalidTimestamp
	}
	s, err := a.session(id)
	if err != nil {
		return domain.Bookmark{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.AudioLoaded {
		return domain.Bookmark{}, ErrAudioNotLoaded
	}
	b := domain.Bookmark{
		ID:           uuid.NewString(),
		ChapterIndex: s.state.CurrentChapter,
		Timestamp:    timestamp,
		Note:         strings.TrimSpace(note),
		CreatedAt:    time.Now().UTC(),
	}
	s.state.Bookmarks = append(s.state.Bookmarks, b)
	s.touch()
	return b, nil
}

// ListBookmarks returns bookmarks in creation order.
func (a *App) ListBookmarks(id string) ([]domain.Bookmark, error) {
	s, err := a.session(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Bookmark(nil), s.state.Bookmarks...), nil
}

func (a *App) DeleteBookmark(id, bookmarkID string) error {
	s, err := a.session(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.state.Bookmarks {
		if b.ID == bookmarkID {
			s.state.Bookmarks = append(s.state.Bookmarks[:i], s.state.Bookmarks[i+1:]...)
			s.touch()
			return nil
		}
	}
	return ErrBookmarkNotFound
}

// JumpToBookmark switches to the bookmark's chapter, loading its audio when
// needed, and returns the position to seek to.
func (a *App) JumpToBookmark(ctx context.Context, id, bookmarkID string) (Player, float64, error) {
	s, err := a.session(id)
	if err != nil {
		return Player{}, 0, err
	}
	s.mu.Lock()
	var (
		b     domain.Bookmark
		found bool
	)
	for _, candidate := range s.state.Bookmarks {
		if candidate.ID == bookmarkID {
			b, found = candidate, true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return Player{}, 0, ErrBookmarkNotFound
	}
	if b.ChapterIndex == s.state.CurrentChapter && s.state.AudioLoaded {
		s.state.Playing = true
		s.touch()
		player := s.player()
		s.mu.Unlock()
		return player, b.Timestamp, nil
	}
	s.mu.Unlock()

	player, err := a.loadChapter(ctx, s, b.ChapterIndex, true)
	if err != nil {
		return Player{}, 0, err
	}
	return player, b.Timestamp, nil
}

// Prefetch synthesizes every chapter with the current settings and returns
// the number of chapters requested.
func (a *App) Prefetch(ctx context.Context, id string) (int, error) {
	s, err := a.session(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.state.Script == nil {
		s.mu.Unlock()
		return 0, ErrNoScript
	}
	reqs := make([]podcast.AudioRequest, 0, len(s.state.Script.Chapters))
	for i, ch := range s.state.Script.Chapters {
		reqs = append(reqs, podcast.AudioRequest{Key: s.cacheKey(i), Content: ch.Content})
	}
	s.mu.Unlock()

	if err := a.orch.Prefetch(ctx, reqs, a.prefetchConcurrency); err != nil {
		util.LoggerFromContext(ctx).Error("prefetch failed", "session_id", id, "err", err)
		return 0, err
	}
	return len(reqs), nil
}

// ChapterWAV returns the WAV bytes of a chapter for the current settings.
func (a *App) ChapterWAV(ctx context.Context, id string, index int) ([]byte, error) {
	s, err := a.session(id)
	if err != nil {
		return nil, err
	}
	data, _, err := a.chapterWAV(ctx, s, index)
	return data, err
}

// ArchiveChapter stores a chapter WAV in object storage and returns a
// presigned download URL.
func (a *App) ArchiveChapter(ctx context.Context, id string, index int) (Archive, error) {
	if a.store == nil {
		return Archive{}, ErrArchiveDisabled
	}
	s, err := a.session(id)
	if err != nil {
		return Archive{}, err
	}
	data, key, err := a.chapterWAV(ctx, s, index)
	if err != nil {
		return Archive{}, err
	}
	objectKey := fmt.Sprintf("podcasts/%s/%s/chapter-%02d-%s-%s.wav",
		id, key.DocumentID, index+1,
		strings.ToLower(string(key.Voice)), strings.ToLower(string(key.Emotion)))
	if err := a.store.Put(ctx, objectKey, data, "audio/wav"); err != nil {
		return Archive{}, err
	}
	url, err := a.store.PresignGet(ctx, objectKey, a.archiveExpiry)
	if err != nil {
		return Archive{}, err
	}
	s.mu.Lock()
	s.archives[objectKey] = struct{}{}
	s.mu.Unlock()
	util.LoggerFromContext(ctx).Info("chapter archived", "session_id", id, "chapter", index, "key", objectKey, "bytes", len(data))
	return Archive{Key: objectKey, URL: url, ExpiresAt: time.Now().UTC().Add(a.archiveExpiry)}, nil
}

func (a *App) chapterWAV(ctx context.Context, s *session, index int) ([]byte, podcast.CacheKey, error) {
	s.mu.Lock()
	key, content, err := s.chapter(index)
	s.mu.Unlock()
	if err != nil {
		return nil, key, err
	}
	src, err := a.orch.FetchAudio(ctx, key, content)
	if err != nil {
		return nil, key, err
	}
	data, err := wav.ParseDataURI(src)
	if err != nil {
		return nil, key, err
	}
	return data, key, nil
}

func (a *App) loadChapter(ctx context.Context, s *session, index int, autoplay bool) (Player, error) {
	s.mu.Lock()
	key, content, err := s.chapter(index)
	if err != nil {
		s.mu.Unlock()
		return Player{}, err
	}
	if s.cancelLoad != nil && s.loadKey != key {
		s.cancelLoad()
	}
	s.loadSeq++
	seq := s.loadSeq
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad, s.loadKey, s.loadAutoplay = cancel, key, autoplay
	s.state.CurrentChapter = index
	s.state.LoadingAudio = true
	s.state.AudioLoaded = false
	s.state.Playing = false
	s.audioSrc = ""
	s.touch()
	s.mu.Unlock()

	src, err := a.orch.FetchAudio(loadCtx, key, content)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadSeq != seq {
		return Player{}, ErrLoadSuperseded
	}
	s.cancelLoad = nil
	s.state.LoadingAudio = false
	s.touch()
	if err != nil {
		util.LoggerFromContext(ctx).Error("audio load failed",
			"session_id", s.state.ID,
			"chapter", index,
			"voice", key.Voice,
			"emotion", key.Emotion,
			"err", err,
		)
		return Player{}, err
	}
	s.audioSrc = src
	s.state.AudioLoaded = true
	s.state.Playing = autoplay
	return s.player(), nil
}

func (a *App) session(id string) (*session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// chapter resolves the cache key and spoken content of index. Callers hold s.mu.
func (s *session) chapter(index int) (podcast.CacheKey, string, error) {
	if s.state.Script == nil {
		return podcast.CacheKey{}, "", ErrNoScript
	}
	if index < 0 || index >= len(s.state.Script.Chapters) {
		return podcast.CacheKey{}, "", fmt.Errorf("%w: %d", ErrChapterOutOfRange, index)
	}
	return s.cacheKey(index), s.state.Script.Chapters[index].Content, nil
}

func (s *session) cacheKey(index int) podcast.CacheKey {
	return podcast.CacheKey{
		DocumentID: s.state.DocumentID,
		Chapter:    index,
		Voice:      s.state.Voice,
		Emotion:    s.state.Emotion,
	}
}

// abortLoad cancels any in-flight load and invalidates its result.
func (s *session) abortLoad() {
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.loadSeq++
}

func (s *session) touch() {
	s.state.UpdatedAt = time.Now().UTC()
	s.lastSeen = s.state.UpdatedAt
}

func (s *session) snapshot() domain.Session {
	snap := s.state
	snap.Bookmarks = append([]domain.Bookmark{}, s.state.Bookmarks...)
	return snap
}

func (s *session) player() Player {
	return Player{Session: s.snapshot(), AudioSrc: s.audioSrc}
}
