package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"podpdf/internal/ratelimit"
	"podpdf/internal/util"
	"podpdf/pkg/domain"
	"podpdf/pkg/podcast"
	"podpdf/services/podcast/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// UploadLimiter throttles document uploads per client; nil disables it.
	UploadLimiter     ratelimit.Limiter
	TrustedProxies    *util.TrustedProxies
	MaxUploadBytes    int64
	AllowedExtensions []string
	AllowedOrigins    []string
}

// Server exposes the podcast player API.
type Server struct {
	app               *app.App
	uploadLimiter     ratelimit.Limiter
	trustedProxies    *util.TrustedProxies
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	allowedOrigins    []string
	mux               *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:               cfg.App,
		uploadLimiter:     cfg.UploadLimiter,
		trustedProxies:    cfg.TrustedProxies,
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		allowedOrigins:    cfg.AllowedOrigins,
		mux:               http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /voices", s.handleVoices)

	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /sessions/{id}/document", s.handleUploadDocument)
	s.mux.HandleFunc("PATCH /sessions/{id}/settings", s.handleUpdateSettings)
	s.mux.HandleFunc("POST /sessions/{id}/playback-rate", s.handlePlaybackRate)
	s.mux.HandleFunc("POST /sessions/{id}/playback", s.handlePlayback)
	s.mux.HandleFunc("POST /sessions/{id}/prefetch", s.handlePrefetch)

	// chapters
	s.mux.HandleFunc("POST /sessions/{id}/chapters/{n}/audio", s.handleSelectChapter)
	s.mux.HandleFunc("GET /sessions/{id}/chapters/{n}/audio.wav", s.handleChapterWAV)
	s.mux.HandleFunc("POST /sessions/{id}/chapters/{n}/archive", s.handleArchiveChapter)

	// bookmarks
	s.mux.HandleFunc("GET /sessions/{id}/bookmarks", s.handleListBookmarks)
	s.mux.HandleFunc("POST /sessions/{id}/bookmarks", s.handleAddBookmark)
	s.mux.HandleFunc("DELETE /sessions/{id}/bookmarks/{bid}", s.handleDeleteBookmark)
	s.mux.HandleFunc("POST /sessions/{id}/bookmarks/{bid}/jump", s.handleJumpToBookmark)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, voicesResponse{
		Voices:         domain.Voices,
		Emotions:       domain.Emotions,
		DefaultVoice:   domain.DefaultVoice,
		DefaultEmotion: domain.DefaultEmotion,
		PlaybackRates:  domain.PlaybackRates,
		ArchiveEnabled: s.app.ArchiveEnabled(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, s.app.CreateSession())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.app.GetSession(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.uploadLimiter, "too many uploads") {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
				fmt.Sprintf("file exceeds %d bytes", s.maxUploadBytes))
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_FORM", "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "FILE_REQUIRED", "file is required (field: file)")
		return
	}
	defer file.Close()
	if !s.isExtensionAllowed(header.Filename) {
		writeError(w, r, http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "unsupported file type")
		return
	}
	sess, err := s.app.UploadDocument(r.Context(), r.PathValue("id"), header.Filename, file)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSelectChapter(w http.ResponseWriter, r *http.Request) {
	index, ok := chapterIndex(w, r)
	if !ok {
		return
	}
	req := selectChapterRequest{}
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	autoplay := req.Autoplay == nil || *req.Autoplay
	player, err := s.app.SelectChapter(r.Context(), r.PathValue("id"), index, autoplay)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *Server) handleChapterWAV(w http.ResponseWriter, r *http.Request) {
	index, ok := chapterIndex(w, r)
	if !ok {
		return
	}
	data, err := s.app.ChapterWAV(r.Context(), r.PathValue("id"), index)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="chapter-%02d.wav"`, index+1))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleArchiveChapter(w http.ResponseWriter, r *http.Request) {
	index, ok := chapterIndex(w, r)
	if !ok {
		return
	}
	archive, err := s.app.ArchiveChapter(r.Context(), r.PathValue("id"), index)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, archive)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Voice == nil && req.Emotion == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "voice or emotion is required")
		return
	}
	player, err := s.app.UpdateSettings(r.Context(), r.PathValue("id"), req.Voice, req.Emotion)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *Server) handlePlaybackRate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.app.CyclePlaybackRate(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	var ev app.PlaybackEvent
	if !decodeJSON(w, r, &ev) {
		return
	}
	player, err := s.app.HandlePlayback(r.Context(), r.PathValue("id"), ev)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Prefetch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"chapters": n})
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.ListBookmarks(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request) {
	var req bookmarkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Timestamp == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_TIMESTAMP", "timestamp is required")
		return
	}
	b, err := s.app.AddBookmark(r.PathValue("id"), *req.Timestamp, req.Note)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteBookmark(r.PathValue("id"), r.PathValue("bid")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJumpToBookmark(w http.ResponseWriter, r *http.Request) {
	player, seekTo, err := s.app.JumpToBookmark(r.Context(), r.PathValue("id"), r.PathValue("bid"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jumpResponse{Player: player, SeekTo: seekTo})
}

type voicesResponse struct {
	Voices         []domain.Voice   `json:"voices"`
	Emotions       []domain.Emotion `json:"emotions"`
	DefaultVoice   domain.Voice     `json:"defaultVoice"`
	DefaultEmotion domain.Emotion   `json:"defaultEmotion"`
	PlaybackRates  []float64        `json:"playbackRates"`
	ArchiveEnabled bool             `json:"archiveEnabled"`
}

type selectChapterRequest struct {
	Autoplay *bool `json:"autoplay"`
}

type settingsRequest struct {
	Voice   *string `json:"voice"`
	Emotion *string `json:"emotion"`
}

type bookmarkRequest struct {
	Timestamp *float64 `json:"timestamp"`
	Note      string   `json:"note"`
}

type jumpResponse struct {
	app.Player
	SeekTo float64 `json:"seekTo"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func chapterIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "CHAPTER_OUT_OF_RANGE", "chapter index must be an integer")
		return 0, false
	}
	return n, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: util.RequestIDFromRequest(r),
	})
}

// writeAppError maps domain errors to a status and a stable error code.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		status, code = http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, app.ErrBookmarkNotFound):
		status, code = http.StatusNotFound, "BOOKMARK_NOT_FOUND"
	case errors.Is(err, app.ErrNoScript):
		status, code = http.StatusConflict, "NO_SCRIPT"
	case errors.Is(err, app.ErrAudioNotLoaded):
		status, code = http.StatusConflict, "AUDIO_NOT_LOADED"
	case errors.Is(err, app.ErrLoadSuperseded):
		status, code = http.StatusConflict, "LOAD_SUPERSEDED"
	case errors.Is(err, app.ErrChapterOutOfRange):
		status, code = http.StatusBadRequest, "CHAPTER_OUT_OF_RANGE"
	case errors.Is(err, app.ErrInvalidVoice):
		status, code = http.StatusBadRequest, "INVALID_VOICE"
	case errors.Is(err, app.ErrInvalidEmotion):
		status, code = http.StatusBadRequest, "INVALID_EMOTION"
	case errors.Is(err, app.ErrInvalidEvent):
		status, code = http.StatusBadRequest, "INVALID_EVENT"
	case errors.Is(err, app.ErrInvalidTimestamp):
		status, code = http.StatusBadRequest, "INVALID_TIMESTAMP"
	case errors.Is(err, app.ErrArchiveDisabled):
		status, code = http.StatusNotImplemented, "ARCHIVE_DISABLED"
	case errors.Is(err, podcast.ErrExtraction):
		status, code = http.StatusUnprocessableEntity, "PODCAST_EXTRACTION_FAILED"
	case errors.Is(err, podcast.ErrEmptyText):
		status, code = http.StatusUnprocessableEntity, "PODCAST_EMPTY_TEXT"
	case errors.Is(err, podcast.ErrScriptGeneration):
		status, code = http.StatusBadGateway, "PODCAST_SCRIPT_FAILED"
	case errors.Is(err, podcast.ErrAudioGeneration):
		status, code = http.StatusBadGateway, "PODCAST_AUDIO_FAILED"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("unhandled error", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeError(w, r, status, code, msg)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	if limiter == nil {
		return true
	}
	ip := util.ClientIP(r, s.trustedProxies)
	decision := limiter.Allow(r.Context(), ip)
	if decision.Allowed {
		return true
	}
	util.LoggerFromContext(r.Context()).Warn("rate limited", "path", r.URL.Path, "ip", ip)
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = int(time.Minute.Seconds())
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", msg)
	return false
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".pdf", ".epub", ".txt"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
