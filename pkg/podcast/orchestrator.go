// Package podcast turns document text into a chapter script and lazily
// renders chapters to playable WAV data URIs.
package podcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"podpdf/pkg/ai"
	"podpdf/pkg/domain"
	"podpdf/pkg/wav"
)

// Config wires the remote services and cache used by an Orchestrator.
type Config struct {
	Generator     ai.TextGenerator
	Speech        ai.SpeechSynthesizer
	Cache         AudioCache
	MaxInputChars int
	Logger        *slog.Logger
}

// Orchestrator coordinates script generation and cached speech synthesis.
type Orchestrator struct {
	generator     ai.TextGenerator
	speech        ai.SpeechSynthesizer
	cache         AudioCache
	maxInputChars int
	logger        *slog.Logger
	flights       singleflight.Group

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one shared synthesis. Its context ends when every waiter has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// AudioRequest names one chapter rendition to synthesize.
type AudioRequest struct {
	Key     CacheKey
	Content string
}

// New validates cfg and builds an Orchestrator. A nil cache defaults to an
// unbounded MemoryCache.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Generator == nil {
		return nil, errors.New("text generator required")
	}
	if cfg.Speech == nil {
		return nil, errors.New("speech synthesizer required")
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	maxInput := cfg.MaxInputChars
	if maxInput <= 0 {
		maxInput = DefaultMaxInputChars
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		generator:     cfg.Generator,
		speech:        cfg.Speech,
		cache:         cache,
		maxInputChars: maxInput,
		logger:        logger,
		inflight:      make(map[string]*flight),
	}, nil
}

// GenerateScript asks the text model for a chapter script of text.
func (o *Orchestrator) GenerateScript(ctx context.Context, text string) (domain.PodcastScript, error) {
	if strings.TrimSpace(text) == "" {
		return domain.PodcastScript{}, ErrExtraction
	}
	systemPrompt, userPrompt := buildScriptPrompt(truncateRunes(text, o.maxInputChars))

	var (
		raw string
		err error
	)
	if gen, ok := o.generator.(ai.JSONGenerator); ok {
		raw, err = gen.GenerateJSON(ctx, systemPrompt, userPrompt)
	} else {
		raw, err = o.generator.GenerateText(ctx, systemPrompt, userPrompt)
	}
	if err != nil {
		return domain.PodcastScript{}, fmt.Errorf("%w: %w", ErrScriptGeneration, err)
	}
	script, err := ParseScript(raw)
	if err != nil {
		o.logger.Error("script response rejected", "err", err, "response_bytes", len(raw))
		return domain.PodcastScript{}, err
	}
	o.logger.Info("script generated", "title", script.Title, "chapters", len(script.Chapters))
	return script, nil
}

// FetchAudio returns the data URI for a chapter rendition, synthesizing it on
// a cache miss. Concurrent calls for the same key share one remote request,
// which keeps running as long as at least one caller is still waiting.
func (o *Orchestrator) FetchAudio(ctx context.Context, key CacheKey, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyText
	}
	if src, ok := o.cached(ctx, key); ok {
		return src, nil
	}

	name := key.String()
	o.mu.Lock()
	f := o.inflight[name]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		o.inflight[name] = f
	}
	f.waiters++
	ch := o.flights.DoChan(name, func() (any, error) {
		defer o.finish(name, f)
		if src, ok := o.cached(f.ctx, key); ok {
			return src, nil
		}
		return o.synthesize(f.ctx, key, content)
	})
	o.mu.Unlock()

	select {
	case res := <-ch:
		o.leave(name, f)
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		o.leave(name, f)
		return "", fmt.Errorf("%w: %w", ErrAudioGeneration, ctx.Err())
	}
}

// leave drops one waiter and cancels the flight once nobody waits for it.
func (o *Orchestrator) leave(name string, f *flight) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if o.inflight[name] == f {
		delete(o.inflight, name)
		// later callers must not join the canceled call
		o.flights.Forget(name)
	}
}

// finish unregisters a flight whose result is settled.
func (o *Orchestrator) finish(name string, f *flight) {
	o.mu.Lock()
	if o.inflight[name] == f {
		delete(o.inflight, name)
	}
	o.mu.Unlock()
}

// Prefetch renders every request with at most concurrency remote calls in
// flight. It stops at the first failure.
func (o *Orchestrator) Prefetch(ctx context.Context, reqs []AudioRequest, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, req := range reqs {
		r := req
		g.Go(func() error {
			_, err := o.FetchAudio(gctx, r.Key, r.Content)
			return err
		})
	}
	return g.Wait()
}

// DropDocument forgets all cached audio of a replaced document.
func (o *Orchestrator) DropDocument(ctx context.Context, documentID string) error {
	return o.cache.DropDocument(ctx, documentID)
}

func (o *Orchestrator) cached(ctx context.Context, key CacheKey) (string, bool) {
	src, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("audio cache read failed", "key", key.String(), "err", err)
		return "", false
	}
	return src, ok
}

func (o *Orchestrator) synthesize(ctx context.Context, key CacheKey, content string) (string, error) {
	text := SpeechText(content, key.Emotion)
	o.logger.Info("synthesizing audio",
		"voice", key.Voice,
		"emotion", key.Emotion,
		"chapter", key.Chapter,
		"text_length", len([]rune(text)),
	)
	pcm, err := o.speech.SynthesizeSpeech(ctx, text, string(key.Voice))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAudioGeneration, err)
	}
	src := wav.DataURI(wav.Encode(pcm, wav.DefaultFormat))

	// every caller navigated away; nobody wants this entry anymore
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrAudioGeneration, err)
	}
	if err := o.cache.Set(ctx, key, src); err != nil {
		o.logger.Warn("audio cache write failed", "key", key.String(), "err", err)
	}
	return src, nil
}
