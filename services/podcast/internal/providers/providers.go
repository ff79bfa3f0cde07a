// Package providers builds the model clients and audio cache named by the
// service configuration.
package providers

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"podpdf/pkg/ai"
	"podpdf/pkg/podcast"
	"podpdf/services/podcast/internal/config"
)

// GeminiClient builds the client used for speech and, by default, scripts.
func GeminiClient(cfg config.FileConfig) (*ai.GeminiClient, error) {
	opts := []ai.GeminiOption{ai.WithGeminiTimeout(time.Duration(cfg.GeminiTimeoutSeconds) * time.Second)}
	if strings.TrimSpace(cfg.GeminiBaseURL) != "" {
		opts = append(opts, ai.WithGeminiBaseURL(cfg.GeminiBaseURL))
	}
	return ai.NewGeminiClient(cfg.GeminiAPIKey, opts...)
}

// TextGenerator picks the script provider.
func TextGenerator(cfg config.FileConfig, gemini *ai.GeminiClient) ai.TextGenerator {
	switch cfg.TextProvider {
	case config.ProviderOllama:
		return ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaURL), cfg.ScriptModel)
	case config.ProviderOpenAICompat:
		return ai.NewOpenAICompatGenerator(cfg.OpenAICompatBaseURL, cfg.OpenAICompatAPIKey, cfg.ScriptModel)
	default:
		return ai.NewGeminiGenerator(gemini, cfg.ScriptModel)
	}
}

// AudioCache returns the configured cache and a func releasing it.
func AudioCache(cfg config.FileConfig) (podcast.AudioCache, func(), error) {
	if cfg.AudioCacheBackend != config.CacheRedis {
		return podcast.NewMemoryCache(cfg.AudioCacheMaxEntries), func() {}, nil
	}
	cache, err := podcast.NewRedisCache(podcast.RedisCacheConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		TTL:      time.Duration(cfg.AudioCacheTTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}
	return cache, func() { _ = cache.Close() }, nil
}

// Orchestrator wires generator, speech and cache into a podcast.Orchestrator.
func Orchestrator(cfg config.FileConfig, logger *slog.Logger) (*podcast.Orchestrator, func(), error) {
	gemini, err := GeminiClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini client: %w", err)
	}
	cache, closeCache, err := AudioCache(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("audio cache: %w", err)
	}
	orch, err := podcast.New(podcast.Config{
		Generator:     TextGenerator(cfg, gemini),
		Speech:        ai.NewGeminiSpeech(gemini, cfg.TTSModel),
		Cache:         cache,
		MaxInputChars: cfg.MaxInputChars,
		Logger:        logger,
	})
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	return orch, closeCache, nil
}
