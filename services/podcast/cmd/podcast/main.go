package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"podpdf/internal/ratelimit"
	"podpdf/internal/util"
	"podpdf/pkg/storage"
	"podpdf/services/podcast/internal/app"
	"podpdf/services/podcast/internal/config"
	"podpdf/services/podcast/internal/providers"
	"podpdf/services/podcast/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "podcast")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, closeOrch, err := providers.Orchestrator(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init orchestrator: %v", err)
	}
	defer closeOrch()

	var objects storage.ObjectStore
	if cfg.ArchiveEnabled() {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	}

	appCore, err := app.New(app.Config{
		Orchestrator:        orch,
		Store:               objects,
		ArchiveURLExpiry:    time.Duration(cfg.ArchiveURLExpirySeconds) * time.Second,
		PrefetchConcurrency: cfg.PrefetchConcurrency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	if cfg.SessionIdleMinutes > 0 {
		maxIdle := time.Duration(cfg.SessionIdleMinutes) * time.Minute
		go appCore.RunJanitor(util.ContextWithLogger(ctx, logger), time.Minute, maxIdle)
	}

	limiter, closeLimiter, err := newUploadLimiter(cfg)
	if err != nil {
		log.Fatalf("failed to init upload limiter: %v", err)
	}
	defer closeLimiter()
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:               appCore,
		UploadLimiter:     limiter,
		TrustedProxies:    trusted,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		AllowedOrigins:    cfg.AllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 60 * time.Second,
		// script generation and speech synthesis are synchronous
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("podcast server listening",
		"addr", addr,
		"text_provider", cfg.TextProvider,
		"script_model", cfg.ScriptModel,
		"tts_model", cfg.TTSModel,
		"audio_cache", cfg.AudioCacheBackend,
		"archive", cfg.ArchiveEnabled(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

// newUploadLimiter shares the quota through Redis when configured and falls back
// to a per-process limiter otherwise.
func newUploadLimiter(cfg config.FileConfig) (ratelimit.Limiter, func(), error) {
	if cfg.UploadRateLimitPerMinute <= 0 {
		return nil, func() {}, nil
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		local, err := ratelimit.NewLocalLimiter(cfg.UploadRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, nil, err
		}
		return local, func() {}, nil
	}
	limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		Prefix:        "podpdf:podcast:ratelimit:upload",
		Limit:         cfg.UploadRateLimitPerMinute,
		Window:        time.Minute,
	})
	if err != nil {
		return nil, nil, err
	}
	return limiter, func() { _ = limiter.Close() }, nil
}
