package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable by PODCAST_CONFIG.
const ConfigPath = "config.yaml"

// Text generation providers.
const (
	ProviderGemini       = "gemini"
	ProviderOllama       = "ollama"
	ProviderOpenAICompat = "openai-compat"
)

// Audio cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	// SessionIdleMinutes removes sessions idle that long; 0 keeps them forever.
	SessionIdleMinutes int `yaml:"sessionIdleMinutes"`

	TextProvider         string `yaml:"textProvider"`
	GeminiAPIKey         string `yaml:"geminiApiKey"`
	GeminiBaseURL        string `yaml:"geminiBaseURL"`
	GeminiTimeoutSeconds int    `yaml:"geminiTimeoutSeconds"`
	ScriptModel          string `yaml:"scriptModel"`
	TTSModel             string `yaml:"ttsModel"`
	OllamaURL            string `yaml:"ollamaURL"`
	OpenAICompatBaseURL  string `yaml:"openAICompatBaseURL"`
	OpenAICompatAPIKey   string `yaml:"openAICompatApiKey"`
	MaxInputChars        int    `yaml:"maxInputChars"`
	PrefetchConcurrency  int    `yaml:"prefetchConcurrency"`

	AudioCacheBackend    string `yaml:"audioCacheBackend"`
	AudioCacheMaxEntries int    `yaml:"audioCacheMaxEntries"`
	AudioCacheTTLSeconds int    `yaml:"audioCacheTTLSeconds"`
	RedisAddr            string `yaml:"redisAddr"`
	RedisPassword        string `yaml:"redisPassword"`

	MaxUploadBytes           int64    `yaml:"maxUploadBytes"`
	AllowedExtensions        []string `yaml:"allowedExtensions"`
	UploadRateLimitPerMinute int      `yaml:"uploadRateLimitPerMinute"`

	MinioEndpoint           string `yaml:"minioEndpoint"`
	MinioAccessKey          string `yaml:"minioAccessKey"`
	MinioSecretKey          string `yaml:"minioSecretKey"`
	MinioBucket             string `yaml:"minioBucket"`
	MinioUseSSL             bool   `yaml:"minioUseSSL"`
	MinioRegion             string `yaml:"minioRegion"`
	ArchiveURLExpirySeconds int    `yaml:"archiveURLExpirySeconds"`
}

// Load reads config from path (defaults to PODCAST_CONFIG, then config.yaml),
// applies environment overrides and fills defaults.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("PODCAST_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ArchiveEnabled reports whether object storage is configured.
func (c FileConfig) ArchiveEnabled() bool {
	return strings.TrimSpace(c.MinioEndpoint) != ""
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	setString("PODCAST_PORT", &cfg.Port)
	setString("PODCAST_LOG_LEVEL", &cfg.LogLevel)
	setList("PODCAST_ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	setList("PODCAST_TRUSTED_PROXIES", &cfg.TrustedProxies)
	setInt("PODCAST_SESSION_IDLE_MINUTES", &cfg.SessionIdleMinutes)
	setString("PODCAST_TEXT_PROVIDER", &cfg.TextProvider)
	setString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	setInt("PODCAST_GEMINI_TIMEOUT_SECONDS", &cfg.GeminiTimeoutSeconds)
	setString("PODCAST_SCRIPT_MODEL", &cfg.ScriptModel)
	setString("PODCAST_TTS_MODEL", &cfg.TTSModel)
	setString("OLLAMA_URL", &cfg.OllamaURL)
	setString("PODCAST_OPENAI_COMPAT_BASE_URL", &cfg.OpenAICompatBaseURL)
	setString("PODCAST_OPENAI_COMPAT_API_KEY", &cfg.OpenAICompatAPIKey)
	setInt("PODCAST_MAX_INPUT_CHARS", &cfg.MaxInputChars)
	setInt("PODCAST_PREFETCH_CONCURRENCY", &cfg.PrefetchConcurrency)
	setString("PODCAST_AUDIO_CACHE_BACKEND", &cfg.AudioCacheBackend)
	setInt("PODCAST_AUDIO_CACHE_MAX_ENTRIES", &cfg.AudioCacheMaxEntries)
	setInt("PODCAST_AUDIO_CACHE_TTL_SECONDS", &cfg.AudioCacheTTLSeconds)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	if v := os.Getenv("PODCAST_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	setInt("PODCAST_UPLOAD_RATE_LIMIT_PER_MINUTE", &cfg.UploadRateLimitPerMinute)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setString("MINIO_REGION", &cfg.MinioRegion)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = enabled
		}
	}
	setInt("PODCAST_ARCHIVE_URL_EXPIRY_SECONDS", &cfg.ArchiveURLExpirySeconds)
}

func applyDefaults(cfg *FileConfig) {
	cfg.TextProvider = strings.ToLower(strings.TrimSpace(cfg.TextProvider))
	if cfg.TextProvider == "" {
		cfg.TextProvider = ProviderGemini
	}
	if cfg.ScriptModel == "" && cfg.TextProvider == ProviderGemini {
		cfg.ScriptModel = "gemini-2.5-flash"
	}
	if cfg.GeminiTimeoutSeconds == 0 {
		cfg.GeminiTimeoutSeconds = 300
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "gemini-2.5-flash-preview-tts"
	}
	cfg.AudioCacheBackend = strings.ToLower(strings.TrimSpace(cfg.AudioCacheBackend))
	if cfg.AudioCacheBackend == "" {
		cfg.AudioCacheBackend = CacheMemory
	}
	if cfg.PrefetchConcurrency == 0 {
		cfg.PrefetchConcurrency = 2
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".pdf", ".epub", ".txt"}
	}
	if cfg.ArchiveURLExpirySeconds == 0 {
		cfg.ArchiveURLExpirySeconds = 3600
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PODCAST_PORT)")
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return errors.New("config: geminiApiKey is required for speech synthesis (set in config.yaml or GEMINI_API_KEY)")
	}
	switch cfg.TextProvider {
	case ProviderGemini:
	case ProviderOllama:
		if strings.TrimSpace(cfg.OllamaURL) == "" || strings.TrimSpace(cfg.ScriptModel) == "" {
			return errors.New("config: ollama provider requires ollamaURL and scriptModel")
		}
	case ProviderOpenAICompat:
		if strings.TrimSpace(cfg.OpenAICompatBaseURL) == "" || strings.TrimSpace(cfg.ScriptModel) == "" {
			return errors.New("config: openai-compat provider requires openAICompatBaseURL and scriptModel")
		}
	default:
		return fmt.Errorf("config: unknown textProvider %q (gemini, ollama, openai-compat)", cfg.TextProvider)
	}
	switch cfg.AudioCacheBackend {
	case CacheMemory:
	case CacheRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redis audio cache requires redisAddr (set in config.yaml or REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("config: unknown audioCacheBackend %q (memory, redis)", cfg.AudioCacheBackend)
	}
	if cfg.AudioCacheMaxEntries < 0 {
		return errors.New("config: audioCacheMaxEntries must be >= 0")
	}
	if cfg.AudioCacheTTLSeconds < 0 {
		return errors.New("config: audioCacheTTLSeconds must be >= 0")
	}
	if cfg.SessionIdleMinutes < 0 {
		return errors.New("config: sessionIdleMinutes must be >= 0")
	}
	if cfg.GeminiTimeoutSeconds < 0 {
		return errors.New("config: geminiTimeoutSeconds must be >= 0")
	}
	if cfg.MaxInputChars < 0 {
		return errors.New("config: maxInputChars must be >= 0")
	}
	if cfg.PrefetchConcurrency < 1 {
		return errors.New("config: prefetchConcurrency must be > 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be > 0")
	}
	if cfg.UploadRateLimitPerMinute < 0 {
		return errors.New("config: uploadRateLimitPerMinute must be >= 0")
	}
	if cfg.ArchiveEnabled() {
		if strings.TrimSpace(cfg.MinioBucket) == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minio credentials are required when minioEndpoint is set (MINIO_ACCESS_KEY + MINIO_SECRET_KEY)")
		}
	}
	if cfg.ArchiveURLExpirySeconds < 0 {
		return errors.New("config: archiveURLExpirySeconds must be > 0")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
