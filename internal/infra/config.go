package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	DatabaseURL string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string

	// Downloader service (media resolution).
	DownloaderBaseURL string
	DownloadAttempts  int
	DownloadTimeout   time.Duration

	// Speech-to-text service.
	SpeechBaseURL     string
	SpeechAPIKey      string
	TranscribeTimeout time.Duration

	// Language model service.
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	AnalyzeTimeout  time.Duration
	VariantsTimeout time.Duration

	// Media object storage.
	StorageDriver  string
	StoragePath    string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MediaURLTTL    time.Duration

	GeoIPDBPath   string
	DefaultLocale string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		DownloaderBaseURL: getEnv("DOWNLOADER_BASE_URL", "http://localhost:9090"),
		DownloadAttempts:  getEnvInt("DOWNLOAD_ATTEMPTS", 3),
		DownloadTimeout:   time.Second * time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 120)),

		SpeechBaseURL:     getEnv("SPEECH_BASE_URL", "http://localhost:9091"),
		SpeechAPIKey:      os.Getenv("SPEECH_API_KEY"),
		TranscribeTimeout: time.Second * time.Duration(getEnvInt("TRANSCRIBE_TIMEOUT_SECONDS", 180)),

		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		AnalyzeTimeout:  time.Second * time.Duration(getEnvInt("ANALYZE_TIMEOUT_SECONDS", 60)),
		VariantsTimeout: time.Second * time.Duration(getEnvInt("VARIANTS_TIMEOUT_SECONDS", 90)),

		StorageDriver:  getEnv("STORAGE_DRIVER", "minio"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:    getEnv("MINIO_BUCKET", "media"),
		MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MediaURLTTL:    time.Hour * time.Duration(getEnvInt("MEDIA_URL_TTL_HOURS", 24)),

		GeoIPDBPath:   os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.DownloadAttempts < 1 {
		cfg.DownloadAttempts = 1
	}

	switch cfg.StorageDriver {
	case "minio", "filesystem":
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.StorageDriver == "minio" && (cfg.MinIOAccessKey == "" || cfg.MinIOSecretKey == "") {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for the minio storage driver")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
