package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr          string
	DataDir             string
	BaseURL             string
	SessionSecret       string
	APIKey              string
	VeoModel            string
	VeoBaseURL          string
	FontPath            string
	WorkerCount         int
	PollInterval        time.Duration
	MaxPollAttempts     int
	MaxUploadBytes      int64
	RetentionHours      int
	CleanupIntervalMins int
	LogLevel            string
}

func Load() *Config {
	return &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		DataDir:             envOr("DATA_DIR", "./data"),
		BaseURL:             envOr("BASE_URL", "http://localhost:8080"),
		SessionSecret:       envOr("SESSION_SECRET", "change-me-in-production-32-bytes!"),
		APIKey:              os.Getenv("GEMINI_API_KEY"),
		VeoModel:            envOr("VEO_MODEL", "veo-2.0-generate-001"),
		VeoBaseURL:          envOr("VEO_BASE_URL", "https://generativelanguage.googleapis.com"),
		FontPath:            envOr("FONT_PATH", "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"),
		WorkerCount:         envIntOr("WORKER_COUNT", 1),
		PollInterval:        time.Duration(envIntOr("POLL_INTERVAL_SECS", 1)) * time.Second,
		MaxPollAttempts:     envIntOr("MAX_POLL_ATTEMPTS", 300),
		MaxUploadBytes:      envInt64Or("MAX_UPLOAD_BYTES", 20*1024*1024),
		RetentionHours:      envIntOr("RETENTION_HOURS", 24),
		CleanupIntervalMins: envIntOr("CLEANUP_INTERVAL_MINS", 30),
		LogLevel:            envOr("LOG_LEVEL", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
