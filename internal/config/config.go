package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string

	// BackendBaseURL is the examiner backend's HTTP root, e.g.
	// "http://localhost:9000". BackendWSURL is the push-channel endpoint;
	// when empty it is derived from BackendBaseURL (http→ws).
	BackendBaseURL string
	BackendWSURL   string
	// AudioPathPrefix is joined in front of bare audio filenames returned
	// by the backend (see audio.Resolver).
	AudioPathPrefix string

	// Per-operation request timeouts. Every backend call is bounded.
	HealthTimeout  time.Duration
	ControlTimeout time.Duration
	AudioTimeout   time.Duration

	// Push-channel reconnect policy: up to ReconnectMaxAttempts automatic
	// attempts, delayed attempt*ReconnectBaseDelay each.
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration

	// ProcessingGrace is added on top of the request timeout before the
	// turn coordinator gives up on an in-flight answer.
	ProcessingGrace time.Duration

	// SessionIdleTTL bounds how long an untouched session survives before
	// the reaper cleans it up.
	SessionIdleTTL time.Duration

	// MaxClipBytes caps the assembled size of one recorded answer clip.
	MaxClipBytes int64

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		GinMode:              getEnv("GIN_MODE", "debug"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "pretty"),
		BackendBaseURL:       strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:9000"), "/"),
		BackendWSURL:         getEnv("BACKEND_WS_URL", ""),
		AudioPathPrefix:      getEnv("AUDIO_PATH_PREFIX", "/api/audio/"),
		HealthTimeout:        getEnvDuration("HEALTH_TIMEOUT", 3*time.Second),
		ControlTimeout:       getEnvDuration("CONTROL_TIMEOUT", 15*time.Second),
		AudioTimeout:         getEnvDuration("AUDIO_TIMEOUT", 30*time.Second),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 3),
		ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", time.Second),
		ProcessingGrace:      getEnvDuration("PROCESSING_GRACE", 2*time.Second),
		SessionIdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		MaxClipBytes:         int64(getEnvInt("MAX_CLIP_SIZE_MB", 10)) * 1024 * 1024,
		AllowedOrigins:       parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

// PushURL returns the websocket endpoint for the backend push channel,
// deriving it from BackendBaseURL when BACKEND_WS_URL is not set.
func (c *Config) PushURL() string {
	if c.BackendWSURL != "" {
		return c.BackendWSURL
	}
	url := c.BackendBaseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
