// Package config loads runtime configuration from the environment, with
// optional .env file support for local runs.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/model"
	"github.com/fpang/tryon-pipeline/internal/store"
)

// Config is the resolved runtime configuration.
type Config struct {
	APIKey            string
	SSMAPIKeyParam    string
	BaseURL           string
	ImageModel        string
	TextModel         string
	RequestsPerMinute int
	HTTPTimeout       time.Duration

	TableName    string
	BucketName   string
	HistoryLimit int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EventBus   string
	APISecret  string
	ListenAddr string

	LogLevel  string
	LogFormat string
}

// Defaults.
const (
	DefaultHTTPTimeout       = 120 * time.Second
	DefaultRequestsPerMinute = 0
	DefaultListenAddr        = "127.0.0.1:8080"
)

// Load reads the optional .env files, then the environment. Files are
// loaded in order and never override variables that are already set.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, model.NewError(model.KindConfiguration, "config", "failed to read "+f, err)
		}
		log.Debug().Str("file", f).Msg("Loaded environment file")
	}

	cfg := &Config{
		APIKey:            os.Getenv("GEMINI_API_KEY"),
		SSMAPIKeyParam:    os.Getenv("SSM_API_KEY_PARAM"),
		BaseURL:           getEnv("GEMINI_BASE_URL", chat.DefaultBaseURL),
		ImageModel:        getEnv("GEMINI_IMAGE_MODEL", chat.DefaultImageModel),
		TextModel:         getEnv("GEMINI_TEXT_MODEL", chat.DefaultTextModel),
		RequestsPerMinute: getEnvInt("GEMINI_REQUESTS_PER_MINUTE", DefaultRequestsPerMinute),
		HTTPTimeout:       getEnvDuration("HTTP_TIMEOUT_SECONDS", DefaultHTTPTimeout),
		TableName:         os.Getenv("TRYON_TABLE_NAME"),
		BucketName:        os.Getenv("TRYON_BUCKET_NAME"),
		HistoryLimit:      getEnvInt("TRYON_HISTORY_LIMIT", store.DefaultHistoryLimit),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		EventBus:          os.Getenv("TRYON_EVENT_BUS"),
		APISecret:         os.Getenv("TRYON_API_SECRET"),
		ListenAddr:        getEnv("TRYON_LISTEN_ADDR", DefaultListenAddr),
		LogLevel:          getEnv("TRYON_LOG_LEVEL", "info"),
		LogFormat:         getEnv("TRYON_LOG_FORMAT", "console"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. A missing API key is not an error here;
// see RequireAPIKey.
func (c *Config) Validate() error {
	switch {
	case c.RequestsPerMinute < 0:
		return model.Errorf(model.KindConfiguration, "config", "GEMINI_REQUESTS_PER_MINUTE must not be negative, got %d", c.RequestsPerMinute)
	case c.HTTPTimeout <= 0:
		return model.Errorf(model.KindConfiguration, "config", "HTTP_TIMEOUT_SECONDS must be positive, got %v", c.HTTPTimeout)
	case c.HistoryLimit <= 0:
		return model.Errorf(model.KindConfiguration, "config", "TRYON_HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	case c.RedisDB < 0:
		return model.Errorf(model.KindConfiguration, "config", "REDIS_DB must not be negative, got %d", c.RedisDB)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return model.Errorf(model.KindConfiguration, "config", "TRYON_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// RequireAPIKey fails with a configuration error when no key is set.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return model.NewError(model.KindConfiguration, "config", "GEMINI_API_KEY is not set", nil)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return def
	}
	return n
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
