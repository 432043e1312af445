// config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the app.
type Config struct {
	Port         string
	DatabasePath string
	DatabaseURL  string
	AppEnv       string // "development" | "production"
	LogLevel     string

	PreviewWorkers      int
	PreviewQueue        int
	PreviewMaxRedirects int
	PreviewBackfill     bool
	PreviewRate         int // lookups per client per minute on /api/v1/preview
	PreviewJobTimeout   time.Duration

	CacheSize int
}

const maxPreviewWorkers = 16

func Load() (*Config, error) {
	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		DatabasePath: getenv("DATABASE_PATH", "data/ideabox.sqlite3"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		AppEnv:       getenv("APP_ENV", "production"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PreviewWorkers, err = getint("PREVIEW_WORKERS", 6); err != nil {
		return nil, err
	}
	if cfg.PreviewQueue, err = getint("PREVIEW_QUEUE", 1024); err != nil {
		return nil, err
	}
	if cfg.PreviewMaxRedirects, err = getint("PREVIEW_MAX_REDIRECTS", 5); err != nil {
		return nil, err
	}
	if cfg.PreviewRate, err = getint("PREVIEW_RATE", 30); err != nil {
		return nil, err
	}
	if cfg.CacheSize, err = getint("CACHE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.PreviewBackfill, err = getbool("PREVIEW_BACKFILL", true); err != nil {
		return nil, err
	}
	if cfg.PreviewJobTimeout, err = getduration("PREVIEW_JOB_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.PreviewWorkers = min(max(cfg.PreviewWorkers, 1), maxPreviewWorkers)
	if cfg.PreviewQueue < 0 {
		return nil, fmt.Errorf("PREVIEW_QUEUE must not be negative")
	}
	if cfg.PreviewMaxRedirects < 0 {
		return nil, fmt.Errorf("PREVIEW_MAX_REDIRECTS must not be negative")
	}
	if cfg.PreviewRate < 1 {
		return nil, fmt.Errorf("PREVIEW_RATE must be at least 1")
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("CACHE_SIZE must be at least 1")
	}

	return cfg, nil
}

// Development reports whether verbose development logging should be used.
func (c *Config) Development() bool {
	return c.LogLevel == "debug" || c.AppEnv == "development"
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getbool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
