package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "DATABASE_PATH", "DATABASE_URL", "APP_ENV", "LOG_LEVEL",
		"PREVIEW_WORKERS", "PREVIEW_QUEUE", "PREVIEW_MAX_REDIRECTS", "PREVIEW_BACKFILL",
		"PREVIEW_RATE", "PREVIEW_JOB_TIMEOUT", "CACHE_SIZE",
	} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DatabasePath != "data/ideabox.sqlite3" || cfg.AppEnv != "production" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PreviewWorkers != 6 || cfg.PreviewQueue != 1024 || cfg.PreviewMaxRedirects != 5 {
		t.Fatalf("unexpected preview defaults: %+v", cfg)
	}
	if !cfg.PreviewBackfill || cfg.PreviewRate != 30 || cfg.CacheSize != 1024 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PreviewJobTimeout != 30*time.Second {
		t.Fatalf("job timeout = %v", cfg.PreviewJobTimeout)
	}
	if cfg.Development() {
		t.Fatal("production config reported as development")
	}
}

func TestLoad_ClampsWorkers(t *testing.T) {
	t.Setenv("PREVIEW_WORKERS", "64")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PreviewWorkers != maxPreviewWorkers {
		t.Fatalf("workers = %d, want %d", cfg.PreviewWorkers, maxPreviewWorkers)
	}

	t.Setenv("PREVIEW_WORKERS", "0")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PreviewWorkers != 1 {
		t.Fatalf("workers = %d, want 1", cfg.PreviewWorkers)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"PREVIEW_WORKERS":     "six",
		"PREVIEW_BACKFILL":    "maybe",
		"PREVIEW_RATE":        "0",
		"PREVIEW_QUEUE":       "-1",
		"PREVIEW_JOB_TIMEOUT": "soon",
		"CACHE_SIZE":          "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%q accepted", key, val)
			}
		})
	}
}

func TestDevelopment(t *testing.T) {
	if !(&Config{LogLevel: "debug"}).Development() {
		t.Fatal("debug level should select development logging")
	}
	if !(&Config{AppEnv: "development"}).Development() {
		t.Fatal("development env should select development logging")
	}
}
