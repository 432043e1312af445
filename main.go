package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"                // loads .env automatically if present
	_ "github.com/mattn/go-sqlite3"                      // local fallback driver (sqlite file)
	_ "github.com/tursodatabase/libsql-client-go/libsql" // libSQL (Turso) driver

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ideabox/config"
	"ideabox/db"
	"ideabox/helpers"
	"ideabox/preview"
	"ideabox/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Development() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := openDB(cfg, logger)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer dbConn.Close()

	if err := db.Migrate(ctx, dbConn); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	q := db.New(dbConn)

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		logger.Fatal("create cache", zap.Error(err))
	}

	resolver := preview.New(
		preview.WithLogger(logger.Named("preview")),
		preview.WithMaxRedirects(cfg.PreviewMaxRedirects),
	)

	pw := workers.NewPreviewWorker(resolver, q, logger.Named("previews"), cfg.PreviewWorkers, cfg.PreviewQueue, cfg.PreviewJobTimeout)
	pw.OnResolved = func(id, _ string) { cache.Remove(id) }
	pw.Start()
	defer pw.Stop()

	limiter := helpers.NewRateLimiter(cfg.PreviewRate, time.Minute)
	defer limiter.Close()

	srv := NewServer(dbConn, logger, q, pw, resolver, cache, limiter, cfg.PreviewJobTimeout)

	g, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf(":%s", cfg.Port)
	g.Go(func() error {
		logger.Info("starting server", zap.String("address", addr))
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.PreviewBackfill {
		g.Go(func() error {
			// a failed sweep must not take the server down
			if _, err := workers.Backfill(gctx, q, pw, logger.Named("backfill")); err != nil && gctx.Err() == nil {
				logger.Warn("preview backfill failed", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return srv.Shutdown(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}

func openDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	var (
		dbConn *sql.DB
		err    error
	)
	if cfg.DatabaseURL != "" {
		logger.Info("using libsql (Turso) DB")
		dbConn, err = sql.Open("libsql", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open libsql: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		logger.Info("using local sqlite file", zap.String("path", cfg.DatabasePath))
		dbConn, err = sql.Open("sqlite3", cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		_, _ = dbConn.Exec("PRAGMA journal_mode=WAL;")
		_, _ = dbConn.Exec("PRAGMA synchronous=NORMAL;")
	}

	dbConn.SetMaxOpenConns(1)
	dbConn.SetMaxIdleConns(1)
	return dbConn, nil
}
