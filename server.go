package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"ideabox/db"
	"ideabox/handlers/bookmark"
	"ideabox/helpers"
	"ideabox/workers"
)

type Server struct {
	E        *echo.Echo
	DB       *sql.DB
	Q        *db.Queries
	Log      *zap.Logger
	Previews *workers.PreviewWorker
	Finder   workers.Finder
	Cache    *lru.Cache
	Limiter  *helpers.RateLimiter

	// PreviewTimeout bounds /api/v1/preview lookups.
	PreviewTimeout time.Duration

	bookmarks *bookmark.Bookmark
}

func NewServer(dbConn *sql.DB, log *zap.Logger, q *db.Queries, previews *workers.PreviewWorker, finder workers.Finder, cache *lru.Cache, limiter *helpers.RateLimiter, previewTimeout time.Duration) *Server {
	e := echo.New()

	// essential middleware only
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())

	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		E:        e,
		DB:       dbConn,
		Q:        q,
		Log:      log,
		Previews: previews,
		Finder:   finder,
		Cache:    cache,
		Limiter:  limiter,

		PreviewTimeout: previewTimeout,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.E.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	var queue bookmark.PreviewQueue
	if s.Previews != nil {
		queue = s.Previews
	}
	s.bookmarks = bookmark.New(s.Q, s.Log, queue, s.Finder, s.Cache, s.PreviewTimeout)

	api := s.E.Group("/api/v1")
	api.POST("/bookmarks", s.bookmarks.Create)
	api.GET("/bookmarks", s.bookmarks.List)
	api.GET("/bookmarks/:id", s.bookmarks.Get)
	api.DELETE("/bookmarks/:id", s.bookmarks.Delete)

	if s.Limiter != nil {
		api.GET("/preview", s.bookmarks.Preview, s.Limiter.Middleware)
	} else {
		api.GET("/preview", s.bookmarks.Preview)
	}
}

func (s *Server) Start(addr string) error {
	s.Log.Info("server starting", zap.String("addr", addr))
	return s.E.Start(addr)
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.E.Shutdown(ctx)
}
