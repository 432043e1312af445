package bookmark

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ideabox/db"
	h "ideabox/helpers"
	"ideabox/workers"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	insertAttempts  = 5
)

// PreviewQueue is the part of *workers.PreviewWorker the handlers use.
type PreviewQueue interface {
	Enqueue(job workers.PreviewJob) bool
	Cancel(bookmarkID string) bool
}

// Bookmark handler contains dependencies for bookmark endpoints.
type Bookmark struct {
	Q      *db.Queries
	Log    *zap.Logger
	Worker PreviewQueue
	Finder workers.Finder
	Cache  *lru.Cache

	// LookupTimeout bounds a synchronous preview lookup, redirects included.
	LookupTimeout time.Duration
}

func New(q *db.Queries, log *zap.Logger, w PreviewQueue, finder workers.Finder, cache *lru.Cache, lookupTimeout time.Duration) *Bookmark {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bookmark{
		Q:      q,
		Log:    log,
		Worker: w,
		Finder: finder,
		Cache:  cache,

		LookupTimeout: lookupTimeout,
	}
}

type view struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Image     *string   `json:"image"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toView(row db.Bookmark) view {
	v := view{
		ID:        row.ID,
		URL:       row.Url,
		Title:     row.Title.String,
		Tags:      h.SplitTags(row.Tags),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Image.Valid && row.Image.String != "" {
		img := row.Image.String
		v.Image = &img
	}
	return v
}

// POST /api/v1/bookmarks
func (b *Bookmark) Create(c echo.Context) error {
	var req struct {
		URL   string   `json:"url" validate:"required,url"`
		Title string   `json:"title" validate:"max=300"`
		Image string   `json:"image" validate:"omitempty,url"`
		Tags  []string `json:"tags" validate:"max=20,dive,max=40"`
	}
	if err := h.BindAndValidate(c, &req); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	row, err := h.TryInsertWithRetry(ctx, b.Q, h.NewBookmark{
		URL:   req.URL,
		Title: req.Title,
		Image: req.Image,
		Tags:  req.Tags,
	}, insertAttempts, b.Log)
	if err != nil {
		b.Log.Error("failed to create bookmark", zap.Error(err))
		return h.JSONError(c, http.StatusInternalServerError, "couldn't create bookmark")
	}

	status := previewSkipped
	if !row.Image.Valid {
		status = b.enqueuePreview(row.ID, row.Url)
	}

	c.Response().Header().Set("Location", "/api/v1/bookmarks/"+row.ID)
	return h.JSONSuccess(c, http.StatusCreated, map[string]any{
		"bookmark": toView(row),
		"preview":  status,
	}, "")
}

// GET /api/v1/bookmarks
func (b *Bookmark) List(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		rows []db.Bookmark
		err  error
	)
	if missing, _ := strconv.ParseBool(c.QueryParam("missing_image")); missing {
		rows, err = b.Q.ListBookmarksMissingImage(ctx)
	} else {
		limit, offset, perr := page(c)
		if perr != nil {
			return h.JSONError(c, http.StatusBadRequest, perr)
		}
		rows, err = b.Q.ListBookmarks(ctx, db.ListBookmarksParams{Limit: limit, Offset: offset})
	}
	if err != nil {
		b.Log.Error("failed to list bookmarks", zap.Error(err))
		return h.JSONError(c, http.StatusInternalServerError, "db error")
	}

	out := make([]view, 0, len(rows))
	for _, r := range rows {
		out = append(out, toView(r))
	}
	return h.JSONSuccess(c, http.StatusOK, map[string]any{"bookmarks": out}, "")
}

// GET /api/v1/bookmarks/:id
func (b *Bookmark) Get(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return h.JSONError(c, http.StatusBadRequest, "missing id")
	}

	row, _, err := b.lookup(c.Request().Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return h.JSONError(c, http.StatusNotFound, "not found")
	}
	if err != nil {
		b.Log.Error("db lookup failed", zap.Error(err))
		return h.JSONError(c, http.StatusInternalServerError, "db error")
	}
	return h.JSONSuccess(c, http.StatusOK, toView(row), "")
}

// DELETE /api/v1/bookmarks/:id
func (b *Bookmark) Delete(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return h.JSONError(c, http.StatusBadRequest, "missing id")
	}

	if b.Worker != nil && b.Worker.Cancel(id) {
		b.Log.Debug("canceled pending preview", zap.String("id", id))
	}

	n, err := b.Q.DeleteBookmark(c.Request().Context(), id)
	b.Forget(id)
	if err != nil {
		b.Log.Error("failed to delete bookmark", zap.Error(err))
		return h.JSONError(c, http.StatusInternalServerError, "db error")
	}
	if n == 0 {
		return h.JSONError(c, http.StatusNotFound, "not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func page(c echo.Context) (int64, int64, error) {
	limit, offset := int64(defaultPageSize), int64(0)
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(n, maxPageSize)
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}
