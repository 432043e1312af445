package bookmark

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	h "ideabox/helpers"
	"ideabox/workers"
)

const (
	previewQueued  = "queued"
	previewSkipped = "skipped"
	previewBusy    = "busy"
)

// enqueuePreview hands the bookmark to the preview worker.
// A full queue is not an error: the startup backfill picks the bookmark up later.
func (b *Bookmark) enqueuePreview(id, pageURL string) string {
	if b.Worker == nil {
		return previewSkipped
	}
	if b.Worker.Enqueue(workers.PreviewJob{BookmarkID: id, URL: pageURL}) {
		return previewQueued
	}
	b.Log.Debug("preview queue full", zap.String("id", id))
	return previewBusy
}

// GET /api/v1/preview?url=
func (b *Bookmark) Preview(c echo.Context) error {
	pageURL := strings.TrimSpace(c.QueryParam("url"))
	if err := h.ValidateVar(pageURL, "required,url"); err != nil {
		return h.JSONError(c, http.StatusBadRequest, "url query parameter must be an absolute URL")
	}
	if b.Finder == nil {
		return h.JSONError(c, http.StatusServiceUnavailable, "preview lookups disabled")
	}

	ctx := c.Request().Context()
	if b.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.LookupTimeout)
		defer cancel()
	}

	resp := map[string]any{"url": pageURL, "image": nil}
	if image, ok := b.Finder.Find(ctx, pageURL); ok {
		resp["image"] = image
	}
	return h.JSONSuccess(c, http.StatusOK, resp, "")
}
