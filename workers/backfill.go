package workers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ideabox/db"
)

// MissingImageLister lists bookmarks that still need a preview image.
type MissingImageLister interface {
	ListBookmarksMissingImage(ctx context.Context) ([]db.Bookmark, error)
}

// BackfillStats summarizes one sweep.
type BackfillStats struct {
	Scanned  int
	Updated  int
	Missed   int
	Canceled int
	Failed   int
}

// Backfill submits every bookmark lacking an image to the worker and waits
// for all of them. Concurrency is bounded by the worker's pool size. If ctx
// is canceled the remaining work is dropped and in-flight lookups are aborted.
func Backfill(ctx context.Context, lister MissingImageLister, w *PreviewWorker, log *zap.Logger) (BackfillStats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()

	rows, err := lister.ListBookmarksMissingImage(ctx)
	if err != nil {
		return BackfillStats{}, err
	}

	var (
		stats BackfillStats
		mu    sync.Mutex
		wg    sync.WaitGroup
	)
	record := func(out PreviewOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case out.Err == nil:
			if out.Updated {
				stats.Updated++
			}
		case errors.Is(out.Err, ErrNoPreview):
			stats.Missed++
		case errors.Is(out.Err, ErrJobCanceled):
			stats.Canceled++
		default:
			stats.Failed++
		}
	}

	var submitErr error
	for _, b := range rows {
		if strings.TrimSpace(b.Url) == "" || (b.Image.Valid && b.Image.String != "") {
			continue
		}
		wg.Add(1)
		err := w.Submit(ctx, PreviewJob{
			BookmarkID: b.ID,
			URL:        b.Url,
			Done: func(out PreviewOutcome) {
				defer wg.Done()
				record(out)
			},
		})
		if err != nil {
			wg.Done()
			submitErr = err
			break
		}
		stats.Scanned++
	}
	wg.Wait()

	log.Info("preview backfill finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("updated", stats.Updated),
		zap.Int("missed", stats.Missed),
		zap.Int("canceled", stats.Canceled),
		zap.Int("failed", stats.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return stats, submitErr
}
