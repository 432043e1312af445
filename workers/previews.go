package workers

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"ideabox/db"
)

var (
	ErrWorkerStopped = errors.New("preview worker stopped")
	ErrJobCanceled   = errors.New("preview job canceled")
	ErrNoPreview     = errors.New("no preview image found")
)

// Finder resolves the preview image of a page. *preview.Resolver satisfies it.
type Finder interface {
	Find(ctx context.Context, pageURL string) (string, bool)
}

// ImageStore persists a resolved image. *db.Queries satisfies it.
type ImageStore interface {
	SetBookmarkImage(ctx context.Context, arg db.SetBookmarkImageParams) (int64, error)
}

// PreviewJob asks for the preview image of one bookmark.
type PreviewJob struct {
	BookmarkID string
	URL        string
	// Done, when set, is called from a worker goroutine once the job ends,
	// including when it was canceled before running.
	Done func(PreviewOutcome)
}

// PreviewOutcome reports what happened to a job. Updated is false when no
// image was found or the bookmark already had one.
type PreviewOutcome struct {
	BookmarkID string
	Image      string
	Updated    bool
	Err        error
}

type queued struct {
	PreviewJob
	ctx     context.Context
	cancel  context.CancelFunc
	release func() bool
}

// PreviewWorker resolves preview images on a fixed number of goroutines.
// Jobs wait in a bounded queue; nothing ever runs on the caller's goroutine.
type PreviewWorker struct {
	finder     Finder
	store      ImageStore
	log        *zap.Logger
	size       int
	jobTimeout time.Duration
	in         chan *queued

	// OnResolved is called after an image was written for a bookmark.
	OnResolved func(bookmarkID, image string)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]map[*queued]struct{}

	sendMu sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPreviewWorker creates a pool of size goroutines with a queue of buffer jobs.
// jobTimeout bounds a whole lookup including every redirect hop.
func NewPreviewWorker(finder Finder, store ImageStore, log *zap.Logger, size, buffer int, jobTimeout time.Duration) *PreviewWorker {
	if size < 1 {
		size = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PreviewWorker{
		finder:     finder,
		store:      store,
		log:        log,
		size:       size,
		jobTimeout: jobTimeout,
		in:         make(chan *queued, buffer),
		ctx:        ctx,
		cancel:     cancel,
		active:     make(map[string]map[*queued]struct{}),
	}
}

func (w *PreviewWorker) Start() {
	w.wg.Add(w.size)
	for i := 0; i < w.size; i++ {
		go w.loop()
	}
}

// Stop cancels queued and in-flight lookups and waits for the pool to exit.
func (w *PreviewWorker) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.sendMu.Lock()
		w.closed = true
		close(w.in)
		w.sendMu.Unlock()
		w.wg.Wait()
	})
}

// Enqueue adds a job without blocking. It returns false when the queue is
// full or the worker is stopped.
func (w *PreviewWorker) Enqueue(job PreviewJob) bool {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return false
	}
	q := w.track(job, nil)
	select {
	case w.in <- q:
		return true
	default:
		w.untrack(q)
		return false
	}
}

// Submit adds a job, waiting for queue space. The job is canceled if ctx is
// canceled before it finishes.
func (w *PreviewWorker) Submit(ctx context.Context, job PreviewJob) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return ErrWorkerStopped
	}
	q := w.track(job, ctx)
	select {
	case w.in <- q:
		return nil
	case <-ctx.Done():
		w.untrack(q)
		return ctx.Err()
	case <-w.ctx.Done():
		w.untrack(q)
		return ErrWorkerStopped
	}
}

// Cancel aborts every queued or running job for a bookmark and reports
// whether there was one.
func (w *PreviewWorker) Cancel(bookmarkID string) bool {
	w.mu.Lock()
	jobs := w.active[bookmarkID]
	for q := range jobs {
		q.cancel()
	}
	n := len(jobs)
	w.mu.Unlock()
	return n > 0
}

// track registers a job under its bookmark so Cancel can reach it.
func (w *PreviewWorker) track(job PreviewJob, parent context.Context) *queued {
	ctx, cancel := context.WithCancel(w.ctx)
	release := func() bool { return true }
	if parent != nil {
		release = context.AfterFunc(parent, cancel)
	}
	q := &queued{PreviewJob: job, ctx: ctx, cancel: cancel, release: release}

	w.mu.Lock()
	if w.active[job.BookmarkID] == nil {
		w.active[job.BookmarkID] = make(map[*queued]struct{})
	}
	w.active[job.BookmarkID][q] = struct{}{}
	w.mu.Unlock()
	return q
}

func (w *PreviewWorker) untrack(q *queued) {
	q.release()
	q.cancel()
	w.mu.Lock()
	if jobs, ok := w.active[q.BookmarkID]; ok {
		delete(jobs, q)
		if len(jobs) == 0 {
			delete(w.active, q.BookmarkID)
		}
	}
	w.mu.Unlock()
}

func (w *PreviewWorker) loop() {
	defer w.wg.Done()
	for q := range w.in {
		out := w.run(q)
		w.untrack(q)
		if q.Done != nil {
			q.Done(out)
		}
	}
}

func (w *PreviewWorker) run(q *queued) PreviewOutcome {
	out := PreviewOutcome{BookmarkID: q.BookmarkID}
	if q.ctx.Err() != nil {
		out.Err = ErrJobCanceled
		return out
	}

	ctx := q.ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	image, ok := w.finder.Find(ctx, q.URL)
	if q.ctx.Err() != nil {
		out.Err = ErrJobCanceled
		return out
	}
	if !ok {
		w.log.Debug("no preview image", zap.String("bookmark", q.BookmarkID), zap.String("url", q.URL))
		out.Err = ErrNoPreview
		return out
	}
	out.Image = image

	var rows int64
	err := retry.Do(
		func() error {
			n, err := w.store.SetBookmarkImage(q.ctx, db.SetBookmarkImageParams{
				Image:     sql.NullString{String: image, Valid: true},
				UpdatedAt: time.Now(),
				ID:        q.BookmarkID,
			})
			if err != nil {
				if q.ctx.Err() != nil {
					return retry.Unrecoverable(err)
				}
				return err
			}
			rows = n
			return nil
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.log.Warn("retrying preview image write", zap.Uint("attempt", n+1), zap.String("bookmark", q.BookmarkID), zap.Error(err))
		}),
	)
	if err != nil {
		w.log.Error("failed to store preview image", zap.String("bookmark", q.BookmarkID), zap.Error(err))
		out.Err = err
		return out
	}

	out.Updated = rows > 0
	if out.Updated {
		w.log.Info("preview image stored", zap.String("bookmark", q.BookmarkID), zap.String("image", image))
		if w.OnResolved != nil {
			w.OnResolved(q.BookmarkID, image)
		}
	}
	return out
}
