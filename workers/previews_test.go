package workers

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"ideabox/db"
)

type fakeFinder struct {
	images  map[string]string
	block   bool
	started chan string

	inFlight    int32
	maxInFlight int32
}

func (f *fakeFinder) Find(ctx context.Context, pageURL string) (string, bool) {
	curr := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if curr <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, curr) {
			break
		}
	}
	if f.started != nil {
		f.started <- pageURL
	}
	if f.block {
		<-ctx.Done()
		return "", false
	}
	img, ok := f.images[pageURL]
	return img, ok
}

type fakeStore struct {
	mu       sync.Mutex
	failures int
	calls    []db.SetBookmarkImageParams
	existing map[string]bool
}

func (s *fakeStore) SetBookmarkImage(ctx context.Context, arg db.SetBookmarkImageParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, arg)
	if s.failures > 0 {
		s.failures--
		return 0, errors.New("database is locked")
	}
	if s.existing[arg.ID] {
		return 0, nil
	}
	return 1, nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func waitOutcome(t *testing.T, ch <-chan PreviewOutcome) PreviewOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for job outcome")
		return PreviewOutcome{}
	}
}

func TestPreviewWorker_StoresImage(t *testing.T) {
	finder := &fakeFinder{images: map[string]string{"https://site.com/a": "https://cdn.site.com/a.jpg"}}
	store := &fakeStore{}
	w := NewPreviewWorker(finder, store, zap.NewNop(), 2, 4, time.Second)

	var resolved atomic.Value
	w.OnResolved = func(id, image string) { resolved.Store(id + "=" + image) }
	w.Start()
	defer w.Stop()

	done := make(chan PreviewOutcome, 1)
	if !w.Enqueue(PreviewJob{BookmarkID: "b1", URL: "https://site.com/a", Done: func(o PreviewOutcome) { done <- o }}) {
		t.Fatalf("enqueue rejected")
	}
	out := waitOutcome(t, done)
	if out.Err != nil || !out.Updated || out.Image != "https://cdn.site.com/a.jpg" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := resolved.Load(); got != "b1=https://cdn.site.com/a.jpg" {
		t.Fatalf("OnResolved got %v", got)
	}
	if store.calls[0].ID != "b1" || store.calls[0].Image.String != "https://cdn.site.com/a.jpg" {
		t.Fatalf("unexpected store call %+v", store.calls[0])
	}
}

func TestPreviewWorker_NoPreviewSkipsStore(t *testing.T) {
	store := &fakeStore{}
	w := NewPreviewWorker(&fakeFinder{}, store, nil, 1, 1, time.Second)
	w.Start()
	defer w.Stop()

	done := make(chan PreviewOutcome, 1)
	w.Enqueue(PreviewJob{BookmarkID: "b1", URL: "https://site.com/none", Done: func(o PreviewOutcome) { done <- o }})
	out := waitOutcome(t, done)
	if !errors.Is(out.Err, ErrNoPreview) {
		t.Fatalf("expected ErrNoPreview, got %+v", out)
	}
	if store.callCount() != 0 {
		t.Fatalf("store should not be called")
	}
}

func TestPreviewWorker_KeepsExistingImage(t *testing.T) {
	finder := &fakeFinder{images: map[string]string{"https://site.com/a": "https://cdn.site.com/a.jpg"}}
	store := &fakeStore{existing: map[string]bool{"b1": true}}
	w := NewPreviewWorker(finder, store, nil, 1, 1, time.Second)
	called := false
	w.OnResolved = func(string, string) { called = true }
	w.Start()
	defer w.Stop()

	done := make(chan PreviewOutcome, 1)
	w.Enqueue(PreviewJob{BookmarkID: "b1", URL: "https://site.com/a", Done: func(o PreviewOutcome) { done <- o }})
	out := waitOutcome(t, done)
	if out.Err != nil || out.Updated || called {
		t.Fatalf("unexpected outcome %+v (hook called=%v)", out, called)
	}
}

func TestPreviewWorker_RetriesStoreErrors(t *testing.T) {
	finder := &fakeFinder{images: map[string]string{"https://site.com/a": "https://cdn.site.com/a.jpg"}}
	store := &fakeStore{failures: 2}
	w := NewPreviewWorker(finder, store, nil, 1, 1, time.Second)
	w.Start()
	defer w.Stop()

	done := make(chan PreviewOutcome, 1)
	w.Enqueue(PreviewJob{BookmarkID: "b1", URL: "https://site.com/a", Done: func(o PreviewOutcome) { done <- o }})
	out := waitOutcome(t, done)
	if out.Err != nil || !out.Updated {
		t.Fatalf("expected success after retries, got %+v", out)
	}
	if n := store.callCount(); n != 3 {
		t.Fatalf("store calls = %d, want 3", n)
	}
}

func TestPreviewWorker_BoundsConcurrency(t *testing.T) {
	finder := &fakeFinder{images: map[string]string{}, started: make(chan string, 16)}
	w := NewPreviewWorker(finder, &fakeStore{}, nil, 2, 0, time.Second)
	w.Start()
	defer w.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			if err := w.Submit(context.Background(), PreviewJob{BookmarkID: "b", URL: "https://site.com/slow", Done: func(PreviewOutcome) {
				time.Sleep(20 * time.Millisecond)
				wg.Done()
			}}); err != nil {
				t.Errorf("submit: %v", err)
				wg.Done()
			}
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&finder.maxInFlight); max > 2 {
		t.Fatalf("expected at most 2 concurrent lookups, got %d", max)
	}
}

func TestPreviewWorker_CancelInFlight(t *testing.T) {
	finder := &fakeFinder{block: true, started: make(chan string, 1)}
	store := &fakeStore{}
	w := NewPreviewWorker(finder, store, nil, 1, 1, 0)
	w.Start()
	defer w.Stop()

	done := make(chan PreviewOutcome, 1)
	w.Enqueue(PreviewJob{BookmarkID: "b1", URL: "https://site.com/a", Done: func(o PreviewOutcome) { done <- o }})
	<-finder.started

	if !w.Cancel("b1") {
		t.Fatalf("expected an active job for b1")
	}
	out := waitOutcome(t, done)
	if !errors.Is(out.Err, ErrJobCanceled) {
		t.Fatalf("expected ErrJobCanceled, got %+v", out)
	}
	if store.callCount() != 0 {
		t.Fatalf("canceled job must not write")
	}
	if w.Cancel("b1") {
		t.Fatalf("finished job should no longer be tracked")
	}
}

func TestPreviewWorker_CancelWhileJobsFinish(t *testing.T) {
	finder := &fakeFinder{images: map[string]string{}}
	w := NewPreviewWorker(finder, &fakeStore{}, nil, 4, 64, time.Second)
	w.Start()
	defer w.Stop()

	const jobs = 200
	var wg sync.WaitGroup
	wg.Add(jobs)

	stop := make(chan struct{})
	cancelDone := make(chan struct{})
	go func() {
		defer close(cancelDone)
		for {
			select {
			case <-stop:
				return
			default:
				w.Cancel("b1")
			}
		}
	}()

	for i := 0; i < jobs; i++ {
		job := PreviewJob{BookmarkID: "b1", URL: "https://site.com/a", Done: func(PreviewOutcome) { wg.Done() }}
		if err := w.Submit(context.Background(), job); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()
	close(stop)
	<-cancelDone

	if w.Cancel("b1") {
		t.Fatalf("no job should remain tracked")
	}
}

func TestPreviewWorker_EnqueueRejectsWhenFull(t *testing.T) {
	w := NewPreviewWorker(&fakeFinder{}, &fakeStore{}, nil, 1, 1, time.Second)
	if !w.Enqueue(PreviewJob{BookmarkID: "b1", URL: "https://a.com"}) {
		t.Fatalf("first enqueue should fit")
	}
	if w.Enqueue(PreviewJob{BookmarkID: "b2", URL: "https://b.com"}) {
		t.Fatalf("second enqueue should be rejected")
	}
	if w.Cancel("b2") {
		t.Fatalf("rejected job must not stay tracked")
	}
	w.Start()
	w.Stop()
	if w.Enqueue(PreviewJob{BookmarkID: "b3", URL: "https://c.com"}) {
		t.Fatalf("enqueue after stop should be rejected")
	}
	if err := w.Submit(context.Background(), PreviewJob{BookmarkID: "b3"}); !errors.Is(err, ErrWorkerStopped) {
		t.Fatalf("expected ErrWorkerStopped, got %v", err)
	}
}

func TestPreviewWorker_StopCancelsPending(t *testing.T) {
	finder := &fakeFinder{block: true, started: make(chan string, 4)}
	w := NewPreviewWorker(finder, &fakeStore{}, nil, 1, 4, 0)
	w.Start()

	outcomes := make(chan PreviewOutcome, 3)
	for _, id := range []string{"b1", "b2", "b3"} {
		w.Enqueue(PreviewJob{BookmarkID: id, URL: "https://site.com/" + id, Done: func(o PreviewOutcome) { outcomes <- o }})
	}
	<-finder.started
	w.Stop()

	for i := 0; i < 3; i++ {
		if out := waitOutcome(t, outcomes); !errors.Is(out.Err, ErrJobCanceled) {
			t.Fatalf("expected canceled outcome, got %+v", out)
		}
	}
}

func TestPreviewWorker_WritesThroughQueries(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectExec("UPDATE bookmarks").
		WithArgs("https://cdn.site.com/a.jpg", sqlmock.AnyArg(), "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	finder := &fakeFinder{images: map[string]string{"https://site.com/a": "https://cdn.site.com/a.jpg"}}
	w := NewPreviewWorker(finder, db.New(conn), nil, 1, 1, time.Second)
	w.Start()
	defer w.Stop()

	done := make(chan PreviewOutcome, 1)
	w.Enqueue(PreviewJob{BookmarkID: "b1", URL: "https://site.com/a", Done: func(o PreviewOutcome) { done <- o }})
	if out := waitOutcome(t, done); !out.Updated {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type fakeLister struct {
	rows []db.Bookmark
	err  error
}

func (l fakeLister) ListBookmarksMissingImage(context.Context) ([]db.Bookmark, error) {
	return l.rows, l.err
}

func TestBackfill_CountsOutcomes(t *testing.T) {
	finder := &fakeFinder{images: map[string]string{
		"https://site.com/a": "https://cdn.site.com/a.jpg",
		"https://site.com/c": "https://cdn.site.com/c.jpg",
	}}
	store := &fakeStore{}
	w := NewPreviewWorker(finder, store, nil, 2, 0, time.Second)
	w.Start()
	defer w.Stop()

	lister := fakeLister{rows: []db.Bookmark{
		{ID: "a", Url: "https://site.com/a"},
		{ID: "b", Url: "https://site.com/b"},
		{ID: "c", Url: "https://site.com/c"},
		{ID: "blank", Url: "  "},
		{ID: "has", Url: "https://site.com/has", Image: sql.NullString{String: "x", Valid: true}},
	}}
	stats, err := Backfill(context.Background(), lister, w, zap.NewNop())
	if err != nil {
		t.Fatalf("Backfill returned error: %v", err)
	}
	want := BackfillStats{Scanned: 3, Updated: 2, Missed: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	if store.callCount() != 2 {
		t.Fatalf("store calls = %d, want 2", store.callCount())
	}
}

func TestBackfill_ListError(t *testing.T) {
	w := NewPreviewWorker(&fakeFinder{}, &fakeStore{}, nil, 1, 0, time.Second)
	boom := errors.New("no such table: bookmarks")
	if _, err := Backfill(context.Background(), fakeLister{err: boom}, w, nil); !errors.Is(err, boom) {
		t.Fatalf("expected list error, got %v", err)
	}
}

func TestBackfill_AbortCancelsLookups(t *testing.T) {
	finder := &fakeFinder{block: true, started: make(chan string, 1)}
	store := &fakeStore{}
	w := NewPreviewWorker(finder, store, nil, 1, 0, 0)
	w.Start()
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-finder.started
		cancel()
	}()

	lister := fakeLister{rows: []db.Bookmark{
		{ID: "a", Url: "https://site.com/a"},
		{ID: "b", Url: "https://site.com/b"},
	}}
	stats, _ := Backfill(ctx, lister, w, nil)
	if stats.Updated != 0 || store.callCount() != 0 {
		t.Fatalf("aborted sweep must not write, stats %+v", stats)
	}
	if stats.Canceled != stats.Scanned {
		t.Fatalf("every submitted job should be canceled, stats %+v", stats)
	}
}
