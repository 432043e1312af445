// Package preview finds a representative image for a web page.
//
// A Resolver fetches the page, runs an ordered chain of markup heuristics and
// resolves the winning candidate against the final page URL. Every failure is
// reported as "no image"; nothing is retried here.
package preview

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Stage is the step a lookup reached. A failed Result carries the stage it failed in.
type Stage string

const (
	StageFetching   Stage = "fetching"
	StageExtracting Stage = "extracting"
	StageResolving  Stage = "resolving"
	StageDone       Stage = "done"
)

// Result is the outcome of one lookup. ImageURL is set only when Err is nil.
type Result struct {
	PageURL  string
	ImageURL string
	Source   string
	Stage    Stage
	Err      error
}

// Found reports whether the lookup produced an image URL.
func (r Result) Found() bool { return r.Err == nil && r.ImageURL != "" }

// Resolver is stateless apart from its configuration and may be shared.
type Resolver struct {
	fetcher *Fetcher
	chain   Chain
	log     *zap.Logger
}

type Option func(*Resolver)

// WithHTTPClient sets the client used for page fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.fetcher.Client = c }
}

func WithMaxRedirects(n int) Option {
	return func(r *Resolver) { r.fetcher.MaxRedirects = n }
}

func WithReadTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.fetcher.ReadTimeout = d }
}

func WithMaxChars(n int) Option {
	return func(r *Resolver) { r.fetcher.MaxChars = n }
}

// WithChain replaces the default strategy order.
func WithChain(c Chain) Option {
	return func(r *Resolver) { r.chain = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

func New(opts ...Option) *Resolver {
	r := &Resolver{
		fetcher: &Fetcher{},
		chain:   DefaultChain(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup runs fetch, extract and resolve, stopping at the first failure.
// Panics in any stage are recovered into Result.Err.
func (r *Resolver) Lookup(ctx context.Context, pageURL string) (res Result) {
	res = Result{PageURL: pageURL, Stage: StageFetching}
	defer func() {
		if v := recover(); v != nil {
			res.ImageURL = ""
			res.Err = fmt.Errorf("panic while %s: %v", res.Stage, v)
		}
	}()

	page, err := r.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		res.Err = err
		return res
	}

	res.Stage = StageExtracting
	cand, ok := r.chain.Extract(page.Markup)
	if !ok {
		res.Err = ErrNoMatch
		return res
	}
	res.Source = cand.Source

	res.Stage = StageResolving
	abs, ok := ResolveURL(cand.Value, page.URL)
	if !isAbsoluteHTTP(abs) {
		res.Err = fmt.Errorf("%w: %q against %q", ErrResolutionFallback, abs, page.URL)
		return res
	}
	if !ok {
		r.log.Debug("preview candidate kept without resolution", zap.String("candidate", abs))
	}

	res.Stage = StageDone
	res.ImageURL = abs
	return res
}

// Find returns the preview image for pageURL, or false when none could be
// determined for any reason.
func (r *Resolver) Find(ctx context.Context, pageURL string) (string, bool) {
	res := r.Lookup(ctx, pageURL)
	if !res.Found() {
		r.log.Debug("no preview image",
			zap.String("url", pageURL),
			zap.String("stage", string(res.Stage)),
			zap.Error(res.Err),
		)
		return "", false
	}
	r.log.Debug("preview image found",
		zap.String("url", pageURL),
		zap.String("image", res.ImageURL),
		zap.String("source", res.Source),
	)
	return res.ImageURL, true
}
