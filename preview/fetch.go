package preview

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

const (
	// MaxMarkupChars bounds how much of a page is kept for extraction.
	// Preview tags live in <head>, so the prefix is enough.
	MaxMarkupChars = 100_000

	DefaultMaxRedirects = 5
	ConnectTimeout      = 8 * time.Second
	ReadTimeout         = 8 * time.Second

	// Several sites strip meta tags for clients that do not look like a browser.
	userAgent      = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.9"
)

var errReadTimeout = errors.New("read timeout")

// Page is the fetched prefix of a document and the URL it was finally served from.
type Page struct {
	URL    string
	Markup string
}

// Fetcher performs a single bounded GET, following redirects by hand.
type Fetcher struct {
	// Client is used for every hop. Its redirect policy is replaced, the
	// caller's client is not mutated. Nil means a client built by NewHTTPClient.
	Client *http.Client
	// MaxRedirects caps followed hops. Zero means DefaultMaxRedirects.
	MaxRedirects int
	// ReadTimeout bounds inactivity while reading the body. Zero means ReadTimeout.
	ReadTimeout time.Duration
	// MaxChars caps the kept markup. Zero means MaxMarkupChars.
	MaxChars int
}

var defaultClient = NewHTTPClient()

// NewHTTPClient returns a client with 8s connect and header-read timeouts
// that never follows redirects on its own.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   ConnectTimeout,
		ResponseHeaderTimeout: ReadTimeout,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport, CheckRedirect: noFollow}
}

func noFollow(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func (f *Fetcher) httpClient() *http.Client {
	if f.Client == nil {
		return defaultClient
	}
	base := *f.Client
	base.CheckRedirect = noFollow
	return &base
}

func (f *Fetcher) maxRedirects() int {
	if f.MaxRedirects <= 0 {
		return DefaultMaxRedirects
	}
	return f.MaxRedirects
}

func (f *Fetcher) readTimeout() time.Duration {
	if f.ReadTimeout <= 0 {
		return ReadTimeout
	}
	return f.ReadTimeout
}

func (f *Fetcher) maxChars() int {
	if f.MaxChars <= 0 {
		return MaxMarkupChars
	}
	return f.MaxChars
}

// hop is the outcome of one request: either a redirect target or markup.
type hop struct {
	location string
	markup   string
}

// Fetch retrieves pageURL and returns the markup of the final 2xx response.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	client := f.httpClient()
	limit := f.maxRedirects()
	current := pageURL

	for redirects := 0; ; redirects++ {
		if err := ctx.Err(); err != nil {
			return Page{}, classify(ctx, current, err)
		}
		h, err := f.get(ctx, client, current)
		if err != nil {
			return Page{}, err
		}
		if h.location == "" {
			return Page{URL: current, Markup: h.markup}, nil
		}
		if redirects >= limit {
			return Page{}, &TooManyRedirectsError{URL: current, Hops: redirects}
		}
		current = h.location
	}
}

func (f *Fetcher) get(ctx context.Context, client *http.Client, target string) (hop, error) {
	u, err := url.Parse(target)
	if err != nil {
		return hop{}, &NetworkError{URL: target, Err: err}
	}
	if !isHTTPScheme(u) {
		return hop{}, &NetworkError{URL: target, Err: fmt.Errorf("unsupported URL scheme %q", u.Scheme)}
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return hop{}, &NetworkError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := client.Do(req)
	if err != nil {
		return hop{}, classify(reqCtx, target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode <= 399:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return hop{}, &HTTPError{URL: target, Status: resp.StatusCode}
		}
		next, err := req.URL.Parse(loc)
		if err != nil {
			return hop{}, &NetworkError{URL: target, Err: fmt.Errorf("bad Location %q: %w", loc, err)}
		}
		return hop{location: next.String()}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return hop{}, &HTTPError{URL: target, Status: resp.StatusCode}
	}

	d := f.readTimeout()
	timer := time.AfterFunc(d, func() { cancel(errReadTimeout) })
	defer timer.Stop()

	body := &idleReader{r: resp.Body, timer: timer, d: d}
	markup, err := readMarkup(body, resp.Header.Get("Content-Type"), f.maxChars())
	if err != nil {
		return hop{}, classify(reqCtx, target, err)
	}
	return hop{markup: markup}, nil
}

// idleReader pushes the read deadline forward after every successful read.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	d     time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.d)
	}
	return n, err
}

// readMarkup decodes body to UTF-8 and keeps at most limit characters.
func readMarkup(body io.Reader, contentType string, limit int) (string, error) {
	decoded, err := charset.NewReader(body, contentType)
	if err != nil {
		return "", err
	}
	br := bufio.NewReader(decoded)
	var b strings.Builder
	for n := 0; n < limit; n++ {
		r, _, err := br.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

func classify(ctx context.Context, target string, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errReadTimeout):
		return &TimeoutError{URL: target, Err: errReadTimeout}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(cause, context.DeadlineExceeded):
		return &TimeoutError{URL: target, Err: err}
	case errors.Is(err, context.Canceled) || errors.Is(cause, context.Canceled):
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{URL: target, Err: err}
	}
	return &NetworkError{URL: target, Err: err}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
