package preview

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch means the page was fetched but no strategy found a candidate.
	ErrNoMatch = errors.New("no preview image candidate found")
	// ErrResolutionFallback means a candidate could not be made absolute.
	ErrResolutionFallback = errors.New("candidate could not be resolved to an absolute url")
	// ErrCanceled means the caller gave up before the fetch finished.
	ErrCanceled = errors.New("preview lookup canceled")
)

// NetworkError wraps connection, DNS and TLS failures.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports a connect or read timeout.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout fetching %s: %v", e.URL, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError is a terminal non-2xx response.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL) }

// TooManyRedirectsError is returned once a redirect chain exceeds the hop cap.
type TooManyRedirectsError struct {
	URL  string
	Hops int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("stopped after %d redirects at %s", e.Hops, e.URL)
}
