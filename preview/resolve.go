package preview

import (
	"net/url"
	"strings"
)

// ResolveURL turns a candidate into an absolute URL relative to base.
// When the candidate or base cannot be parsed the trimmed candidate is
// returned with ok=false so the caller can decide what to do with it.
func ResolveURL(candidate, base string) (string, bool) {
	c := strings.ReplaceAll(strings.TrimSpace(candidate), "&amp;", "&")

	switch {
	case strings.HasPrefix(c, "http://"), strings.HasPrefix(c, "https://"):
		return c, true
	case strings.HasPrefix(c, "//"):
		return "https:" + c, true
	}

	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !b.IsAbs() || b.Host == "" {
		return c, false
	}
	ref, err := url.Parse(c)
	if err != nil {
		return c, false
	}
	return b.ResolveReference(ref).String(), true
}

// isAbsoluteHTTP reports whether s is an absolute http or https URL with a host.
func isAbsoluteHTTP(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return isHTTPScheme(u) && u.Host != ""
}
