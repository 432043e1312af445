package preview

import (
	"regexp"
	"strings"
)

// Strategy looks for one kind of image reference in page markup.
// Implementations are pure and safe for concurrent use.
type Strategy interface {
	Name() string
	Attempt(markup string) (string, bool)
}

// Candidate is a raw, unresolved image reference and the strategy that found it.
type Candidate struct {
	Value  string
	Source string
}

// Chain runs strategies in order and stops at the first hit.
type Chain []Strategy

// DefaultChain returns the strategies in priority order.
func DefaultChain() Chain {
	return Chain{
		metaStrategy("og:image", "og:image"),
		metaStrategy("twitter:image", "twitter:image", "twitter:image:src"),
		linkImageSrc{},
		structuredImage{},
		firstImg{},
	}
}

// Extract returns the first non-empty candidate.
func (c Chain) Extract(markup string) (Candidate, bool) {
	for _, s := range c {
		if v, ok := s.Attempt(markup); ok && strings.TrimSpace(v) != "" {
			return Candidate{Value: v, Source: s.Name()}, true
		}
	}
	return Candidate{}, false
}

// attrPair matches a tag where key=value and a target attribute appear in either order.
type attrPair struct {
	name    string
	forward *regexp.Regexp
	reverse *regexp.Regexp
}

func (a attrPair) Name() string { return a.name }

func (a attrPair) Attempt(markup string) (string, bool) {
	if m := a.forward.FindStringSubmatch(markup); m != nil {
		return firstGroup(m), true
	}
	if m := a.reverse.FindStringSubmatch(markup); m != nil {
		return firstGroup(m), true
	}
	return "", false
}

// quotedValue captures a double-quoted value in group 1 or a single-quoted one
// in group 2, so an apostrophe inside double quotes is kept.
const quotedValue = `(?:"([^"]+)"|'([^']+)')`

// firstGroup returns the first non-empty capture of a match.
func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// quoted matches any of values wrapped in matching quotes.
func quoted(values ...string) string {
	alt := make([]string, len(values))
	for i, v := range values {
		alt[i] = regexp.QuoteMeta(v)
	}
	j := strings.Join(alt, "|")
	return `(?:"(?:` + j + `)"|'(?:` + j + `)')`
}

// metaStrategy matches <meta property|name="<values>" content="..."> in either attribute order.
func metaStrategy(name string, values ...string) attrPair {
	key := `(?:property|name)\s*=\s*` + quoted(values...)
	content := `content\s*=\s*` + quotedValue
	return attrPair{
		name:    name,
		forward: regexp.MustCompile(`(?i)<meta\b[^>]*?\s` + key + `[^>]*?\s` + content),
		reverse: regexp.MustCompile(`(?i)<meta\b[^>]*?\s` + content + `[^>]*?\s` + key),
	}
}

type linkImageSrc struct{}

var (
	linkRelFirst  = regexp.MustCompile(`(?i)<link\b[^>]*?\srel\s*=\s*` + quoted("image_src") + `[^>]*?\shref\s*=\s*` + quotedValue)
	linkHrefFirst = regexp.MustCompile(`(?i)<link\b[^>]*?\shref\s*=\s*` + quotedValue + `[^>]*?\srel\s*=\s*` + quoted("image_src"))
)

func (linkImageSrc) Name() string { return "image_src" }

func (linkImageSrc) Attempt(markup string) (string, bool) {
	return attrPair{forward: linkRelFirst, reverse: linkHrefFirst}.Attempt(markup)
}

// structuredImage is a textual match on "image": "..." and not a JSON parse.
// With several JSON-LD blocks the first textual match wins.
type structuredImage struct{}

var structuredImageRe = regexp.MustCompile(`"image"\s*:\s*"([^"]+)"`)

func (structuredImage) Name() string { return "json-ld" }

func (structuredImage) Attempt(markup string) (string, bool) {
	if m := structuredImageRe.FindStringSubmatch(markup); m != nil {
		// JSON encoders commonly escape slashes
		return strings.ReplaceAll(m[1], `\/`, "/"), true
	}
	return "", false
}

// firstImg picks the first absolute <img src> that does not look like a logo,
// icon, tracking pixel or vector graphic.
type firstImg struct{}

var (
	imgSrcRe = regexp.MustCompile(`(?i)<img\b[^>]*?\ssrc\s*=\s*` + quotedValue)

	imgRejectWords    = []string{"logo", "icon", "sprite", "pixel", "1x1", "tracking"}
	imgRejectSuffixes = []string{".svg", ".gif"}
)

func (firstImg) Name() string { return "img" }

func (firstImg) Attempt(markup string) (string, bool) {
	for _, m := range imgSrcRe.FindAllStringSubmatch(markup, -1) {
		src := firstGroup(m)
		if isAbsoluteHTTP(src) && qualifies(src) {
			return src, true
		}
	}
	return "", false
}

func qualifies(src string) bool {
	lower := strings.ToLower(src)
	for _, w := range imgRejectWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	for _, s := range imgRejectSuffixes {
		if strings.HasSuffix(lower, s) {
			return false
		}
	}
	return true
}
