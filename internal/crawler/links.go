package crawler

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// LinkKind says how the crawler treats a link
type LinkKind int

const (
	// PageLink is a candidate subpage
	PageLink LinkKind = iota
	// FileLink is a downloadable file
	FileLink
)

func (k LinkKind) String() string {
	if k == FileLink {
		return "file"
	}
	return "page"
}

const normalizeFlags = purell.FlagsSafe | purell.FlagRemoveFragment

// Extensions is a set of lowercase file extensions without the dot
type Extensions map[string]struct{}

// NewExtensions builds a set from a list such as "pdf", ".ZIP"
func NewExtensions(list []string) Extensions {
	set := make(Extensions, len(list))
	for _, ext := range list {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			set[ext] = struct{}{}
		}
	}
	return set
}

// Classify matches the extension at the end of the URL path, ignoring case
func (e Extensions) Classify(rawURL string) LinkKind {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if _, ok := e[ext]; ok && ext != "" {
		return FileLink
	}
	return PageLink
}

// normalize canonicalises an absolute URL and drops its fragment
func normalize(rawURL string) (string, error) {
	return purell.NormalizeURLString(rawURL, normalizeFlags)
}

// resolve turns an href found on base into a normalized absolute URL.
// Fragment-only, non-http and unparseable hrefs are rejected.
func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}

	normalized, err := normalize(abs.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

// matchesAny reports whether s contains any of the patterns
func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// hasAnyPrefix reports whether s starts with any of the prefixes
func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
