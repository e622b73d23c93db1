package crawler

import (
	"net/url"
	"testing"

	"sitemirror/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyIgnoresCase(t *testing.T) {
	ext := NewExtensions(config.DefaultExtensions)

	for _, name := range config.DefaultExtensions {
		assert.Equal(t, FileLink, ext.Classify("https://example.test/a/file."+name), name)
	}

	tests := []struct {
		url  string
		want LinkKind
	}{
		{"https://example.test/report.PDF", FileLink},
		{"https://example.test/archive.ZIP", FileLink},
		{"https://example.test/clip.Mp4?download=1", FileLink},
		{"https://example.test/page.html", PageLink},
		{"https://example.test/docs", PageLink},
		{"https://example.test/docs.pdf/index", PageLink},
		{"https://example.test/pdf", PageLink},
		{"https://example.test/view?file=a.pdf", PageLink},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ext.Classify(tt.url), tt.url)
	}
}

func TestNewExtensionsNormalizes(t *testing.T) {
	ext := NewExtensions([]string{".PDF", " epub ", ""})
	assert.Len(t, ext, 2)
	assert.Equal(t, FileLink, ext.Classify("https://h/book.EPUB"))
	assert.Equal(t, "file", FileLink.String())
	assert.Equal(t, "page", PageLink.String())
}

func TestResolve(t *testing.T) {
	base, err := url.Parse("https://example.test/root/sub/page")
	require.NoError(t, err)

	tests := []struct {
		href string
		want string
		ok   bool
	}{
		{"file.pdf", "https://example.test/root/sub/file.pdf", true},
		{"../up", "https://example.test/root/up", true},
		{"./here#frag", "https://example.test/root/sub/here", true},
		{"/abs", "https://example.test/abs", true},
		{"//cdn.test/x.png", "https://cdn.test/x.png", true},
		{"HTTPS://Example.TEST:443/Root", "https://example.test/Root", true},
		{"#top", "", false},
		{"", "", false},
		{"mailto:a@example.test", "", false},
		{"javascript:void(0)", "", false},
		{"http://bad host/", "", false},
	}
	for _, tt := range tests {
		got, ok := resolve(base, tt.href)
		assert.Equal(t, tt.ok, ok, tt.href)
		assert.Equal(t, tt.want, got, tt.href)
	}
}

func TestPrefixAndPatternMatching(t *testing.T) {
	assert.True(t, hasAnyPrefix("https://example.test/root/a", []string{"https://other.test", "https://example.test/root"}))
	assert.False(t, hasAnyPrefix("https://example.test/elsewhere", []string{"https://example.test/root", ""}))
	assert.True(t, matchesAny("https://example.test/search?q=1", []string{"/search"}))
	assert.False(t, matchesAny("https://example.test/research", []string{"/search", ""}))
}
