package page

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"sitemirror/internal/config"
	"sitemirror/internal/errors"
	"sitemirror/internal/fetch"
	"sitemirror/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexHTML = `<html><body>
<a href="/root/file1.pdf">one</a>
<a>no href</a>
<a href="">empty</a>
<a href="  sub  ">relative</a>
<p><a href="#top">fragment</a></p>
<a href="https://other.test/x">external</a>
</body></html>`

func TestExtractLinks(t *testing.T) {
	links, err := ExtractLinks(strings.NewReader(indexHTML))
	require.NoError(t, err)
	assert.Equal(t, []string{"/root/file1.pdf", "sub", "#top", "https://other.test/x"}, links)
}

func newHTTPLoader(t *testing.T) *HTTPLoader {
	t.Helper()
	cfg := config.DefaultConfig()
	return NewHTTPLoader(fetch.NewClient(cfg, logger.Nop()), 2*time.Second)
}

func TestHTTPLoaderLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/root" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, indexHTML)
	}))
	defer srv.Close()

	l := newHTTPLoader(t)
	links, err := l.Links(context.Background(), srv.URL+"/root")
	require.NoError(t, err)
	assert.Len(t, links, 4)

	_, err = l.Links(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))

	select {
	case <-l.Close():
	case <-time.After(time.Second):
		t.Fatal("close did not finish")
	}
}

func TestHTTPLoaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	l := NewHTTPLoader(fetch.NewClient(config.DefaultConfig(), logger.Nop()), 30*time.Millisecond)
	_, err := l.Links(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestChromeLoader(t *testing.T) {
	found := false
	for _, bin := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(bin); err == nil {
			found = true
			break
		}
	}
	if !found || testing.Short() {
		t.Skip("no chrome binary available")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="static.pdf">s</a>
<script>
var a = document.createElement('a'); a.href = 'scripted.pdf'; document.body.appendChild(a);
</script></body></html>`)
	}))
	defer srv.Close()

	l, err := NewChromeLoader("sitemirror-test", 10*time.Second, logger.Nop())
	require.NoError(t, err)

	links, err := l.Links(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"static.pdf", "scripted.pdf"}, links)

	done := l.Close()
	assert.Equal(t, done, l.Close())
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("browser did not shut down")
	}

	_, err = l.Links(context.Background(), srv.URL)
	assert.True(t, errors.IsCanceled(err))
}
