// Package page loads a web page and returns the raw href of every anchor on it.
package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sitemirror/internal/errors"

	"github.com/PuerkitoBio/goquery"
)

// Loader loads one page at a time
type Loader interface {
	// Links returns the href attribute of every anchor in document order.
	// Empty hrefs are dropped; resolution is left to the caller.
	Links(ctx context.Context, pageURL string) ([]string, error)

	// Close starts releasing the loader's resources and returns a channel
	// that is closed once that is done. It never blocks the caller.
	Close() <-chan struct{}
}

// Getter performs a GET request
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// ExtractLinks parses HTML and collects anchor hrefs in document order
func ExtractLinks(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if href = strings.TrimSpace(href); href != "" {
			links = append(links, href)
		}
	})
	return links, nil
}

// HTTPLoader fetches pages with plain GET requests
type HTTPLoader struct {
	client  Getter
	timeout time.Duration
}

// NewHTTPLoader creates a loader that reads static HTML through client
func NewHTTPLoader(client Getter, timeout time.Duration) *HTTPLoader {
	return &HTTPLoader{client: client, timeout: timeout}
}

func (l *HTTPLoader) Links(ctx context.Context, pageURL string) ([]string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	resp, err := l.client.Get(ctx, pageURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "failed to load page").WithContext("url", pageURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.NetworkError, "failed to load page").
			WithContext("url", pageURL).
			WithContext("statusCode", resp.StatusCode)
	}

	links, err := ExtractLinks(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CrawlerError, "failed to read page").WithContext("url", pageURL)
	}
	return links, nil
}

func (l *HTTPLoader) Close() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}
