package page

import (
	"context"
	"strings"
	"sync"
	"time"

	"sitemirror/internal/errors"
	"sitemirror/internal/logger"

	"github.com/chromedp/chromedp"
)

// ChromeLoader renders pages in a headless browser so script-built anchors
// are seen. One tab is reused for every navigation.
type ChromeLoader struct {
	timeout time.Duration

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	// serialises navigations on the single tab
	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewChromeLoader starts a headless browser. Browser protocol messages go to
// log at debug level, protocol errors at error level.
func NewChromeLoader(userAgent string, timeout time.Duration, log *logger.Logger) (*ChromeLoader, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Debugf),
		chromedp.WithErrorf(log.Errorf),
	)

	// the first Run launches the browser
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, errors.Wrap(err, errors.ConfigurationError, "failed to start browser")
	}

	return &ChromeLoader{
		timeout:     timeout,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		done:        make(chan struct{}),
	}, nil
}

func (l *ChromeLoader) Links(ctx context.Context, pageURL string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tabCtx.Err() != nil {
		return nil, errors.New(errors.CanceledError, "browser closed").WithContext("url", pageURL)
	}

	runCtx, cancel := context.WithTimeout(l.tabCtx, l.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.CanceledError, "page load canceled").WithContext("url", pageURL)
		}
		return nil, errors.Wrap(err, errors.NetworkError, "failed to render page").WithContext("url", pageURL)
	}

	links, err := ExtractLinks(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, errors.CrawlerError, "failed to read page").WithContext("url", pageURL)
	}
	return links, nil
}

// Close shuts the browser down in the background. Closing the tab waits for
// the browser process, which can take a while, so callers that need to know
// when it has gone wait on the returned channel.
func (l *ChromeLoader) Close() <-chan struct{} {
	l.closeOnce.Do(func() {
		go func() {
			defer close(l.done)
			l.tabCancel()
			l.allocCancel()
		}()
	})
	return l.done
}
