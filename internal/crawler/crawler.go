package crawler

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"sitemirror/internal/config"
	"sitemirror/internal/errors"
	"sitemirror/internal/fetch"
	"sitemirror/internal/folder"
	"sitemirror/internal/logger"
	"sitemirror/internal/page"
	"sitemirror/internal/pool"
	"sitemirror/internal/state"
	"sitemirror/internal/storage"
	"sitemirror/internal/telemetry"
)

// Getter performs a GET request
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// Crawler walks allow-listed pages depth first and mirrors every file link
// it finds. Pages are loaded one at a time; file downloads run on a bounded
// pool while the walk continues.
type Crawler struct {
	cfg        *config.Config
	logger     *logger.Logger
	client     *fetch.Client
	loader     page.Loader
	storage    *storage.Storage
	state      *state.CrawlState
	metrics    *telemetry.Metrics
	extensions Extensions
	allowed    []string
	robots     *robotsGate
	lister     folder.Lister
	runID      string

	mu       sync.Mutex
	failures []Failure
	failed   map[string]struct{}
}

// Option configures a Crawler
type Option func(*Crawler)

// WithMetrics records crawl outcomes on m
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Crawler) { c.metrics = m }
}

// WithFolderSource enables importing the configured cloud folders through l
func WithFolderSource(l folder.Lister) Option {
	return func(c *Crawler) { c.lister = l }
}

// WithRunID labels the run in logs and the summary
func WithRunID(id string) Option {
	return func(c *Crawler) { c.runID = id }
}

// NewCrawler creates a new Crawler with fresh crawl state
func NewCrawler(cfg *config.Config, logger *logger.Logger, client *fetch.Client, loader page.Loader, store *storage.Storage, opts ...Option) *Crawler {
	c := &Crawler{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		loader:     loader,
		storage:    store,
		state:      state.New(),
		metrics:    telemetry.Nop(),
		extensions: NewExtensions(cfg.Extensions),
		failed:     make(map[string]struct{}),
	}

	for _, prefix := range cfg.AllowedDomains {
		if normalized, err := normalize(prefix); err == nil {
			prefix = normalized
		}
		c.allowed = append(c.allowed, prefix)
	}

	if cfg.RespectRobots {
		c.robots = newRobotsGate(client, cfg.UserAgent, logger)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the crawl state shared by this run
func (c *Crawler) State() *state.CrawlState {
	return c.state
}

// frame is a loaded page whose links are being worked through
type frame struct {
	url   string
	base  *url.URL
	links []string
	next  int
}

// Crawl mirrors everything reachable from seed and waits for its downloads.
// A seed that was already visited returns at once.
func (c *Crawler) Crawl(ctx context.Context, seed string) error {
	root, err := normalize(seed)
	if err != nil {
		return errors.Wrap(err, errors.CrawlerError, "invalid seed url").WithContext("url", seed)
	}

	p := pool.New(ctx, c.cfg.Workers)
	err = c.walk(ctx, p, root)
	p.Wait()
	return err
}

// walk is a depth-first traversal over an explicit stack. A subpage is
// crawled completely, its own subpages included, before the next link of
// its parent is considered.
func (c *Crawler) walk(ctx context.Context, p *pool.Pool, root string) error {
	var stack []*frame

	enter := func(pageURL string) {
		if f := c.visit(ctx, pageURL); f != nil {
			stack = append(stack, f)
		}
	}

	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), errors.CanceledError, "crawl canceled")
	}
	enter(root)

	for len(stack) > 0 {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.CanceledError, "crawl canceled")
		}

		top := stack[len(stack)-1]
		if top.next >= len(top.links) {
			stack = stack[:len(stack)-1]
			continue
		}
		href := top.links[top.next]
		top.next++

		target, ok := resolve(top.base, href)
		if !ok || matchesAny(target, c.cfg.SkipPatterns) {
			continue
		}

		if c.extensions.Classify(target) == FileLink {
			c.dispatch(p, target)
			continue
		}

		if c.admit(ctx, top.url, root, target) {
			enter(target)
		}
	}
	return nil
}

// visit marks pageURL visited and loads its links. It returns nil when the
// page was visited before or could not be loaded.
func (c *Crawler) visit(ctx context.Context, pageURL string) *frame {
	if !c.state.MarkVisited(pageURL) {
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		c.logger.Error("Invalid page URL", map[string]interface{}{"url": pageURL, "error": err})
		return nil
	}

	c.logger.Info("Visiting page", map[string]interface{}{"url": pageURL})
	c.metrics.PageVisited(1)

	links, err := c.loader.Links(ctx, pageURL)
	if err != nil {
		c.logger.Error("Failed to load page", map[string]interface{}{"url": pageURL, "error": err})
		return nil
	}

	c.logger.Info("Found links", map[string]interface{}{"url": pageURL, "count": len(links)})
	return &frame{url: pageURL, base: base, links: links}
}

// admit decides whether target is crawled as a subpage of current
func (c *Crawler) admit(ctx context.Context, current, root, target string) bool {
	if target == current || target == root {
		return false
	}
	if !hasAnyPrefix(target, c.allowed) {
		return false
	}
	if c.state.Visited(target) {
		return false
	}
	if c.robots != nil && !c.robots.allowed(ctx, target) {
		c.logger.Info("Skipping page disallowed by robots.txt", map[string]interface{}{"url": target})
		return false
	}
	return true
}

// dispatch registers a file link and hands its download to the pool
func (c *Crawler) dispatch(p *pool.Pool, fileURL string) {
	localPath, err := c.storage.LocalPath(fileURL)
	if err != nil {
		c.logger.Error("Cannot map file to the mirror", map[string]interface{}{"url": fileURL, "error": err})
		c.addFailure(Failure{URL: fileURL, Kind: failureKind(err), Reason: err.Error()})
		return
	}

	owner, added := c.state.AddFile(fileURL, localPath)
	if !added {
		if owner != fileURL {
			c.logger.Warn("Local path already claimed by another URL, skipping", map[string]interface{}{
				"url":   fileURL,
				"owner": owner,
				"path":  localPath,
			})
			c.state.AddSkipped(fileURL)
			c.metrics.FileSkipped(1)
		}
		return
	}
	c.submit(p, fileURL, localPath)
}

func (c *Crawler) submit(p *pool.Pool, fileURL, localPath string) {
	ok := p.Submit(func(ctx context.Context) {
		c.download(ctx, fileURL, localPath)
	})
	if !ok {
		c.logger.Debug("Download not started, run canceled", map[string]interface{}{"url": fileURL})
	}
}

// download validates and fetches one file, recording the outcome
func (c *Crawler) download(ctx context.Context, fileURL, localPath string) {
	if c.storage.Exists(localPath) {
		c.logger.Info("File already exists, skipping", map[string]interface{}{"path": localPath})
		c.state.AddSkipped(localPath)
		c.metrics.FileSkipped(1)
		return
	}

	if !c.client.IsValid(ctx, fileURL, c.cfg.ValidationTimeout()) {
		c.state.AddSkipped(fileURL)
		c.metrics.FileSkipped(1)
		return
	}

	res := c.client.Fetch(ctx, fileURL, localPath)
	switch res.Status {
	case fetch.Downloaded:
		c.state.RecordDownloaded()
		c.metrics.FileDownloaded(1)
	case fetch.Skipped:
		c.state.AddSkipped(localPath)
		c.metrics.FileSkipped(1)
	case fetch.Failed:
		c.state.RecordFailed()
		c.metrics.FileFailed(1)
	}
}

func (c *Crawler) addFailure(f Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.failed[f.URL]; ok {
		return
	}
	c.failed[f.URL] = struct{}{}
	c.failures = append(c.failures, f)
}

func (c *Crawler) mappingFailures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Failure(nil), c.failures...)
}

// importFolders lists every configured cloud folder and downloads its files
func (c *Crawler) importFolders(ctx context.Context) {
	p := pool.New(ctx, c.cfg.Workers)
	defer p.Wait()

	for _, folderID := range c.cfg.Folders {
		if ctx.Err() != nil {
			return
		}

		entries, err := c.lister.List(ctx, folderID)
		if err != nil {
			c.logger.Error("Failed to list folder", map[string]interface{}{"folder": folderID, "error": err})
			continue
		}

		for _, f := range folder.Import(c.state, c.storage, c.lister, folderID, entries, c.logger) {
			c.submit(p, f.URL, f.LocalPath)
		}
	}
}
