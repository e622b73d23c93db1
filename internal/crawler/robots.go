package crawler

import (
	"context"
	"net/url"
	"sync"

	"sitemirror/internal/logger"

	"github.com/temoto/robotstxt"
)

// robotsGate answers robots.txt questions, fetching each host's file once.
// Hosts whose robots.txt cannot be read are treated as allowing everything.
// A canceled lookup allows nothing and is not remembered.
type robotsGate struct {
	client Getter
	agent  string
	logger *logger.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.Group
}

func newRobotsGate(client Getter, agent string, logger *logger.Logger) *robotsGate {
	return &robotsGate{
		client: client,
		agent:  agent,
		logger: logger,
		hosts:  make(map[string]*robotstxt.Group),
	}
}

func (g *robotsGate) allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	origin := u.Scheme + "://" + u.Host
	g.mu.Lock()
	group, ok := g.hosts[origin]
	g.mu.Unlock()

	if !ok {
		group = g.load(ctx, origin)
		if ctx.Err() != nil {
			// left uncached so the next caller reads the file again
			return false
		}
		g.mu.Lock()
		g.hosts[origin] = group
		g.mu.Unlock()
	}
	if group == nil {
		return true
	}

	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return group.Test(target)
}

func (g *robotsGate) load(ctx context.Context, origin string) *robotstxt.Group {
	resp, err := g.client.Get(ctx, origin+"/robots.txt")
	if err != nil {
		g.logger.Warn("Failed to fetch robots.txt", map[string]interface{}{"host": origin, "error": err})
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		g.logger.Warn("Failed to parse robots.txt", map[string]interface{}{"host": origin, "error": err})
		return nil
	}
	return data.FindGroup(g.agent)
}
