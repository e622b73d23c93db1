package crawler

import (
	"context"

	"sitemirror/internal/errors"
	"sitemirror/internal/fetch"
	"sitemirror/internal/pool"
	"sitemirror/internal/progress"
	"sitemirror/internal/state"
)

// Failure is a discovered file that could not be obtained
type Failure struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Reason    string `json:"reason"`
}

// failureKind names the error class of err, or "" for untyped errors
func failureKind(err error) string {
	if t := errors.GetType(err); t >= 0 {
		return t.String()
	}
	return ""
}

// Reconciliation is the outcome of re-fetching missing files
type Reconciliation struct {
	// Missing lists the URLs whose local file was absent
	Missing   []string
	Recovered int
	Failures  []Failure
}

// Reconcile checks every discovered file on disk and fetches the ones that
// are absent, without validating them first. Nothing is raised; files that
// still cannot be obtained come back as failures in discovery order.
func (c *Crawler) Reconcile(ctx context.Context, files []state.File) *Reconciliation {
	rec := &Reconciliation{}

	var missing []state.File
	for _, f := range files {
		if !c.storage.Exists(f.LocalPath) {
			missing = append(missing, f)
			rec.Missing = append(rec.Missing, f.URL)
		}
	}

	c.logger.Info("Reconciling missing files", map[string]interface{}{
		"discovered": len(files),
		"missing":    len(missing),
	})
	if len(missing) == 0 {
		return rec
	}

	reporter := progress.NewReporter(c.logger, "reconcile", len(missing))
	// each task writes only its own slot
	results := make([]*fetch.Result, len(missing))

	p := pool.New(ctx, c.cfg.Workers)
	for i, f := range missing {
		p.Submit(func(ctx context.Context) {
			c.logger.Info("Retrying missing file", map[string]interface{}{"url": f.URL, "path": f.LocalPath})
			res := c.client.Fetch(ctx, f.URL, f.LocalPath)
			results[i] = &res
			reporter.Increment()
		})
	}
	p.Wait()
	reporter.Complete()

	for i, f := range missing {
		res := results[i]
		switch {
		case res == nil:
			rec.Failures = append(rec.Failures, Failure{
				URL:       f.URL,
				LocalPath: f.LocalPath,
				Kind:      errors.CanceledError.String(),
				Reason:    "run canceled before the file was fetched",
			})
		case res.Status == fetch.Failed:
			c.metrics.FileFailed(1)
			rec.Failures = append(rec.Failures, Failure{
				URL:       f.URL,
				LocalPath: f.LocalPath,
				Kind:      failureKind(res.Err),
				Reason:    res.Reason(),
			})
		default:
			c.metrics.FileRecovered(1)
			rec.Recovered++
		}
	}

	c.logger.Info("Reconciliation finished", map[string]interface{}{
		"missing":   len(missing),
		"recovered": rec.Recovered,
		"failed":    len(rec.Failures),
	})
	return rec
}
