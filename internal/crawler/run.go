package crawler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"sitemirror/internal/errors"
	"sitemirror/internal/progress"
	"sitemirror/internal/state"
	"sitemirror/internal/storage"
)

// Summary is the end-of-run report. Every discovered file that is not on
// disk when the run ends appears in Failures.
type Summary struct {
	RunID      string        `json:"run_id"`
	RunDir     string        `json:"run_dir"`
	TreeFile   string        `json:"tree_file,omitempty"`
	Visited    int           `json:"visited"`
	Discovered int           `json:"discovered"`
	Downloaded int           `json:"downloaded"`
	Skipped    int           `json:"skipped"`
	Missing    []string      `json:"missing"`
	Recovered  int           `json:"recovered"`
	Failures   []Failure     `json:"failures"`
	Canceled   bool          `json:"canceled"`
	Duration   time.Duration `json:"duration"`
}

// Run crawls every seed, imports the configured cloud folders, persists the
// file tree and reconciles missing files. Per-file and per-page problems end
// up in the summary; the returned error is only set when the run was
// canceled.
func (c *Crawler) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	steps := progress.NewReporter(c.logger, "run", 0)

	c.logger.Info("Starting run", map[string]interface{}{
		"run_id":  c.runID,
		"seeds":   len(c.cfg.Seeds),
		"folders": len(c.cfg.Folders),
		"output":  c.storage.BaseDir(),
	})

	steps.AddStep("crawl", "crawl seed pages and download files")
	for _, seed := range c.cfg.Seeds {
		if ctx.Err() != nil {
			break
		}
		if err := c.Crawl(ctx, seed); err != nil && !errors.IsCanceled(err) {
			c.logger.Error("Failed to crawl seed", map[string]interface{}{"url": seed, "error": err})
		}
	}
	steps.CompleteStep("crawl", ctx.Err())

	if len(c.cfg.Folders) > 0 && c.lister != nil && ctx.Err() == nil {
		steps.AddStep("folders", "download cloud folders")
		c.importFolders(ctx)
		steps.CompleteStep("folders", ctx.Err())
	}

	summary := &Summary{
		RunID:  c.runID,
		RunDir: c.storage.BaseDir(),
	}

	steps.AddStep("tree", "write file tree")
	treePath := filepath.Join(c.storage.BaseDir(), c.cfg.TreeFile)
	err := storage.WriteFileTree(treePath, c.state.FileTree())
	if err == nil {
		summary.TreeFile = treePath
	}
	steps.CompleteStep("tree", err)

	files := c.state.Files()

	if ctx.Err() != nil {
		// no new downloads once canceled; whatever is absent is reported
		summary.Canceled = true
		summary.Failures = c.mappingFailures()
		for _, f := range files {
			if !c.storage.Exists(f.LocalPath) {
				summary.Missing = append(summary.Missing, f.URL)
				summary.Failures = append(summary.Failures, Failure{
					URL:       f.URL,
					LocalPath: f.LocalPath,
					Kind:      errors.CanceledError.String(),
					Reason:    "run canceled before the file was obtained",
				})
			}
		}
		c.finish(summary, files, start)
		return summary, errors.Wrap(ctx.Err(), errors.CanceledError, "run canceled")
	}

	steps.AddStep("reconcile", "fetch missing files")
	rec := c.Reconcile(ctx, files)
	summary.Missing = rec.Missing
	summary.Recovered = rec.Recovered
	summary.Failures = append(c.mappingFailures(), rec.Failures...)
	var recErr error
	if len(rec.Failures) > 0 {
		recErr = fmt.Errorf("%d files could not be obtained", len(rec.Failures))
	}
	steps.CompleteStep("reconcile", recErr)

	summary.Canceled = ctx.Err() != nil
	c.finish(summary, files, start)
	if summary.Canceled {
		return summary, errors.Wrap(ctx.Err(), errors.CanceledError, "run canceled during reconciliation")
	}
	return summary, nil
}

func (c *Crawler) finish(summary *Summary, files []state.File, start time.Time) {
	downloaded, _ := c.state.Counts()
	summary.Visited = len(c.state.VisitedURLs())
	summary.Discovered = len(files)
	summary.Downloaded = downloaded
	summary.Skipped = len(c.state.Skipped())
	summary.Duration = time.Since(start)
	c.logSummary(summary)
}

func (c *Crawler) logSummary(s *Summary) {
	for _, f := range s.Failures {
		c.logger.Error("File could not be obtained", map[string]interface{}{
			"url":    f.URL,
			"path":   f.LocalPath,
			"kind":   f.Kind,
			"reason": f.Reason,
		})
	}

	c.logger.Info("Run complete", map[string]interface{}{
		"run_id":     s.RunID,
		"visited":    s.Visited,
		"discovered": s.Discovered,
		"downloaded": s.Downloaded,
		"skipped":    s.Skipped,
		"missing":    len(s.Missing),
		"recovered":  s.Recovered,
		"failed":     len(s.Failures),
		"canceled":   s.Canceled,
		"tree_file":  s.TreeFile,
		"duration":   s.Duration.Round(time.Millisecond).String(),
	})
}
