// Package fetch validates and downloads single remote files into the mirror.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"sitemirror/internal/config"
	"sitemirror/internal/errors"
	"sitemirror/internal/logger"

	"golang.org/x/time/rate"
)

// chunkSize is the buffer used when streaming a body to disk
const chunkSize = 8 * 1024

// partSuffix marks a download that has not completed yet
const partSuffix = ".part"

// Status is the outcome of a single fetch
type Status int

const (
	Downloaded Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes what happened to one file
type Result struct {
	URL       string
	LocalPath string
	Status    Status
	Bytes     int64
	Err       error
}

// Reason returns the failure detail, or an empty string
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Client performs rate limited HTTP requests on behalf of the crawler
type Client struct {
	client     *http.Client
	limiter    *rate.Limiter
	userAgent  string
	retries    int
	retryDelay time.Duration
	logger     *logger.Logger
}

// NewClient creates a new Client from the run configuration
func NewClient(cfg *config.Config, logger *logger.Logger) *Client {
	timeout := cfg.RequestTimeout()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		client: &http.Client{
			// no overall timeout: large files may legitimately stream for long
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   cfg.Workers,
			},
		},
		limiter:    limiter,
		userAgent:  cfg.UserAgent,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Do sends req after waiting for the rate limiter
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.client.Do(req)
}

// Get issues a rate limited GET
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.Do(req)
}

// IsValid checks rawURL with a HEAD request and reports whether it answered
// exactly 200. Failures are logged, never returned.
func (c *Client) IsValid(ctx context.Context, rawURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		c.logger.Error("Invalid file URL", map[string]interface{}{"url": rawURL, "error": err})
		return false
	}

	resp, err := c.Do(req)
	if err != nil {
		c.logger.Error("Failed to validate URL", map[string]interface{}{"url": rawURL, "error": err})
		return false
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("URL failed validation", map[string]interface{}{
			"url":        rawURL,
			"statusCode": resp.StatusCode,
		})
		return false
	}
	return true
}

// Fetch downloads rawURL to localPath. An existing localPath is treated as
// complete and reported as Skipped. Transient failures are retried; every
// other failure is returned in the Result, never raised.
func (c *Client) Fetch(ctx context.Context, rawURL, localPath string) Result {
	result := Result{URL: rawURL, LocalPath: localPath}

	if _, err := os.Stat(localPath); err == nil {
		c.logger.Info("File already exists, skipping", map[string]interface{}{"path": localPath})
		result.Status = Skipped
		return result
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		result.Status = Failed
		result.Err = errors.Wrap(err, errors.StorageError, "failed to create directory").
			WithContext("path", filepath.Dir(localPath))
		c.logFailure(result)
		return result
	}

	c.logger.Info("Downloading file", map[string]interface{}{"url": rawURL, "path": localPath})

	retries := 0
	for {
		n, err := c.download(ctx, rawURL, localPath)
		if err == nil {
			result.Status = Downloaded
			result.Bytes = n
			c.logger.Info("Downloaded file", map[string]interface{}{
				"url":   rawURL,
				"path":  localPath,
				"bytes": n,
			})
			return result
		}

		retryErr, ok := errors.AsRetryable(err)
		if ok {
			// each attempt returns a fresh error; carry the count forward
			retryErr.RetryCount = retries
		}
		if !ok || !retryErr.CanRetry() {
			result.Status = Failed
			result.Err = err
			c.logFailure(result)
			return result
		}

		delay := c.retryDelay << retryErr.RetryCount
		retryErr.IncrementRetry()
		retries = retryErr.RetryCount
		c.logger.Warn("Retrying download", map[string]interface{}{
			"url":     rawURL,
			"attempt": retryErr.RetryCount,
			"of":      retryErr.MaxRetries,
			"delay":   delay.String(),
			"error":   err,
		})
		if err := sleep(ctx, delay); err != nil {
			result.Status = Failed
			result.Err = errors.Wrap(err, errors.CanceledError, "download canceled").WithContext("url", rawURL)
			c.logFailure(result)
			return result
		}
	}
}

func (c *Client) logFailure(r Result) {
	c.logger.Error("Failed to download file", map[string]interface{}{
		"url":   r.URL,
		"path":  r.LocalPath,
		"error": r.Err,
	})
}

// download streams one attempt into a .part file and renames it into place
func (c *Client) download(ctx context.Context, rawURL, localPath string) (int64, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return 0, errors.Wrap(err, errors.CanceledError, "download canceled").WithContext("url", rawURL)
		}
		return 0, errors.WrapRetryableError(err, errors.NetworkError, "request failed", c.retries)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("status code: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			retryErr := errors.WrapRetryableError(statusErr, errors.NetworkError, "server unavailable", c.retries)
			retryErr.WithContext("statusCode", resp.StatusCode)
			return 0, retryErr
		}
		return 0, errors.Wrap(statusErr, errors.NetworkError, "unexpected response").
			WithContext("statusCode", resp.StatusCode)
	}

	partPath := localPath + partSuffix
	file, err := os.Create(partPath)
	if err != nil {
		return 0, errors.Wrap(err, errors.StorageError, "failed to create file").WithContext("path", partPath)
	}

	written, err := copyChunks(file, resp.Body, c.retries)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = errors.Wrap(closeErr, errors.StorageError, "failed to close file").WithContext("path", partPath)
	}
	if err != nil {
		os.Remove(partPath)
		return 0, err
	}

	if err := os.Rename(partPath, localPath); err != nil {
		os.Remove(partPath)
		return 0, errors.Wrap(err, errors.StorageError, "failed to move file into place").WithContext("path", localPath)
	}
	return written, nil
}

// copyChunks reads body in fixed size chunks and writes only non-empty ones.
// A failed read is retryable up to maxRetries times.
func copyChunks(dst io.Writer, body io.Reader, maxRetries int) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, errors.Wrap(werr, errors.StorageError, "failed to write file")
			}
			written += int64(n)
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, errors.WrapRetryableError(err, errors.NetworkError, "stream interrupted", maxRetries)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
