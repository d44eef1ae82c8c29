// Package scraper retrieves storefront pages and returns them as parsed documents.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-appstore/config"
)

// Fetcher retrieves one page and parses it. Any non-2xx status or transport
// failure is returned as a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*goquery.Document, error)
}

// StatsReporter is implemented by fetchers that keep request counters.
type StatsReporter interface {
	Stats() FetchStats
}

// FetchStats summarises the requests issued by a fetcher.
type FetchStats struct {
	Requests     int
	Errors       int
	Retries      int
	FailedURLs   []string
	ErrorsByType map[string]int
}

// NewFetcher builds the fetcher selected by cfg.Fetcher.
func NewFetcher(cfg *config.Config, metrics *Metrics) (Fetcher, error) {
	switch cfg.Fetcher {
	case config.FetcherResty:
		return NewRestyFetcher(cfg, metrics)
	case config.FetcherColly, "":
		return NewCollyFetcher(cfg, metrics)
	default:
		return nil, fmt.Errorf("unknown fetcher %q", cfg.Fetcher)
	}
}

// response is the outcome of a single attempt.
type response struct {
	body     []byte
	status   int
	finalURL *url.URL
}

// attemptFunc performs one GET without retries.
type attemptFunc func(ctx context.Context, pageURL string) (*response, error)

// core carries the retry, rate limit and accounting shared by every backend.
type core struct {
	retry   retryPolicy
	limiter *rate.Limiter
	Metrics *Metrics

	requestCount int64
	errorCount   int64
	retryCount   int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

func newCore(cfg *config.Config, metrics *Metrics) *core {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Parallelism
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &core{
		retry:        newRetryPolicy(cfg),
		limiter:      limiter,
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}
}

func (c *core) fetch(ctx context.Context, pageURL string, attempt attemptFunc) (*goquery.Document, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	for retries := 0; ; retries++ {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{URL: pageURL, Err: err}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &FetchError{URL: pageURL, Err: err}
			}
		}

		current := atomic.AddInt64(&c.requestCount, 1)
		c.Metrics.IncRequest("started")
		if current%50 == 0 {
			slog.Debug("fetch progress", slog.Int64("requests", current), slog.String("url", pageURL))
		}

		start := time.Now()
		resp, err := attempt(ctx, pageURL)
		c.Metrics.ObserveDuration(time.Since(start))

		status := 0
		if resp != nil {
			status = resp.status
		}
		classified := classifyError(err, status)
		if classified == nil {
			c.Metrics.IncRequest("succeeded")
			return newDocument(pageURL, resp)
		}

		category := errorTypeLabel(classified)
		atomic.AddInt64(&c.errorCount, 1)
		c.Metrics.IncError(category)
		c.mu.Lock()
		c.errorsByType[category]++
		c.mu.Unlock()

		fetchErr := &FetchError{URL: pageURL, StatusCode: status, Err: classified}
		if !c.retry.allow(retries, classified) {
			c.Metrics.IncRequest("failed")
			c.mu.Lock()
			c.failedURLs = append(c.failedURLs, pageURL)
			c.mu.Unlock()
			return nil, fetchErr
		}

		delay := c.retry.backoff(retries + 1)
		atomic.AddInt64(&c.retryCount, 1)
		c.Metrics.IncRetries()
		slog.Debug("retrying fetch",
			slog.String("url", pageURL),
			slog.String("category", category),
			slog.Int("attempt", retries+1),
			slog.Duration("delay", delay),
		)
		if err := sleep(ctx, delay); err != nil {
			c.Metrics.IncRequest("failed")
			return nil, fetchErr
		}
	}
}

func newDocument(pageURL string, resp *response) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.body))
	if err != nil {
		return nil, &FetchError{URL: pageURL, StatusCode: resp.status, Err: fmt.Errorf("parse html: %w", err)}
	}
	doc.Url = resp.finalURL
	if doc.Url == nil {
		if parsed, err := url.Parse(pageURL); err == nil {
			doc.Url = parsed
		}
	}
	return doc, nil
}

// Stats returns a snapshot of the request counters.
func (c *core) Stats() FetchStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	failed := make([]string, len(c.failedURLs))
	copy(failed, c.failedURLs)
	byType := make(map[string]int, len(c.errorsByType))
	for k, v := range c.errorsByType {
		byType[k] = v
	}

	return FetchStats{
		Requests:     int(atomic.LoadInt64(&c.requestCount)),
		Errors:       int(atomic.LoadInt64(&c.errorCount)),
		Retries:      int(atomic.LoadInt64(&c.retryCount)),
		FailedURLs:   failed,
		ErrorsByType: byType,
	}
}
