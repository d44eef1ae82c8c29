package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-appstore/config"
)

// CollyFetcher fetches pages with a synchronous colly collector. Concurrent
// callers share the collector's transport and limit rules.
type CollyFetcher struct {
	*core
	collector *colly.Collector
	headers   http.Header
}

var _ Fetcher = (*CollyFetcher)(nil)

// NewCollyFetcher builds a colly-backed fetcher configured from cfg.
func NewCollyFetcher(cfg *config.Config, metrics *Metrics) (*CollyFetcher, error) {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &CollyFetcher{
		core:      newCore(cfg, metrics),
		collector: collector,
		headers:   requestHeaders(cfg),
	}, nil
}

// WithTransport swaps the HTTP transport, e.g. for a mock in tests.
func (f *CollyFetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch retrieves pageURL, retrying transient failures.
func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	return f.fetch(ctx, pageURL, f.attempt)
}

// attempt runs one request on a clone so the callbacks only see this request.
func (f *CollyFetcher) attempt(_ context.Context, pageURL string) (*response, error) {
	clone := f.collector.Clone()
	resp := &response{}

	clone.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.body = r.Body
		resp.finalURL = r.Request.URL
	})
	clone.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			resp.status = r.StatusCode
		}
	})

	if err := clone.Request(http.MethodGet, pageURL, nil, nil, f.headers.Clone()); err != nil {
		return resp, err
	}
	if resp.finalURL == nil {
		if parsed, err := url.Parse(pageURL); err == nil {
			resp.finalURL = parsed
		}
	}
	return resp, nil
}

func requestHeaders(cfg *config.Config) http.Header {
	hdr := http.Header{}
	hdr.Set("User-Agent", cfg.UserAgent)
	if cfg.AcceptLanguage != "" {
		hdr.Set("Accept-Language", cfg.AcceptLanguage)
	}
	hdr.Set("Accept", "text/html,application/xhtml+xml")
	return hdr
}
