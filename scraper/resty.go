package scraper

import (
	"context"
	"net/http"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/aluiziolira/go-scrape-appstore/config"
)

// RestyFetcher fetches pages with a resty client. It is the fallback backend
// for storefront edges that reject the colly transport.
type RestyFetcher struct {
	*core
	client *resty.Client
	bypass bool
}

var _ Fetcher = (*RestyFetcher)(nil)

// NewRestyFetcher builds a resty-backed fetcher configured from cfg.
func NewRestyFetcher(cfg *config.Config, metrics *Metrics) (*RestyFetcher, error) {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml")
	if cfg.AcceptLanguage != "" {
		client.SetHeader("Accept-Language", cfg.AcceptLanguage)
	}
	f := &RestyFetcher{
		core:   newCore(cfg, metrics),
		client: client,
		bypass: cfg.CloudflareBypass,
	}
	f.WithTransport(client.GetClient().Transport)
	return f, nil
}

// WithTransport swaps the HTTP transport, e.g. for a mock in tests. The
// Cloudflare round tripper stays in front of rt when the bypass is enabled.
func (f *RestyFetcher) WithTransport(rt http.RoundTripper) {
	if f.bypass {
		rt = cloudflarebp.AddCloudFlareByPass(rt)
	}
	f.client.SetTransport(rt)
}

// Fetch retrieves pageURL, retrying transient failures.
func (f *RestyFetcher) Fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	return f.fetch(ctx, pageURL, f.attempt)
}

func (f *RestyFetcher) attempt(ctx context.Context, pageURL string) (*response, error) {
	res, err := f.client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		resp := &response{}
		if res != nil && res.RawResponse != nil {
			resp.status = res.StatusCode()
		}
		return resp, err
	}

	resp := &response{
		body:   res.Body(),
		status: res.StatusCode(),
	}
	if raw := res.RawResponse; raw != nil && raw.Request != nil {
		resp.finalURL = raw.Request.URL
	}
	return resp, nil
}
