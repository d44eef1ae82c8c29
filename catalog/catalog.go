// Package catalog runs one developer-catalog scrape: it picks the listing
// strategy, discovers application pages, extracts them concurrently and
// writes the result sets.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-appstore/config"
	"github.com/aluiziolira/go-scrape-appstore/models"
	"github.com/aluiziolira/go-scrape-appstore/parser"
	"github.com/aluiziolira/go-scrape-appstore/pipeline"
	"github.com/aluiziolira/go-scrape-appstore/scraper"
)

const (
	msgNoData        = "Scraping complete. No data to write."
	msgWritten       = "Scraping complete. Data written to %s."
	msgResolveFailed = "Scraping error. No data to write. Error fetching the main App Store page: %v"
	msgWriteFailed   = "Scraping error. Failed to write output: %v"
)

// developerMatchThreshold is the Jaro-Winkler similarity below which a
// record's developer is reported as a likely mismatch.
const developerMatchThreshold = 0.85

// ResolutionError reports that the featured listing could not be fetched, so
// no application URLs are known.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve listing %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Request names the catalog to scrape. Every field is optional.
type Request struct {
	Developer        string
	SeedDeveloperURL string
	SeedAppURL       string
}

// RunResult is the outcome of one Run. Message is always set.
type RunResult struct {
	Message string
	Err     error
	Files   []string
	Run     *models.ScrapeRun
}

func (r *RunResult) String() string {
	return r.Message
}

// WriterFactory builds the sink for a run. developer is empty unless the run
// is scoped to a developer.
type WriterFactory func(ctx context.Context, developer string) (pipeline.OutputWriter, error)

// Catalog wires a fetcher, a markup schema and a writer factory.
type Catalog struct {
	cfg       *config.Config
	fetcher   scraper.Fetcher
	schema    parser.MarkupSchema
	metrics   *scraper.Metrics
	newWriter WriterFactory
}

// Option customises a Catalog.
type Option func(*Catalog)

// WithWriterFactory replaces the file writers built from the configuration.
func WithWriterFactory(factory WriterFactory) Option {
	return func(c *Catalog) {
		c.newWriter = factory
	}
}

// WithMetrics records extraction counters on m.
func WithMetrics(m *scraper.Metrics) Option {
	return func(c *Catalog) {
		c.metrics = m
	}
}

// WithSchema overrides the selectors taken from the configuration.
func WithSchema(schema parser.MarkupSchema) Option {
	return func(c *Catalog) {
		c.schema = schema
	}
}

// New builds a Catalog for cfg that fetches pages through fetcher.
func New(cfg *config.Config, fetcher scraper.Fetcher, opts ...Option) *Catalog {
	c := &Catalog{
		cfg:     cfg,
		fetcher: fetcher,
		schema:  cfg.Selectors,
	}
	c.newWriter = func(ctx context.Context, developer string) (pipeline.OutputWriter, error) {
		return pipeline.NewRunWriter(ctx, cfg, developer)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveStrategy picks the discovery strategy once per run. Only a
// non-blank developer name together with a non-blank seed URL scopes the run
// to that developer.
func ResolveStrategy(developer, seedURL string) models.Strategy {
	developer = strings.TrimSpace(developer)
	seedURL = strings.TrimSpace(seedURL)
	if developer != "" && seedURL != "" {
		return models.Strategy{
			Kind:      models.DeveloperScoped,
			Developer: developer,
			SeedURL:   seedURL,
		}
	}
	return models.Strategy{Kind: models.FeaturedFallback}
}

// Run executes one scrape. Per-page failures are logged and skipped; only a
// failed featured listing or a failed write turn the run into an error.
func (c *Catalog) Run(ctx context.Context, req Request) *RunResult {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &models.ScrapeRun{StartTime: time.Now()}
	finish := func(result *RunResult) *RunResult {
		run.EndTime = time.Now()
		result.Run = run
		return result
	}

	req = c.resolveSeedApp(ctx, req)
	run.Strategy = ResolveStrategy(req.Developer, req.SeedDeveloperURL)

	links, err := c.discover(ctx, run.Strategy)
	if err != nil {
		return finish(&RunResult{
			Message: fmt.Sprintf(msgResolveFailed, errors.Unwrap(err)),
			Err:     err,
		})
	}

	run.URLs = dedupe(links)
	if limit := c.cfg.MaxGames; limit > 0 && len(run.URLs) > limit {
		run.URLs = run.URLs[:limit]
	}
	slog.Info("found game urls", slog.Int("count", len(run.URLs)), slog.String("strategy", string(run.Strategy.Kind)))

	run.Records, run.Failed = c.scrapeAll(ctx, run.URLs)
	if len(run.Records) == 0 {
		slog.Info("no game data to write")
		return finish(&RunResult{Message: msgNoData})
	}

	if run.Strategy.Kind == models.DeveloperScoped {
		c.checkDevelopers(run.Strategy.Developer, run.Records)
	}

	// Output is still written when the run was cancelled mid-way.
	files, err := c.write(context.WithoutCancel(ctx), run)
	run.Free, run.Paid = parser.Partition(run.Records)
	if err != nil {
		slog.Error("failed to write output", slog.Any("error", err))
		return finish(&RunResult{
			Message: fmt.Sprintf(msgWriteFailed, err),
			Err:     err,
			Files:   files,
		})
	}

	slog.Info("wrote game data",
		slog.Int("games", len(run.Records)),
		slog.Int("free", len(run.Free)),
		slog.Int("paid", len(run.Paid)),
		slog.Any("files", files),
	)
	return finish(&RunResult{
		Message: fmt.Sprintf(msgWritten, strings.Join(files, ", ")),
		Files:   files,
	})
}

// resolveSeedApp derives the developer catalog from a single application
// page when no developer URL was given.
func (c *Catalog) resolveSeedApp(ctx context.Context, req Request) Request {
	if strings.TrimSpace(req.SeedAppURL) == "" || strings.TrimSpace(req.SeedDeveloperURL) != "" {
		return req
	}

	doc, err := c.fetcher.Fetch(ctx, req.SeedAppURL)
	if err != nil {
		slog.Warn("could not resolve developer from app page",
			slog.String("url", req.SeedAppURL),
			slog.Any("error", err),
		)
		return req
	}

	_, dev := parser.ExtractGame(doc, c.schema)
	if !dev.Found() {
		slog.Warn("app page has no developer link", slog.String("url", req.SeedAppURL))
		return req
	}

	req.SeedDeveloperURL = parser.NormalizeLink(nil, dev.URL)
	if strings.TrimSpace(req.Developer) == "" {
		req.Developer = dev.Name
	}
	slog.Info("resolved developer from app page",
		slog.String("developer", req.Developer),
		slog.String("url", req.SeedDeveloperURL),
	)
	return req
}

func (c *Catalog) discover(ctx context.Context, strategy models.Strategy) ([]string, error) {
	var (
		listingURL string
		scope      parser.Scope
	)
	switch strategy.Kind {
	case models.DeveloperScoped:
		listingURL, scope = strategy.SeedURL, parser.ScopeDeveloper
		slog.Info("filtering by app developer", slog.String("developer", strategy.Developer))
	default:
		listingURL, scope = c.cfg.FeaturedURL, parser.ScopeFeatured
		slog.Info("no developer scope, using featured games listing", slog.String("url", listingURL))
	}

	doc, err := c.fetcher.Fetch(ctx, listingURL)
	if err != nil {
		if scope == parser.ScopeFeatured {
			slog.Error("error fetching the main app store page", slog.String("url", listingURL), slog.Any("error", err))
			return nil, &ResolutionError{URL: listingURL, Err: err}
		}
		slog.Error("error fetching developer page", slog.String("url", listingURL), slog.Any("error", err))
		return nil, nil
	}

	links := parser.DiscoverLinks(doc, scope, c.schema)
	c.metrics.AddLinks(scope.String(), len(links))
	slog.Debug("discovered links", slog.String("scope", scope.String()), slog.Int("count", len(links)))
	return links, nil
}

// scrapeAll fetches and extracts every URL with a bounded worker pool.
// Records keep the order of urls; failed pages are returned separately.
func (c *Catalog) scrapeAll(ctx context.Context, urls []string) ([]models.GameRecord, []string) {
	results := make([]*models.GameRecord, len(urls))
	failed := make([]bool, len(urls))

	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, pageURL := range urls {
		g.Go(func() error {
			doc, err := c.fetcher.Fetch(gctx, pageURL)
			if err != nil {
				slog.Warn("skipping game page",
					slog.String("url", pageURL),
					slog.String("category", scraper.ErrorType(err)),
					slog.Any("error", err),
				)
				failed[i] = true
				return nil
			}

			record, _ := parser.ExtractGame(doc, c.schema)
			record.URL = pageURL
			record.ScrapedAt = time.Now().UTC()
			results[i] = &record
			c.metrics.IncItems()
			return nil
		})
	}
	_ = g.Wait()

	records := make([]models.GameRecord, 0, len(urls))
	var failedURLs []string
	for i, record := range results {
		if record != nil {
			records = append(records, *record)
		} else if failed[i] {
			failedURLs = append(failedURLs, urls[i])
		}
	}
	return records, failedURLs
}

// write streams the run's records through the record pipeline into the run
// writer and returns the files produced.
func (c *Catalog) write(ctx context.Context, run *models.ScrapeRun) (files []string, err error) {
	writer, err := c.newWriter(ctx, run.Strategy.Developer)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	defer func() {
		if fr, ok := writer.(pipeline.FileReporter); ok {
			files = fr.Files()
		}
	}()

	p := pipeline.NewPipeline(ctx, writer, c.cfg)
	p.Start(1)
	if c.cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	batch := make([]*models.GameRecord, len(run.Records))
	for i := range run.Records {
		batch[i] = &run.Records[i]
	}
	processErr := p.Process(batch...)
	closeErr := p.Close()
	writerErr := writer.Close()
	if err := errors.Join(processErr, closeErr, writerErr); err != nil {
		return nil, err
	}
	if err := writer.Validate(); err != nil {
		return nil, fmt.Errorf("validate output: %w", err)
	}
	return nil, nil
}

// checkDevelopers logs records whose developer name does not look like the
// requested one. Records are kept either way.
func (c *Catalog) checkDevelopers(developer string, records []models.GameRecord) {
	want := strings.ToLower(developer)
	mismatches := 0
	for _, record := range records {
		if record.DeveloperName == models.DefaultText {
			continue
		}
		score := matchr.JaroWinkler(want, strings.ToLower(record.DeveloperName), false)
		if score < developerMatchThreshold {
			mismatches++
			slog.Debug("developer mismatch",
				slog.String("url", record.URL),
				slog.String("developer", record.DeveloperName),
				slog.Float64("similarity", score),
			)
		}
	}
	if mismatches > 0 {
		slog.Warn("records from other developers in catalog",
			slog.String("developer", developer),
			slog.Int("mismatches", mismatches),
			slog.Int("records", len(records)),
		)
	}
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
