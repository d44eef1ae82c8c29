package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-appstore/config"
	"github.com/aluiziolira/go-scrape-appstore/models"
	"github.com/aluiziolira/go-scrape-appstore/pipeline"
	"github.com/aluiziolira/go-scrape-appstore/scraper"
)

const (
	developerURL = "https://apps.apple.com/us/developer/nimblebit-llc/id300186800"
	featuredURL  = "https://apps.apple.com/us/story/id1302444839"
)

const developerPage = `<html><body>
<section class="l-content-width section section--bordered">
  <a href="https://apps.apple.com/us/app/tiny-tower/id1?platform=iphone">Tiny Tower</a>
  <a href="/us/app/pocket-frogs/id2">Pocket Frogs</a>
  <a href="https://apps.apple.com/us/app/disco-zoo/id3">Disco Zoo</a>
  <a href="https://apps.apple.com/us/app/tiny-tower/id1">Tiny Tower again</a>
</section>
</body></html>`

const featuredPage = `<html><body>
<a class="we-product-collection__item" href="https://apps.apple.com/us/app/alto/id10"></a>
<a class="we-product-collection__item" href="https://apps.apple.com/us/app/monument-valley/id11"></a>
</body></html>`

func appPage(name, developer, price string) string {
	return fmt.Sprintf(`<html><body>
<h1 class="product-header__title">%s</h1>
<h2 class="product-header__identity"><a href="/us/developer/nimblebit-llc/id300186800?see-all=true">%s</a></h2>
<span class="we-customer-ratings__averages__display">4.6</span>
<section class="section--information"><dl class="information-list">
  <div class="information-list__item"><dt>Size</dt><dd>120.5 MB</dd></div>
  <div class="information-list__item"><dt>Age Rating</dt><dd>Rated 9+</dd></div>
  <div class="information-list__item"><dt>Price</dt><dd>%s</dd></div>
  <div class="information-list__item"><span class="information-list__item__definition">Simulation</span></div>
</dl></section>
<div class="supports-list__item__copy">Game Center: achievements and leaderboards</div>
</body></html>`, name, developer, price)
}

type memoryWriter struct {
	mu      sync.Mutex
	records []models.GameRecord
	closed  bool
	err     error
}

func (w *memoryWriter) Write(records []*models.GameRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	for _, record := range records {
		w.records = append(w.records, *record)
	}
	return nil
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *memoryWriter) Validate() error { return nil }

func (w *memoryWriter) Files() []string { return []string{"memory"} }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.FeaturedURL = featuredURL
	cfg.Workers = 3
	cfg.Parallelism = 3
	cfg.RandomDelay = 0
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = time.Millisecond
	return cfg
}

func newTestCatalog(t *testing.T, cfg *config.Config, opts ...Option) (*Catalog, *httpmock.MockTransport) {
	t.Helper()
	fetcher, err := scraper.NewCollyFetcher(cfg, scraper.NewMetrics())
	require.NoError(t, err)
	transport := httpmock.NewMockTransport()
	fetcher.WithTransport(transport)
	return New(cfg, fetcher, opts...), transport
}

func html(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func registerDeveloperCatalog(transport *httpmock.MockTransport) {
	transport.RegisterResponder("GET", developerURL, html(developerPage))
	transport.RegisterResponder("GET", "https://apps.apple.com/us/app/tiny-tower/id1", html(appPage("Tiny Tower", "NimbleBit LLC", "Free")))
	transport.RegisterResponder("GET", "https://apps.apple.com/us/app/pocket-frogs/id2", html(appPage("Pocket Frogs", "NimbleBit LLC", "$1.99")))
	transport.RegisterResponder("GET", "https://apps.apple.com/us/app/disco-zoo/id3", html(appPage("Disco Zoo", "NimbleBit LLC", "Free")))
}

func TestResolveStrategy(t *testing.T) {
	tests := []struct {
		name      string
		developer string
		seedURL   string
		want      models.StrategyKind
	}{
		{"both present", "NimbleBit", developerURL, models.DeveloperScoped},
		{"no developer", "", developerURL, models.FeaturedFallback},
		{"no seed url", "NimbleBit", "", models.FeaturedFallback},
		{"whitespace developer", "   ", developerURL, models.FeaturedFallback},
		{"whitespace seed", "NimbleBit", " \t", models.FeaturedFallback},
		{"neither", "", "", models.FeaturedFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveStrategy(tt.developer, tt.seedURL)
			require.Equal(t, tt.want, got.Kind)
			if tt.want == models.DeveloperScoped {
				require.Equal(t, "NimbleBit", got.Developer)
				require.Equal(t, developerURL, got.SeedURL)
			}
		})
	}
}

func TestRunDeveloperCatalog(t *testing.T) {
	writer := &memoryWriter{}
	var gotDeveloper string
	c, transport := newTestCatalog(t, testConfig(), WithWriterFactory(func(_ context.Context, developer string) (pipeline.OutputWriter, error) {
		gotDeveloper = developer
		return writer, nil
	}))
	registerDeveloperCatalog(transport)

	result := c.Run(context.Background(), Request{Developer: "NimbleBit LLC", SeedDeveloperURL: developerURL})

	require.NoError(t, result.Err)
	require.Equal(t, "Scraping complete. Data written to memory.", result.Message)
	require.Equal(t, "NimbleBit LLC", gotDeveloper)
	require.True(t, writer.closed)

	require.Equal(t, models.DeveloperScoped, result.Run.Strategy.Kind)
	require.Equal(t, []string{
		"https://apps.apple.com/us/app/tiny-tower/id1",
		"https://apps.apple.com/us/app/pocket-frogs/id2",
		"https://apps.apple.com/us/app/disco-zoo/id3",
	}, result.Run.URLs)

	require.Len(t, writer.records, 3)
	for i, record := range writer.records {
		require.Equal(t, result.Run.URLs[i], record.URL)
		require.Equal(t, "NimbleBit LLC", record.DeveloperName)
		require.Equal(t, "120.5 MB", record.Size)
		require.Equal(t, "9+", record.AgeLimit)
		require.Equal(t, models.Yes, record.Achievement)
	}
	require.Len(t, result.Run.Free, 2)
	require.Len(t, result.Run.Paid, 1)
	require.Empty(t, result.Run.Failed)
}

func TestRunWritesPartitionedFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.OutputFile = filepath.Join(dir, "game_center_games.csv")
	cfg.FreeOutputFile = filepath.Join(dir, "game_center_f2p_games.csv")
	cfg.PaidOutputFile = filepath.Join(dir, "game_center_paid_games.csv")

	c, transport := newTestCatalog(t, cfg)
	registerDeveloperCatalog(transport)

	result := c.Run(context.Background(), Request{Developer: "NimbleBit LLC", SeedDeveloperURL: developerURL})
	require.NoError(t, result.Err)

	all := filepath.Join(dir, "game_center_games_NimbleBit_LLC.csv")
	free := filepath.Join(dir, "game_center_f2p_games_NimbleBit_LLC.csv")
	paid := filepath.Join(dir, "game_center_paid_games_NimbleBit_LLC.csv")
	require.Equal(t, []string{all, free, paid}, result.Files)

	rows, err := pipeline.ReadCSV(all)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	rows, err = pipeline.ReadCSV(free)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = pipeline.ReadCSV(paid)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Pocket Frogs", rows[0].GameName)
}

func TestRunFeaturedFallback(t *testing.T) {
	writer := &memoryWriter{}
	var gotDeveloper = "unset"
	c, transport := newTestCatalog(t, testConfig(), WithWriterFactory(func(_ context.Context, developer string) (pipeline.OutputWriter, error) {
		gotDeveloper = developer
		return writer, nil
	}))
	transport.RegisterResponder("GET", featuredURL, html(featuredPage))
	transport.RegisterResponder("GET", "https://apps.apple.com/us/app/alto/id10", html(appPage("Alto", "Snowman", "$4.99")))
	transport.RegisterResponder("GET", "https://apps.apple.com/us/app/monument-valley/id11", html(appPage("Monument Valley", "ustwo games", "$3.99")))

	result := c.Run(context.Background(), Request{Developer: "   "})

	require.NoError(t, result.Err)
	require.Equal(t, models.FeaturedFallback, result.Run.Strategy.Kind)
	require.Empty(t, gotDeveloper)
	require.Len(t, writer.records, 2)
	require.Len(t, result.Run.Paid, 2)
}

func TestRunFeaturedFetchFailure(t *testing.T) {
	factoryCalled := false
	c, transport := newTestCatalog(t, testConfig(), WithWriterFactory(func(context.Context, string) (pipeline.OutputWriter, error) {
		factoryCalled = true
		return &memoryWriter{}, nil
	}))
	transport.RegisterResponder("GET", featuredURL, httpmock.NewStringResponder(503, "unavailable"))

	result := c.Run(context.Background(), Request{})

	var resolutionErr *ResolutionError
	require.ErrorAs(t, result.Err, &resolutionErr)
	require.Equal(t, featuredURL, resolutionErr.URL)
	require.Contains(t, result.Message, "Scraping error. No data to write. Error fetching the main App Store page:")
	require.False(t, factoryCalled)
}

func TestRunDeveloperPageFailureWritesNothing(t *testing.T) {
	factoryCalled := false
	c, transport := newTestCatalog(t, testConfig(), WithWriterFactory(func(context.Context, string) (pipeline.OutputWriter, error) {
		factoryCalled = true
		return &memoryWriter{}, nil
	}))
	transport.RegisterResponder("GET", developerURL, httpmock.NewStringResponder(404, "missing"))

	result := c.Run(context.Background(), Request{Developer: "NimbleBit", SeedDeveloperURL: developerURL})

	require.NoError(t, result.Err)
	require.Equal(t, "Scraping complete. No data to write.", result.Message)
	require.False(t, factoryCalled)
}

func TestRunEmptyListing(t *testing.T) {
	c, transport := newTestCatalog(t, testConfig())
	transport.RegisterResponder("GET", developerURL, html(`<html><body><section class="section--bordered"></section></body></html>`))

	result := c.Run(context.Background(), Request{Developer: "NimbleBit", SeedDeveloperURL: developerURL})

	require.NoError(t, result.Err)
	require.Equal(t, "Scraping complete. No data to write.", result.String())
	require.Empty(t, result.Run.URLs)
}

func TestRunSkipsFailedPages(t *testing.T) {
	writer := &memoryWriter{}
	c, transport := newTestCatalog(t, testConfig(), WithWriterFactory(func(context.Context, string) (pipeline.OutputWriter, error) {
		return writer, nil
	}))
	registerDeveloperCatalog(transport)
	transport.RegisterResponder("GET", "https://apps.apple.com/us/app/pocket-frogs/id2", httpmock.NewStringResponder(404, "gone"))

	result := c.Run(context.Background(), Request{Developer: "NimbleBit LLC", SeedDeveloperURL: developerURL})

	require.NoError(t, result.Err)
	require.Len(t, writer.records, 2)
	require.Equal(t, []string{"https://apps.apple.com/us/app/pocket-frogs/id2"}, result.Run.Failed)
	require.Equal(t, "https://apps.apple.com/us/app/tiny-tower/id1", writer.records[0].URL)
	require.Equal(t, "https://apps.apple.com/us/app/disco-zoo/id3", writer.records[1].URL)
}

func TestRunMaxGames(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGames = 2
	writer := &memoryWriter{}
	c, transport := newTestCatalog(t, cfg, WithWriterFactory(func(context.Context, string) (pipeline.OutputWriter, error) {
		return writer, nil
	}))
	registerDeveloperCatalog(transport)

	result := c.Run(context.Background(), Request{Developer: "NimbleBit LLC", SeedDeveloperURL: developerURL})

	require.NoError(t, result.Err)
	require.Equal(t, []string{
		"https://apps.apple.com/us/app/tiny-tower/id1",
		"https://apps.apple.com/us/app/pocket-frogs/id2",
	}, result.Run.URLs)
	require.Len(t, writer.records, 2)
	require.Zero(t, transport.GetCallCountInfo()["GET https://apps.apple.com/us/app/disco-zoo/id3"])
}

func TestRunResolvesDeveloperFromSeedApp(t *testing.T) {
	writer := &memoryWriter{}
	var gotDeveloper string
	c, transport := newTestCatalog(t, testConfig(), WithWriterFactory(func(_ context.Context, developer string) (pipeline.OutputWriter, error) {
		gotDeveloper = developer
		return writer, nil
	}))
	registerDeveloperCatalog(transport)

	result := c.Run(context.Background(), Request{SeedAppURL: "https://apps.apple.com/us/app/tiny-tower/id1"})

	require.NoError(t, result.Err)
	require.Equal(t, models.DeveloperScoped, result.Run.Strategy.Kind)
	require.Equal(t, developerURL, result.Run.Strategy.SeedURL)
	require.Equal(t, "NimbleBit LLC", gotDeveloper)
	require.Len(t, writer.records, 3)
}

func TestRunWriteFailure(t *testing.T) {
	c, transport := newTestCatalog(t, testConfig(), WithWriterFactory(func(context.Context, string) (pipeline.OutputWriter, error) {
		return &memoryWriter{err: errors.New("disk full")}, nil
	}))
	registerDeveloperCatalog(transport)

	result := c.Run(context.Background(), Request{Developer: "NimbleBit LLC", SeedDeveloperURL: developerURL})

	require.Error(t, result.Err)
	require.Contains(t, result.Message, "Scraping error. Failed to write output:")
	require.Contains(t, result.Message, "disk full")
}

func TestRunDefaultWriterCreatesNoFilesWithoutRecords(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.OutputFile = filepath.Join(dir, "games.csv")
	cfg.FreeOutputFile = filepath.Join(dir, "free.csv")
	cfg.PaidOutputFile = filepath.Join(dir, "paid.csv")

	c, transport := newTestCatalog(t, cfg)
	transport.RegisterResponder("GET", featuredURL, html(`<html><body></body></html>`))

	result := c.Run(context.Background(), Request{})
	require.NoError(t, result.Err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
