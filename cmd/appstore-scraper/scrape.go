package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-appstore/catalog"
	"github.com/aluiziolira/go-scrape-appstore/config"
	"github.com/aluiziolira/go-scrape-appstore/scraper"
)

type scrapeOptions struct {
	developer   string
	seedURL     string
	appURL      string
	featuredURL string
	workers     int
	parallelism int
	maxGames    int
	maxRetries  int
	rps         float64
	timeout     time.Duration
	fetcher     string
	cloudflare  bool
	output      string
	format      string
	partition   bool
	metricsAddr string
}

var scrapeOpts scrapeOptions

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--developer NAME --seed-url URL | --app-url URL]",
	Short: "Scrapes a developer catalog, or the featured games listing, and writes the game records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyScrapeFlags(cmd, cfg, scrapeOpts)
		if verbose {
			cfg.Verbose = true
		} else if cfg.Verbose && logLevel != nil {
			logLevel.Set(slog.LevelDebug)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runScrape(cmd.Context(), cmd.OutOrStdout(), cfg, catalog.Request{
			Developer:        scrapeOpts.developer,
			SeedDeveloperURL: scrapeOpts.seedURL,
			SeedAppURL:       scrapeOpts.appURL,
		})
	},
}

func init() {
	flags := scrapeCmd.Flags()
	defaults := config.DefaultConfig()
	flags.StringVar(&scrapeOpts.developer, "developer", "", "Developer name used to scope the crawl and suffix output files")
	flags.StringVar(&scrapeOpts.seedURL, "seed-url", "", "Developer catalog page URL")
	flags.StringVar(&scrapeOpts.appURL, "app-url", "", "Application page URL used to find the developer catalog")
	flags.StringVar(&scrapeOpts.featuredURL, "featured-url", defaults.FeaturedURL, "Listing used when no developer is given")
	flags.IntVar(&scrapeOpts.workers, "workers", defaults.Workers, "Number of game pages scraped concurrently")
	flags.IntVar(&scrapeOpts.parallelism, "parallel", defaults.Parallelism, "Number of concurrent requests per host")
	flags.IntVar(&scrapeOpts.maxGames, "max-games", defaults.MaxGames, "Maximum game pages to scrape (0 for all)")
	flags.IntVar(&scrapeOpts.maxRetries, "max-retries", defaults.MaxRetries, "Maximum retry attempts per URL")
	flags.Float64Var(&scrapeOpts.rps, "rps", defaults.RequestsPerSecond, "Requests per second across all workers (0 for unlimited)")
	flags.DurationVar(&scrapeOpts.timeout, "timeout", defaults.Timeout, "Per-request timeout")
	flags.StringVar(&scrapeOpts.fetcher, "fetcher", defaults.Fetcher, "HTTP fetcher: colly or resty")
	flags.BoolVar(&scrapeOpts.cloudflare, "cloudflare-bypass", defaults.CloudflareBypass, "Wrap the resty transport with the Cloudflare bypass")
	flags.StringVar(&scrapeOpts.output, "output", defaults.OutputFile, "Output file for all games")
	flags.StringVar(&scrapeOpts.format, "format", defaults.OutputFormat, "Output format: csv, json, dual, or sqlite")
	flags.BoolVar(&scrapeOpts.partition, "partition", defaults.Partition, "Also write free-to-play and paid files")
	flags.StringVar(&scrapeOpts.metricsAddr, "metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	rootCmd.AddCommand(scrapeCmd)
}

// applyScrapeFlags copies only the flags set on the command line, so config
// file and environment values survive unset flags.
func applyScrapeFlags(cmd *cobra.Command, cfg *config.Config, opts scrapeOptions) {
	changed := cmd.Flags().Changed
	if changed("featured-url") {
		cfg.FeaturedURL = opts.featuredURL
	}
	if changed("workers") {
		cfg.Workers = opts.workers
	}
	if changed("parallel") {
		cfg.Parallelism = opts.parallelism
	}
	if changed("max-games") {
		cfg.MaxGames = opts.maxGames
	}
	if changed("max-retries") {
		cfg.MaxRetries = opts.maxRetries
	}
	if changed("rps") {
		cfg.RequestsPerSecond = opts.rps
	}
	if changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if changed("fetcher") {
		cfg.Fetcher = strings.ToLower(opts.fetcher)
	}
	if changed("cloudflare-bypass") {
		cfg.CloudflareBypass = opts.cloudflare
	}
	if changed("output") {
		cfg.OutputFile = opts.output
	}
	if changed("format") {
		cfg.OutputFormat = strings.ToLower(opts.format)
	}
	if changed("partition") {
		cfg.Partition = opts.partition
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
}

func runScrape(ctx context.Context, out io.Writer, cfg *config.Config, req catalog.Request) error {
	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
			cancel()
		}()
	}

	slog.Info("starting scrape",
		slog.String("developer", req.Developer),
		slog.String("fetcher", cfg.Fetcher),
		slog.Int("workers", cfg.Workers),
	)

	result := catalog.New(cfg, fetcher, catalog.WithMetrics(metrics)).Run(ctx, req)
	fmt.Fprintln(out, result.Message)

	var stats *scraper.FetchStats
	if reporter, ok := fetcher.(scraper.StatsReporter); ok {
		s := reporter.Stats()
		stats = &s
	}
	printSummary(out, result, stats)

	if result.Err != nil {
		return result.Err
	}
	return nil
}

func printSummary(out io.Writer, result *catalog.RunResult, stats *scraper.FetchStats) {
	run := result.Run
	if run == nil {
		return
	}

	separator := "--------------------------------------------------"
	fmt.Fprintln(out, "\n"+separator)
	fmt.Fprintf(out, "  Strategy:      %s\n", run.Strategy.Kind)
	if run.Strategy.Developer != "" {
		fmt.Fprintf(out, "  Developer:     %s\n", run.Strategy.Developer)
	}
	fmt.Fprintf(out, "  Game URLs:     %d\n", len(run.URLs))
	fmt.Fprintf(out, "  Games:         %d (free %d, paid %d)\n", len(run.Records), len(run.Free), len(run.Paid))
	fmt.Fprintf(out, "  Failed pages:  %d\n", len(run.Failed))
	if stats != nil {
		successRate := 0.0
		if stats.Requests > 0 {
			successRate = float64(stats.Requests-stats.Errors) / float64(stats.Requests) * 100
		}
		fmt.Fprintf(out, "  Requests:      %d\n", stats.Requests)
		fmt.Fprintf(out, "  Success rate:  %.2f%%\n", successRate)
		fmt.Fprintf(out, "  Retries:       %d\n", stats.Retries)
		if len(stats.ErrorsByType) > 0 {
			fmt.Fprintf(out, "  Error types:   %v\n", stats.ErrorsByType)
		}
	}
	duration := run.Duration()
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(len(run.Records)) / duration.Seconds()
	}
	fmt.Fprintf(out, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Games/sec:     %.2f\n", itemsPerSec)
	for _, file := range result.Files {
		fmt.Fprintf(out, "  Output file:   %s\n", file)
	}
	fmt.Fprintln(out, separator)
}
