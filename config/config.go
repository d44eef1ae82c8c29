// Package config holds the scraper configuration and its loading rules.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aluiziolira/go-scrape-appstore/parser"
)

// Supported fetcher backends.
const (
	FetcherColly = "colly"
	FetcherResty = "resty"
)

// Supported output formats.
const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatDual   = "dual"
	FormatSQLite = "sqlite"
)

// DefaultFeaturedURL is the storefront story that lists featured games.
const DefaultFeaturedURL = "https://apps.apple.com/us/story/id1302444839"

// Config holds scraper configuration.
type Config struct {
	FeaturedURL string `yaml:"featured_url"`

	Workers           int           `yaml:"workers"`
	Parallelism       int           `yaml:"parallelism"`
	Delay             time.Duration `yaml:"delay"`
	RandomDelay       time.Duration `yaml:"random_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max"`
	MaxGames          int           `yaml:"max_games"`

	Fetcher          string `yaml:"fetcher"` // colly or resty
	CloudflareBypass bool   `yaml:"cloudflare_bypass"`
	UserAgent        string `yaml:"user_agent"`
	AcceptLanguage   string `yaml:"accept_language"`

	OutputFile     string `yaml:"output_file"`
	FreeOutputFile string `yaml:"free_output_file"`
	PaidOutputFile string `yaml:"paid_output_file"`
	OutputFormat   string `yaml:"output_format"` // csv, json, dual, or sqlite
	Partition      bool   `yaml:"partition"`

	PipelineBufferSize int `yaml:"pipeline_buffer_size"`
	BatchSize          int `yaml:"batch_size"`
	DedupeMaxSize      int `yaml:"dedupe_max_size"`

	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`

	Selectors parser.SelectorSchema `yaml:"selectors"`
}

// DefaultConfig returns conservative defaults for the public storefront.
func DefaultConfig() *Config {
	return &Config{
		FeaturedURL:        DefaultFeaturedURL,
		Workers:            6,
		Parallelism:        6,
		Delay:              0,
		RandomDelay:        250 * time.Millisecond,
		RequestsPerSecond:  0,
		Timeout:            15 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		MaxGames:           0,
		Fetcher:            FetcherColly,
		CloudflareBypass:   false,
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3",
		AcceptLanguage:     "en-US,en;q=0.9",
		OutputFile:         "output/game_center_games.csv",
		FreeOutputFile:     "output/game_center_f2p_games.csv",
		PaidOutputFile:     "output/game_center_paid_games.csv",
		OutputFormat:       FormatCSV,
		Partition:          true,
		PipelineBufferSize: 256,
		BatchSize:          32,
		DedupeMaxSize:      10000,
		MetricsAddr:        "",
		Verbose:            false,
		Selectors:          parser.DefaultSchema(),
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.FeaturedURL == "" {
		return fmt.Errorf("featured URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.FeaturedURL)
	if err != nil {
		return fmt.Errorf("invalid featured URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("featured URL must include a host")
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.MaxGames < 0 {
		return fmt.Errorf("max games cannot be negative")
	}
	if c.Fetcher != FetcherColly && c.Fetcher != FetcherResty {
		return fmt.Errorf("fetcher must be colly or resty")
	}
	if c.CloudflareBypass && c.Fetcher != FetcherResty {
		return fmt.Errorf("cloudflare bypass requires the resty fetcher")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.Partition && (c.FreeOutputFile == "" || c.PaidOutputFile == "") {
		return fmt.Errorf("free and paid output files are required when partitioning")
	}
	switch c.OutputFormat {
	case FormatCSV, FormatJSON, FormatDual, FormatSQLite:
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}
