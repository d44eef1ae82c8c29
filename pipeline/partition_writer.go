package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-appstore/config"
	"github.com/aluiziolira/go-scrape-appstore/models"
	"github.com/aluiziolira/go-scrape-appstore/parser"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// PartitionWriter sends every record to the full-set writer and, when
// partitioning is enabled, to the free-to-play or paid writer as well.
type PartitionWriter struct {
	all  OutputWriter
	free OutputWriter
	paid OutputWriter

	mu     sync.Mutex
	counts map[string]int
}

// NewPartitionWriter wires the three sinks. free and paid may be nil to
// write only the full set.
func NewPartitionWriter(all, free, paid OutputWriter) *PartitionWriter {
	return &PartitionWriter{
		all:    all,
		free:   free,
		paid:   paid,
		counts: make(map[string]int),
	}
}

// Write routes records to the sinks, keeping their relative order.
func (pw *PartitionWriter) Write(records []*models.GameRecord) error {
	if len(records) == 0 {
		return nil
	}

	pw.mu.Lock()
	defer pw.mu.Unlock()

	if err := pw.all.Write(records); err != nil {
		return fmt.Errorf("write full set: %w", err)
	}
	pw.counts["all"] += len(records)

	if pw.free == nil || pw.paid == nil {
		return nil
	}

	var free, paid []*models.GameRecord
	for _, record := range records {
		if parser.IsFreeToPlay(record) {
			free = append(free, record)
		} else {
			paid = append(paid, record)
		}
	}
	if len(free) > 0 {
		if err := pw.free.Write(free); err != nil {
			return fmt.Errorf("write free-to-play set: %w", err)
		}
		pw.counts["free"] += len(free)
	}
	if len(paid) > 0 {
		if err := pw.paid.Write(paid); err != nil {
			return fmt.Errorf("write paid set: %w", err)
		}
		pw.counts["paid"] += len(paid)
	}
	return nil
}

// Close closes every sink.
func (pw *PartitionWriter) Close() error {
	var errs []error
	for _, w := range pw.sinks() {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks the full set and every partition that received records.
func (pw *PartitionWriter) Validate() error {
	pw.mu.Lock()
	counts := map[string]int{"all": pw.counts["all"], "free": pw.counts["free"], "paid": pw.counts["paid"]}
	pw.mu.Unlock()

	if err := pw.all.Validate(); err != nil {
		return err
	}
	if counts["free"] > 0 {
		if err := pw.free.Validate(); err != nil {
			return err
		}
	}
	if counts["paid"] > 0 {
		if err := pw.paid.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Counts returns how many records went to the all, free and paid sinks.
func (pw *PartitionWriter) Counts() (all, free, paid int) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.counts["all"], pw.counts["free"], pw.counts["paid"]
}

// Files lists the files produced, full set first.
func (pw *PartitionWriter) Files() []string {
	var files []string
	for _, w := range pw.sinks() {
		if fr, ok := w.(FileReporter); ok {
			files = append(files, fr.Files()...)
		}
	}
	return files
}

func (pw *PartitionWriter) sinks() []OutputWriter {
	sinks := []OutputWriter{pw.all}
	if pw.free != nil {
		sinks = append(sinks, pw.free)
	}
	if pw.paid != nil {
		sinks = append(sinks, pw.paid)
	}
	return sinks
}

// NewWriter builds the sink for one file path in the given format. JSON and
// SQLite sinks swap the extension for .jsonl and .db.
func NewWriter(ctx context.Context, format, path string) (OutputWriter, error) {
	switch format {
	case config.FormatCSV, "":
		return NewCSVWriter(path)
	case config.FormatJSON:
		return NewJSONWriter(withExt(path, ".jsonl"))
	case config.FormatDual:
		return NewDualWriter(path, withExt(path, ".jsonl"))
	case config.FormatSQLite:
		return NewSQLiteWriter(ctx, withExt(path, ".db"))
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// NewRunWriter builds the writer for one scrape run. File names carry the
// developer suffix when a developer filter is present. SQLite output keeps
// every record in one database with a free_to_play column instead of
// separate partition files.
func NewRunWriter(ctx context.Context, cfg *config.Config, developer string) (OutputWriter, error) {
	all, err := NewWriter(ctx, cfg.OutputFormat, SuffixedPath(cfg.OutputFile, developer))
	if err != nil {
		return nil, err
	}
	if !cfg.Partition || cfg.OutputFormat == config.FormatSQLite {
		return NewPartitionWriter(all, nil, nil), nil
	}

	free, err := NewWriter(ctx, cfg.OutputFormat, SuffixedPath(cfg.FreeOutputFile, developer))
	if err != nil {
		return nil, err
	}
	paid, err := NewWriter(ctx, cfg.OutputFormat, SuffixedPath(cfg.PaidOutputFile, developer))
	if err != nil {
		return nil, err
	}
	return NewPartitionWriter(all, free, paid), nil
}

// SuffixedPath inserts "_<developer>" before the extension of path. The
// developer name is reduced to file-safe characters; a blank name leaves the
// path unchanged.
func SuffixedPath(path, developer string) string {
	suffix := strings.Trim(unsafeFileChars.ReplaceAllString(strings.TrimSpace(developer), "_"), "_")
	if suffix == "" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + suffix + ext
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
