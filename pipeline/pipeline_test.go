package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-appstore/config"
	"github.com/aluiziolira/go-scrape-appstore/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.GameRecord
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(records []*models.GameRecord) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.GameRecord, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) all() []*models.GameRecord {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	var out []*models.GameRecord
	for _, batch := range mw.batches {
		out = append(out, batch...)
	}
	return out
}

func (mw *mockWriter) totalWritten() int {
	return len(mw.all())
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(records []*models.GameRecord) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

type failingWriter struct{}

func (failingWriter) Write([]*models.GameRecord) error { return errors.New("disk full") }
func (failingWriter) Close() error                     { return nil }
func (failingWriter) Validate() error                  { return nil }

func game(url, price string) *models.GameRecord {
	record := models.NewGameRecord(url)
	record.GameName = "Game " + url
	record.Price = price
	return &record
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	valid := game("https://apps.apple.com/us/app/a/id1", "Free")
	invalid := game("", "Free")
	duplicate := game("https://apps.apple.com/us/app/a/id1", "$1.99")

	if err := p.Process(valid, invalid, duplicate, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}
	if got := p.Processed(); got != 1 {
		t.Fatalf("processed = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] == 0 {
		t.Fatalf("expected invalid_record validation error")
	}
	if validation["duplicate_url"] == 0 {
		t.Fatalf("expected duplicate_url validation error")
	}
}

func TestPipelineNormalizesRecords(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	record := &models.GameRecord{
		GameName: "  Pocket   City ",
		URL:      "https://apps.apple.com/us/app/pocket-city/id1",
	}
	if err := p.Process(record); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	written := writer.all()
	if len(written) != 1 {
		t.Fatalf("written = %d, want 1", len(written))
	}
	got := written[0]
	if got.GameName != "Pocket City" {
		t.Fatalf("game name = %q", got.GameName)
	}
	if got.Size != models.DefaultSize || got.Price != models.DefaultPrice || got.Leaderboard != models.No {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.ScrapedAt.IsZero() {
		t.Fatalf("scraped at should be stamped")
	}
}

func TestPipelinePreservesOrderWithSingleWorker(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 3
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 10; i++ {
		if err := p.Process(game("https://apps.apple.com/us/app/g/id"+strconv.Itoa(i), "Free")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for i, record := range writer.all() {
		if want := "https://apps.apple.com/us/app/g/id" + strconv.Itoa(i); record.URL != want {
			t.Fatalf("record %d url = %s, want %s", i, record.URL, want)
		}
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 65; i++ {
		if err := p.Process(game("https://apps.apple.com/us/app/g/id"+strconv.Itoa(i), "Free")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(game("https://apps.apple.com/us/app/g/id"+strconv.Itoa(i+200), "$0.99")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written records = %d, want 100", got)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig())
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := p.Process(game("https://apps.apple.com/us/app/late/id1", "Free")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineWriteErrorSurfaces(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1
	p := NewPipeline(context.Background(), failingWriter{}, cfg)
	p.Start(1)

	_ = p.Process(game("https://apps.apple.com/us/app/a/id1", "Free"))

	err := p.Close()
	if err == nil {
		t.Fatalf("expected write error")
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Process(game("https://apps.apple.com/us/app/blocked/id1", "Free")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
