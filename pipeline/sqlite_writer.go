package pipeline

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-appstore/models"
	"github.com/aluiziolira/go-scrape-appstore/parser"
)

//go:embed schema.sql
var schema string

var gameColumns = []string{
	"url",
	"developer_name",
	"game_name",
	"rating",
	"rating_count",
	"size",
	"age_limit",
	"price",
	"genre",
	"game_center_integration",
	"achievement",
	"leaderboard",
	"free_to_play",
	"developer_url",
	"scraped_at",
}

const upsertSuffix = `ON CONFLICT(url) DO UPDATE SET
	developer_name = excluded.developer_name,
	game_name = excluded.game_name,
	rating = excluded.rating,
	rating_count = excluded.rating_count,
	size = excluded.size,
	age_limit = excluded.age_limit,
	price = excluded.price,
	genre = excluded.genre,
	game_center_integration = excluded.game_center_integration,
	achievement = excluded.achievement,
	leaderboard = excluded.leaderboard,
	free_to_play = excluded.free_to_play,
	developer_url = excluded.developer_url,
	scraped_at = excluded.scraped_at`

// SQLiteWriter stores records in a games table keyed by page URL. Each Write
// is one transaction; rewriting a URL updates the existing row.
type SQLiteWriter struct {
	ctx  context.Context
	path string
	db   *sql.DB
	rows int
	mu   sync.Mutex
}

// NewSQLiteWriter prepares a writer for the database at path.
func NewSQLiteWriter(ctx context.Context, path string) (*SQLiteWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &SQLiteWriter{ctx: ctx, path: path}, nil
}

func (sw *SQLiteWriter) open() error {
	if sw.db != nil {
		return nil
	}
	if err := ensureDir(sw.path); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", sw.path)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", sw.path, err)
	}
	if _, err := db.ExecContext(sw.ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	sw.db = db
	return nil
}

// Write upserts records in a single transaction.
func (sw *SQLiteWriter) Write(records []*models.GameRecord) error {
	if len(records) == 0 {
		return nil
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.open(); err != nil {
		return err
	}

	tx, err := sw.db.BeginTx(sw.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		query, args, err := upsertGame(record).ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(sw.ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", record.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite transaction: %w", err)
	}
	sw.rows += len(records)
	return nil
}

func upsertGame(record *models.GameRecord) sq.InsertBuilder {
	free := 0
	if parser.IsFreeToPlay(record) {
		free = 1
	}
	scrapedAt := record.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	return sq.Insert("games").
		Columns(gameColumns...).
		Values(
			record.URL,
			record.DeveloperName,
			record.GameName,
			record.Rating,
			record.RatingCount,
			record.Size,
			record.AgeLimit,
			record.Price,
			record.Genre,
			record.GameCenterIntegration,
			record.Achievement,
			record.Leaderboard,
			free,
			record.DeveloperURL,
			scrapedAt.Format(time.RFC3339),
		).
		Suffix(upsertSuffix).
		PlaceholderFormat(sq.Question)
}

// Count returns the number of stored games, optionally only free-to-play ones.
func (sw *SQLiteWriter) Count(freeOnly bool) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.db == nil {
		return 0, nil
	}
	builder := sq.Select("COUNT(*)").From("games")
	if freeOnly {
		builder = builder.Where(sq.Eq{"free_to_play": 1})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int
	if err := sw.db.QueryRowContext(sw.ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.db == nil {
		return nil
	}
	err := sw.db.Close()
	sw.db = nil
	return err
}

// Validate ensures at least one row was stored.
func (sw *SQLiteWriter) Validate() error {
	sw.mu.Lock()
	written := sw.rows
	sw.mu.Unlock()

	if written == 0 {
		return fmt.Errorf("sqlite %s: %w", sw.path, errNothingWritten)
	}
	return nil
}

// Files returns the database path once it has been created.
func (sw *SQLiteWriter) Files() []string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.rows == 0 {
		return nil
	}
	return []string{sw.path}
}
