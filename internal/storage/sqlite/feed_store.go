// Package sqlite stores the monitor feed in a local SQLite file, reading the
// native crawler tables from the same database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/crawlctl/internal/content"
	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/feedsync"
	"github.com/JakeFAU/crawlctl/internal/storage"
	"github.com/JakeFAU/crawlctl/internal/storage/migrations"
)

const defaultMaxConns = 4

// Config controls how the database file is opened.
type Config struct {
	Path     string
	MaxConns int
	// Migrate applies the embedded monitor_feed migrations on open.
	Migrate bool
}

// DSN renders the modernc connection string for path. Write transactions
// start with BEGIN IMMEDIATE so concurrent sync passes queue on the busy
// timeout instead of failing on lock upgrade.
func DSN(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
}

// FeedStore implements feedsync.Store and crawler.FeedReader on SQLite.
type FeedStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ feedsync.Store     = (*FeedStore)(nil)
	_ crawler.FeedReader = (*FeedStore)(nil)
)

// Open opens (and optionally migrates) the database at cfg.Path.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*FeedStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", DSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	db.SetMaxOpenConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.Path, err)
	}
	store := NewWithDB(db, logger)
	if cfg.Migrate {
		if _, err := store.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB, logger *zap.Logger) *FeedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedStore{db: db, logger: logger}
}

// Migrate applies pending monitor_feed migrations and returns the version.
func (s *FeedStore) Migrate() (uint, error) {
	version, dirty, err := migrations.SQLite(s.db)
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("sqlite schema version %d is dirty", version)
	}
	s.logger.Info("sqlite migrations applied", zap.Uint("version", version))
	return version, nil
}

// DB exposes the underlying handle.
func (s *FeedStore) DB() *sql.DB {
	return s.db
}

// Close releases the database.
func (s *FeedStore) Close() error {
	return s.db.Close()
}

// BeginSync starts an immediate transaction for one platform pass.
func (s *FeedStore) BeginSync(ctx context.Context, platform crawler.Platform) (feedsync.Session, error) {
	table, err := storage.NativeTableFor(platform)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sqlite tx: %w", err)
	}
	return &session{tx: tx, platform: platform, table: table}, nil
}

type session struct {
	tx       *sql.Tx
	platform crawler.Platform
	table    storage.NativeTable
}

func (ss *session) Cutoff(ctx context.Context) (int64, error) {
	var cutoff int64
	err := ss.tx.QueryRowContext(ctx, storage.CutoffSQL(storage.Question), string(ss.platform)).Scan(&cutoff)
	if err != nil {
		return 0, fmt.Errorf("query cutoff: %w", err)
	}
	return cutoff, nil
}

func (ss *session) NativeBatch(ctx context.Context, cutoff int64, limit, offset int) ([]content.Record, error) {
	rows, err := ss.tx.QueryContext(ctx, ss.table.SelectSQL(storage.Question), cutoff, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", ss.table.Name, err)
	}
	defer rows.Close()

	var out []content.Record
	for rows.Next() {
		rec, err := ss.table.Scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", ss.table.Name, err)
	}
	return out, nil
}

const selectExisting = `SELECT id, extra_data FROM monitor_feed WHERE platform = ? AND content_id = ?`

const insertFeed = `INSERT INTO monitor_feed (
	add_ts, last_modify_ts, platform, platform_name, content_id, content, author, url,
	created_at, source_keyword, extra_data, sentiment, sentiment_score, sentiment_labels, is_sensitive
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateFeed = `UPDATE monitor_feed SET
	last_modify_ts = ?, content = ?, author = ?, url = ?, created_at = ?, source_keyword = ?,
	extra_data = ?, sentiment = ?, sentiment_score = ?, sentiment_labels = ?, is_sensitive = ?
WHERE id = ?`

func (ss *session) Upsert(ctx context.Context, item crawler.FeedItem, now int64) (bool, error) {
	labels, err := storage.MarshalLabels(item.Labels)
	if err != nil {
		return false, err
	}

	var (
		id       int64
		rawExtra sql.NullString
	)
	err = ss.tx.QueryRowContext(ctx, selectExisting, string(item.Platform), item.ContentID).Scan(&id, &rawExtra)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		extra, err := storage.MarshalExtra(item.ExtraData)
		if err != nil {
			return false, err
		}
		_, err = ss.tx.ExecContext(ctx, insertFeed,
			now, now, string(item.Platform), item.PlatformName, item.ContentID, item.Content,
			item.Author, item.URL, item.CreatedAt, item.SourceKeyword, nullableText(extra),
			string(item.Sentiment), item.SentimentScore, string(labels), item.IsSensitive,
		)
		if err != nil {
			return false, fmt.Errorf("insert feed row: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("lookup feed row: %w", err)
	}

	extra, err := mergeExtra(rawExtra, item.ExtraData)
	if err != nil {
		return false, err
	}
	_, err = ss.tx.ExecContext(ctx, updateFeed,
		now, item.Content, item.Author, item.URL, item.CreatedAt, item.SourceKeyword,
		extra, string(item.Sentiment), item.SentimentScore, string(labels), item.IsSensitive, id,
	)
	if err != nil {
		return false, fmt.Errorf("update feed row %d: %w", id, err)
	}
	return false, nil
}

// mergeExtra folds incoming keys into the stored object. A stored value that
// is not a JSON object is left untouched.
func mergeExtra(stored sql.NullString, incoming map[string]any) (any, error) {
	if len(incoming) == 0 {
		return nullString(stored), nil
	}
	if !stored.Valid || stored.String == "" {
		b, err := storage.MarshalExtra(incoming)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	var current map[string]any
	if err := json.Unmarshal([]byte(stored.String), &current); err != nil || current == nil {
		return stored.String, nil
	}
	maps.Copy(current, incoming)
	b, err := storage.MarshalExtra(current)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func (ss *session) Commit(context.Context) error {
	if err := ss.tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

func (ss *session) Rollback(context.Context) error {
	if err := ss.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback sqlite tx: %w", err)
	}
	return nil
}

// ListFeed returns filtered feed rows newest first.
func (s *FeedStore) ListFeed(ctx context.Context, f crawler.FeedFilter) ([]crawler.FeedItem, error) {
	query, args := storage.ListFeedSQL(f, storage.Question)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	defer rows.Close()

	items := []crawler.FeedItem{}
	for rows.Next() {
		item, err := storage.ScanFeedItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed: %w", err)
	}
	return items, nil
}

// SentimentStats counts feed rows per platform and sentiment.
func (s *FeedStore) SentimentStats(ctx context.Context) ([]crawler.SentimentCount, error) {
	rows, err := s.db.QueryContext(ctx, storage.SentimentStatsSQL)
	if err != nil {
		return nil, fmt.Errorf("sentiment stats: %w", err)
	}
	defer rows.Close()
	return storage.ScanSentimentCounts(rows)
}
