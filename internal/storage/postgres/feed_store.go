// Package postgres stores the monitor feed in Postgres and reads the native
// crawler tables that live in the same database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/content"
	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/feedsync"
	"github.com/JakeFAU/crawlctl/internal/storage"
	"github.com/JakeFAU/crawlctl/internal/storage/migrations"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate applies the embedded monitor_feed migrations on open.
	Migrate bool
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// FeedStore implements feedsync.Store and crawler.FeedReader on Postgres.
type FeedStore struct {
	pool   pool
	logger *zap.Logger
}

var (
	_ feedsync.Store     = (*FeedStore)(nil)
	_ crawler.FeedReader = (*FeedStore)(nil)
)

// Open connects to Postgres using cfg.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*FeedStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pgPool.Ping(ctx); err != nil {
		pgPool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewWithPool(pgPool, logger)
	if err != nil {
		pgPool.Close()
		return nil, err
	}
	if cfg.Migrate {
		if _, err := Migrate(pgPool, logger); err != nil {
			pgPool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, logger *zap.Logger) (*FeedStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedStore{pool: p, logger: logger}, nil
}

// Migrate applies pending monitor_feed migrations through a database/sql
// view of the pool.
func Migrate(pgPool *pgxpool.Pool, logger *zap.Logger) (uint, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := stdlib.OpenDBFromPool(pgPool)
	defer db.Close()

	version, dirty, err := migrations.Postgres(db)
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("postgres schema version %d is dirty", version)
	}
	logger.Info("postgres migrations applied", zap.Uint("version", version))
	return version, nil
}

// MigrateSchema runs Migrate on the pool opened by Open.
func (s *FeedStore) MigrateSchema(logger *zap.Logger) (uint, error) {
	pgPool, ok := s.pool.(*pgxpool.Pool)
	if !ok {
		return 0, errors.New("migrations require a pgxpool.Pool")
	}
	return Migrate(pgPool, logger)
}

// Ping checks connectivity.
func (s *FeedStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *FeedStore) Close() {
	s.pool.Close()
}

// BeginSync opens a transaction for one platform pass.
func (s *FeedStore) BeginSync(ctx context.Context, platform crawler.Platform) (feedsync.Session, error) {
	table, err := storage.NativeTableFor(platform)
	if err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin postgres tx: %w", err)
	}
	return &session{tx: tx, platform: platform, table: table}, nil
}

type session struct {
	tx       pgx.Tx
	platform crawler.Platform
	table    storage.NativeTable
}

func (ss *session) Cutoff(ctx context.Context) (int64, error) {
	var cutoff int64
	if err := ss.tx.QueryRow(ctx, storage.CutoffSQL(storage.Dollar), string(ss.platform)).Scan(&cutoff); err != nil {
		return 0, fmt.Errorf("query cutoff: %w", err)
	}
	return cutoff, nil
}

func (ss *session) NativeBatch(ctx context.Context, cutoff int64, limit, offset int) ([]content.Record, error) {
	rows, err := ss.tx.Query(ctx, ss.table.SelectSQL(storage.Dollar), cutoff, limit, offset)
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

// upsertFeed merges extra_data key-wise only when the stored value is a JSON
// object. xmax is zero on freshly inserted tuples.
const upsertFeed = `INSERT INTO monitor_feed (
	add_ts, last_modify_ts, platform, platform_name, content_id, content, author, url,
	created_at, source_keyword, extra_data, sentiment, sentiment_score, sentiment_labels, is_sensitive
) VALUES ($1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (platform, content_id) DO UPDATE SET
	last_modify_ts = EXCLUDED.last_modify_ts,
	content = EXCLUDED.content,
	author = EXCLUDED.author,
	url = EXCLUDED.url,
	created_at = EXCLUDED.created_at,
	source_keyword = EXCLUDED.source_keyword,
	extra_data = CASE
		WHEN EXCLUDED.extra_data IS NULL THEN monitor_feed.extra_data
		WHEN monitor_feed.extra_data IS NULL THEN EXCLUDED.extra_data
		WHEN jsonb_typeof(monitor_feed.extra_data) = 'object' THEN monitor_feed.extra_data || EXCLUDED.extra_data
		ELSE monitor_feed.extra_data
	END,
	sentiment = EXCLUDED.sentiment,
	sentiment_score = EXCLUDED.sentiment_score,
	sentiment_labels = EXCLUDED.sentiment_labels,
	is_sensitive = EXCLUDED.is_sensitive
RETURNING (xmax = 0)`

func (ss *session) Upsert(ctx context.Context, item crawler.FeedItem, now int64) (bool, error) {
	extra, err := storage.MarshalExtra(item.ExtraData)
	if err != nil {
		return false, err
	}
	labels, err := storage.MarshalLabels(item.Labels)
	if err != nil {
		return false, err
	}
	var inserted bool
	err = ss.tx.QueryRow(ctx, upsertFeed,
		now, string(item.Platform), item.PlatformName, item.ContentID, item.Content,
		item.Author, item.URL, item.CreatedAt, item.SourceKeyword, extra,
		string(item.Sentiment), item.SentimentScore, labels, item.IsSensitive,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert feed row: %w", err)
	}
	return inserted, nil
}

func (ss *session) Commit(ctx context.Context) error {
	if err := ss.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit postgres tx: %w", err)
	}
	return nil
}

func (ss *session) Rollback(ctx context.Context) error {
	if err := ss.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback postgres tx: %w", err)
	}
	return nil
}

// ListFeed returns filtered feed rows newest first.
func (s *FeedStore) ListFeed(ctx context.Context, f crawler.FeedFilter) ([]crawler.FeedItem, error) {
	query, args := storage.ListFeedSQL(f, storage.Dollar)
	rows, err := s.pool.Query(ctx, query, args...)
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
	rows, err := s.pool.Query(ctx, storage.SentimentStatsSQL)
	if err != nil {
		return nil, fmt.Errorf("sentiment stats: %w", err)
	}
	defer rows.Close()
	return storage.ScanSentimentCounts(rows)
}
