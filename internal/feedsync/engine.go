// Package feedsync folds freshly crawled native records into the canonical
// monitor feed, one platform at a time.
package feedsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/content"
	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/metrics"
	"github.com/JakeFAU/crawlctl/internal/sentiment"
)

// DefaultBatchSize is the native page size used when none is configured.
const DefaultBatchSize = 500

// Store opens one transactional sync session per platform pass.
type Store interface {
	BeginSync(ctx context.Context, platform crawler.Platform) (Session, error)
}

// Session is a single transaction over a platform's native table and the
// feed table. Exactly one of Commit or Rollback ends it.
type Session interface {
	// Cutoff is max(coalesce(last_modify_ts, add_ts, 0)) over the feed rows
	// of the session's platform, or 0 when there are none.
	Cutoff(ctx context.Context) (int64, error)
	// NativeBatch returns native rows whose watermark is above cutoff, in
	// ascending watermark order.
	NativeBatch(ctx context.Context, cutoff int64, limit, offset int) ([]content.Record, error)
	// Upsert writes item keyed by (platform, content_id) and reports whether
	// a new row was inserted. now becomes last_modify_ts, and add_ts too on
	// insert.
	Upsert(ctx context.Context, item crawler.FeedItem, now int64) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Classifier maps text to a sentiment verdict.
type Classifier interface {
	Classify(text string) sentiment.Verdict
}

// Config controls Engine behavior.
type Config struct {
	BatchSize int
	// Topic receives a notification after every pass that wrote rows. Empty
	// disables publishing.
	Topic string
}

// Notification is published after a pass that touched at least one row.
type Notification struct {
	Platform   crawler.Platform `json:"platform"`
	Synced     int              `json:"synced"`
	Cutoff     int64            `json:"cutoff"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Attributes tags published messages with the platform code.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"platform": string(n.Platform)}
}

// Engine runs incremental sync passes.
type Engine struct {
	store      Store
	normalizer *content.Normalizer
	classifier Classifier
	publisher  crawler.Publisher
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger

	locksMu sync.Mutex
	locks   map[crawler.Platform]*sync.Mutex
}

// New constructs an Engine. publisher may be nil.
func New(
	store Store,
	normalizer *content.Normalizer,
	classifier Classifier,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = content.NewNormalizer(nil)
	}
	if classifier == nil {
		classifier = sentiment.NewAnalyzer()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Engine{
		store:      store,
		normalizer: normalizer,
		classifier: classifier,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		locks:      make(map[crawler.Platform]*sync.Mutex),
	}
}

func (e *Engine) lockFor(p crawler.Platform) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[p]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[p] = mu
	}
	return mu
}

// SyncPlatform runs one pass with the configured batch size.
func (e *Engine) SyncPlatform(ctx context.Context, platform crawler.Platform) (crawler.SyncResult, error) {
	return e.SyncPlatformIncremental(ctx, platform, e.cfg.BatchSize)
}

// SyncPlatformIncremental copies every native row of platform newer than the
// feed's watermark into the feed. The pass runs in one session: any error
// rolls back the whole pass, leaving the watermark where it was.
func (e *Engine) SyncPlatformIncremental(
	ctx context.Context,
	platform crawler.Platform,
	batchSize int,
) (res crawler.SyncResult, err error) {
	if !platform.Valid() {
		return crawler.SyncResult{}, fmt.Errorf("%w: %q", crawler.ErrUnsupportedPlatform, platform)
	}
	if batchSize <= 0 {
		batchSize = e.cfg.BatchSize
	}

	mu := e.lockFor(platform)
	mu.Lock()
	defer mu.Unlock()

	start := e.clock.Now()
	res.Platform = platform
	defer func() {
		if err != nil {
			// Rolled back: nothing was written.
			res.Inserted, res.Updated, res.Skipped = 0, 0, 0
		}
		res.Duration = e.clock.Now().Sub(start)
		metrics.ObserveSync(string(platform), res.Inserted, res.Updated, err, res.Duration)
	}()

	sess, err := e.store.BeginSync(ctx, platform)
	if err != nil {
		return res, fmt.Errorf("begin sync %s: %w", platform, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := sess.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			e.logger.Warn("rollback sync session", zap.String("platform", string(platform)), zap.Error(rbErr))
		}
	}()

	cutoff, err := sess.Cutoff(ctx)
	if err != nil {
		return res, fmt.Errorf("compute cutoff for %s: %w", platform, err)
	}
	res.Cutoff = cutoff

	now := start.UnixMilli()
	for offset := 0; ; offset += batchSize {
		records, err := sess.NativeBatch(ctx, cutoff, batchSize, offset)
		if err != nil {
			return res, fmt.Errorf("read %s native rows at offset %d: %w", platform, offset, err)
		}
		for _, rec := range records {
			item, err := e.project(rec)
			if errors.Is(err, content.ErrMissingContentID) {
				res.Skipped++
				continue
			}
			if err != nil {
				return res, fmt.Errorf("normalize %s record: %w", platform, err)
			}
			inserted, err := sess.Upsert(ctx, item, now)
			if err != nil {
				return res, fmt.Errorf("upsert %s/%s: %w", platform, item.ContentID, err)
			}
			if inserted {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		if len(records) < batchSize {
			break
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit sync %s: %w", platform, err)
	}
	committed = true

	e.logger.Info("feed sync finished",
		zap.String("platform", string(platform)),
		zap.Int64("cutoff", cutoff),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	e.notify(ctx, res)
	return res, nil
}

// project normalizes and classifies one native record.
func (e *Engine) project(rec content.Record) (crawler.FeedItem, error) {
	it, err := e.normalizer.Normalize(rec)
	if err != nil {
		return crawler.FeedItem{}, err
	}
	verdict := e.classifier.Classify(it.Text)
	item := crawler.FeedItem{
		Platform:       it.Platform,
		PlatformName:   it.Platform.DisplayName(),
		ContentID:      it.ContentID,
		Content:        it.Text,
		Author:         it.Author,
		URL:            it.URL,
		CreatedAt:      it.CreatedAt,
		SourceKeyword:  it.SourceKeyword,
		Sentiment:      verdict.Label,
		SentimentScore: verdict.Score,
		Labels:         verdict.Labels,
		IsSensitive:    verdict.Labels.Sensitive,
	}
	if it.IPLocation != "" {
		item.ExtraData = map[string]any{"ip_location": it.IPLocation}
	}
	return item, nil
}

func (e *Engine) notify(ctx context.Context, res crawler.SyncResult) {
	if e.publisher == nil || e.cfg.Topic == "" || res.Synced() == 0 {
		return
	}
	msg := Notification{
		Platform:   res.Platform,
		Synced:     res.Synced(),
		Cutoff:     res.Cutoff,
		FinishedAt: e.clock.Now(),
	}
	id, err := e.publisher.Publish(ctx, e.cfg.Topic, msg)
	if err != nil {
		e.logger.Warn("publish sync notification", zap.String("platform", string(res.Platform)), zap.Error(err))
		return
	}
	e.logger.Debug("sync notification published", zap.String("platform", string(res.Platform)), zap.String("message_id", id))
}

// PlatformReport is one platform's outcome within a Report.
type PlatformReport struct {
	crawler.SyncResult
	Error string `json:"error,omitempty"`
}

// Report collects the outcome of SyncAll.
type Report struct {
	Platforms []PlatformReport `json:"platforms"`
	Synced    int              `json:"synced"`
	Failed    int              `json:"failed"`
}

// Err joins the per-platform failures, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, p := range r.Platforms {
		if p.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", p.Platform, p.Error))
		}
	}
	return errors.Join(errs...)
}

// SyncAll syncs each platform in order. A failing platform is recorded and
// the remaining platforms still run. With no platforms given, every supported
// platform is synced.
func (e *Engine) SyncAll(ctx context.Context, platforms ...crawler.Platform) Report {
	if len(platforms) == 0 {
		platforms = crawler.Platforms()
	}
	var report Report
	for _, p := range platforms {
		if ctx.Err() != nil {
			report.Platforms = append(report.Platforms, PlatformReport{
				SyncResult: crawler.SyncResult{Platform: p},
				Error:      ctx.Err().Error(),
			})
			report.Failed++
			continue
		}
		res, err := e.SyncPlatform(ctx, p)
		pr := PlatformReport{SyncResult: res}
		if err != nil {
			pr.Error = err.Error()
			report.Failed++
			e.logger.Error("feed sync failed", zap.String("platform", string(p)), zap.Error(err))
		}
		report.Synced += res.Synced()
		report.Platforms = append(report.Platforms, pr)
	}
	return report
}
