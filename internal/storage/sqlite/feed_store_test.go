package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/feedsync"
	"github.com/JakeFAU/crawlctl/internal/sentiment"
)

const xhsNoteDDL = `CREATE TABLE xhs_note (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	add_ts INTEGER,
	last_modify_ts INTEGER,
	note_id TEXT,
	title TEXT,
	"desc" TEXT,
	nickname TEXT,
	note_url TEXT,
	"time" INTEGER,
	ip_location TEXT,
	source_keyword TEXT
)`

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func openTestStore(t *testing.T) *FeedStore {
	t.Helper()
	store, err := Open(context.Background(), Config{
		Path:    filepath.Join(t.TempDir(), "feed.db"),
		Migrate: true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.DB().Exec(xhsNoteDDL)
	require.NoError(t, err)
	return store
}

func insertNote(t *testing.T, store *FeedStore, id, title string, addTS int64, ip string) {
	t.Helper()
	_, err := store.DB().Exec(
		`INSERT INTO xhs_note (add_ts, last_modify_ts, note_id, title, "desc", nickname, note_url, "time", ip_location, source_keyword)
		 VALUES (?, NULL, ?, ?, '', 'alice', 'https://xhs/'||?, 1700000000, ?, 'kw')`,
		addTS, id, title, id, ip,
	)
	require.NoError(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	version, err := store.Migrate()
	require.NoError(t, err)
	require.Equal(t, uint(2), version)
}

func TestSyncCopiesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	clock := &stepClock{now: time.UnixMilli(5_000)}
	engine := feedsync.New(store, nil, nil, nil, clock, feedsync.Config{BatchSize: 2}, zaptest.NewLogger(t))
	ctx := context.Background()

	insertNote(t, store, "n1", "今天很开心", 100, "上海")
	insertNote(t, store, "n2", "普通内容", 200, "")
	insertNote(t, store, "n3", "", 300, "")
	insertNote(t, store, "", "no id", 400, "")

	res, err := engine.SyncPlatform(ctx, crawler.PlatformXHS)
	require.NoError(t, err)
	require.Equal(t, 3, res.Inserted)
	require.Equal(t, 0, res.Updated)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, int64(0), res.Cutoff)

	items, err := store.ListFeed(ctx, crawler.FeedFilter{Platform: crawler.PlatformXHS})
	require.NoError(t, err)
	require.Len(t, items, 3)
	byID := map[string]crawler.FeedItem{}
	for _, it := range items {
		byID[it.ContentID] = it
	}
	require.Equal(t, "小红书", byID["n1"].PlatformName)
	require.Equal(t, int64(1_700_000_000_000), byID["n1"].CreatedAt)
	require.Equal(t, map[string]any{"ip_location": "上海"}, byID["n1"].ExtraData)
	require.Equal(t, int64(5_000), byID["n1"].AddTS)
	require.Nil(t, byID["n2"].ExtraData)
	require.Equal(t, "暂无内容", byID["n3"].Content)
	require.NotNil(t, byID["n2"].SentimentScore)

	// Feed watermark (5000) is now above every native row.
	clock.now = time.UnixMilli(6_000)
	res, err = engine.SyncPlatform(ctx, crawler.PlatformXHS)
	require.NoError(t, err)
	require.Equal(t, int64(5_000), res.Cutoff)
	require.Zero(t, res.Synced())
}

func TestSyncUpdatesAndMergesExtraData(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	clock := &stepClock{now: time.UnixMilli(1_000)}
	engine := feedsync.New(store, nil, nil, nil, clock, feedsync.Config{}, zaptest.NewLogger(t))
	ctx := context.Background()

	insertNote(t, store, "n1", "first", 100, "上海")
	_, err := engine.SyncPlatform(ctx, crawler.PlatformXHS)
	require.NoError(t, err)

	_, err = store.DB().Exec(`UPDATE monitor_feed SET extra_data = '{"ip_location":"上海","pinned":true}'`)
	require.NoError(t, err)
	_, err = store.DB().Exec(`UPDATE xhs_note SET title = 'edited', ip_location = '北京', last_modify_ts = 2000`)
	require.NoError(t, err)

	clock.now = time.UnixMilli(3_000)
	res, err := engine.SyncPlatform(ctx, crawler.PlatformXHS)
	require.NoError(t, err)
	require.Equal(t, 0, res.Inserted)
	require.Equal(t, 1, res.Updated)

	items, err := store.ListFeed(ctx, crawler.FeedFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	got := items[0]
	require.Equal(t, "edited", got.Content)
	require.Equal(t, int64(1_000), got.AddTS)
	require.Equal(t, int64(3_000), got.LastModifyTS)
	require.Equal(t, map[string]any{"ip_location": "北京", "pinned": true}, got.ExtraData)
}

func TestNonObjectExtraDataIsKept(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	sess, err := store.BeginSync(ctx, crawler.PlatformXHS)
	require.NoError(t, err)
	item := crawler.FeedItem{Platform: crawler.PlatformXHS, ContentID: "n1", Sentiment: sentiment.Neutral}
	inserted, err := sess.Upsert(ctx, item, 10)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, sess.Commit(ctx))

	_, err = store.DB().Exec(`UPDATE monitor_feed SET extra_data = '["legacy"]'`)
	require.NoError(t, err)

	sess, err = store.BeginSync(ctx, crawler.PlatformXHS)
	require.NoError(t, err)
	item.ExtraData = map[string]any{"ip_location": "北京"}
	inserted, err = sess.Upsert(ctx, item, 20)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, sess.Commit(ctx))

	var raw string
	require.NoError(t, store.DB().QueryRow(`SELECT extra_data FROM monitor_feed`).Scan(&raw))
	require.Equal(t, `["legacy"]`, raw)
}

func TestRollbackLeavesFeedUntouched(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	sess, err := store.BeginSync(ctx, crawler.PlatformXHS)
	require.NoError(t, err)
	_, err = sess.Upsert(ctx, crawler.FeedItem{Platform: crawler.PlatformXHS, ContentID: "n1"}, 10)
	require.NoError(t, err)
	require.NoError(t, sess.Rollback(ctx))
	require.NoError(t, sess.Rollback(ctx))

	items, err := store.ListFeed(ctx, crawler.FeedFilter{})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestMissingNativeTableFailsPass(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	engine := feedsync.New(store, nil, nil, nil, &stepClock{now: time.UnixMilli(1)}, feedsync.Config{}, zaptest.NewLogger(t))

	report := engine.SyncAll(context.Background(), crawler.PlatformXHS, crawler.PlatformWeibo)
	require.Equal(t, 1, report.Failed)
	require.Empty(t, report.Platforms[0].Error)
	require.NotEmpty(t, report.Platforms[1].Error)
	require.Error(t, report.Err())
}

func TestSentimentStats(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	sess, err := store.BeginSync(ctx, crawler.PlatformXHS)
	require.NoError(t, err)
	for _, it := range []crawler.FeedItem{
		{Platform: crawler.PlatformXHS, ContentID: "a", Sentiment: sentiment.Positive},
		{Platform: crawler.PlatformXHS, ContentID: "b", Sentiment: sentiment.Positive},
		{Platform: crawler.PlatformXHS, ContentID: "c", Sentiment: sentiment.Sensitive, IsSensitive: true},
	} {
		_, err := sess.Upsert(ctx, it, 1)
		require.NoError(t, err)
	}
	require.NoError(t, sess.Commit(ctx))

	stats, err := store.SentimentStats(ctx)
	require.NoError(t, err)
	require.Equal(t, []crawler.SentimentCount{
		{Platform: crawler.PlatformXHS, Sentiment: sentiment.Positive, Count: 2},
		{Platform: crawler.PlatformXHS, Sentiment: sentiment.Sensitive, Count: 1},
	}, stats)

	sensitive, err := store.ListFeed(ctx, crawler.FeedFilter{SensitiveOnly: true})
	require.NoError(t, err)
	require.Len(t, sensitive, 1)
	require.True(t, sensitive[0].IsSensitive)
}
