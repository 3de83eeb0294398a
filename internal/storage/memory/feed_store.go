package memory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"

	"github.com/JakeFAU/crawlctl/internal/content"
	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/feedsync"
	"github.com/JakeFAU/crawlctl/internal/storage"
)

type feedKey struct {
	platform  crawler.Platform
	contentID string
}

type feedRow struct {
	id   int64
	item crawler.FeedItem
}

// FeedStore keeps native records and feed rows in memory for development
// and tests. Sessions buffer their writes and apply them on Commit.
type FeedStore struct {
	mu     sync.RWMutex
	native map[crawler.Platform][]content.Record
	feed   map[feedKey]feedRow
	nextID int64
}

var (
	_ feedsync.Store     = (*FeedStore)(nil)
	_ crawler.FeedReader = (*FeedStore)(nil)
)

// NewFeedStore constructs an empty FeedStore.
func NewFeedStore() *FeedStore {
	return &FeedStore{
		native: make(map[crawler.Platform][]content.Record),
		feed:   make(map[feedKey]feedRow),
	}
}

// AddNative appends native crawler rows, as the external crawler would.
func (s *FeedStore) AddNative(records ...content.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.native[r.Platform()] = append(s.native[r.Platform()], r)
	}
}

// Get returns the feed row for (platform, contentID).
func (s *FeedStore) Get(platform crawler.Platform, contentID string) (crawler.FeedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.feed[feedKey{platform, contentID}]
	return cloneItem(row.item), ok
}

// Len returns the number of feed rows.
func (s *FeedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.feed)
}

// BeginSync opens a buffered session for platform.
func (s *FeedStore) BeginSync(_ context.Context, platform crawler.Platform) (feedsync.Session, error) {
	if !platform.Valid() {
		return nil, crawler.ErrUnsupportedPlatform
	}
	return &session{store: s, platform: platform, pending: make(map[feedKey]crawler.FeedItem)}, nil
}

type session struct {
	store    *FeedStore
	platform crawler.Platform
	pending  map[feedKey]crawler.FeedItem
	order    []feedKey
	closed   bool
}

var errSessionClosed = errors.New("sync session already closed")

func (ss *session) Cutoff(context.Context) (int64, error) {
	if ss.closed {
		return 0, errSessionClosed
	}
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()
	var cutoff int64
	for k, row := range ss.store.feed {
		if k.platform != ss.platform {
			continue
		}
		if wm := watermark(row.item); wm > cutoff {
			cutoff = wm
		}
	}
	return cutoff, nil
}

func (ss *session) NativeBatch(_ context.Context, cutoff int64, limit, offset int) ([]content.Record, error) {
	if ss.closed {
		return nil, errSessionClosed
	}
	ss.store.mu.RLock()
	var matched []content.Record
	for _, r := range ss.store.native[ss.platform] {
		if r.Watermark() > cutoff {
			matched = append(matched, r)
		}
	}
	ss.store.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Watermark() < matched[j].Watermark()
	})
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (ss *session) Upsert(_ context.Context, item crawler.FeedItem, now int64) (bool, error) {
	if ss.closed {
		return false, errSessionClosed
	}
	key := feedKey{item.Platform, item.ContentID}
	prev, seen := ss.pending[key]
	if !seen {
		ss.store.mu.RLock()
		row, ok := ss.store.feed[key]
		ss.store.mu.RUnlock()
		if ok {
			prev, seen = row.item, true
		}
	}

	next := cloneItem(item)
	next.LastModifyTS = now
	if !seen {
		next.AddTS = now
	} else {
		next.AddTS = prev.AddTS
		next.PlatformName = prev.PlatformName
		next.ExtraData = mergeExtra(prev.ExtraData, item.ExtraData)
	}
	if _, queued := ss.pending[key]; !queued {
		ss.order = append(ss.order, key)
	}
	ss.pending[key] = next
	return !seen, nil
}

func (ss *session) Commit(context.Context) error {
	if ss.closed {
		return errSessionClosed
	}
	ss.closed = true
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()
	for _, key := range ss.order {
		row, ok := ss.store.feed[key]
		if !ok {
			ss.store.nextID++
			row.id = ss.store.nextID
		}
		row.item = ss.pending[key]
		ss.store.feed[key] = row
	}
	return nil
}

func (ss *session) Rollback(context.Context) error {
	ss.closed = true
	ss.pending = nil
	return nil
}

// ListFeed returns feed rows newest first.
func (s *FeedStore) ListFeed(_ context.Context, f crawler.FeedFilter) ([]crawler.FeedItem, error) {
	s.mu.RLock()
	rows := make([]feedRow, 0, len(s.feed))
	for _, row := range s.feed {
		it := row.item
		if f.Platform != "" && it.Platform != f.Platform {
			continue
		}
		if f.Sentiment != "" && it.Sentiment != f.Sentiment {
			continue
		}
		if f.SensitiveOnly && !it.IsSensitive {
			continue
		}
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].item.CreatedAt != rows[j].item.CreatedAt {
			return rows[i].item.CreatedAt > rows[j].item.CreatedAt
		}
		return rows[i].id > rows[j].id
	})

	offset := max(f.Offset, 0)
	if offset >= len(rows) {
		return []crawler.FeedItem{}, nil
	}
	end := min(offset+storage.ClampLimit(f.Limit), len(rows))
	out := make([]crawler.FeedItem, 0, end-offset)
	for _, row := range rows[offset:end] {
		out = append(out, cloneItem(row.item))
	}
	return out, nil
}

// SentimentStats counts feed rows per platform and sentiment.
func (s *FeedStore) SentimentStats(context.Context) ([]crawler.SentimentCount, error) {
	s.mu.RLock()
	counts := make(map[crawler.SentimentCount]int64)
	for _, row := range s.feed {
		counts[crawler.SentimentCount{Platform: row.item.Platform, Sentiment: row.item.Sentiment}]++
	}
	s.mu.RUnlock()

	out := make([]crawler.SentimentCount, 0, len(counts))
	for k, n := range counts {
		k.Count = n
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Sentiment < out[j].Sentiment
	})
	return out, nil
}

func watermark(it crawler.FeedItem) int64 {
	if it.LastModifyTS != 0 {
		return it.LastModifyTS
	}
	return it.AddTS
}

func mergeExtra(prev, next map[string]any) map[string]any {
	if len(next) == 0 {
		return maps.Clone(prev)
	}
	out := maps.Clone(prev)
	if out == nil {
		out = make(map[string]any, len(next))
	}
	maps.Copy(out, next)
	return out
}

func cloneItem(it crawler.FeedItem) crawler.FeedItem {
	it.ExtraData = maps.Clone(it.ExtraData)
	if it.SentimentScore != nil {
		v := *it.SentimentScore
		it.SentimentScore = &v
	}
	return it
}
