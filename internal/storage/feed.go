package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/sentiment"
)

// FeedTable is the canonical feed table.
const FeedTable = "monitor_feed"

// Listing limits applied by ListFeed.
const (
	DefaultFeedLimit = 50
	MaxFeedLimit     = 500
)

// feedColumns is the select list consumed by ScanFeedItem.
var feedColumns = []string{
	"platform",
	"COALESCE(platform_name, '')",
	"content_id",
	"COALESCE(content, '')",
	"COALESCE(author, '')",
	"COALESCE(url, '')",
	"COALESCE(created_at, 0)",
	"COALESCE(source_keyword, '')",
	"extra_data",
	"COALESCE(sentiment, 'neutral')",
	"sentiment_score",
	"sentiment_labels",
	"COALESCE(is_sensitive, FALSE)",
	"COALESCE(add_ts, 0)",
	"COALESCE(last_modify_ts, 0)",
}

// ScanFeedItem reads one row selected with ListFeedSQL. JSON columns may be
// NULL, text or bytes.
func ScanFeedItem(s Scanner) (crawler.FeedItem, error) {
	var (
		item     crawler.FeedItem
		platform string
		label    string
		extra    []byte
		labels   []byte
	)
	err := s.Scan(
		&platform, &item.PlatformName, &item.ContentID, &item.Content, &item.Author, &item.URL,
		&item.CreatedAt, &item.SourceKeyword, &extra, &label, &item.SentimentScore, &labels,
		&item.IsSensitive, &item.AddTS, &item.LastModifyTS,
	)
	if err != nil {
		return crawler.FeedItem{}, fmt.Errorf("scan feed row: %w", err)
	}
	item.Platform = crawler.Platform(platform)
	item.Sentiment = sentiment.Label(label)
	if len(extra) > 0 && string(extra) != "null" {
		if err := json.Unmarshal(extra, &item.ExtraData); err != nil {
			return crawler.FeedItem{}, fmt.Errorf("decode extra_data of %s/%s: %w", platform, item.ContentID, err)
		}
	}
	if len(labels) > 0 && string(labels) != "null" {
		if err := json.Unmarshal(labels, &item.Labels); err != nil {
			return crawler.FeedItem{}, fmt.Errorf("decode sentiment_labels of %s/%s: %w", platform, item.ContentID, err)
		}
	}
	return item, nil
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultFeedLimit
	case limit > MaxFeedLimit:
		return MaxFeedLimit
	default:
		return limit
	}
}

// ListFeedSQL renders the filtered feed listing, newest first.
func ListFeedSQL(f crawler.FeedFilter, ph Placeholder) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Platform != "" {
		args = append(args, string(f.Platform))
		where = append(where, "platform = "+ph(len(args)))
	}
	if f.Sentiment != "" {
		args = append(args, string(f.Sentiment))
		where = append(where, "sentiment = "+ph(len(args)))
	}
	if f.SensitiveOnly {
		where = append(where, "is_sensitive = TRUE")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(feedColumns, ", "), FeedTable)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, ClampLimit(f.Limit))
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT %s", ph(len(args)))
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, offset)
	fmt.Fprintf(&b, " OFFSET %s", ph(len(args)))
	return b.String(), args
}

// SentimentStatsSQL counts feed rows per platform and sentiment.
const SentimentStatsSQL = `SELECT platform, COALESCE(sentiment, 'neutral'), COUNT(*) FROM monitor_feed ` +
	`GROUP BY platform, COALESCE(sentiment, 'neutral') ORDER BY platform, 2`

// CutoffSQL computes the feed watermark of one platform.
func CutoffSQL(ph Placeholder) string {
	return fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s WHERE platform = %s", WatermarkExpr, FeedTable, ph(1))
}

// MarshalLabels encodes the sentiment flag set for storage.
func MarshalLabels(l sentiment.Labels) ([]byte, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode sentiment labels: %w", err)
	}
	return b, nil
}

// MarshalExtra encodes the extra data bag; an empty bag is stored as NULL.
func MarshalExtra(extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encode extra data: %w", err)
	}
	return b, nil
}

// Rows is the iteration surface shared by pgx.Rows and *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// ScanSentimentCounts drains rows selected with SentimentStatsSQL.
func ScanSentimentCounts(rows Rows) ([]crawler.SentimentCount, error) {
	out := []crawler.SentimentCount{}
	for rows.Next() {
		var (
			platform string
			label    string
			count    int64
		)
		if err := rows.Scan(&platform, &label, &count); err != nil {
			return nil, fmt.Errorf("scan sentiment count: %w", err)
		}
		out = append(out, crawler.SentimentCount{
			Platform:  crawler.Platform(platform),
			Sentiment: sentiment.Label(label),
			Count:     count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sentiment counts: %w", err)
	}
	return out, nil
}
