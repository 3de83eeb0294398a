package crawler

import (
	"context"
	"time"
)

// Publisher pushes sync notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CookieSource resolves the stored login cookie for a platform. An empty
// string means no cookie is configured.
type CookieSource interface {
	Cookie(ctx context.Context, platform Platform) (string, error)
}

// FeedReader serves the read side of the canonical feed table.
type FeedReader interface {
	ListFeed(ctx context.Context, filter FeedFilter) ([]FeedItem, error)
	SentimentStats(ctx context.Context) ([]SentimentCount, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
