package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/crawlctl/internal/sentiment"
)

// LoginType selects how the external crawler authenticates.
type LoginType string

// Login types accepted by the crawler subprocess.
const (
	LoginQRCode LoginType = "qrcode"
	LoginPhone  LoginType = "phone"
	LoginCookie LoginType = "cookie"
)

// CrawlerType selects the crawl mode of the external crawler.
type CrawlerType string

// Crawl modes accepted by the crawler subprocess.
const (
	CrawlSearch  CrawlerType = "search"
	CrawlDetail  CrawlerType = "detail"
	CrawlCreator CrawlerType = "creator"
)

// Defaults applied to requests that leave fields empty.
const (
	DefaultPlatform    = PlatformXHS
	DefaultLoginType   = LoginQRCode
	DefaultCrawlerType = CrawlSearch
)

// CrawlRequest describes one crawl submission. It is immutable once a run
// starts; the orchestrator copies it before handing it to the batch loop.
type CrawlRequest struct {
	Platforms         []Platform  `json:"platforms"`
	LoginType         LoginType   `json:"login_type"`
	CrawlerType       CrawlerType `json:"crawler_type"`
	Keywords          string      `json:"keywords,omitempty"`
	SaveOption        string      `json:"save_option,omitempty"`
	StartPage         int         `json:"start_page,omitempty"`
	Cookies           string      `json:"-"`
	SpecifiedIDs      string      `json:"specified_ids,omitempty"`
	CreatorIDs        string      `json:"creator_ids,omitempty"`
	EnableComments    bool        `json:"enable_comments"`
	EnableSubComments bool        `json:"enable_sub_comments"`
	Headless          bool        `json:"headless"`
}

// Normalize fills defaults for empty login and crawler types.
func (r CrawlRequest) Normalize() CrawlRequest {
	if r.LoginType == "" {
		r.LoginType = DefaultLoginType
	}
	if r.CrawlerType == "" {
		r.CrawlerType = DefaultCrawlerType
	}
	r.LoginType = LoginType(strings.ToLower(string(r.LoginType)))
	r.CrawlerType = CrawlerType(strings.ToLower(string(r.CrawlerType)))
	r.Platforms = append([]Platform(nil), r.Platforms...)
	return r
}

// Validate rejects empty platform lists, unsupported platforms and unknown
// login or crawl modes.
func (r CrawlRequest) Validate() error {
	if len(r.Platforms) == 0 {
		return fmt.Errorf("%w: no platforms provided", ErrInvalidRequest)
	}
	var invalid []string
	for _, p := range r.Platforms {
		if !p.Valid() {
			invalid = append(invalid, string(p))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: invalid platform(s): %s", ErrInvalidRequest, strings.Join(invalid, ", "))
	}
	switch r.LoginType {
	case LoginQRCode, LoginPhone, LoginCookie:
	default:
		return fmt.Errorf("%w: unsupported login_type %q", ErrInvalidRequest, r.LoginType)
	}
	switch r.CrawlerType {
	case CrawlSearch, CrawlDetail, CrawlCreator:
	default:
		return fmt.Errorf("%w: unsupported crawler_type %q", ErrInvalidRequest, r.CrawlerType)
	}
	if r.StartPage < 0 {
		return fmt.Errorf("%w: start_page must be >= 0", ErrInvalidRequest)
	}
	return nil
}

// IsBatch reports whether the request spans more than one platform.
func (r CrawlRequest) IsBatch() bool {
	return len(r.Platforms) > 1
}

// RunState names the orchestrator's current lifecycle state.
type RunState string

// Run states. Exactly one is active per orchestrator.
const (
	StateIdle         RunState = "idle"
	StateRunning      RunState = "running"
	StateBatchRunning RunState = "batch_running"
)

// RunDescriptor is the "current run" snapshot exposed by status queries.
type RunDescriptor struct {
	Platform    Platform    `json:"platform"`
	LoginType   LoginType   `json:"login_type"`
	CrawlerType CrawlerType `json:"crawler_type"`
}

// Status is the answer to a status query.
type Status struct {
	Running     bool        `json:"running"`
	State       RunState    `json:"state"`
	RunID       string      `json:"run_id,omitempty"`
	Platform    Platform    `json:"platform"`
	LoginType   LoginType   `json:"login_type"`
	CrawlerType CrawlerType `json:"crawler_type"`
	Batch       []Platform  `json:"batch,omitempty"`
	BatchIndex  int         `json:"batch_index"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
}

// Command is a fully resolved external process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// FeedItem is one canonical feed row keyed by (Platform, ContentID).
type FeedItem struct {
	Platform       Platform         `json:"platform"`
	PlatformName   string           `json:"platform_name"`
	ContentID      string           `json:"content_id"`
	Content        string           `json:"content"`
	Author         string           `json:"author"`
	URL            string           `json:"url"`
	CreatedAt      int64            `json:"created_at"`
	SourceKeyword  string           `json:"source_keyword"`
	ExtraData      map[string]any   `json:"extra_data,omitempty"`
	Sentiment      sentiment.Label  `json:"sentiment"`
	SentimentScore *float64         `json:"sentiment_score"`
	Labels         sentiment.Labels `json:"sentiment_labels"`
	IsSensitive    bool             `json:"is_sensitive"`
	AddTS          int64            `json:"add_ts"`
	LastModifyTS   int64            `json:"last_modify_ts"`
}

// FeedFilter narrows feed listings.
type FeedFilter struct {
	Platform      Platform
	Sentiment     sentiment.Label
	SensitiveOnly bool
	Limit         int
	Offset        int
}

// SentimentCount is one cell of the platform x sentiment histogram.
type SentimentCount struct {
	Platform  Platform        `json:"platform"`
	Sentiment sentiment.Label `json:"sentiment"`
	Count     int64           `json:"count"`
}

// SyncResult summarises one incremental sync pass for a platform.
type SyncResult struct {
	Platform Platform `json:"platform"`
	Cutoff   int64    `json:"cutoff"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	// Skipped counts native rows without a content id.
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
}

// Synced is the number of feed rows touched by the pass.
func (r SyncResult) Synced() int {
	return r.Inserted + r.Updated
}
