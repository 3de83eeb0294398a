package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/config"
	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/feedsync"
	"github.com/JakeFAU/crawlctl/internal/logbuffer"
	"github.com/JakeFAU/crawlctl/internal/sentiment"
	"github.com/JakeFAU/crawlctl/internal/storage/memory"
)

type fakeController struct {
	mu       sync.Mutex
	started  []crawler.CrawlRequest
	startErr error
	stopMsg  string
	stopErr  error
	status   crawler.Status
	logs     []logbuffer.Entry
	limits   []int
}

func (f *fakeController) Start(_ context.Context, req crawler.CrawlRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	return fmt.Sprintf("run-%d", len(f.started)), nil
}

func (f *fakeController) Stop(context.Context) (string, error) {
	return f.stopMsg, f.stopErr
}

func (f *fakeController) Status() crawler.Status {
	return f.status
}

func (f *fakeController) Logs(limit int) []logbuffer.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	return f.logs
}

type fakeSyncer struct {
	got    []crawler.Platform
	report feedsync.Report
}

func (f *fakeSyncer) SyncAll(_ context.Context, platforms ...crawler.Platform) feedsync.Report {
	f.got = platforms
	return f.report
}

func newTestServer(ctrl Controller, syncer FeedSyncer, feed crawler.FeedReader, cfg config.Config) *Server {
	return NewServer(ctrl, syncer, feed, nil, cfg, zap.NewNop())
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_StartCrawler_Single(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	s := newTestServer(ctrl, nil, nil, config.Config{})

	rec := do(t, s, http.MethodPost, "/api/crawler/start",
		`{"platform":"XHS","login_type":"cookie","keywords":"咖啡","start_page":2,"enable_comments":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "Crawler started successfully", body["message"])
	require.Equal(t, "run-1", body["run_id"])

	require.Len(t, ctrl.started, 1)
	got := ctrl.started[0]
	require.Equal(t, []crawler.Platform{crawler.PlatformXHS}, got.Platforms)
	require.Equal(t, crawler.LoginCookie, got.LoginType)
	require.Equal(t, "咖啡", got.Keywords)
	require.Equal(t, 2, got.StartPage)
	require.True(t, got.EnableComments)
}

func TestServer_StartCrawler_PlatformForms(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
		want []crawler.Platform
	}{
		{"default", `{}`, []crawler.Platform{crawler.PlatformXHS}},
		{"list", `{"platforms":["dy"," WB "]}`, []crawler.Platform{crawler.PlatformDouyin, crawler.PlatformWeibo}},
		{"comma string", `{"platforms":"bili, zhihu,"}`, []crawler.Platform{crawler.PlatformBilibili, crawler.PlatformZhihu}},
		{"platforms wins", `{"platform":"xhs","platforms":["ks"]}`, []crawler.Platform{crawler.PlatformKuaishou}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeController{}
			rec := do(t, newTestServer(ctrl, nil, nil, config.Config{}), http.MethodPost, "/api/crawler/start", tc.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Equal(t, tc.want, ctrl.started[0].Platforms)
		})
	}
}

func TestServer_StartCrawler_BatchMessage(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(&fakeController{}, nil, nil, config.Config{}),
		http.MethodPost, "/api/crawler/start", `{"platforms":"xhs,dy"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Batch crawler started successfully", decode(t, rec)["message"])
}

func TestServer_StartCrawler_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		body     string
		startErr error
		code     int
		contains string
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest, "invalid JSON"},
		{"invalid platforms", `{"platforms":"xhs,twitter,foo"}`, nil, http.StatusBadRequest, "invalid platform(s): twitter, foo"},
		{"empty platforms", `{"platforms":" , "}`, crawler.ErrInvalidRequest, http.StatusBadRequest, "invalid crawl request"},
		{"wrong platforms type", `{"platforms":7}`, nil, http.StatusBadRequest, "platforms must be"},
		{"busy", `{}`, fmt.Errorf("start: %w", crawler.ErrBusy), http.StatusConflict, "Crawler is already running"},
		{"spawn failure", `{}`, errors.New("exec: not found"), http.StatusInternalServerError, "Failed to start crawler"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeController{startErr: tc.startErr}
			rec := do(t, newTestServer(ctrl, nil, nil, config.Config{}), http.MethodPost, "/api/crawler/start", tc.body)
			require.Equal(t, tc.code, rec.Code)
			require.Contains(t, decode(t, rec)["error"], tc.contains)
		})
	}
}

func TestServer_StopCrawler(t *testing.T) {
	t.Parallel()

	ok := &fakeController{stopMsg: "Crawler stopped successfully"}
	rec := do(t, newTestServer(ok, nil, nil, config.Config{}), http.MethodPost, "/api/crawler/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Crawler stopped successfully", decode(t, rec)["message"])

	idle := &fakeController{stopErr: crawler.ErrNotRunning}
	rec = do(t, newTestServer(idle, nil, nil, config.Config{}), http.MethodPost, "/api/crawler/stop", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "No crawler is running", decode(t, rec)["error"])

	stuck := &fakeController{stopErr: crawler.ErrStopTimeout}
	rec = do(t, newTestServer(stuck, nil, nil, config.Config{}), http.MethodPost, "/api/crawler/stop", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "Failed to stop crawler")
}

func TestServer_StatusAndLogs(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{
		status: crawler.Status{Running: true, State: crawler.StateRunning, Platform: crawler.PlatformDouyin, RunID: "run-9"},
		logs:   []logbuffer.Entry{{Timestamp: time.Unix(1, 0), Level: logbuffer.LevelInfo, Message: "hello"}},
	}
	s := newTestServer(ctrl, nil, nil, config.Config{})

	rec := do(t, s, http.MethodGet, "/api/crawler/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["running"])
	require.Equal(t, "running", body["state"])
	require.Equal(t, "dy", body["platform"])

	rec = do(t, s, http.MethodGet, "/api/crawler/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["logs"], 1)
	rec = do(t, s, http.MethodGet, "/api/crawler/logs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{DefaultLogLimit, 5}, ctrl.limits)

	rec = do(t, s, http.MethodGet, "/api/crawler/logs?limit=lots", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func seededFeed(t *testing.T) *memory.FeedStore {
	t.Helper()
	store := memory.NewFeedStore()
	ctx := context.Background()
	sess, err := store.BeginSync(ctx, crawler.PlatformXHS)
	require.NoError(t, err)
	for i, it := range []crawler.FeedItem{
		{Platform: crawler.PlatformXHS, ContentID: "a", Sentiment: sentiment.Positive, CreatedAt: 1},
		{Platform: crawler.PlatformXHS, ContentID: "b", Sentiment: sentiment.Sensitive, IsSensitive: true, CreatedAt: 2},
		{Platform: crawler.PlatformXHS, ContentID: "c", Sentiment: sentiment.Negative, CreatedAt: 3},
	} {
		_, err := sess.Upsert(ctx, it, int64(i))
		require.NoError(t, err)
	}
	require.NoError(t, sess.Commit(ctx))
	return store
}

func TestServer_ListFeed(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeController{}, nil, seededFeed(t), config.Config{})

	rec := do(t, s, http.MethodGet, "/api/feed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp feedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	require.Equal(t, "c", resp.Items[0].ContentID)
	require.Equal(t, 50, resp.Limit)

	rec = do(t, s, http.MethodGet, "/api/feed?sensitive=true", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "b", resp.Items[0].ContentID)

	rec = do(t, s, http.MethodGet, "/api/feed?sentiment=negative&limit=1000", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, 500, resp.Limit)

	for _, bad := range []string{"platform=twitter", "sentiment=angry", "sensitive=maybe", "offset=-1", "limit=x"} {
		rec = do(t, s, http.MethodGet, "/api/feed?"+bad, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestServer_FeedStats(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeController{}, nil, seededFeed(t), config.Config{})
	rec := do(t, s, http.MethodGet, "/api/feed/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["stats"], 3)

	unconfigured := newTestServer(&fakeController{}, nil, nil, config.Config{})
	rec = do(t, unconfigured, http.MethodGet, "/api/feed/stats", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_SyncFeed(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{report: feedsync.Report{Synced: 4, Platforms: []feedsync.PlatformReport{
		{SyncResult: crawler.SyncResult{Platform: crawler.PlatformWeibo, Inserted: 4}},
	}}}
	s := newTestServer(&fakeController{}, syncer, nil, config.Config{})

	rec := do(t, s, http.MethodPost, "/api/feed/sync?platform=wb", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []crawler.Platform{crawler.PlatformWeibo}, syncer.got)
	var resp syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, 4, resp.Report.Synced)

	rec = do(t, s, http.MethodPost, "/api/feed/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, syncer.got)

	rec = do(t, s, http.MethodPost, "/api/feed/sync?platform=nope", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	failing := &fakeSyncer{report: feedsync.Report{Failed: 1, Platforms: []feedsync.PlatformReport{
		{SyncResult: crawler.SyncResult{Platform: crawler.PlatformXHS}, Error: "no such table: xhs_note"},
	}}}
	rec = do(t, newTestServer(&fakeController{}, failing, nil, config.Config{}), http.MethodPost, "/api/feed/sync", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "no such table")
}

func TestServer_HealthReadyMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeController{}, nil, nil, config.Config{})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", "").Code)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crawler_active_runs")

	down := NewServer(&fakeController{}, nil, nil, func(context.Context) error {
		return errors.New("db unreachable")
	}, config.Config{}, nil)
	rec = do(t, down, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	s := newTestServer(&fakeController{}, nil, nil, cfg)

	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/api/crawler/status", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/crawler/status?api_key=secret", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/crawler/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
}

func TestServer_RequestIDAndRecover(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeController{}, nil, nil, config.Config{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	panicky := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec = httptest.NewRecorder()
	panicky.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "internal server error"))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusConflict, statusFor(crawler.ErrBusy))
	require.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", crawler.ErrInvalidRequest)))
	require.Equal(t, http.StatusBadRequest, statusFor(crawler.ErrNotRunning))
	require.Equal(t, http.StatusNotFound, statusFor(crawler.ErrNotFound))
	require.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	require.Equal(t, http.StatusInternalServerError, statusFor(errors.New("other")))
}

func TestServer_RateLimit(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Server: config.ServerConfig{RateLimitRPS: 0.01, RateLimitBurst: 2}}
	s := newTestServer(&fakeController{}, nil, nil, cfg)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/crawler/status", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/crawler/status", "").Code)
	rec := do(t, s, http.MethodGet, "/api/crawler/status", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Probes are not limited.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)

	// A different client gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/crawler/status", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
