// Package api exposes the HTTP interface for the crawler control plane.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/config"
	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/feedsync"
	"github.com/JakeFAU/crawlctl/internal/logbuffer"
	"github.com/JakeFAU/crawlctl/internal/metrics"
	"github.com/JakeFAU/crawlctl/internal/policy/ratelimit"
)

// DefaultLogLimit is the number of log lines returned when limit is absent.
const DefaultLogLimit = 100

// Controller is the crawler orchestration surface the API drives.
type Controller interface {
	Start(ctx context.Context, req crawler.CrawlRequest) (string, error)
	Stop(ctx context.Context) (string, error)
	Status() crawler.Status
	Logs(limit int) []logbuffer.Entry
}

// FeedSyncer runs on-demand feed syncs.
type FeedSyncer interface {
	SyncAll(ctx context.Context, platforms ...crawler.Platform) feedsync.Report
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the orchestrator and feed store.
type Server struct {
	router  chi.Router
	ctrl    Controller
	syncer  FeedSyncer
	feed    crawler.FeedReader
	ready   ReadyFunc
	cfg     config.Config
	logger  *zap.Logger
	timeout time.Duration
}

// NewServer constructs a Server with middleware and routes. syncer, feed and
// ready may be nil; the matching routes then answer 503 or always-ready.
func NewServer(
	ctrl Controller,
	syncer FeedSyncer,
	feed crawler.FeedReader,
	ready ReadyFunc,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ctrl:    ctrl,
		syncer:  syncer,
		feed:    feed,
		ready:   ready,
		cfg:     cfg,
		logger:  logger,
		timeout: cfg.RequestTimeout(),
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}

	metrics.Init()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(s.timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.Server.RateLimitRPS > 0 {
			r.Use(rateLimitMiddleware(ratelimit.New(ratelimit.Config{
				RPS:   cfg.Server.RateLimitRPS,
				Burst: cfg.Server.RateLimitBurst,
			})))
		}
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/platforms", s.listPlatforms)
		r.Route("/crawler", func(r chi.Router) {
			r.Post("/start", s.startCrawler)
			r.Post("/stop", s.stopCrawler)
			r.Get("/status", s.crawlerStatus)
			r.Get("/logs", s.crawlerLogs)
		})
		r.Route("/feed", func(r chi.Router) {
			r.Get("/", s.listFeed)
			r.Get("/stats", s.feedStats)
			r.Post("/sync", s.syncFeed)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type platformInfo struct {
	Value crawler.Platform `json:"value"`
	Label string           `json:"label"`
}

func (s *Server) listPlatforms(w http.ResponseWriter, _ *http.Request) {
	out := make([]platformInfo, 0, len(crawler.Platforms()))
	for _, p := range crawler.Platforms() {
		out = append(out, platformInfo{Value: p, Label: p.DisplayName()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"platforms": out})
}

// startRequest accepts platforms either as a JSON list or as a
// comma-separated string, with "platform" as the single-value fallback.
type startRequest struct {
	Platform          string          `json:"platform"`
	Platforms         json.RawMessage `json:"platforms"`
	LoginType         string          `json:"login_type"`
	CrawlerType       string          `json:"crawler_type"`
	Keywords          string          `json:"keywords"`
	SaveOption        string          `json:"save_option"`
	StartPage         int             `json:"start_page"`
	Cookies           string          `json:"cookies"`
	SpecifiedIDs      string          `json:"specified_ids"`
	CreatorIDs        string          `json:"creator_ids"`
	EnableComments    bool            `json:"enable_comments"`
	EnableSubComments bool            `json:"enable_sub_comments"`
	Headless          bool            `json:"headless"`
}

func (req startRequest) platformValues() ([]string, error) {
	if len(req.Platforms) == 0 || string(req.Platforms) == "null" {
		if req.Platform == "" {
			return []string{string(crawler.DefaultPlatform)}, nil
		}
		return []string{req.Platform}, nil
	}
	var list []string
	if err := json.Unmarshal(req.Platforms, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(req.Platforms, &single); err != nil {
		return nil, errors.New("platforms must be a string or a list of strings")
	}
	return []string{single}, nil
}

func (req startRequest) toCrawlRequest() (crawler.CrawlRequest, error) {
	values, err := req.platformValues()
	if err != nil {
		return crawler.CrawlRequest{}, err
	}
	platforms, err := crawler.ParsePlatformList(values...)
	if err != nil {
		return crawler.CrawlRequest{}, err
	}
	return crawler.CrawlRequest{
		Platforms:         platforms,
		LoginType:         crawler.LoginType(req.LoginType),
		CrawlerType:       crawler.CrawlerType(req.CrawlerType),
		Keywords:          req.Keywords,
		SaveOption:        req.SaveOption,
		StartPage:         req.StartPage,
		Cookies:           req.Cookies,
		SpecifiedIDs:      req.SpecifiedIDs,
		CreatorIDs:        req.CreatorIDs,
		EnableComments:    req.EnableComments,
		EnableSubComments: req.EnableSubComments,
		Headless:          req.Headless,
	}, nil
}

func (s *Server) startCrawler(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := body.toCrawlRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.ctrl.Start(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), startErrorMessage(err))
		return
	}
	msg := "Crawler started successfully"
	if req.IsBatch() {
		msg = "Batch crawler started successfully"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": msg, "run_id": runID})
}

func startErrorMessage(err error) string {
	switch {
	case errors.Is(err, crawler.ErrBusy):
		return "Crawler is already running"
	case errors.Is(err, crawler.ErrInvalidRequest), errors.Is(err, crawler.ErrUnsupportedPlatform):
		return err.Error()
	default:
		return "Failed to start crawler: " + err.Error()
	}
}

func (s *Server) stopCrawler(w http.ResponseWriter, r *http.Request) {
	msg, err := s.ctrl.Stop(r.Context())
	if err != nil {
		if errors.Is(err, crawler.ErrNotRunning) {
			writeError(w, http.StatusBadRequest, "No crawler is running")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to stop crawler: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": msg})
}

func (s *Server) crawlerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) crawlerLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", DefaultLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.ctrl.Logs(limit)})
}

// statusFor maps sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrInvalidRequest),
		errors.Is(err, crawler.ErrUnsupportedPlatform),
		errors.Is(err, crawler.ErrNotRunning):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
