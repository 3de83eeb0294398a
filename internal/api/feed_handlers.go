package api

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlctl/internal/crawler"
	"github.com/JakeFAU/crawlctl/internal/feedsync"
	"github.com/JakeFAU/crawlctl/internal/sentiment"
	"github.com/JakeFAU/crawlctl/internal/storage"
)

func errInvalidParam(name, value string) error {
	return fmt.Errorf("invalid %s %q", name, value)
}

type feedResponse struct {
	Items  []crawler.FeedItem `json:"items"`
	Count  int                `json:"count"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func (s *Server) listFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "feed store not configured")
		return
	}
	filter, err := parseFeedFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.feed.ListFeed(r.Context(), filter)
	if err != nil {
		s.logger.Error("list feed failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list feed")
		return
	}
	writeJSON(w, http.StatusOK, feedResponse{
		Items:  items,
		Count:  len(items),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func parseFeedFilter(r *http.Request) (crawler.FeedFilter, error) {
	q := r.URL.Query()
	var f crawler.FeedFilter
	if raw := q.Get("platform"); raw != "" {
		p, err := crawler.ParsePlatform(raw)
		if err != nil {
			return f, err
		}
		f.Platform = p
	}
	if raw := q.Get("sentiment"); raw != "" {
		label := sentiment.Label(raw)
		if !label.Valid() {
			return f, errInvalidParam("sentiment", raw)
		}
		f.Sentiment = label
	}
	if raw := q.Get("sensitive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, errInvalidParam("sensitive", raw)
		}
		f.SensitiveOnly = v
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		return f, err
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return f, err
	}
	if offset < 0 {
		return f, errInvalidParam("offset", q.Get("offset"))
	}
	f.Limit = storage.ClampLimit(limit)
	f.Offset = offset
	return f, nil
}

func (s *Server) feedStats(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "feed store not configured")
		return
	}
	stats, err := s.feed.SentimentStats(r.Context())
	if err != nil {
		s.logger.Error("sentiment stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

type syncResponse struct {
	Status string          `json:"status"`
	Report feedsync.Report `json:"report"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) syncFeed(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "feed sync not configured")
		return
	}
	var platforms []crawler.Platform
	if raw := r.URL.Query()["platform"]; len(raw) > 0 {
		parsed, err := crawler.ParsePlatformList(raw...)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		platforms = parsed
	}
	report := s.syncer.SyncAll(r.Context(), platforms...)
	if err := report.Err(); err != nil {
		writeJSON(w, http.StatusInternalServerError, syncResponse{Status: "error", Report: report, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Status: "ok", Report: report})
}
