package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/monitor"
	"github.com/JakeFAU/social-monitor/internal/orchestrator"
	"github.com/JakeFAU/social-monitor/internal/stats"
)

const (
	defaultPostLimit = 50
	maxPostLimit     = 500
	maxWindowHours   = 24 * 365
)

// crawl handles POST /v1/crawl. The run result is returned even when some
// platforms failed; only hard errors produce a 500.
func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	if s.crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler unavailable")
		return
	}
	res, err := s.crawler.CrawlAll(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("crawl run failed", zap.Error(err), zap.String("request_id", requestID(r.Context())))
		writeError(w, http.StatusInternalServerError, "crawl run failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// getStats handles GET /v1/stats?hours=.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	window, err := parseHours(r, stats.DefaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.stats.Snapshot(r.Context(), window)
	if err != nil {
		s.logger.Error("stats snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// listPosts handles GET /v1/posts?platform=&keyword=&sentiment=&hours=&limit=.
func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	if s.posts == nil {
		writeError(w, http.StatusServiceUnavailable, "post store unavailable")
		return
	}
	q, err := s.parsePostQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	posts, err := s.posts.QueryPosts(r.Context(), q)
	if err != nil {
		s.logger.Error("query posts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query posts")
		return
	}
	if posts == nil {
		posts = []monitor.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts": posts,
		"count": len(posts),
	})
}

// postEvidence handles GET /v1/posts/{post_id}/evidence.
func (s *Server) postEvidence(w http.ResponseWriter, r *http.Request) {
	if s.posts == nil {
		writeError(w, http.StatusServiceUnavailable, "post store unavailable")
		return
	}
	postID := strings.TrimSpace(chi.URLParam(r, "post_id"))
	if postID == "" {
		writeError(w, http.StatusBadRequest, "post_id is required")
		return
	}
	evidence, err := s.posts.Evidence(r.Context(), postID)
	if err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		s.logger.Error("load evidence failed", zap.Error(err), zap.String("post_id", postID))
		writeError(w, http.StatusInternalServerError, "failed to load evidence")
		return
	}
	if evidence == nil {
		evidence = []monitor.KeywordMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": evidence})
}

func (s *Server) parsePostQuery(r *http.Request) (monitor.PostQuery, error) {
	values := r.URL.Query()
	q := monitor.PostQuery{Limit: defaultPostLimit}

	if raw := strings.TrimSpace(values.Get("platform")); raw != "" {
		p := monitor.Platform(strings.ToLower(raw))
		if !p.Valid() {
			return q, errors.New("invalid platform")
		}
		q.Platform = p
	}
	q.Keyword = strings.TrimSpace(values.Get("keyword"))
	if raw := strings.TrimSpace(values.Get("sentiment")); raw != "" {
		b := monitor.SentimentBucket(strings.ToLower(raw))
		switch b {
		case monitor.SentimentPositive, monitor.SentimentNegative, monitor.SentimentNeutral:
			q.Sentiment = b
		default:
			return q, errors.New("invalid sentiment")
		}
	}
	if values.Has("hours") {
		window, err := parseHours(r, 0)
		if err != nil {
			return q, err
		}
		q.Since = s.clock.Now().Add(-window)
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, errors.New("invalid limit")
		}
		q.Limit = min(n, maxPostLimit)
	}
	return q, nil
}

func parseHours(r *http.Request, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("hours"))
	if raw == "" {
		return def, nil
	}
	h, err := strconv.Atoi(raw)
	if err != nil || h <= 0 || h > maxWindowHours {
		return 0, errors.New("invalid hours")
	}
	return time.Duration(h) * time.Hour, nil
}
