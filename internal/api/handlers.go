package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/api/schemas"
	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/executor"
	"github.com/korvuslabs/prowl/internal/platform"
)

const defaultCount = 30

type trendingRequest struct {
	Count   int    `json:"count"`
	MSToken string `json:"ms_token"`
}

type userRequest struct {
	Username string `json:"username"`
	MSToken  string `json:"ms_token"`
}

type hashtagRequest struct {
	Name    string `json:"name"`
	Count   int    `json:"count"`
	MSToken string `json:"ms_token"`
}

type searchRequest struct {
	Query   string `json:"query"`
	Count   int    `json:"count"`
	MSToken string `json:"ms_token"`
}

type videoRequest struct {
	Video   string `json:"video"`
	MSToken string `json:"ms_token"`
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	var req trendingRequest
	if !s.decode(w, r, &req) {
		return
	}
	op := s.catalog.Trending(clampCount(req.Count))
	s.run(w, r, op, req.MSToken, videoListPayload(platform.ParseVideoList))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username == "" {
		s.writeBadRequest(w, "username is required")
		return
	}
	op := s.catalog.User(req.Username)
	s.run(w, r, op, req.MSToken, func(body string) (any, error) {
		profile, err := platform.ParseUserProfile(body)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "user": profile}, nil
	})
}

func (s *Server) handleHashtag(w http.ResponseWriter, r *http.Request) {
	var req hashtagRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeBadRequest(w, "name is required")
		return
	}
	op := s.catalog.Hashtag(req.Name, clampCount(req.Count))
	s.run(w, r, op, req.MSToken, videoListPayload(platform.ParseVideoList))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		s.writeBadRequest(w, "query is required")
		return
	}
	op := s.catalog.Search(req.Query, clampCount(req.Count))
	s.run(w, r, op, req.MSToken, videoListPayload(platform.ParseSearchResults))
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req videoRequest
	if !s.decode(w, r, &req) {
		return
	}
	op, err := s.catalog.Video(req.Video)
	if err != nil {
		s.writeBadRequest(w, "video must be a video id or share url")
		return
	}
	s.run(w, r, op, req.MSToken, func(body string) (any, error) {
		video, err := platform.ParseVideoDetail(body)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "video": video}, nil
	})
}

// run executes the operation, audits the outcome, and writes either the
// parsed success payload or the error envelope.
func (s *Server) run(w http.ResponseWriter, r *http.Request, op platform.Operation, token string, parse func(string) (any, error)) {
	owner := OwnerFromContext(r.Context())
	start := time.Now()

	res, err := s.runner.Execute(r.Context(), owner, token, op)

	var failure *classify.Outcome
	if err != nil {
		failure = classify.AsOutcome(err)
		if failure == nil {
			failure = classify.FromTransportError(err)
		}
	}
	s.recordAudit(owner, op.Name(), res, failure, time.Since(start))

	if failure != nil {
		s.writeOutcome(w, failure)
		return
	}

	payload, perr := parse(res.Raw.Body)
	if perr != nil {
		s.logger.Warn("Upstream body failed to parse",
			zap.String("operation", op.Name()), zap.Error(perr))
		s.writeOutcome(w, &classify.Outcome{
			Kind:    schemas.KindDataError,
			Message: "upstream response could not be parsed",
			Raw:     res.Raw,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) recordAudit(owner, operation string, res executor.Result, failure *classify.Outcome, latency time.Duration) {
	if s.audit == nil {
		return
	}
	rec := AuditRecord{
		Owner:     owner,
		Operation: operation,
		Attempts:  res.Attempts,
		LatencyMS: latency.Milliseconds(),
	}
	if failure != nil {
		rec.Kind = failure.Kind
		rec.Message = failure.Message
	}
	// Audit is best effort and must never delay or fail the response.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.audit.RecordOutcome(ctx, rec); err != nil {
			s.logger.Warn("Failed to record outcome", zap.Error(err))
		}
	}()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeBadRequest(w, "request body is not valid JSON")
		return false
	}
	return true
}

func (s *Server) writeBadRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, schemas.ErrorEnvelope{
		Success: false,
		Error:   schemas.KindDataError,
		Message: message,
	})
}

func videoListPayload(parse func(string) ([]schemas.Video, error)) func(string) (any, error) {
	return func(body string) (any, error) {
		videos, err := parse(body)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "videos": videos, "count": len(videos)}, nil
	}
}

func clampCount(n int) int {
	if n <= 0 {
		return defaultCount
	}
	if n > 100 {
		return 100
	}
	return n
}
