// Package api is the HTTP surface: one endpoint per platform operation, the
// session-stats query, health, and metrics. Error responses always carry
// the fixed error envelope.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/api/schemas"
	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/config"
	"github.com/korvuslabs/prowl/internal/executor"
	"github.com/korvuslabs/prowl/internal/platform"
)

// Runner is the slice of the executor the handlers need.
type Runner interface {
	Execute(ctx context.Context, ownerKey, accessToken string, op executor.Operation) (executor.Result, error)
}

// StatsSource reports pool snapshots for the stats and health endpoints.
type StatsSource interface {
	Stats() schemas.PoolStats
	Health() schemas.HealthStatus
}

// Auditor records finished requests. Implemented by the outcome store.
type Auditor interface {
	RecordOutcome(ctx context.Context, rec AuditRecord) error
}

// AuditRecord mirrors the store's outcome row without importing it, so the
// API layer stays decoupled from the persistence schema.
type AuditRecord struct {
	Owner     string
	Operation string
	Kind      schemas.ErrorKind
	Message   string
	Attempts  int
	LatencyMS int64
}

// Server wires the router, handlers, and middleware.
type Server struct {
	logger     *zap.Logger
	runner     Runner
	catalog    *platform.Catalog
	stats      StatsSource
	proxyStats func() map[string]any // nil when rotation is disabled
	audit      Auditor               // nil when persistence is disabled
	jwtSecret  string
}

// NewServer builds the HTTP surface. proxyStats and audit may be nil.
func NewServer(
	logger *zap.Logger,
	cfg config.ServerConfig,
	runner Runner,
	catalog *platform.Catalog,
	stats StatsSource,
	proxyStats func() map[string]any,
	audit Auditor,
) *Server {
	return &Server{
		logger:     logger.Named("api"),
		runner:     runner,
		catalog:    catalog,
		stats:      stats,
		proxyStats: proxyStats,
		audit:      audit,
		jwtSecret:  cfg.JWTSecret,
	}
}

// Router assembles all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/trending", s.handleTrending).Methods(http.MethodPost)
	v1.HandleFunc("/user", s.handleUser).Methods(http.MethodPost)
	v1.HandleFunc("/hashtag", s.handleHashtag).Methods(http.MethodPost)
	v1.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	v1.HandleFunc("/video", s.handleVideo).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/stats", s.handleSessionStats).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.stats.Health()
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Stats()
	if s.proxyStats != nil {
		stats.Proxy = s.proxyStats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// httpStatusFor maps classified failure kinds to HTTP statuses. Upstream
// trouble the service cannot fix maps to 502, local saturation to 503, and
// internal defects to 500.
func httpStatusFor(kind schemas.ErrorKind) int {
	switch kind {
	case schemas.KindNotFound:
		return http.StatusNotFound
	case schemas.KindAuthError:
		return http.StatusUnauthorized
	case schemas.KindRateLimited:
		return http.StatusTooManyRequests
	case schemas.KindCapacityError:
		return http.StatusServiceUnavailable
	case schemas.KindInvariantViolation, schemas.KindConfigurationError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeOutcome(w http.ResponseWriter, out *classify.Outcome) {
	s.writeJSON(w, httpStatusFor(out.Kind), out.Envelope())
}

func (s *Server) writeAuthFailure(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusUnauthorized, schemas.ErrorEnvelope{
		Success: false,
		Error:   schemas.KindAuthError,
		Message: message,
	})
}
