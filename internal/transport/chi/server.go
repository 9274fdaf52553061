// Package chi serves the status endpoints of a running benchmark.
package chi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/metrics"
	healthuc "github.com/kailas-cloud/vecbench/internal/usecase/health"
)

// RecordSource exposes live aggregates without flushing them.
type RecordSource interface {
	RunID() string
	Snapshot() []collector.Record
}

// HealthChecker reports backend health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Server serves /healthz, /metrics and /v1/records.
type Server struct {
	health  HealthChecker
	records RecordSource
	apiKeys []string
	logger  *zap.Logger
}

// NewServer creates a status server. apiKeys guard /v1/records; empty disables auth.
func NewServer(health HealthChecker, records RecordSource, apiKeys []string, logger *zap.Logger) *Server {
	return &Server{health: health, records: records, apiKeys: apiKeys, logger: logger}
}

// Router builds the chi router with the middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLog(s.logger))
	r.Use(BearerAuthMiddleware(s.apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/v1/records", s.Records)
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: string(report.Status), Checks: checks})
}

type recordsResponse struct {
	RunID   string             `json:"run_id"`
	Records []collector.Record `json:"records"`
}

// Records handles GET /v1/records.
func (s *Server) Records(w http.ResponseWriter, _ *http.Request) {
	recs := s.records.Snapshot()
	if recs == nil {
		recs = []collector.Record{}
	}
	writeJSON(w, http.StatusOK, recordsResponse{RunID: s.records.RunID(), Records: recs})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
