// Package admin serves the engine's operational surface: Prometheus
// metrics, group status, alerts, and performance reports over HTTP.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/PROM8EUS/reliability/internal/alerting"
	"github.com/PROM8EUS/reliability/internal/orchestrator"
	"github.com/PROM8EUS/reliability/internal/stats"
)

// EngineView is the slice of the orchestrator the admin surface reads.
type EngineView interface {
	GroupIDs() []string
	GroupStatus(groupID string) (*orchestrator.GroupStatus, error)
	ResetCircuitBreaker(sourceID string)
	SourceStats(sourceID string, window time.Duration) stats.SourceStats
	Report(start, end time.Time) stats.Report
	ActiveAlerts() []alerting.Alert
	ResolveAlert(id string) bool
	MetricCount() int
}

// Server exposes the admin HTTP API.
type Server struct {
	engine  EngineView
	logger  *slog.Logger
	metrics *Metrics
}

// NewServer creates the admin server for an engine.
func NewServer(engine EngineView, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		logger:  logger,
		metrics: NewMetrics(engine),
	}
}

// Handler builds the routed handler, wrapped with OpenTelemetry HTTP
// instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/v1/groups", s.metrics.instrument("/api/v1/groups", s.handleGroups))
	mux.HandleFunc("GET /api/v1/groups/{id}", s.metrics.instrument("/api/v1/groups/{id}", s.handleGroupStatus))
	mux.HandleFunc("GET /api/v1/sources/{id}/stats", s.metrics.instrument("/api/v1/sources/{id}/stats", s.handleSourceStats))
	mux.HandleFunc("POST /api/v1/breakers/{id}/reset", s.metrics.instrument("/api/v1/breakers/{id}/reset", s.handleBreakerReset))
	mux.HandleFunc("GET /api/v1/alerts", s.metrics.instrument("/api/v1/alerts", s.handleAlerts))
	mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.metrics.instrument("/api/v1/alerts/{id}/resolve", s.handleResolveAlert))
	mux.HandleFunc("GET /api/v1/report", s.metrics.instrument("/api/v1/report", s.handleReport))

	return otelhttp.NewHandler(mux, "reliability-admin")
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"groups": s.engine.GroupIDs()})
}

func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.GroupStatus(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrGroupNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSourceStats(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.SourceStats(r.PathValue("id"), window))
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.engine.ResetCircuitBreaker(id)
	s.logger.Info("circuit breaker reset via admin API", "source", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.engine.ActiveAlerts()})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.engine.ResolveAlert(id) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end := time.Now()
	writeJSON(w, http.StatusOK, s.engine.Report(end.Add(-window), end))
}

func parseWindow(r *http.Request, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
