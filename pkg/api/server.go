// Package api serves the board's HTTP surface: snapshot and comparison
// reads, source states, health, metrics, and the WebSocket upgrade.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/phenomenon0/epl-edge/pkg/aggregate"
	"github.com/phenomenon0/epl-edge/pkg/feed"
	"github.com/phenomenon0/epl-edge/pkg/metrics"
)

// SourceStatus is the externally visible state of one producer.
type SourceStatus struct {
	Source     feed.SourceID `json:"source"`
	State      string        `json:"state"`
	LastOutput time.Time     `json:"last_output,omitempty"`
}

// StatusFunc reports the current producer states.
type StatusFunc func() []SourceStatus

// Server wires the aggregation core to HTTP.
type Server struct {
	agg      *aggregate.Aggregator
	statuses StatusFunc
	ws       http.HandlerFunc
	log      *zap.Logger
	metrics  *metrics.BoardMetrics
}

// NewServer creates the API server. ws may be nil to disable streaming,
// statuses may be nil to report no sources.
func NewServer(agg *aggregate.Aggregator, statuses StatusFunc, ws http.HandlerFunc, log *zap.Logger, m *metrics.BoardMetrics) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{agg: agg, statuses: statuses, ws: ws, log: log, metrics: m}
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/markets", s.handleMarkets)
	r.Get("/api/v1/comparisons", s.handleComparisons)
	r.Get("/api/v1/sources", s.handleSources)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if s.ws != nil {
		r.Get("/ws", s.ws)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"markets": s.agg.Len(),
	})
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	s.countSnapshot()
	respondJSON(w, http.StatusOK, s.agg.Snapshot())
}

func (s *Server) handleComparisons(w http.ResponseWriter, r *http.Request) {
	s.countSnapshot()
	respondJSON(w, http.StatusOK, aggregate.Compare(s.agg.Snapshot()))
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	statuses := []SourceStatus{}
	if s.statuses != nil {
		statuses = s.statuses()
	}
	respondJSON(w, http.StatusOK, statuses)
}

func (s *Server) countSnapshot() {
	if s.metrics != nil {
		s.metrics.SnapshotRequests.Inc()
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
