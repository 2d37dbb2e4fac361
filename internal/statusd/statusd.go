package statusd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/johnemcbride/infra-cdk/internal/telemetry"
	"github.com/johnemcbride/infra-cdk/pkg/api"
)

// EventLister exposes the journal to the status API.
type EventLister interface {
	List(ctx context.Context) ([]api.Event, error)
}

// Server is the node's self-report surface: an external observer can ask
// what phase the node is in and what lifecycle events it has recorded.
type Server struct {
	Version string
	Phase   func() api.DrainPhase
	Events  EventLister
	srv     *http.Server
}

type healthResponse struct {
	Phase   api.DrainPhase `json:"phase"`
	Time    time.Time      `json:"time"`
	Version string         `json:"version"`
}

// Routes for the server
func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		telemetry.CounterGlobal("nodeagent_status_requests", 1, map[string]string{"endpoint": "health"})

		phase := api.PhaseRunning
		if s.Phase != nil {
			phase = s.Phase()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{Phase: phase, Time: time.Now(), Version: s.Version})
	})
	mux.HandleFunc("/v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		telemetry.CounterGlobal("nodeagent_status_requests", 1, map[string]string{"endpoint": "metrics"})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(telemetry.GetGlobal().GetMetrics())
	})
	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		telemetry.CounterGlobal("nodeagent_status_requests", 1, map[string]string{"endpoint": "events"})

		if s.Events == nil {
			http.Error(w, "journal not configured", http.StatusNotFound)
			return
		}
		events, err := s.Events.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []api.Event{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(events)
	})
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.routes(mux)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s.srv.ListenAndServe()
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}
