package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobsieve/internal/screening/gateway"
)

// Server provides the operational HTTP endpoints: health probes, Prometheus
// metrics, and the pause/resume control surface.
type Server struct {
	monitor *Monitor
	control Controller
	queue   QueueStats
	breaker func() gateway.BreakerState
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new ops server.
func NewServer(monitor *Monitor, cfg Config) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		control: cfg.Control,
		queue:   cfg.Queue,
		breaker: cfg.BreakerState,
		logger:  cfg.Logger,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/control/pause", s.handlePause)
	mux.HandleFunc("/control/resume", s.handleResume)
	mux.HandleFunc("/control/state", s.handleState)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(report.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.control.Pause() {
		s.logger.Info("processing paused via control endpoint")
	}
	s.writeState(w)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.control.Resume() {
		s.logger.Info("processing resumed via control endpoint")
	}
	s.writeState(w)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w)
}

type controlState struct {
	Paused       bool   `json:"paused"`
	BreakerState string `json:"breaker_state"`
	QueueSize    int    `json:"queue_size"`
}

func (s *Server) writeState(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(controlState{
		Paused:       s.control.Paused(),
		BreakerState: s.breaker().String(),
		QueueSize:    s.queue.Size(),
	})
}
