package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evaclab/egress/internal/observability"
	"github.com/evaclab/egress/pkg/models"
)

// Server exposes the decision service over HTTP for the simulation
// engine's callbacks. It must be listening before the first run launches
// and stay up until the last run exits.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	service  *Service
	server   *http.Server
	listener net.Listener
}

// ServerConfig holds the server dependencies.
type ServerConfig struct {
	// Host and Port form the listen address. Port 0 picks an ephemeral
	// port, which tests rely on.
	Host string
	Port int

	Service *Service
	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Progress, when set, backs the read-only progress endpoint.
	Progress func() models.Progress
}

// NewServer creates a decision server. Start must be called before the
// server accepts requests.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("decision server requires a service")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "decision-server")
	}
	return &Server{config: cfg, logger: logger, service: cfg.Service}, nil
}

// Start binds the listen address and begins serving in the background.
// Returning without error means the listener is live and the engine may
// start calling back.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/decision", s.handleDecision)
	mux.HandleFunc("/v1/response", s.handleResponse)
	mux.HandleFunc("/v1/runs", s.handleRuns)
	mux.HandleFunc("/v1/progress", s.handleProgress)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("decision listen: %w", err)
	}

	s.server = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("decision server error", "error", err)
		}
	}()

	s.logger.Info("decision server listening", "addr", s.Addr())
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("decision shutdown: %w", err)
	}
	s.server = nil
	s.listener = nil
	return nil
}

// Addr reports the bound listen address, resolving an ephemeral port.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL reports the base URL engines use for callbacks.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "malformed decision request")
		return
	}
	if req.RunID == "" {
		s.badRequest(w, "run_id is required")
		return
	}

	action, err := s.service.Decide(r.Context(), req.RunID, req.Contact())
	switch {
	case errors.Is(err, ErrNoActiveStrategy):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("decision failed", "run_id", req.RunID, "error", err)
		writeError(w, http.StatusInternalServerError, "decision failed")
		return
	}

	writeJSON(w, http.StatusOK, models.DecisionResponse{Action: action})
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var event models.ResponseEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.badRequest(w, "malformed response event")
		return
	}
	if event.RunID == "" {
		s.badRequest(w, "run_id is required")
		return
	}

	if err := s.service.RecordResponse(event.RunID, event.Response); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		IDs []string `json:"ids"`
	}{IDs: s.service.Active()})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.config.Progress == nil {
		writeError(w, http.StatusNotFound, "progress reporting is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.config.Progress())
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	if s.config.Metrics != nil {
		s.config.Metrics.DecisionFailed("bad_request")
	}
	writeError(w, http.StatusBadRequest, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
