package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
)

// StatusReport is the body of GET /status.
type StatusReport struct {
	State           string         `json:"state"`
	ProviderDhsCode string         `json:"provider_dhs_code"`
	Claims          map[string]int `json:"claims"`
	ActiveBatches   []int64        `json:"active_batches"`
	OpenIssues      int            `json:"open_issues"`
	GeneratedUtc    time.Time      `json:"generated_utc"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// StatusFunc builds a status snapshot.
type StatusFunc func(ctx context.Context) (StatusReport, error)

// HealthFunc returns nil while the agent is healthy.
type HealthFunc func() error

// StatusServer exposes /healthz, /metrics and /status on a local address.
type StatusServer struct {
	addr   string
	status StatusFunc
	health HealthFunc
	logger ports.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewStatusServer creates a server. Nothing listens until Start.
func NewStatusServer(addr string, status StatusFunc, health HealthFunc, logger ports.Logger) *StatusServer {
	return &StatusServer{addr: addr, status: status, health: health, logger: logger}
}

// Router builds the HTTP router.
func (s *StatusServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", metrics.Handler())
	r.Get("/status", s.handleStatus)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *StatusServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("status server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", ports.Err(err))
		}
	}()
	s.logger.Info("status server listening", ports.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *StatusServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server, waiting for open requests until ctx expires.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status not available", http.StatusNotFound)
		return
	}
	report, err := s.status(r.Context())
	if err != nil {
		s.logger.Warn("status snapshot failed", ports.Err(err))
		http.Error(w, "status snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
