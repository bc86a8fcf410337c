// Package control serves the operational HTTP endpoints of a running bot.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/small-frappuccino/soerbot/pkg/log"
)

// StateFunc reports the lifecycle phase shown by /healthz and whether the
// bot counts as healthy in it.
type StateFunc func() (state string, healthy bool)

// Server exposes /metrics and /healthz.
type Server struct {
	addr       string
	httpServer *http.Server
	listener   net.Listener
	state      StateFunc
}

// NewServer returns nil if addr is empty.
func NewServer(addr string, gatherer prometheus.Gatherer, state StateFunc) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}

	s := &Server{addr: addr, state: state}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the endpoint mux. gatherer may be nil to omit /metrics.
func (s *Server) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start opens the listening socket and serves in the background.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, healthy := "UNKNOWN", true
	if s.state != nil {
		state, healthy = s.state()
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"state":   state,
		"healthy": healthy,
	}); err != nil {
		log.ApplicationLogger().Error("Failed to encode health response", "err", err)
	}
}
