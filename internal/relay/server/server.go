// Package server exposes the relay's HTTP and WebSocket API: wall publish and
// list, peer and upstream status, and the local fan-out subscription socket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/relay/agent"
	"wall/internal/relay/hub"
	"wall/internal/relay/metrics"
	"wall/internal/relay/peers"
	"wall/internal/validator"
)

// P2P is the slice of the connection supervisor the API needs. It is nil when
// the upstream connection is disabled.
type P2P interface {
	Status() (agent.Status, error)
	PublicKey() string
	PublishEvent(ctx context.Context, event relay.Event) error
}

// Config holds API server knobs.
type Config struct {
	Port         int           `env:"API_PORT" envDefault:"8080"`
	Timeout      time.Duration `env:"API_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	ListLimit    int           `env:"API_LIST_LIMIT" envDefault:"50"`
}

// Server serves the relay API.
type Server struct {
	cfg      Config
	server   *http.Server
	store    relay.Store
	verifier relay.Verifier
	hub      *hub.Hub
	peers    *peers.Directory
	p2p      P2P
	registry *metrics.Registry
	logger   *zap.Logger
}

// New creates the API server. p2p may be nil when the upstream connection is
// disabled; the peer and status endpoints report accordingly.
func New(
	cfg Config,
	store relay.Store,
	verifier relay.Verifier,
	h *hub.Hub,
	directory *peers.Directory,
	p2p P2P,
	registry *metrics.Registry,
	logger *zap.Logger,
) (*Server, error) {
	s := Server{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		hub:      h,
		peers:    directory,
		p2p:      p2p,
		registry: registry,
		logger:   logger.Named("api-server"),
	}

	if err := validator.Validate(
		"api-server",
		s.store,
		s.verifier,
		s.hub,
		s.peers,
		s.registry,
		s.logger,
		s.cfg.Port,
		s.cfg.ListLimit,
	); err != nil {
		return nil, fmt.Errorf("failed to validate api server deps: %w", err)
	}

	router := mux.NewRouter().StrictSlash(true)
	router.Methods(http.MethodPost).Path("/wall/publish").HandlerFunc(s.handlePublish)
	router.Methods(http.MethodGet).Path("/wall/threads").HandlerFunc(s.handleListThread)
	router.Methods(http.MethodGet).Path("/peers").HandlerFunc(s.handlePeers)
	router.Methods(http.MethodGet).Path("/p2p/status").HandlerFunc(s.handleStatus)
	router.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWS)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: cfg.Timeout,
		IdleTimeout: cfg.Timeout * 2,
	}

	return &s, nil
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting api server", zap.String("addr", s.server.Addr))

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Stop(ctx)
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping api server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to gracefully shutdown api server", zap.Error(err))
		return err
	}

	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
