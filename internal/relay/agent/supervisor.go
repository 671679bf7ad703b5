package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/relay/metrics"
	"wall/internal/relay/peers"
	"wall/internal/relay/resilience"
	"wall/internal/validator"
)

// Status is the upstream connection state reported on the status API.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Default subscriptions issued after every connect: all public notes, and
// direct messages addressed to this identity.
const (
	subGeneral = "sub_general"
	subDM      = "sub_dm"
)

const defaultThread = "general"

// SupervisorConfig holds connection supervision knobs.
type SupervisorConfig struct {
	URL            string        `env:"P2P_WS_URL" envDefault:"ws://127.0.0.1:9090"`
	PublishURL     string        `env:"P2P_PUBLISH_URL"`
	ReconnectDelay time.Duration `env:"P2P_RECONNECT_DELAY" envDefault:"5s"`
	QueueSize      int           `env:"P2P_QUEUE_SIZE" envDefault:"256"`
	PersistTimeout time.Duration `env:"P2P_PERSIST_TIMEOUT" envDefault:"10s"`
}

// Supervisor owns the process's single receive loop. It connects through the
// resilient invoker, issues the default subscriptions, and for every decoded
// event updates the peer directory, persists public notes to the wall, and
// feeds the bounded queue the fan-out hub drains. It is the single writer to
// the peer directory and the single producer into the hub.
type Supervisor struct {
	cfg      SupervisorConfig
	client   relay.Client
	invoker  *resilience.Invoker
	verifier relay.Verifier
	store    relay.Store
	peers    *peers.Directory
	registry *metrics.Registry
	logger   *zap.Logger

	events chan relay.Inbound
	runCtx context.Context

	mu      sync.Mutex
	status  Status
	lastErr error
}

// NewSupervisor creates a supervisor.
func NewSupervisor(
	cfg SupervisorConfig,
	client relay.Client,
	invoker *resilience.Invoker,
	verifier relay.Verifier,
	store relay.Store,
	directory *peers.Directory,
	registry *metrics.Registry,
	logger *zap.Logger,
) (*Supervisor, error) {
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("invalid queue size: %d", cfg.QueueSize)
	}

	s := Supervisor{
		cfg:      cfg,
		client:   client,
		invoker:  invoker,
		verifier: verifier,
		store:    store,
		peers:    directory,
		registry: registry,
		logger:   logger,
		events:   make(chan relay.Inbound, cfg.QueueSize),
		status:   StatusDisconnected,
	}

	if err := validator.Validate(
		"supervisor",
		s.client,
		s.invoker,
		s.verifier,
		s.store,
		s.peers,
		s.registry,
		s.logger,
		s.cfg.URL,
		s.cfg.ReconnectDelay,
	); err != nil {
		return nil, fmt.Errorf("failed to validate supervisor deps: %w", err)
	}

	return &s, nil
}

// Events returns the bounded inbound queue for the hub to drain.
func (s *Supervisor) Events() <-chan relay.Inbound { return s.events }

// Status returns the current connection state and the last error, if any.
func (s *Supervisor) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastErr
}

// PublicKey returns the supervised client's identity.
func (s *Supervisor) PublicKey() string { return s.client.PublicKey() }

// PublishEvent forwards a fully-signed event upstream, using the HTTP side
// channel when one is configured and the transport frame otherwise.
func (s *Supervisor) PublishEvent(ctx context.Context, event relay.Event) error {
	if s.cfg.PublishURL != "" {
		return s.client.PublishHTTP(ctx, event, s.cfg.PublishURL)
	}
	return s.client.Publish(ctx, event)
}

// Run drives connect / subscribe / listen until ctx is cancelled, applying
// the reconnect delay between attempts. The transport is released on exit.
func (s *Supervisor) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer close(s.events)
	defer s.client.Close()

	// our own identity is always a known peer
	s.peers.Observe(s.client.PublicKey())

	for {
		s.setStatus(StatusConnecting, nil)

		err := s.invoker.Execute(ctx, func(ctx context.Context) error {
			return s.client.Connect(ctx, s.cfg.URL)
		})
		s.registry.SetBreakerState(s.invoker.State().String())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.setStatus(StatusError, err)
			s.registry.RecordUpstreamConnect(err)
			s.logger.Warn("upstream connect failed", zap.Error(err))
			if !s.pause(ctx) {
				return ctx.Err()
			}
			continue
		}
		s.registry.RecordUpstreamConnect(nil)

		if err := s.subscribeDefaults(ctx); err != nil {
			s.setStatus(StatusError, err)
			s.logger.Warn("failed to issue default subscriptions", zap.Error(err))
			if !s.pause(ctx) {
				return ctx.Err()
			}
			continue
		}

		s.setStatus(StatusConnected, nil)

		err = s.client.Listen(ctx, s.handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setStatus(StatusDisconnected, err)
		if err != nil {
			s.logger.Warn("receive loop ended", zap.Error(err))
		}
		if !s.pause(ctx) {
			return ctx.Err()
		}
	}
}

func (s *Supervisor) subscribeDefaults(ctx context.Context) error {
	if err := s.client.Subscribe(ctx, subGeneral, relay.Filter{
		Kinds: []int{relay.KindTextNote},
	}); err != nil {
		return err
	}

	return s.client.Subscribe(ctx, subDM, relay.Filter{
		Kinds: []int{relay.KindEncryptedDirectMsg},
		Tags:  map[string][]string{"p": {s.client.PublicKey()}},
	})
}

// handle processes one decoded inbound event on the receive loop.
func (s *Supervisor) handle(in relay.Inbound) {
	if err := s.verifier.Verify(in.Event); err != nil {
		s.logger.Warn("dropping event with invalid signature",
			zap.String("event", in.Event.ID),
			zap.String("author", in.Event.PubKey),
			zap.Error(err),
		)
		s.registry.RecordInbound(in.Kind.String(), "dropped_signature")
		return
	}

	s.peers.Observe(in.Event.PubKey)
	s.registry.SetKnownPeers(s.peers.Count())

	if in.Kind == relay.InboundPublicNote {
		s.persist(in.Event)
	}

	select {
	case s.events <- in:
		s.registry.RecordInbound(in.Kind.String(), "ok")
	case <-s.runCtx.Done():
	}
}

// persist writes a public note to its wall thread. Failures are logged, not
// fatal to the stream.
func (s *Supervisor) persist(event relay.Event) {
	thread := event.Tag("t")
	if thread == "" {
		thread = defaultThread
	}

	ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.PersistTimeout)
	defer cancel()

	if _, err := s.store.Publish(ctx, thread, relay.NoteFromEvent(event)); err != nil {
		s.logger.Warn("failed to persist inbound note",
			zap.String("thread", thread),
			zap.String("event", event.ID),
			zap.Error(err),
		)
	}
}

func (s *Supervisor) setStatus(status Status, err error) {
	s.mu.Lock()
	s.status = status
	s.lastErr = err
	s.mu.Unlock()

	s.registry.SetConnectionState(string(status))
}

// pause waits out the reconnect delay; returns false when ctx was cancelled.
func (s *Supervisor) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.cfg.ReconnectDelay):
		return true
	}
}
