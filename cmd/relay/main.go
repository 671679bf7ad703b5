package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"wall/internal/relay"
	"wall/internal/relay/agent"
	"wall/internal/relay/cache"
	"wall/internal/relay/hub"
	"wall/internal/relay/ident"
	"wall/internal/relay/metrics"
	"wall/internal/relay/peers"
	"wall/internal/relay/resilience"
	"wall/internal/relay/server"
	"wall/internal/relay/tasks"
	"wall/internal/relay/tracing"
	"wall/internal/relay/wall"
)

const cacheSweepPeriod = time.Minute

type Config struct {
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	PrivateKey string `env:"RELAY_PRIVATE_KEY"`
	P2PEnabled bool   `env:"P2P_ENABLED" envDefault:"true"`

	API        server.Config
	Metrics    metrics.ServerConfig
	Tracing    tracing.Config
	Cache      cache.Config
	Breaker    resilience.BreakerConfig
	Retry      resilience.RetryConfig
	Wall       wall.Config
	Sink       wall.SinkConfig
	Cached     wall.CachedConfig
	Supervisor agent.SupervisorConfig
	Agent      agent.Config
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("wall-relay", time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, logger)

	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	identity, err := loadIdentity(cfg.PrivateKey, logger)
	if err != nil {
		log.Fatalf("failed to load identity: %v", err)
	}

	clk := clock.New()

	readCache, err := cache.New[[]relay.Note](cfg.Cache, clk)
	if err != nil {
		log.Fatalf("failed to create cache: %v", err)
	}

	var sink relay.Sink = wall.NopSink{}
	if cfg.Sink.Enabled {
		gitSink, err := wall.NewGitSink(cfg.Sink, cfg.Wall.Path, metricsRegistry, logger)
		if err != nil {
			log.Fatalf("failed to create git sink: %v", err)
		}
		sink = gitSink
	}

	baseStore, err := wall.NewStore(cfg.Wall, sink, logger)
	if err != nil {
		log.Fatalf("failed to create wall store: %v", err)
	}

	metricsStore := wall.NewMetricsStore(baseStore, metricsRegistry)
	tracedStore := wall.NewTracedStore(metricsStore, tracer)

	store, err := wall.NewCachedStore(cfg.Cached, tracedStore, readCache, metricsRegistry, logger)
	if err != nil {
		log.Fatalf("failed to create cached store: %v", err)
	}

	directory, err := peers.New(logger)
	if err != nil {
		log.Fatalf("failed to create peer directory: %v", err)
	}

	fanout, err := hub.New(logger)
	if err != nil {
		log.Fatalf("failed to create hub: %v", err)
	}

	verifier := ident.SchnorrVerifier{}

	var supervisor *agent.Supervisor
	if cfg.P2PEnabled {
		cipher, err := ident.NewCipher(identity)
		if err != nil {
			log.Fatalf("failed to create cipher: %v", err)
		}

		client, err := agent.New(cfg.Agent, identity, cipher, logger)
		if err != nil {
			log.Fatalf("failed to create protocol client: %v", err)
		}

		breaker, err := resilience.NewBreaker(cfg.Breaker, clk, logger)
		if err != nil {
			log.Fatalf("failed to create circuit breaker: %v", err)
		}
		retry, err := resilience.NewRetry(cfg.Retry, logger)
		if err != nil {
			log.Fatalf("failed to create retry policy: %v", err)
		}
		invoker, err := resilience.NewInvoker(breaker, retry)
		if err != nil {
			log.Fatalf("failed to create invoker: %v", err)
		}

		supervisor, err = agent.NewSupervisor(
			cfg.Supervisor,
			client,
			invoker,
			verifier,
			store,
			directory,
			metricsRegistry,
			logger,
		)
		if err != nil {
			log.Fatalf("failed to create supervisor: %v", err)
		}
	}

	var p2p server.P2P
	if supervisor != nil {
		p2p = supervisor
	}

	apiServer, err := server.New(
		cfg.API,
		store,
		verifier,
		fanout,
		directory,
		p2p,
		metricsRegistry,
		logger,
	)
	if err != nil {
		log.Fatalf("failed to create api server: %v", err)
	}

	manager, err := tasks.NewManager(logger)
	if err != nil {
		log.Fatalf("failed to create task manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	manager.Go(ctx, "cache-sweep", func(ctx context.Context) error {
		ticker := clk.Ticker(cacheSweepPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if n := readCache.EvictExpired(); n > 0 {
					logger.Debug("swept expired cache entries", zap.Int("evicted", n))
				}
				metricsRegistry.SetCacheSize(readCache.Stats().Size)
			}
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Start(gctx)
	})

	if supervisor != nil {
		g.Go(func() error {
			return supervisor.Run(gctx)
		})
		g.Go(func() error {
			return fanout.Run(gctx, supervisor.Events())
		})
	}

	logger.Info("wall relay started",
		zap.String("api", apiServer.Addr()),
		zap.Bool("p2p_enabled", cfg.P2PEnabled),
		zap.String("public_key", identity.PublicKey()),
	)

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("error in goroutine", zap.Error(err))
	}

	manager.Shutdown()
	baseStore.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	logger.Info("wall relay stopped")
}

// loadIdentity reads the configured private key, or generates a fresh one and
// logs it so the operator can persist it across restarts.
func loadIdentity(privHex string, logger *zap.Logger) (*ident.Identity, error) {
	if privHex != "" {
		return ident.FromHex(privHex)
	}

	identity, err := ident.Generate()
	if err != nil {
		return nil, err
	}

	logger.Warn("no private key configured, generated a new identity; "+
		"save this key to keep the same identity across restarts",
		zap.String("private_key", identity.PrivateKeyHex()),
		zap.String("public_key", identity.PublicKey()),
	)

	return identity, nil
}
