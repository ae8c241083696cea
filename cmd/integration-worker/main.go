// Package main is the long-running integration worker.
//
// For every configured integration kind it runs two loops against the
// selected broker (SQS or RabbitMQ):
//
//   - an event listener that expands each incoming event into one
//     integration message per matching organization configuration, and
//   - an integration listener that delivers those messages and decides
//     between success, delayed retry and the dead-letter queue.
//
// A small HTTP server exposes /healthz and /readyz. SIGINT or SIGTERM stops
// the consumers; in-flight messages finish within the shutdown timeout.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"eventrelay/internal/cache"
	"eventrelay/internal/config"
	"eventrelay/internal/db"
	"eventrelay/internal/health"
	"eventrelay/internal/integrations"
	"eventrelay/internal/integrations/core"
	"eventrelay/internal/integrations/dispatch"
	"eventrelay/internal/integrations/listener"
	"eventrelay/internal/integrations/lookup"
	"eventrelay/internal/integrations/templates"
	"eventrelay/internal/logging"
	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

const cacheKeyPrefix = "eventrelay:"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// runner is anything with a blocking Run loop.
type runner interface {
	Run(ctx context.Context) error
}

func run() error {
	cfg, err := config.LoadConfig(config.DefaultSecretProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, _ := logging.New(cfg.LogLevel)
	logger.Info("integration worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kinds, err := cfg.IntegrationKinds()
	if err != nil {
		return err
	}
	if len(kinds) == 0 {
		return errors.New("no integration kinds configured")
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	probes := []health.Probe{poolProbe(pool)}

	store, cacheProbe, closeCache, err := newCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()
	if cacheProbe != nil {
		probes = append(probes, cacheProbe)
	}

	configurations := lookup.NewConfigurationService(db.NewConfigurationRepository(pool), store, cfg.Cache.ConfigurationTTL)
	entities := lookup.NewEntityService(
		db.NewOrganizationUserRepository(pool),
		db.NewOrganizationRepository(pool),
		db.NewGroupRepository(pool),
		store,
		cfg.Cache.EntityTTL,
	)
	builder := templates.NewContextBuilder(entities, logger)

	var awsCfg *aws.Config
	backend, err := cfg.Backend()
	if err != nil {
		return err
	}
	if backend == config.BackendSQS || cfg.Observability.EnableMetrics {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		awsCfg = &loaded
	}

	var metrics core.Metrics = core.NoopMetrics{}
	if cfg.Observability.EnableMetrics {
		metrics = core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(*awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	registry, err := integrations.NewRegistry(cfg, logger)
	if err != nil {
		return err
	}

	b, err := newBroker(cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			logger.Warn("broker close failed", "error", err)
		}
	}()
	if b.probe != nil {
		probes = append(probes, b.probe)
	}

	var runners []runner
	for _, kind := range kinds {
		if err := b.declare(kind); err != nil {
			return fmt.Errorf("declaring %s topology: %w", kind, err)
		}

		handler, ok := registry.Get(kind)
		if !ok {
			return fmt.Errorf("no handler registered for %s", kind)
		}
		runners = append(runners, listener.New(
			kind,
			handler,
			b.retryQueue(kind),
			b.consumer(queue.IntegrationQueueName(kind)),
			cfg.Listener,
			metrics,
			logger,
		))

		dispatcher, err := integrations.NewDispatcher(kind, configurations, builder, b.publisher, logger)
		if err != nil {
			return err
		}
		runners = append(runners, dispatch.NewEventListener(
			dispatcher,
			b.consumer(queue.EventQueueName(kind)),
			logger.With("integration_type", string(kind)),
		))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           health.NewRouter(probes...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return serve(ctx, runners, srv, cfg.Listener.ShutdownTimeout, logger)
}

// serve runs every listener plus the health server until ctx is cancelled or
// one of them fails, then waits up to shutdownTimeout for them to drain.
func serve(ctx context.Context, runners []runner, srv *http.Server, shutdownTimeout time.Duration, logger types.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, r := range runners {
		g.Go(func() error { return r.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info("health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		logger.Info("integration worker stopped")
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining in-flight messages", "timeout", shutdownTimeout.String())
	select {
	case err := <-done:
		logger.Info("integration worker stopped")
		return err
	case <-time.After(shutdownTimeout):
		return errors.New("shutdown timed out with messages still in flight")
	}
}

// newCache returns the shared Redis cache when REDIS_URL is set and the
// in-process cache otherwise. The probe is nil for the in-process cache.
func newCache(cfg config.CacheConfig) (cache.Cache, health.Probe, func(), error) {
	if url := cfg.RedisURL.Unmask(); url != "" {
		client, err := cache.NewRedisClient(url)
		if err != nil {
			return nil, nil, nil, err
		}
		probe := health.ProbeFunc{ProbeName: "cache", Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}}
		return cache.NewRedisCache(client, cacheKeyPrefix), probe, func() { _ = client.Close() }, nil
	}

	mem, err := cache.NewMemoryCache(cfg.MemoryMaxEntries)
	if err != nil {
		return nil, nil, nil, err
	}
	return mem, nil, mem.Close, nil
}

func poolProbe(pool *pgxpool.Pool) health.Probe {
	return health.ProbeFunc{ProbeName: "database", Fn: pool.Ping}
}
