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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cimillas/ticket-inventory/internal/app"
	"github.com/cimillas/ticket-inventory/internal/clock"
	"github.com/cimillas/ticket-inventory/internal/config"
	"github.com/cimillas/ticket-inventory/internal/notify"
	"github.com/cimillas/ticket-inventory/internal/notify/kafkafeed"
	"github.com/cimillas/ticket-inventory/internal/notify/redisfanout"
	"github.com/cimillas/ticket-inventory/internal/observability"
	"github.com/cimillas/ticket-inventory/internal/payment"
	"github.com/cimillas/ticket-inventory/internal/storage/memory"
	"github.com/cimillas/ticket-inventory/internal/storage/postgres"
	"github.com/cimillas/ticket-inventory/internal/subscription"
	transporthttp "github.com/cimillas/ticket-inventory/internal/transport/http"
	"github.com/cimillas/ticket-inventory/migrations"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// store is everything the services need from storage.
type store interface {
	app.ReservationRepository
	app.TicketRepository
	app.AdminRepository
	Ping(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "", "path to a YAML config file")
	port := pflag.Int("port", 0, "listen port (overrides config and PORT)")
	storage := pflag.String("storage", "", "storage back end: postgres or memory")
	pflag.Parse()

	envPath, envErr := config.LoadDotEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *storage != "" {
		cfg.Storage = *storage
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	switch {
	case envErr != nil:
		logger.Warn("failed to load .env", zap.Error(envErr))
	case envPath != "":
		logger.Info("loaded env file", zap.String("path", envPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	shutdownTelemetry, err := observability.Setup(startupCtx, cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	repo, closeStore, err := openStore(startupCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	clk := clock.NewSystem()
	registry := subscription.NewRegistry(
		subscription.WithBuffer(cfg.SubscriberBuffer),
		subscription.WithLogger(logger.Named("subscription")),
	)
	defer registry.Close()

	g, gctx := errgroup.WithContext(ctx)

	sinks := []notify.Sink{}
	if cfg.RedisURL != "" {
		client, err := redisfanout.Connect(startupCtx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		// Local observers are fed by the relay, this instance included.
		sinks = append(sinks, redisfanout.NewSink(client, redisfanout.DefaultChannelPrefix))
		relay := redisfanout.NewRelay(client, redisfanout.DefaultChannelPrefix, registry, logger.Named("relay"))
		g.Go(func() error { return relay.RunWithRetry(gctx) })
		logger.Info("cross-instance fan-out enabled", zap.String("redis", redactRedis(cfg.RedisURL)))
	} else {
		sinks = append(sinks, notify.RegistrySink{Registry: registry})
	}
	if len(cfg.KafkaBrokers) > 0 {
		feed, err := kafkafeed.NewSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer func() { _ = feed.Close() }()
		sinks = append(sinks, feed)
		logger.Info("kafka change feed enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	publisher := notify.NewPublisher(sinks,
		notify.WithQueueSize(cfg.PublishQueue),
		notify.WithLogger(logger.Named("notify")),
		notify.WithClock(clk),
	)
	// Drain before the sinks and registry close.
	defer publisher.Close()

	var payments payment.Authorizer = payment.StaticAuthorizer{Approve: true}
	if cfg.PaymentURL != "" {
		payments = payment.NewHTTPAuthorizer(cfg.PaymentURL, &http.Client{Timeout: cfg.PaymentTimeout})
	} else {
		logger.Warn("PAYMENT_URL not set, approving every payment")
	}

	inventory := app.NewInventoryService(repo)
	admin := app.NewAdminService(repo, clk)
	handler := transporthttp.NewRouter(transporthttp.Services{
		Reservations: app.NewReservationService(repo, payments, publisher, clk,
			app.WithCurrency(cfg.Currency),
			app.WithPaymentTimeout(cfg.PaymentTimeout),
			app.WithReservationLogger(logger.Named("reservations")),
		),
		Inventory: inventory,
		Tickets:   app.NewTicketService(repo, publisher, clk, logger.Named("tickets")),
		Admin:     admin,
		Streams:   transporthttp.NewStreams(registry, inventory, admin, cfg.CORSOrigins, clk, logger.Named("streams")),
		Storage:   repo,
	}, cfg.CORSOrigins, logger.Named("http"))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", server.Addr), zap.String("storage", cfg.Storage))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store, func(), error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage, data is lost on exit")
		return memory.New(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", zap.Strings("names", applied))
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func redactRedis(raw string) string {
	opt, err := redis.ParseURL(raw)
	if err != nil {
		return raw
	}
	return opt.Addr
}
