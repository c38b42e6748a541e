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

	"storefront_backend/internal/events"
	apphttp "storefront_backend/internal/http"
	"storefront_backend/internal/http/router"
	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/notification"
	"storefront_backend/internal/orders"
	"storefront_backend/internal/orders/leasecache"
	ordersrepo "storefront_backend/internal/orders/repository"
	ordersservice "storefront_backend/internal/orders/service"
	"storefront_backend/internal/payments"
	"storefront_backend/internal/payments/gateway"
	"storefront_backend/internal/payments/pubsub"
	paymentsrepo "storefront_backend/internal/payments/repository"
	paymentsservice "storefront_backend/internal/payments/service"
	"storefront_backend/internal/scheduler"
	"storefront_backend/platform/cache"
	"storefront_backend/platform/config"
	"storefront_backend/platform/db"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	rdb := initRedis(ctx, cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	expiryScheduler, closeScheduler := initExpiryScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Monitoring
	// ========================================================================

	rules := monitoring.DefaultRules()
	if path := cfg.GetAlertRulesFile(); path != "" {
		loaded, err := monitoring.LoadRules(path)
		if err != nil {
			log.Error("failed to load alert rules", "error", err, "path", path)
			panic("failed to load alert rules: " + err.Error())
		}
		rules = loaded
	}
	registry := prometheus.NewRegistry()
	aggregator := monitoring.NewAggregator(monitoring.Options{
		Window:       cfg.GetMetricsWindow(),
		EvalInterval: cfg.GetAlertEvalInterval(),
		Rules:        rules,
		Metrics:      monitoring.NewMetrics(registry),
		Bus:          eventBus,
		Log:          log,
	})
	aggregator.Start(ctx)
	defer aggregator.Stop()
	monitoringModule := monitoring.NewModule(aggregator, registry)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Notification module subscribes to domain events and fans them out over SSE
	notificationModule := notification.New(log)
	notificationModule.RegisterHandlers(eventBus)
	defer notificationModule.Close()

	ordersStore := ordersrepo.New(pool)
	var leaseCache ordersservice.LeaseCache
	if rdb != nil {
		leaseCache = leasecache.New(rdb)
	}
	ordersModule := orders.NewModule(ordersStore, leaseCache, eventBus, aggregator, cfg, val, log)

	paymentDeps := paymentsservice.Deps{
		Store:    paymentsrepo.New(pool),
		Orders:   ordersStore,
		Gateway:  gateway.NewHostedCheckout(cfg.GetCheckoutBaseURL(), cfg.GetPaymentReturnURL()),
		Bus:      eventBus,
		Recorder: aggregator,
	}
	if rdb != nil {
		paymentDeps.Publisher = pubsub.NewPublisher(rdb)
		paymentDeps.Subscriber = pubsub.NewSubscriber(rdb)
	}
	if expiryScheduler != nil {
		paymentDeps.Scheduler = expiryScheduler
	}
	paymentsModule := payments.NewModule(paymentDeps, cfg, val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			ordersModule,
			paymentsModule,
			notificationModule,
			monitoringModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		notificationModule.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; lease cache and payment push disabled")
		return nil
	}
	rdb, err := cache.NewClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis; continuing without it", "error", err)
		return nil
	}
	return rdb
}

func initExpiryScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; payment session expiry disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
