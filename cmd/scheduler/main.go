package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront_backend/internal/events"
	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/orders/leasecache"
	ordersrepo "storefront_backend/internal/orders/repository"
	ordersservice "storefront_backend/internal/orders/service"
	"storefront_backend/internal/payments/gateway"
	"storefront_backend/internal/payments/pubsub"
	paymentsrepo "storefront_backend/internal/payments/repository"
	paymentsservice "storefront_backend/internal/payments/service"
	"storefront_backend/internal/scheduler"
	"storefront_backend/platform/cache"
	"storefront_backend/platform/config"
	"storefront_backend/platform/db"
	"storefront_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// The worker needs Redis for asynq; pushes from expiries reach API
	// processes over the same connection.
	rdb, err := cache.NewClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer rdb.Close()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	ordersStore := ordersrepo.New(pool)
	ordersSvc := ordersservice.New(ordersStore, leasecache.New(rdb), eventBus, monitoring.Nop{}, cfg, log)

	paymentsSvc := paymentsservice.New(paymentsservice.Deps{
		Store:     paymentsrepo.New(pool),
		Orders:    ordersStore,
		Gateway:   gateway.NewHostedCheckout(cfg.GetCheckoutBaseURL(), cfg.GetPaymentReturnURL()),
		Publisher: pubsub.NewPublisher(rdb),
		Bus:       eventBus,
	}, cfg, log)

	reaper := scheduler.NewPeriodicLeaseReaper(ordersSvc, log, cfg.GetLeaseReapInterval())
	go reaper.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, paymentsSvc, ordersSvc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
