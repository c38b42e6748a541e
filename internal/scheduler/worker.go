package scheduler

import (
	"context"
	"fmt"

	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// PaymentExpirer fails a payment session that is still pending.
type PaymentExpirer interface {
	ExpireIfPending(ctx context.Context, reference string) error
}

// LeaseReaper releases expired order update leases.
type LeaseReaper interface {
	ReapExpiredLeases(ctx context.Context) (int, error)
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	payments PaymentExpirer
	leases   LeaseReaper
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, payments PaymentExpirer, leases LeaseReaper, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(payments, leases, log)
	w.server = server
	return w, nil
}

func newWorker(payments PaymentExpirer, leases LeaseReaper, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:      mux,
		payments: payments,
		leases:   leases,
		log:      log,
	}

	mux.HandleFunc(TaskPaymentSessionExpire, w.handlePaymentExpire)
	mux.HandleFunc(TaskOrdersLeasesReap, w.handleLeaseReap)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handlePaymentExpire(ctx context.Context, task *asynq.Task) error {
	if w.payments == nil {
		return nil
	}

	payload, err := ParsePaymentExpirePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.Reference == "" {
		return fmt.Errorf("%w: empty reference", asynq.SkipRetry)
	}

	if err := w.payments.ExpireIfPending(ctx, payload.Reference); err != nil {
		w.log.DatabaseError("expire payment session", err)
		return err
	}
	return nil
}

func (w *Worker) handleLeaseReap(ctx context.Context, _ *asynq.Task) error {
	if w.leases == nil {
		return nil
	}

	reaped, err := w.leases.ReapExpiredLeases(ctx)
	if err != nil {
		w.log.DatabaseError("reap expired leases", err)
		return err
	}
	if reaped > 0 {
		w.log.Info("released expired order leases", "reaped", reaped)
	}
	return nil
}
