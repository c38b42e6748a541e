package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"storefront_backend/internal/events"
	ordersdomain "storefront_backend/internal/orders/domain"
	ordersrepo "storefront_backend/internal/orders/repository"
	"storefront_backend/internal/payments/domain"
	"storefront_backend/internal/payments/gateway"
	"storefront_backend/internal/payments/pubsub"
	"storefront_backend/internal/payments/repository"
	"storefront_backend/internal/payments/transport"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	platformevents "storefront_backend/platform/events"
	"storefront_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const secret = "test-callback-secret"

type scheduledExpiry struct {
	reference string
	runAt     time.Time
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduledExpiry
}

func (f *fakeScheduler) SchedulePaymentExpiry(_ context.Context, reference string, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, scheduledExpiry{reference: reference, runAt: runAt})
	return nil
}

type fixture struct {
	svc       *Service
	store     *repository.MemoryStore
	scheduler *fakeScheduler
	bus       *platformevents.InMemoryBus
	orderID   uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	orders := ordersrepo.NewMemoryStore(nil)
	orderID := uuid.New()
	orders.PutOrder(ordersdomain.Order{ID: orderID, CustomerID: uuid.New(), Status: ordersdomain.StatusPending})

	store := repository.NewMemoryStore()
	scheduler := &fakeScheduler{}
	bus := platformevents.NewInMemoryBus(logger.Discard())
	cfg := &config.Config{
		PaymentCallbackSecret:   secret,
		PaymentSessionTTL:       15 * time.Minute,
		PaymentPollBaseInterval: 2 * time.Second,
		PaymentPollMaxInterval:  15 * time.Second,
	}
	svc := New(Deps{
		Store:      store,
		Orders:     orders,
		Gateway:    gateway.NewHostedCheckout("https://pay.example.com/checkout", ""),
		Publisher:  pubsub.NewPublisher(rdb),
		Subscriber: pubsub.NewSubscriber(rdb),
		Scheduler:  scheduler,
		Bus:        bus,
	}, cfg, logger.Discard())
	return fixture{svc: svc, store: store, scheduler: scheduler, bus: bus, orderID: orderID}
}

func (f fixture) initiate(t *testing.T, amount string) transport.InitiatePaymentResponse {
	t.Helper()
	resp, err := f.svc.Initiate(context.Background(), transport.InitiatePaymentRequest{
		OrderID: f.orderID,
		Amount:  decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return resp
}

func signedCallback(t *testing.T, cb gateway.Callback) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(cb)
	if err != nil {
		t.Fatalf("marshal callback: %v", err)
	}
	return payload, gateway.Sign([]byte(secret), payload)
}

func TestInitiateIssuesServerReferenceAndSchedulesExpiry(t *testing.T) {
	f := newFixture(t)
	resp := f.initiate(t, "42.50")

	if !domain.IsServerReference(resp.Reference) {
		t.Fatalf("expected server reference, got %q", resp.Reference)
	}
	if resp.RedirectURL == "" {
		t.Fatalf("expected redirect url")
	}
	if len(f.scheduler.tasks) != 1 || f.scheduler.tasks[0].reference != resp.Reference {
		t.Fatalf("expected expiry to be scheduled, got %+v", f.scheduler.tasks)
	}

	v, err := f.svc.Verify(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Status != string(domain.VerifyPending) || v.NextPollInMs != 2000 {
		t.Fatalf("unexpected verify response %+v", v)
	}
}

func TestInitiateRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Initiate(context.Background(), transport.InitiatePaymentRequest{OrderID: f.orderID, Amount: decimal.Zero})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyRejectsClientReference(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), "ORDER-123-client")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyUnknownReferenceIsNotFoundStatus(t *testing.T) {
	f := newFixture(t)
	ref, _ := domain.NewReference()
	v, err := f.svc.Verify(context.Background(), ref)
	if err != nil || v.Status != string(domain.VerifyNotFound) {
		t.Fatalf("expected not_found status, got %+v err=%v", v, err)
	}
}

func TestCallbackSettlesOnceAndPublishes(t *testing.T) {
	f := newFixture(t)
	resp := f.initiate(t, "19.90")

	var settledEvents sync.WaitGroup
	settledEvents.Add(1)
	var count int
	var mu sync.Mutex
	f.bus.Subscribe(events.PaymentSettled{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == 1 {
			settledEvents.Done()
		}
		return nil
	}))

	payload, sig := signedCallback(t, gateway.Callback{Reference: resp.Reference, Status: gateway.CallbackPaid, Amount: decimal.RequireFromString("19.9")})
	for i := 0; i < 2; i++ {
		if err := f.svc.HandleCallback(context.Background(), payload, sig); err != nil {
			t.Fatalf("callback %d: %v", i, err)
		}
	}
	settledEvents.Wait()
	f.bus.Wait()

	if count != 1 {
		t.Fatalf("expected one settled event, got %d", count)
	}
	v, _ := f.svc.Verify(context.Background(), resp.Reference)
	if v.Status != string(domain.VerifySuccess) || v.Amount == nil || !v.Amount.Equal(decimal.RequireFromString("19.90")) {
		t.Fatalf("unexpected verify after callback %+v", v)
	}
}

func TestCallbackWithBadSignatureIsRejected(t *testing.T) {
	f := newFixture(t)
	resp := f.initiate(t, "10.00")

	payload, _ := signedCallback(t, gateway.Callback{Reference: resp.Reference, Status: gateway.CallbackPaid, Amount: decimal.NewFromInt(10)})
	err := f.svc.HandleCallback(context.Background(), payload, gateway.Sign([]byte("forged"), payload))
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	s, _ := f.store.Get(context.Background(), resp.Reference)
	if s.Status != domain.VerifyPending {
		t.Fatalf("expected session untouched, got %s", s.Status)
	}
}

func TestCallbackAmountMismatchFails(t *testing.T) {
	f := newFixture(t)
	resp := f.initiate(t, "10.00")

	payload, sig := signedCallback(t, gateway.Callback{Reference: resp.Reference, Status: gateway.CallbackPaid, Amount: decimal.RequireFromString("0.01")})
	if err := f.svc.HandleCallback(context.Background(), payload, sig); err != nil {
		t.Fatalf("callback: %v", err)
	}
	s, _ := f.store.Get(context.Background(), resp.Reference)
	if s.Status != domain.VerifyFailed || s.FailureReason != domain.ReasonAmountMismatch {
		t.Fatalf("expected amount mismatch failure, got %+v", s)
	}
}

func TestExpireOnlyAffectsPendingSessions(t *testing.T) {
	f := newFixture(t)
	paid := f.initiate(t, "5.00")
	stale := f.initiate(t, "6.00")

	payload, sig := signedCallback(t, gateway.Callback{Reference: paid.Reference, Status: gateway.CallbackPaid, Amount: decimal.NewFromInt(5)})
	if err := f.svc.HandleCallback(context.Background(), payload, sig); err != nil {
		t.Fatalf("callback: %v", err)
	}

	for _, ref := range []string{paid.Reference, stale.Reference} {
		if err := f.svc.ExpireIfPending(context.Background(), ref); err != nil {
			t.Fatalf("expire %s: %v", ref, err)
		}
	}
	if s, _ := f.store.Get(context.Background(), paid.Reference); s.Status != domain.VerifySuccess {
		t.Fatalf("expected paid session to stay successful, got %s", s.Status)
	}
	if s, _ := f.store.Get(context.Background(), stale.Reference); s.Status != domain.VerifyFailed || s.FailureReason != domain.ReasonExpired {
		t.Fatalf("expected stale session expired, got %+v", s)
	}
}

func TestWatchDeliversSettlement(t *testing.T) {
	f := newFixture(t)
	resp := f.initiate(t, "12.00")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := f.svc.Watch(ctx, resp.Reference)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	payload, sig := signedCallback(t, gateway.Callback{Reference: resp.Reference, Status: gateway.CallbackFailed})
	if err := f.svc.HandleCallback(context.Background(), payload, sig); err != nil {
		t.Fatalf("callback: %v", err)
	}

	select {
	case ev := <-stream:
		if ev.Status != string(domain.VerifyFailed) || ev.Reason != domain.ReasonDeclined {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no status event delivered")
	}
	if _, ok := <-stream; ok {
		t.Fatalf("expected stream to close after a terminal status")
	}
}

func TestWatchTerminalSessionEmitsOnce(t *testing.T) {
	f := newFixture(t)
	resp := f.initiate(t, "3.00")
	if err := f.svc.ExpireIfPending(context.Background(), resp.Reference); err != nil {
		t.Fatalf("expire: %v", err)
	}

	stream, err := f.svc.Watch(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	ev, ok := <-stream
	if !ok || ev.Status != string(domain.VerifyFailed) {
		t.Fatalf("expected final status, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-stream; ok {
		t.Fatalf("expected stream closed")
	}
}

func TestNextPollInGrowsToMax(t *testing.T) {
	f := newFixture(t)
	cases := map[time.Duration]time.Duration{
		0:                2 * time.Second,
		45 * time.Second: 4 * time.Second,
		95 * time.Second: 15 * time.Second,
		10 * time.Minute: 15 * time.Second,
	}
	for age, want := range cases {
		if got := f.svc.nextPollIn(age); got != want {
			t.Fatalf("nextPollIn(%v) = %v, want %v", age, got, want)
		}
	}
}
