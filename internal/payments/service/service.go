// Package service implements the server half of payment verification:
// session creation, verification answers, gateway callbacks and expiry.
package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"storefront_backend/internal/events"
	"storefront_backend/internal/monitoring"
	ordersdomain "storefront_backend/internal/orders/domain"
	"storefront_backend/internal/payments/domain"
	"storefront_backend/internal/payments/gateway"
	"storefront_backend/internal/payments/pubsub"
	"storefront_backend/internal/payments/repository"
	"storefront_backend/internal/payments/transport"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	defaultCurrency = "EUR"
	// pollStep is how long a session stays at one poll interval before the
	// hint doubles.
	pollStep = 30 * time.Second

	msgAmountNotPositive = "amount must be greater than zero"
	msgBadSignature      = "invalid callback signature"
	msgBadCallback       = "malformed callback payload"
	msgUnknownOutcome    = "unknown callback status"
)

// OrderReader looks up the order a payment belongs to.
type OrderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (ordersdomain.Order, error)
}

// ExpiryScheduler arranges for a pending session to be expired later.
type ExpiryScheduler interface {
	SchedulePaymentExpiry(ctx context.Context, reference string, runAt time.Time) error
}

// StatusPublisher pushes status changes to waiting clients.
type StatusPublisher interface {
	Publish(ctx context.Context, msg pubsub.Message) error
}

// StatusSubscriber streams status changes of one reference.
type StatusSubscriber interface {
	Subscribe(ctx context.Context, reference string) (<-chan pubsub.Message, error)
}

// Deps are the collaborators of the payments service. Publisher, Subscriber,
// Scheduler, Bus and Recorder may be nil.
type Deps struct {
	Store      repository.Store
	Orders     OrderReader
	Gateway    gateway.Gateway
	Publisher  StatusPublisher
	Subscriber StatusSubscriber
	Scheduler  ExpiryScheduler
	Bus        events.Bus
	Recorder   monitoring.Recorder
}

// Service handles payment sessions.
type Service struct {
	deps     Deps
	secret   []byte
	ttl      time.Duration
	pollBase time.Duration
	pollMax  time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// New creates the payments service.
func New(deps Deps, cfg config.PaymentConfig, log *logger.Logger) *Service {
	if deps.Recorder == nil {
		deps.Recorder = monitoring.Nop{}
	}
	return &Service{
		deps:     deps,
		secret:   []byte(cfg.GetPaymentCallbackSecret()),
		ttl:      cfg.GetPaymentSessionTTL(),
		pollBase: cfg.GetPaymentPollBaseInterval(),
		pollMax:  cfg.GetPaymentPollMaxInterval(),
		log:      log,
		now:      time.Now,
	}
}

// Initiate opens a checkout session for an order and returns its server reference.
func (s *Service) Initiate(ctx context.Context, req transport.InitiatePaymentRequest) (transport.InitiatePaymentResponse, error) {
	if !req.Amount.IsPositive() {
		return transport.InitiatePaymentResponse{}, apperr.Validation(msgAmountNotPositive)
	}
	if _, err := s.deps.Orders.GetOrder(ctx, req.OrderID); err != nil {
		return transport.InitiatePaymentResponse{}, err
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	ref, err := domain.NewReference()
	if err != nil {
		return transport.InitiatePaymentResponse{}, apperr.Wrap(apperr.KindInternal, "failed to issue payment reference", err)
	}
	checkout, err := s.deps.Gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		Reference:   ref,
		Amount:      req.Amount,
		Currency:    currency,
		CustomerRef: sanitize.Text(req.CustomerRef),
	})
	if err != nil {
		return transport.InitiatePaymentResponse{}, apperr.Transient("payment provider unavailable", err)
	}

	now := s.now()
	session := domain.Session{
		Reference:   ref,
		OrderID:     req.OrderID,
		Amount:      req.Amount.Round(2),
		Currency:    currency,
		Status:      domain.VerifyPending,
		RedirectURL: checkout.RedirectURL,
		CreatedAt:   now,
	}
	if err := s.deps.Store.Create(ctx, session); err != nil {
		return transport.InitiatePaymentResponse{}, err
	}

	expiresAt := now.Add(s.ttl)
	if s.deps.Scheduler != nil {
		if err := s.deps.Scheduler.SchedulePaymentExpiry(ctx, ref, expiresAt); err != nil {
			s.log.Error("schedule payment expiry failed", "reference", ref, "error", err)
		}
	}
	s.log.PaymentEvent("initiate", ref, string(domain.VerifyPending), "")

	return transport.InitiatePaymentResponse{Reference: ref, RedirectURL: checkout.RedirectURL, ExpiresAt: expiresAt}, nil
}

// Verify reports the status of reference. Unknown references are answered
// with not_found rather than an error so that clients treat them as final.
func (s *Service) Verify(ctx context.Context, reference string) (transport.VerifyPaymentResponse, error) {
	if err := domain.ValidateServerReference(reference); err != nil {
		return transport.VerifyPaymentResponse{}, err
	}
	session, err := s.deps.Store.Get(ctx, reference)
	if apperr.Is(err, apperr.KindNotFound) {
		return transport.VerifyPaymentResponse{Reference: reference, Status: string(domain.VerifyNotFound)}, nil
	}
	if err != nil {
		return transport.VerifyPaymentResponse{}, err
	}

	resp := transport.VerifyPaymentResponse{
		Reference: reference,
		Status:    string(session.Status),
		Reason:    session.FailureReason,
	}
	switch session.Status {
	case domain.VerifySuccess:
		amount := session.Amount
		resp.Amount = &amount
		resp.PaidAt = session.SettledAt
	case domain.VerifyPending:
		resp.NextPollInMs = s.nextPollIn(s.now().Sub(session.CreatedAt)).Milliseconds()
	}
	return resp, nil
}

// nextPollIn doubles the base interval for every pollStep the session has
// been pending, up to the maximum.
func (s *Service) nextPollIn(age time.Duration) time.Duration {
	d := s.pollBase
	for steps := age / pollStep; steps > 0 && d < s.pollMax; steps-- {
		d *= 2
	}
	if s.pollMax > 0 && d > s.pollMax {
		d = s.pollMax
	}
	return d
}

// HandleCallback authenticates and applies a gateway callback. Replays of
// an already applied outcome succeed without a second transition.
func (s *Service) HandleCallback(ctx context.Context, payload []byte, signature string) error {
	if !gateway.Verify(s.secret, payload, signature) {
		s.log.AuthEvent("payment_callback", "gateway", false, "signature mismatch")
		return apperr.Unauthorized(msgBadSignature)
	}

	var cb gateway.Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return apperr.Validation(msgBadCallback)
	}
	if err := domain.ValidateServerReference(cb.Reference); err != nil {
		return err
	}
	s.log.AuthEvent("payment_callback", cb.Reference, true, "")

	session, err := s.deps.Store.Get(ctx, cb.Reference)
	if err != nil {
		return err
	}

	var status domain.VerifyStatus
	reason := cb.Reason
	switch cb.Status {
	case gateway.CallbackPaid:
		status = domain.VerifySuccess
		if !cb.Amount.Equal(session.Amount) {
			status = domain.VerifyFailed
			reason = domain.ReasonAmountMismatch
			s.log.Warn("payment amount mismatch",
				"reference", cb.Reference,
				"expected", session.Amount.String(),
				"received", cb.Amount.String(),
			)
		}
	case gateway.CallbackFailed:
		status = domain.VerifyFailed
		if reason == "" {
			reason = domain.ReasonDeclined
		}
	default:
		return apperr.Validation(msgUnknownOutcome)
	}

	at := s.now()
	if cb.PaidAt != nil && status == domain.VerifySuccess {
		at = *cb.PaidAt
	}
	_, err = s.settle(ctx, cb.Reference, status, reason, at, monitoring.ChannelCallback)
	return err
}

// ExpireIfPending fails a session that is still pending after its TTL.
func (s *Service) ExpireIfPending(ctx context.Context, reference string) error {
	_, err := s.settle(ctx, reference, domain.VerifyFailed, domain.ReasonExpired, s.now(), monitoring.ChannelExpiry)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	return err
}

// Watch streams status events for reference until ctx ends. A reference that
// is already terminal yields its final status once.
func (s *Service) Watch(ctx context.Context, reference string) (<-chan transport.PaymentStatusEvent, error) {
	if err := domain.ValidateServerReference(reference); err != nil {
		return nil, err
	}
	if s.deps.Subscriber == nil {
		return nil, apperr.Transient("payment status stream unavailable", nil)
	}

	// Subscribe before reading so a settle in between is not lost.
	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := s.deps.Subscriber.Subscribe(subCtx, reference)
	if err != nil {
		cancel()
		return nil, apperr.Transient("payment status stream unavailable", err)
	}
	session, err := s.deps.Store.Get(ctx, reference)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan transport.PaymentStatusEvent, 1)
	if session.Status != domain.VerifyPending {
		cancel()
		out <- toStatusEvent(pubsub.Message{Reference: reference, Status: session.Status, Reason: session.FailureReason, SettledAt: session.SettledAt})
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		defer cancel()
		for msg := range msgs {
			select {
			case out <- toStatusEvent(msg):
			case <-subCtx.Done():
				return
			}
			if msg.Status != domain.VerifyPending {
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) settle(ctx context.Context, reference string, status domain.VerifyStatus, reason string, at time.Time, channel string) (domain.Session, error) {
	session, settled, err := s.deps.Store.Settle(ctx, reference, status, reason, at)
	if err != nil {
		return domain.Session{}, err
	}
	if !settled {
		s.log.PaymentEvent("settle_replay", reference, string(session.Status), channel)
		return session, nil
	}

	s.log.PaymentEvent("settle", reference, string(status), channel)
	label := string(status)
	if reason == domain.ReasonExpired {
		label = string(domain.StatusTimeout)
	}
	s.deps.Recorder.PaymentSettled(label, channel)

	if s.deps.Publisher != nil {
		msg := pubsub.Message{Reference: reference, Status: status, Reason: reason, SettledAt: session.SettledAt}
		if err := s.deps.Publisher.Publish(ctx, msg); err != nil {
			// Pollers still converge on the stored status.
			s.log.Warn("payment status publish failed", "reference", reference, "error", err)
		}
	}
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ctx, events.PaymentSettled{
			BaseEvent: events.NewBaseEvent(),
			Reference: reference,
			OrderID:   session.OrderID,
			Status:    string(status),
			Reason:    reason,
			Amount:    session.Amount,
			SettledAt: at,
		})
		s.deps.Bus.Publish(ctx, events.TargetInvalidated{
			BaseEvent:  events.NewBaseEvent(),
			TargetType: "order",
			TargetID:   session.OrderID.String(),
			Reason:     "payment_settled",
		})
	}
	return session, nil
}

func toStatusEvent(msg pubsub.Message) transport.PaymentStatusEvent {
	return transport.PaymentStatusEvent{
		Reference: msg.Reference,
		Status:    string(msg.Status),
		Reason:    msg.Reason,
		SettledAt: msg.SettledAt,
	}
}
