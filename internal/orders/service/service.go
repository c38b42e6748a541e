package service

import (
	"context"
	"time"

	"storefront_backend/internal/events"
	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/orders/domain"
	"storefront_backend/internal/orders/leasecache"
	"storefront_backend/internal/orders/repository"
	"storefront_backend/internal/orders/transport"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	msgUnknownStatus   = "unknown order status"
	msgKeyMismatch     = "idempotency key does not match the requested update"
	msgLeaseHeld       = "order is being updated by another admin"
	invalidationReason = "status_changed"
)

// LeaseCache is the backend-side cache of lease holders.
type LeaseCache interface {
	Get(ctx context.Context, targetID uuid.UUID) (leasecache.Entry, bool, error)
	Set(ctx context.Context, lease domain.UpdateLease, now time.Time) error
	Invalidate(ctx context.Context, targetID uuid.UUID) error
}

// Service implements the lease-guarded status update path.
type Service struct {
	store    repository.Store
	cache    LeaseCache
	bus      events.Bus
	recorder monitoring.Recorder
	leaseTTL time.Duration
	// replayWindow is how long a success keeps answering replays of its key.
	replayWindow time.Duration
	log          *logger.Logger
	now          func() time.Time
}

// New creates the orders service. cache may be nil when Redis is not configured.
func New(store repository.Store, cache LeaseCache, bus events.Bus, recorder monitoring.Recorder, cfg config.CoordinationConfig, log *logger.Logger) *Service {
	if recorder == nil {
		recorder = monitoring.Nop{}
	}
	return &Service{
		store:        store,
		cache:        cache,
		bus:          bus,
		recorder:     recorder,
		leaseTTL:     cfg.GetLeaseDuration(),
		replayWindow: cfg.GetLeaseDuration() + cfg.GetLeaseBuffer(),
		log:          log,
		now:          time.Now,
	}
}

// GetOrder returns the order with its in-progress marker.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (transport.OrderResponse, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return transport.OrderResponse{}, err
	}
	return transport.OrderResponse{
		ID:               o.ID,
		CustomerID:       o.CustomerID,
		Status:           o.Status,
		UpdateInProgress: o.UpdateInProgress,
		UpdatedAt:        o.UpdatedAt,
	}, nil
}

// SubmitUpdate applies a status change under the update lease. A replay of a
// key that succeeded within the replay window reports outcome cached without a
// second effect, even when another update landed in between.
func (s *Service) SubmitUpdate(ctx context.Context, actorID, targetID uuid.UUID, req transport.SubmitStatusRequest) (transport.UpdateResponse, error) {
	start := s.now()
	if !domain.IsKnownStatus(req.Status) {
		return transport.UpdateResponse{}, apperr.Validation(msgUnknownStatus)
	}
	key := domain.IdempotencyKey(actorID, targetID, req.Status)
	if req.IdempotencyKey != key {
		return transport.UpdateResponse{}, apperr.Validation(msgKeyMismatch)
	}

	order, err := s.store.GetOrder(ctx, targetID)
	if err != nil {
		return transport.UpdateResponse{}, err
	}

	intent := domain.UpdateIntent{
		TargetID:       targetID,
		DesiredState:   req.Status,
		ActorID:        actorID,
		IdempotencyKey: key,
		AuditNonce:     req.AuditNonce,
	}

	applied, err := s.store.AppliedIntent(ctx, targetID, key, s.replayWindow)
	if err != nil {
		return transport.UpdateResponse{}, err
	}
	if applied != nil {
		s.recorder.UpdateAttempt(monitoring.OutcomeCached, s.now().Sub(start))
		return s.replayed(ctx, intent, order.Status), nil
	}

	if err := s.precheckCache(ctx, targetID, actorID); err != nil {
		intent.Outcome = domain.OutcomeConflict
		s.recordIntent(ctx, intent)
		s.recorder.UpdateAttempt(monitoring.OutcomeConflict, s.now().Sub(start))
		return transport.UpdateResponse{}, err
	}

	lease, acquired, err := s.store.AcquireLease(ctx, targetID, actorID, s.leaseTTL)
	if err != nil {
		s.recorder.UpdateAttempt(monitoring.OutcomeFailed, s.now().Sub(start))
		return transport.UpdateResponse{}, err
	}
	if !acquired {
		s.cacheLease(ctx, lease)
		intent.Outcome = domain.OutcomeConflict
		s.recordIntent(ctx, intent)
		s.recorder.UpdateAttempt(monitoring.OutcomeConflict, s.now().Sub(start))
		s.log.LeaseEvent("submit", targetID.String(), actorID.String(), string(domain.OutcomeConflict))
		return transport.UpdateResponse{}, leaseConflict(lease.HolderID, lease.ExpiresAt)
	}
	s.cacheLease(ctx, lease)

	resp, err := s.applyAndRelease(ctx, intent, false)
	outcome := monitoring.OutcomeSuccess
	if resp.Cached {
		outcome = monitoring.OutcomeCached
	}
	if err != nil {
		outcome = monitoring.OutcomeFailed
		if apperr.Is(err, apperr.KindLeaseConflict) {
			outcome = monitoring.OutcomeConflict
		}
	}
	s.recorder.UpdateAttempt(outcome, s.now().Sub(start))
	return resp, err
}

// InspectLease reports the lease state seen by actorID. A cached holder that
// Postgres no longer confirms is dropped from the cache.
func (s *Service) InspectLease(ctx context.Context, actorID, targetID uuid.UUID) (transport.LeaseResponse, error) {
	if _, err := s.store.GetOrder(ctx, targetID); err != nil {
		return transport.LeaseResponse{}, err
	}
	lease, err := s.store.ActiveLease(ctx, targetID)
	if err != nil {
		return transport.LeaseResponse{}, err
	}
	now := s.now()
	state := domain.StateFor(lease, actorID, now)

	if s.cache != nil {
		entry, ok, err := s.cache.Get(ctx, targetID)
		if err == nil && ok && (lease == nil || entry.HolderID != lease.HolderID) {
			s.recorder.CacheLookup(monitoring.CacheStale)
			if lease == nil {
				_ = s.cache.Invalidate(ctx, targetID)
			} else {
				s.cacheLease(ctx, *lease)
			}
		}
	}
	s.recorder.LockInspected(state.IsLocked)

	return transport.LeaseResponse{
		IsLocked:  state.IsLocked,
		IsHolder:  state.IsHolder,
		HolderID:  state.HolderID,
		ExpiresAt: state.ExpiresAt,
	}, nil
}

// BypassUpdate invalidates cached lease state, takes the lease regardless of
// the current holder and applies the status.
func (s *Service) BypassUpdate(ctx context.Context, actorID, targetID uuid.UUID, req transport.BypassStatusRequest) (transport.UpdateResponse, error) {
	if !domain.IsKnownStatus(req.Status) {
		return transport.UpdateResponse{}, apperr.Validation(msgUnknownStatus)
	}
	if _, err := s.store.GetOrder(ctx, targetID); err != nil {
		return transport.UpdateResponse{}, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, targetID); err != nil {
			s.log.Warn("lease cache invalidate failed", "orderId", targetID, "error", err)
		}
	}

	previous, err := s.store.ActiveLease(ctx, targetID)
	if err != nil {
		return transport.UpdateResponse{}, err
	}
	if _, err := s.store.ForceAcquireLease(ctx, targetID, actorID, s.leaseTTL); err != nil {
		return transport.UpdateResponse{}, err
	}
	if previous != nil && previous.HolderID != actorID {
		s.log.Warn("lease taken over by bypass", "orderId", targetID, "previousHolder", previous.HolderID, "actor", actorID)
	}

	intent := domain.UpdateIntent{
		TargetID:       targetID,
		DesiredState:   req.Status,
		ActorID:        actorID,
		IdempotencyKey: domain.IdempotencyKey(actorID, targetID, req.Status),
		AuditNonce:     req.AuditNonce,
	}
	resp, err := s.applyAndRelease(ctx, intent, true)
	s.log.LeaseEvent("bypass", targetID.String(), actorID.String(), outcomeLabel(err))
	return resp, err
}

// ReapExpiredLeases releases expired leases and drops their cache entries.
func (s *Service) ReapExpiredLeases(ctx context.Context) (int, error) {
	reaped, err := s.store.ReapExpired(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range reaped {
		if s.cache != nil {
			_ = s.cache.Invalidate(ctx, l.TargetID)
		}
		s.publish(ctx, events.LeaseReaped{BaseEvent: events.NewBaseEvent(), OrderID: l.TargetID, HolderID: l.HolderID})
		s.publish(ctx, events.TargetInvalidated{BaseEvent: events.NewBaseEvent(), TargetType: "order", TargetID: l.TargetID.String(), Reason: "lease_reaped"})
	}
	return len(reaped), nil
}

func (s *Service) applyAndRelease(ctx context.Context, intent domain.UpdateIntent, bypass bool) (transport.UpdateResponse, error) {
	res, err := s.store.ApplyStatus(ctx, repository.ApplyParams{
		TargetID:       intent.TargetID,
		ActorID:        intent.ActorID,
		DesiredState:   intent.DesiredState,
		IdempotencyKey: intent.IdempotencyKey,
		AuditNonce:     intent.AuditNonce,
		ReplayWindow:   s.replayWindow,
	})
	if err != nil {
		if apperr.Is(err, apperr.KindLeaseConflict) {
			intent.Outcome = domain.OutcomeConflict
		} else {
			intent.Outcome = domain.OutcomeFailed
			s.release(ctx, intent.TargetID, intent.ActorID)
		}
		s.recordIntent(ctx, intent)
		return transport.UpdateResponse{}, err
	}

	s.release(ctx, intent.TargetID, intent.ActorID)
	if res.Replayed {
		return s.replayed(ctx, intent, res.Status), nil
	}
	s.log.LeaseEvent("apply", intent.TargetID.String(), intent.ActorID.String(), string(domain.OutcomeSuccess))

	s.publish(ctx, events.OrderStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		OrderID:        intent.TargetID,
		ActorID:        intent.ActorID,
		OldStatus:      res.PreviousStatus,
		NewStatus:      intent.DesiredState,
		IdempotencyKey: intent.IdempotencyKey,
		Bypass:         bypass,
	})
	s.publish(ctx, events.TargetInvalidated{
		BaseEvent:  events.NewBaseEvent(),
		TargetType: "order",
		TargetID:   intent.TargetID.String(),
		Reason:     invalidationReason,
	})
	return toUpdateResponse(intent.TargetID, intent.DesiredState, domain.OutcomeSuccess, intent.IdempotencyKey), nil
}

// replayed records a cached intent and answers with the order's current status.
func (s *Service) replayed(ctx context.Context, intent domain.UpdateIntent, current string) transport.UpdateResponse {
	intent.Outcome = domain.OutcomeCached
	s.recordIntent(ctx, intent)
	s.log.LeaseEvent("submit", intent.TargetID.String(), intent.ActorID.String(), string(domain.OutcomeCached))
	return toUpdateResponse(intent.TargetID, current, domain.OutcomeCached, intent.IdempotencyKey)
}

func (s *Service) precheckCache(ctx context.Context, targetID, actorID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	entry, ok, err := s.cache.Get(ctx, targetID)
	if err != nil {
		// Postgres stays authoritative when Redis is unavailable.
		s.log.Warn("lease cache unavailable", "orderId", targetID, "error", err)
		s.recorder.CacheLookup(monitoring.CacheMiss)
		return nil
	}
	if !ok {
		s.recorder.CacheLookup(monitoring.CacheMiss)
		return nil
	}
	s.recorder.CacheLookup(monitoring.CacheHit)
	if entry.HolderID != actorID && entry.ExpiresAt.After(s.now()) {
		return leaseConflict(entry.HolderID, entry.ExpiresAt)
	}
	return nil
}

func (s *Service) cacheLease(ctx context.Context, lease domain.UpdateLease) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, lease, s.now()); err != nil {
		s.log.Warn("lease cache write failed", "orderId", lease.TargetID, "error", err)
	}
}

func (s *Service) release(ctx context.Context, targetID, holderID uuid.UUID) {
	if err := s.store.ReleaseLease(ctx, targetID, holderID); err != nil {
		s.log.Error("lease release failed", "orderId", targetID, "holder", holderID, "error", err)
		return
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, targetID); err != nil {
			s.log.Warn("lease cache invalidate failed", "orderId", targetID, "error", err)
		}
	}
}

func (s *Service) recordIntent(ctx context.Context, intent domain.UpdateIntent) {
	if err := s.store.RecordIntent(ctx, intent); err != nil {
		s.log.Error("record intent failed", "orderId", intent.TargetID, "outcome", intent.Outcome, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, event)
	}
}

func leaseConflict(holder uuid.UUID, expiresAt time.Time) error {
	return apperr.LeaseConflict(msgLeaseHeld).WithDetails(transport.LeaseConflictDetails{
		HolderID:  holder,
		ExpiresAt: expiresAt,
	})
}

func toUpdateResponse(targetID uuid.UUID, status string, outcome domain.Outcome, key string) transport.UpdateResponse {
	return transport.UpdateResponse{
		OrderID:        targetID,
		Status:         status,
		Outcome:        string(outcome),
		Cached:         outcome == domain.OutcomeCached,
		IdempotencyKey: key,
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return string(domain.OutcomeFailed)
	}
	return string(domain.OutcomeSuccess)
}
