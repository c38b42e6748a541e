package coordinator

import (
	"context"
	"errors"

	"storefront_backend/internal/monitoring"
	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/logger"

	"github.com/google/uuid"
)

// LockInspector reads lease state for conflict resolution. Transport failures
// report an unlocked target; the backend re-checks at acquisition time anyway.
type LockInspector struct {
	backend  Backend
	recorder monitoring.Recorder
	log      *logger.Logger
}

// NewLockInspector creates an inspector over backend.
func NewLockInspector(backend Backend, recorder monitoring.Recorder, log *logger.Logger) *LockInspector {
	return &LockInspector{backend: backend, recorder: recorder, log: log}
}

// Inspect returns the lease state of targetID as seen by actorID. Only an
// expired session or a cancelled context is returned as an error.
func (i *LockInspector) Inspect(ctx context.Context, targetID, actorID uuid.UUID) (domain.LeaseState, error) {
	state, err := i.backend.InspectLease(ctx, targetID, actorID)
	if err != nil {
		if apperr.Is(err, apperr.KindAuthExpired) {
			return domain.LeaseState{}, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.LeaseState{}, err
		}
		i.log.Warn("lease inspection failed, assuming unlocked",
			"target_id", targetID.String(),
			"error", err,
		)
		return domain.LeaseState{}, nil
	}
	i.recorder.LockInspected(state.IsLocked)
	return state, nil
}
