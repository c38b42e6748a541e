package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront_backend/internal/orders/domain"
	"storefront_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	orderNotFoundMsg = "order not found"
	leaseLostMsg     = "update lease is no longer held by the caller"
)

// ApplyParams describes one fenced status mutation.
type ApplyParams struct {
	TargetID       uuid.UUID
	ActorID        uuid.UUID
	DesiredState   string
	IdempotencyKey string
	AuditNonce     string
	// ReplayWindow is how far back a success with the same key counts as this
	// update. Zero disables the check.
	ReplayWindow time.Duration
}

// ApplyResult reports what ApplyStatus did.
type ApplyResult struct {
	PreviousStatus string
	Status         string
	// Replayed is set when a success with the same key fell inside the replay
	// window; nothing was written.
	Replayed bool
}

// Store is the persistence port of the orders service.
type Store interface {
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	// AcquireLease takes or renews the lease for actorID. When another actor holds
	// an active lease, that lease is returned with acquired=false.
	AcquireLease(ctx context.Context, targetID, actorID uuid.UUID, ttl time.Duration) (lease domain.UpdateLease, acquired bool, err error)
	// ForceAcquireLease takes the lease regardless of the current holder.
	ForceAcquireLease(ctx context.Context, targetID, actorID uuid.UUID, ttl time.Duration) (domain.UpdateLease, error)
	ActiveLease(ctx context.Context, targetID uuid.UUID) (*domain.UpdateLease, error)
	ReleaseLease(ctx context.Context, targetID, holderID uuid.UUID) error
	// ApplyStatus writes the new status only while actorID holds the active lease,
	// and records a success intent in the same transaction. The replay check runs
	// under the same row lock, so one key yields at most one effect per window.
	ApplyStatus(ctx context.Context, params ApplyParams) (ApplyResult, error)
	// AppliedIntent returns the latest success intent for key recorded within window.
	AppliedIntent(ctx context.Context, targetID uuid.UUID, key string, window time.Duration) (*domain.UpdateIntent, error)
	RecordIntent(ctx context.Context, intent domain.UpdateIntent) error
	ReapExpired(ctx context.Context) ([]domain.UpdateLease, error)
}

// Repository provides database operations for orders, leases and intents.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new orders repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, status, update_in_progress, updated_at
		FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.CustomerID, &o.Status, &o.UpdateInProgress, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, apperr.NotFound(orderNotFoundMsg)
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

const leaseColumns = `target_id, holder_id, acquired_at, expires_at, released_at`

func scanLease(row pgx.Row) (domain.UpdateLease, error) {
	var l domain.UpdateLease
	err := row.Scan(&l.TargetID, &l.HolderID, &l.AcquiredAt, &l.ExpiresAt, &l.ReleasedAt)
	return l, err
}

func (r *Repository) AcquireLease(ctx context.Context, targetID, actorID uuid.UUID, ttl time.Duration) (domain.UpdateLease, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.UpdateLease{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The primary key on target_id serialises concurrent acquirers; the WHERE on
	// the conflict branch only lets the row change hands once it is free.
	lease, err := scanLease(tx.QueryRow(ctx, `
		INSERT INTO order_update_leases (target_id, holder_id, acquired_at, expires_at, released_at)
		VALUES ($1, $2, now(), now() + $3 * interval '1 millisecond', NULL)
		ON CONFLICT (target_id) DO UPDATE
		SET holder_id = EXCLUDED.holder_id,
		    acquired_at = CASE
		        WHEN order_update_leases.holder_id = EXCLUDED.holder_id
		             AND order_update_leases.released_at IS NULL
		             AND order_update_leases.expires_at > now()
		        THEN order_update_leases.acquired_at
		        ELSE EXCLUDED.acquired_at END,
		    expires_at = EXCLUDED.expires_at,
		    released_at = NULL
		WHERE order_update_leases.released_at IS NOT NULL
		   OR order_update_leases.expires_at <= now()
		   OR order_update_leases.holder_id = EXCLUDED.holder_id
		RETURNING `+leaseColumns, targetID, actorID, ttl.Milliseconds()))
	if errors.Is(err, pgx.ErrNoRows) {
		held, err := scanLease(tx.QueryRow(ctx,
			`SELECT `+leaseColumns+` FROM order_update_leases WHERE target_id = $1`, targetID))
		if err != nil {
			return domain.UpdateLease{}, false, fmt.Errorf("load conflicting lease: %w", err)
		}
		return held, false, nil
	}
	if err != nil {
		return domain.UpdateLease{}, false, fmt.Errorf("acquire lease: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET update_in_progress = TRUE WHERE id = $1`, targetID); err != nil {
		return domain.UpdateLease{}, false, fmt.Errorf("mark update in progress: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.UpdateLease{}, false, fmt.Errorf("commit lease: %w", err)
	}
	return lease, true, nil
}

func (r *Repository) ForceAcquireLease(ctx context.Context, targetID, actorID uuid.UUID, ttl time.Duration) (domain.UpdateLease, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.UpdateLease{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lease, err := scanLease(tx.QueryRow(ctx, `
		INSERT INTO order_update_leases (target_id, holder_id, acquired_at, expires_at, released_at)
		VALUES ($1, $2, now(), now() + $3 * interval '1 millisecond', NULL)
		ON CONFLICT (target_id) DO UPDATE
		SET holder_id = EXCLUDED.holder_id,
		    acquired_at = EXCLUDED.acquired_at,
		    expires_at = EXCLUDED.expires_at,
		    released_at = NULL
		RETURNING `+leaseColumns, targetID, actorID, ttl.Milliseconds()))
	if err != nil {
		return domain.UpdateLease{}, fmt.Errorf("force acquire lease: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET update_in_progress = TRUE WHERE id = $1`, targetID); err != nil {
		return domain.UpdateLease{}, fmt.Errorf("mark update in progress: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.UpdateLease{}, fmt.Errorf("commit lease: %w", err)
	}
	return lease, nil
}

func (r *Repository) ActiveLease(ctx context.Context, targetID uuid.UUID) (*domain.UpdateLease, error) {
	lease, err := scanLease(r.pool.QueryRow(ctx, `
		SELECT `+leaseColumns+` FROM order_update_leases
		WHERE target_id = $1 AND released_at IS NULL AND expires_at > now()`, targetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active lease: %w", err)
	}
	return &lease, nil
}

func (r *Repository) ReleaseLease(ctx context.Context, targetID, holderID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE order_update_leases SET released_at = now()
		WHERE target_id = $1 AND holder_id = $2 AND released_at IS NULL`, targetID, holderID)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Someone else took over; their marker stays.
		return tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET update_in_progress = FALSE WHERE id = $1`, targetID); err != nil {
		return fmt.Errorf("clear update in progress: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repository) ApplyStatus(ctx context.Context, p ApplyParams) (ApplyResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldStatus string
	if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, p.TargetID).Scan(&oldStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ApplyResult{}, apperr.NotFound(orderNotFoundMsg)
		}
		return ApplyResult{}, fmt.Errorf("lock order: %w", err)
	}

	// Checked before the fence: a concurrent duplicate may already have released
	// the lease it shared with this caller.
	if p.ReplayWindow > 0 {
		var replayed bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM order_update_intents
				WHERE target_id = $1 AND idempotency_key = $2 AND outcome = $3
				  AND created_at > now() - $4 * interval '1 millisecond'
			)`, p.TargetID, p.IdempotencyKey, string(domain.OutcomeSuccess), p.ReplayWindow.Milliseconds(),
		).Scan(&replayed)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("check replay: %w", err)
		}
		if replayed {
			return ApplyResult{PreviousStatus: oldStatus, Status: oldStatus, Replayed: true}, nil
		}
	}

	var holder uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT holder_id FROM order_update_leases
		WHERE target_id = $1 AND released_at IS NULL AND expires_at > now()
		FOR UPDATE`, p.TargetID).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && holder != p.ActorID) {
		return ApplyResult{}, apperr.LeaseConflict(leaseLostMsg)
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("check lease fence: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, p.TargetID, p.DesiredState); err != nil {
		return ApplyResult{}, fmt.Errorf("update status: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_update_intents (idempotency_key, actor_id, target_id, desired_state, audit_nonce, outcome)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		p.IdempotencyKey, p.ActorID, p.TargetID, p.DesiredState, p.AuditNonce, string(domain.OutcomeSuccess)); err != nil {
		return ApplyResult{}, fmt.Errorf("record intent: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("commit status: %w", err)
	}
	return ApplyResult{PreviousStatus: oldStatus, Status: p.DesiredState}, nil
}

func (r *Repository) AppliedIntent(ctx context.Context, targetID uuid.UUID, key string, window time.Duration) (*domain.UpdateIntent, error) {
	var in domain.UpdateIntent
	var nonce *string
	var outcome string
	err := r.pool.QueryRow(ctx, `
		SELECT id, idempotency_key, actor_id, target_id, desired_state, audit_nonce, outcome, created_at
		FROM order_update_intents
		WHERE target_id = $1 AND idempotency_key = $2 AND outcome = $3
		  AND created_at > now() - $4 * interval '1 millisecond'
		ORDER BY id DESC LIMIT 1`, targetID, key, string(domain.OutcomeSuccess), window.Milliseconds(),
	).Scan(&in.ID, &in.IdempotencyKey, &in.ActorID, &in.TargetID, &in.DesiredState, &nonce, &outcome, &in.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load applied intent: %w", err)
	}
	if nonce != nil {
		in.AuditNonce = *nonce
	}
	in.Outcome = domain.Outcome(outcome)
	return &in, nil
}

func (r *Repository) RecordIntent(ctx context.Context, in domain.UpdateIntent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO order_update_intents (idempotency_key, actor_id, target_id, desired_state, audit_nonce, outcome)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		in.IdempotencyKey, in.ActorID, in.TargetID, in.DesiredState, in.AuditNonce, string(in.Outcome))
	if err != nil {
		return fmt.Errorf("record intent: %w", err)
	}
	return nil
}

func (r *Repository) ReapExpired(ctx context.Context) ([]domain.UpdateLease, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE order_update_leases SET released_at = now()
		WHERE released_at IS NULL AND expires_at <= now()
		RETURNING `+leaseColumns)
	if err != nil {
		return nil, fmt.Errorf("reap leases: %w", err)
	}
	reaped, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UpdateLease, error) {
		return scanLease(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan reaped leases: %w", err)
	}

	if len(reaped) > 0 {
		ids := make([]uuid.UUID, 0, len(reaped))
		for _, l := range reaped {
			ids = append(ids, l.TargetID)
		}
		if _, err := tx.Exec(ctx, `UPDATE orders SET update_in_progress = FALSE WHERE id = ANY($1)`, ids); err != nil {
			return nil, fmt.Errorf("clear update markers: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reap: %w", err)
	}
	return reaped, nil
}

var _ Store = (*Repository)(nil)
