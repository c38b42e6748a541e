package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront_backend/internal/payments/domain"
	"storefront_backend/platform/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const sessionNotFoundMsg = "payment session not found"

// Store is the persistence port of the payments service.
type Store interface {
	Create(ctx context.Context, s domain.Session) error
	Get(ctx context.Context, reference string) (domain.Session, error)
	// Settle moves a pending session to a terminal status. It reports
	// settled=false and the stored session when the session was already terminal.
	Settle(ctx context.Context, reference string, status domain.VerifyStatus, reason string, at time.Time) (session domain.Session, settled bool, err error)
}

// Repository provides database operations for payment sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new payments repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `reference, order_id, amount::text, currency, status, failure_reason, redirect_url, created_at, settled_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	var amount, status string
	var reason *string
	if err := row.Scan(&s.Reference, &s.OrderID, &amount, &s.Currency, &status, &reason, &s.RedirectURL, &s.CreatedAt, &s.SettledAt); err != nil {
		return domain.Session{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	s.Amount = parsed
	s.Status = domain.VerifyStatus(status)
	if reason != nil {
		s.FailureReason = *reason
	}
	return s, nil
}

func (r *Repository) Create(ctx context.Context, s domain.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_sessions (reference, order_id, amount, currency, status, redirect_url, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`,
		s.Reference, s.OrderID, s.Amount.StringFixed(2), s.Currency, string(s.Status), s.RedirectURL, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create payment session: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, reference string) (domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE reference = $1`, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, apperr.NotFound(sessionNotFoundMsg)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get payment session: %w", err)
	}
	return s, nil
}

func (r *Repository) Settle(ctx context.Context, reference string, status domain.VerifyStatus, reason string, at time.Time) (domain.Session, bool, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		UPDATE payment_sessions
		SET status = $2, failure_reason = NULLIF($3, ''), settled_at = $4
		WHERE reference = $1 AND status = $5
		RETURNING `+sessionColumns,
		reference, string(status), reason, at, string(domain.VerifyPending)))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, false, fmt.Errorf("settle payment session: %w", err)
	}
	current, err := r.Get(ctx, reference)
	if err != nil {
		return domain.Session{}, false, err
	}
	return current, false, nil
}
