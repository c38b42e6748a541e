// Package coordinator is the client half of payment verification. It starts
// a checkout and then reconciles its outcome over two channels, a status push
// and an adaptive poll, keeping whichever reaches a terminal status first.
package coordinator

import (
	"context"

	"storefront_backend/internal/payments/domain"
	"storefront_backend/internal/payments/pubsub"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InitiateRequest describes a checkout to start.
type InitiateRequest struct {
	OrderID     uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	CustomerRef string
}

// Initiation is the backend's answer to InitiateRequest.
type Initiation struct {
	Reference   string
	RedirectURL string
}

// Backend is the payment RPC surface.
type Backend interface {
	InitiatePayment(ctx context.Context, req InitiateRequest) (Initiation, error)
	VerifyPayment(ctx context.Context, reference string) (domain.Verification, error)
}

// PushSource streams status pushes for one reference. The stream ends when
// ctx is done.
type PushSource interface {
	Subscribe(ctx context.Context, reference string) (<-chan domain.Verification, error)
}

// RedisPush adapts a Redis status subscriber to PushSource.
type RedisPush struct {
	sub *pubsub.Subscriber
}

// NewRedisPush creates a push source over sub.
func NewRedisPush(sub *pubsub.Subscriber) *RedisPush {
	return &RedisPush{sub: sub}
}

func (r *RedisPush) Subscribe(ctx context.Context, reference string) (<-chan domain.Verification, error) {
	msgs, err := r.sub.Subscribe(ctx, reference)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.Verification, 1)
	go func() {
		defer close(out)
		for msg := range msgs {
			v := domain.Verification{Reference: msg.Reference, Status: msg.Status, Reason: msg.Reason}
			if msg.Status == domain.VerifySuccess {
				v.PaidAt = msg.SettledAt
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
