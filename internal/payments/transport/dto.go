package transport

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InitiatePaymentRequest starts a checkout for an order.
type InitiatePaymentRequest struct {
	OrderID     uuid.UUID       `json:"orderId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"omitempty,len=3,alpha"`
	CustomerRef string          `json:"customerRef" validate:"omitempty,max=64"`
}

// InitiatePaymentResponse carries the server reference and the redirect.
type InitiatePaymentResponse struct {
	Reference   string    `json:"reference"`
	RedirectURL string    `json:"redirectUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// VerifyPaymentResponse is the answer to a verify call.
type VerifyPaymentResponse struct {
	Reference    string           `json:"reference"`
	Status       string           `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	PaidAt       *time.Time       `json:"paidAt,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	NextPollInMs int64            `json:"nextPollInMs,omitempty"`
}

// PaymentStatusEvent is pushed on the events stream of a reference.
type PaymentStatusEvent struct {
	Reference string     `json:"reference"`
	Status    string     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	SettledAt *time.Time `json:"settledAt,omitempty"`
}
