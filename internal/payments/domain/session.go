package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the state of a payment as seen by a client.
//
//	Idle -> Initiated -> Pending -> Success | Failed | Timeout
//	Pending -> Verifying -> Success | Failed | Pending
type Status string

const (
	StatusIdle      Status = "idle"
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusVerifying Status = "verifying"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// IsTerminal reports whether no further transition happens.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimeout
}

// VerifyStatus is what verification reports for a reference.
type VerifyStatus string

const (
	VerifySuccess  VerifyStatus = "success"
	VerifyPending  VerifyStatus = "pending"
	VerifyFailed   VerifyStatus = "failed"
	VerifyNotFound VerifyStatus = "not_found"
)

// ClientStatus maps a verification answer onto the client state machine.
// A reference the backend does not know is a definitive failure.
func (v VerifyStatus) ClientStatus() Status {
	switch v {
	case VerifySuccess:
		return StatusSuccess
	case VerifyFailed, VerifyNotFound:
		return StatusFailed
	default:
		return StatusPending
	}
}

// Failure reasons recorded on sessions.
const (
	ReasonExpired        = "expired"
	ReasonAmountMismatch = "amount_mismatch"
	ReasonDeclined       = "declined"
	ReasonUnknown        = "unknown_reference"
)

// Session is the server record of one checkout attempt.
type Session struct {
	Reference     string
	OrderID       uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Status        VerifyStatus
	FailureReason string
	RedirectURL   string
	CreatedAt     time.Time
	SettledAt     *time.Time
}

// Verification is the answer to one verify call.
type Verification struct {
	Reference string
	Status    VerifyStatus
	Reason    string
	PaidAt    *time.Time
	Amount    *decimal.Decimal
	// NextPollIn is the backend's hint for the next poll; zero means none.
	NextPollIn time.Duration
}

// ClientStatus maps the answer onto the client state machine. A session the
// backend expired is a timeout, not a declined payment.
func (v Verification) ClientStatus() Status {
	if v.Status == VerifyFailed && v.Reason == ReasonExpired {
		return StatusTimeout
	}
	return v.Status.ClientStatus()
}
