// Package gateway is the seam to the hosted checkout provider: it builds the
// redirect for a new session and authenticates the provider's callbacks.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the callback HMAC.
const SignatureHeader = "X-Payment-Signature"

// CheckoutRequest describes a session to open at the provider.
type CheckoutRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	CustomerRef string
}

// Checkout is where the customer is sent to pay.
type Checkout struct {
	RedirectURL string
}

// Gateway opens checkout sessions.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
}

// HostedCheckout redirects to a provider-hosted page keyed by reference.
type HostedCheckout struct {
	baseURL   string
	returnURL string
}

// NewHostedCheckout creates a gateway for the given checkout and return URLs.
func NewHostedCheckout(baseURL, returnURL string) *HostedCheckout {
	return &HostedCheckout{baseURL: baseURL, returnURL: returnURL}
}

func (h *HostedCheckout) CreateCheckout(_ context.Context, req CheckoutRequest) (Checkout, error) {
	u, err := url.Parse(h.baseURL)
	if err != nil {
		return Checkout{}, fmt.Errorf("parse checkout url: %w", err)
	}
	q := u.Query()
	q.Set("reference", req.Reference)
	q.Set("amount", req.Amount.StringFixed(2))
	q.Set("currency", req.Currency)
	if req.CustomerRef != "" {
		q.Set("customer", req.CustomerRef)
	}
	if h.returnURL != "" {
		q.Set("return_url", h.returnURL+"?reference="+url.QueryEscape(req.Reference))
	}
	u.RawQuery = q.Encode()
	return Checkout{RedirectURL: u.String()}, nil
}

// Callback statuses sent by the provider.
const (
	CallbackPaid   = "paid"
	CallbackFailed = "failed"
)

// Callback is the provider's asynchronous outcome notification.
type Callback struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against payload in constant time.
func Verify(secret, payload []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}
