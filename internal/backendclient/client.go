// Package backendclient talks to the storefront HTTP API on behalf of the
// client-side coordinators. Every failure it returns carries an apperr kind so
// callers branch on kinds, never on status codes or message text.
package backendclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront_backend/internal/orders/domain"
	"storefront_backend/internal/orders/transport"
	"storefront_backend/platform/apperr"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 15 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token is the bearer access token. The backend derives the acting user
	// from it.
	Token   string
	Timeout time.Duration
}

// Client is a typed API client.
type Client struct {
	http *resty.Client
	// stream has no overall timeout; event streams end with their context.
	stream *resty.Client
}

// New builds a client for cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	sc := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
		sc.SetAuthToken(cfg.Token)
	}
	return &Client{http: rc, stream: sc}
}

// do sends req and decodes a 2xx body into out. Non-2xx answers become typed
// errors.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return transportError(ctx, err)
	}
	if resp.IsError() {
		return responseError(resp.StatusCode(), resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperr.Fatal(fmt.Sprintf("decode %s %s response", method, path), err)
	}
	return nil
}

// errorBody mirrors the API error envelope with details left raw.
type errorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

// transportError classifies failures that produced no HTTP response.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Transient("backend unreachable", err)
}

// responseError maps a non-2xx response onto an apperr kind.
func responseError(status int, body []byte) error {
	var payload errorBody
	decoded := json.Unmarshal(body, &payload) == nil
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return apperr.AuthExpired(msg)
	case status == http.StatusConflict && payload.Code == apperr.CodeLeaseConflict:
		return leaseConflict(msg, payload.Details)
	case status == http.StatusConflict:
		return apperr.Conflict(msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return apperr.Validation(msg)
	case status == http.StatusNotFound:
		return apperr.NotFound(msg)
	case status == http.StatusForbidden:
		return apperr.Forbidden(msg)
	case status == http.StatusGone:
		return apperr.Gone(msg)
	case status == http.StatusTooManyRequests || status >= 500:
		if payload.Code == apperr.CodeFatal {
			return apperr.Fatal(msg, nil)
		}
		return apperr.Transient(msg, fmt.Errorf("status %d", status))
	case !decoded:
		return apperr.Fatal(fmt.Sprintf("unexpected status %d with unreadable body", status), nil)
	default:
		return apperr.Wrap(apperr.KindBadRequest, msg, fmt.Errorf("status %d", status))
	}
}

func leaseConflict(msg string, raw json.RawMessage) error {
	err := apperr.LeaseConflict(msg)
	if len(raw) == 0 {
		return err
	}
	var details transport.LeaseConflictDetails
	if json.Unmarshal(raw, &details) != nil {
		return err
	}
	holder, expires := details.HolderID, details.ExpiresAt
	return err.WithDetails(domain.LeaseState{IsLocked: true, HolderID: &holder, ExpiresAt: &expires})
}
