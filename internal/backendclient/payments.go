package backendclient

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	paycoord "storefront_backend/internal/payments/coordinator"
	paydomain "storefront_backend/internal/payments/domain"
	paytransport "storefront_backend/internal/payments/transport"
	"storefront_backend/platform/apperr"
)

const eventPaymentStatus = "payment_status"

var (
	_ paycoord.Backend    = (*Client)(nil)
	_ paycoord.PushSource = (*Client)(nil)
)

// InitiatePayment starts a checkout.
func (c *Client) InitiatePayment(ctx context.Context, req paycoord.InitiateRequest) (paycoord.Initiation, error) {
	var out paytransport.InitiatePaymentResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/payments", paytransport.InitiatePaymentRequest{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		CustomerRef: req.CustomerRef,
	}, &out)
	if err != nil {
		return paycoord.Initiation{}, err
	}
	return paycoord.Initiation{Reference: out.Reference, RedirectURL: out.RedirectURL}, nil
}

// VerifyPayment asks the backend for the status of reference.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (paydomain.Verification, error) {
	var out paytransport.VerifyPaymentResponse
	if err := c.do(ctx, http.MethodGet, paymentPath(reference, "/verify"), nil, &out); err != nil {
		return paydomain.Verification{}, err
	}
	status := paydomain.VerifyStatus(out.Status)
	switch status {
	case paydomain.VerifySuccess, paydomain.VerifyPending, paydomain.VerifyFailed, paydomain.VerifyNotFound:
	default:
		return paydomain.Verification{}, apperr.Fatal("backend returned unknown payment status "+out.Status, nil)
	}
	return paydomain.Verification{
		Reference:  out.Reference,
		Status:     status,
		Reason:     out.Reason,
		PaidAt:     out.PaidAt,
		Amount:     out.Amount,
		NextPollIn: time.Duration(out.NextPollInMs) * time.Millisecond,
	}, nil
}

// Subscribe opens the status event stream of reference. The stream closes
// when ctx is done or the server ends it.
func (c *Client) Subscribe(ctx context.Context, reference string) (<-chan paydomain.Verification, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		Get(paymentPath(reference, "/events"))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	body := resp.RawBody()
	if resp.StatusCode() >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		_ = body.Close()
		return nil, responseError(resp.StatusCode(), raw)
	}

	out := make(chan paydomain.Verification, 1)
	go func() {
		defer close(out)
		defer body.Close()
		stop := context.AfterFunc(ctx, func() { _ = body.Close() })
		defer stop()

		readEvents(body, func(name string, data []byte) bool {
			if name != eventPaymentStatus {
				return true
			}
			var ev paytransport.PaymentStatusEvent
			if json.Unmarshal(data, &ev) != nil {
				return true
			}
			v := paydomain.Verification{Reference: ev.Reference, Status: paydomain.VerifyStatus(ev.Status), Reason: ev.Reason}
			if v.Status == paydomain.VerifySuccess {
				v.PaidAt = ev.SettledAt
			}
			select {
			case out <- v:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

// readEvents parses a text/event-stream body and calls fn per event until fn
// returns false or the body ends.
func readEvents(r io.Reader, fn func(name string, data []byte) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				if !fn(name, []byte(strings.Join(data, "\n"))) {
					return
				}
			}
			name, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
}

func paymentPath(reference, suffix string) string {
	return "/api/v1/payments/" + url.PathEscape(reference) + suffix
}
