package backendclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront_backend/internal/orders/coordinator"
	"storefront_backend/internal/orders/domain"
	"storefront_backend/internal/orders/transport"
	paydomain "storefront_backend/internal/payments/domain"
	"storefront_backend/platform/apperr"

	"github.com/google/uuid"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "token-1", Timeout: 2 * time.Second})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSubmitUpdateSendsKeyAndDecodesResult(t *testing.T) {
	orderID := uuid.New()
	var got transport.SubmitStatusRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/orders/"+orderID.String()+"/status" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token-1" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, transport.UpdateResponse{
			OrderID: orderID, Status: got.Status, Outcome: "cached", Cached: true, IdempotencyKey: got.IdempotencyKey,
		})
	})

	key := domain.IdempotencyKey(uuid.New(), orderID, "shipped")
	res, err := c.SubmitUpdate(context.Background(), coordinator.UpdateRequest{
		TargetID: orderID, DesiredState: "shipped", IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IdempotencyKey != key || got.Status != "shipped" {
		t.Fatalf("unexpected request body %+v", got)
	}
	if !res.Cached() || res.TargetID != orderID {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLeaseConflictCarriesHolder(t *testing.T) {
	holder := uuid.New()
	expires := time.Now().Add(30 * time.Second).UTC().Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "order is being updated",
			"code":    apperr.CodeLeaseConflict,
			"details": transport.LeaseConflictDetails{HolderID: holder, ExpiresAt: expires},
		})
	})

	_, err := c.SubmitUpdate(context.Background(), coordinator.UpdateRequest{TargetID: uuid.New(), DesiredState: "ready"})
	if !apperr.Is(err, apperr.KindLeaseConflict) {
		t.Fatalf("expected lease conflict, got %v", err)
	}
	var e *apperr.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *apperr.Error")
	}
	state, ok := e.Details.(domain.LeaseState)
	if !ok || state.HolderID == nil || *state.HolderID != holder || !state.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected details %#v", e.Details)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   apperr.Kind
	}{
		{http.StatusUnauthorized, `{"error":"token expired"}`, apperr.KindAuthExpired},
		{http.StatusBadRequest, `{"error":"validation failed","code":"VALIDATION"}`, apperr.KindValidation},
		{http.StatusNotFound, `{"error":"order not found","code":"NOT_FOUND"}`, apperr.KindNotFound},
		{http.StatusForbidden, `{"error":"forbidden"}`, apperr.KindForbidden},
		{http.StatusConflict, `{"error":"duplicate"}`, apperr.KindConflict},
		{http.StatusServiceUnavailable, `{"error":"down","code":"TRANSIENT"}`, apperr.KindTransient},
		{http.StatusBadGateway, `<html>bad gateway</html>`, apperr.KindTransient},
		{http.StatusBadGateway, `{"error":"contract","code":"FATAL_BACKEND"}`, apperr.KindFatal},
		{http.StatusTooManyRequests, `{"error":"slow down"}`, apperr.KindTransient},
		{http.StatusTeapot, `not json`, apperr.KindFatal},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d", tc.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.InspectLease(context.Background(), uuid.New(), uuid.New())
			if got := apperr.GetKind(err); got != tc.want {
				t.Fatalf("status %d: expected kind %v, got %v (%v)", tc.status, tc.want, got, err)
			}
		})
	}
}

func TestMalformedSuccessBodyIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"isLocked": "maybe"`))
	})
	_, err := c.InspectLease(context.Background(), uuid.New(), uuid.New())
	if !apperr.Is(err, apperr.KindFatal) {
		t.Fatalf("expected fatal, got %v", err)
	}
}

func TestUnreachableBackendIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second})
	_, err := c.UpdateInProgress(context.Background(), uuid.New())
	if !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestCancelledContextIsNotTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.InspectLease(ctx, uuid.New(), uuid.New())
	if apperr.Retryable(err) {
		t.Fatalf("expected caller cancellation not to be retryable, got %v", err)
	}
}

func TestUpdateInProgressReadsMarker(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, transport.OrderResponse{ID: id, Status: "processing", UpdateInProgress: true})
	})
	busy, err := c.UpdateInProgress(context.Background(), id)
	if err != nil || !busy {
		t.Fatalf("expected marker set, got %v, %v", busy, err)
	}
}

func TestVerifyPaymentRejectsUnknownStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"reference": "x", "status": "refunded"})
	})
	_, err := c.VerifyPayment(context.Background(), newRef(t))
	if !apperr.Is(err, apperr.KindFatal) {
		t.Fatalf("expected fatal, got %v", err)
	}
}

func TestVerifyPaymentDecodesPollHint(t *testing.T) {
	ref := newRef(t)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/"+ref+"/verify") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"reference": ref, "status": "pending", "nextPollInMs": 4000})
	})
	v, err := c.VerifyPayment(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Status != paydomain.VerifyPending || v.NextPollIn != 4*time.Second {
		t.Fatalf("unexpected verification %+v", v)
	}
}

func TestSubscribeParsesEventStream(t *testing.T) {
	ref := newRef(t)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "event:other\ndata:{}\n\n")
		fmt.Fprintf(w, "event:payment_status\ndata:{\"reference\":%q,\"status\":\"success\",\"settledAt\":\"2026-01-02T03:04:05Z\"}\n\n", ref)
		flusher.Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := c.Subscribe(ctx, ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case v := <-updates:
		if v.Reference != ref || v.Status != paydomain.VerifySuccess || v.PaidAt == nil {
			t.Fatalf("unexpected update %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an update")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatalf("expected stream to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected stream to close after cancel")
	}
}

func TestSubscribeSurfacesHTTPErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
	})
	_, err := c.Subscribe(context.Background(), newRef(t))
	if !apperr.Is(err, apperr.KindAuthExpired) {
		t.Fatalf("expected auth expired, got %v", err)
	}
}

func newRef(t *testing.T) string {
	t.Helper()
	ref, err := paydomain.NewReference()
	if err != nil {
		t.Fatalf("new reference: %v", err)
	}
	return ref
}
