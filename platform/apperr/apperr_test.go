package apperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestGetKindLooksThroughWrapping(t *testing.T) {
	base := LeaseConflict("held by someone else")
	wrapped := fmt.Errorf("submit: %w", base)

	if GetKind(wrapped) != KindLeaseConflict {
		t.Fatalf("expected KindLeaseConflict, got %v", GetKind(wrapped))
	}
	if !Is(wrapped, KindLeaseConflict) {
		t.Fatalf("expected Is to match wrapped lease conflict")
	}
}

func TestRetryableOnlyForTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Transient("timeout", nil), true},
		{Validation("bad"), false},
		{LeaseConflict("held"), false},
		{AuthExpired("expired"), false},
		{Fatal("contract", nil), false},
		{NotFound("missing"), false},
		{fmt.Errorf("plain"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestHTTPStatusAndCode(t *testing.T) {
	if got := LeaseConflict("x").HTTPStatus(); got != http.StatusConflict {
		t.Fatalf("expected 409, got %d", got)
	}
	if got := LeaseConflict("x").Code(); got != CodeLeaseConflict {
		t.Fatalf("expected %s, got %s", CodeLeaseConflict, got)
	}
	if got := AuthExpired("x").HTTPStatus(); got != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", got)
	}
	if got := Transient("x", nil).HTTPStatus(); got != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", got)
	}
}

func TestUserMessageHidesTransportDetail(t *testing.T) {
	err := Transient("dial tcp 10.0.0.1:443: connect: connection refused", nil)
	msg := UserMessage(err)
	if msg == err.Error() {
		t.Fatalf("expected user message to hide raw transport error")
	}
}
