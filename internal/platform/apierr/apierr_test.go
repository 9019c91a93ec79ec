package apierr

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRetryableStatuses(t *testing.T) {
	cases := map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusBadRequest:          false,
		http.StatusUnauthorized:        false,
		http.StatusNotFound:            false,
	}
	for status, want := range cases {
		err := &Error{Provider: "replicate", Status: status}
		if got := err.Retryable(); got != want {
			t.Fatalf("status %d: expected retryable=%v, got %v", status, want, got)
		}
	}
}

func TestThrottledDetectsBody(t *testing.T) {
	err := &Error{Provider: "replicate", Status: http.StatusBadRequest, Body: `{"detail":"Request was throttled"}`}
	if !err.Throttled() {
		t.Fatal("expected throttled")
	}
	if !err.Retryable() {
		t.Fatal("throttled responses should be retryable")
	}
}

func TestFromResponse(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://api.replicate.com/v1/predictions", nil)
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"7"}},
		Request:    req,
	}

	err := FromResponse("replicate", resp, []byte("slow down"))
	if err.RetryAfter != 7*time.Second {
		t.Fatalf("expected 7s retry-after, got %s", err.RetryAfter)
	}
	if err.Path != "/v1/predictions" {
		t.Fatalf("unexpected path %q", err.Path)
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected body in message: %s", err.Error())
	}
}

func TestHelpersUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("create product: %w", &Error{Provider: "printify", Status: http.StatusServiceUnavailable})
	if !IsRetryable(wrapped) {
		t.Fatal("expected wrapped 503 to be retryable")
	}
	if StatusCode(wrapped) != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", StatusCode(wrapped))
	}
	if StatusCode(fmt.Errorf("plain")) != 0 {
		t.Fatal("expected 0 for non-api error")
	}
}
