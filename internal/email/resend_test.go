package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

func newMockResend(t *testing.T, handler http.HandlerFunc) *resendProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := newResendProvider("test-api-key", srv.Client(), zerolog.Nop())
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parse mock url: %v", err)
	}
	p.client.BaseURL = base
	return p
}

func TestResendProvider_Success(t *testing.T) {
	p := newMockResend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/emails" {
			t.Errorf("Expected POST /emails, got %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-api-key" {
			t.Errorf("Expected bearer api key, got %q", got)
		}

		var req resend.SendEmailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.From != "test@example.com" || len(req.To) != 1 || req.To[0] != "recipient@example.com" {
			t.Errorf("unexpected envelope: from=%q to=%v", req.From, req.To)
		}
		if !strings.Contains(req.Html, "Test Body") {
			t.Errorf("Expected HTML body to contain 'Test Body', got %q", req.Html)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "mock-email-id-123"})
	})

	id, err := p.send(context.Background(), rendered{
		From:    "test@example.com",
		To:      "recipient@example.com",
		Subject: "Test Subject",
		HTML:    "<html><body>Test Body</body></html>",
	})
	if err != nil {
		t.Fatalf("Expected successful send, got error: %v", err)
	}
	if id != "mock-email-id-123" {
		t.Errorf("id = %q", id)
	}
}

func TestResendProvider_RateLimitError(t *testing.T) {
	var hits int
	p := newMockResend(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ratelimit-limit", "100")
		w.Header().Set("ratelimit-remaining", "0")
		w.Header().Set("ratelimit-reset", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Rate limit exceeded"})
	})

	_, err := p.send(context.Background(), rendered{From: "a@example.com", To: "b@example.com", Subject: "s", HTML: "h"})
	if err == nil {
		t.Fatal("Expected rate limit error, got nil")
	}
	var rateLimitErr *resend.RateLimitError
	if !errors.As(err, &rateLimitErr) {
		t.Fatalf("Expected *resend.RateLimitError in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "resets in: 60") {
		t.Errorf("Expected reset metadata in error, got %v", err)
	}
	if hits != 1 {
		t.Errorf("rate limited send must not be retried, got %d requests", hits)
	}
}

func TestResendProvider_APIError(t *testing.T) {
	p := newMockResend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": 422, "message": "Invalid from address", "name": "validation_error"})
	})

	_, err := p.send(context.Background(), rendered{From: "a@example.com", To: "b@example.com", Subject: "s", HTML: "h"})
	if err == nil || !strings.Contains(err.Error(), "resend API error") {
		t.Fatalf("Expected resend API error, got %v", err)
	}
}
