package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/appkit/internal/kms"
)

// reverseCipher "encrypts" by reversing bytes.
type reverseCipher struct {
	err error
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (c reverseCipher) Encrypt(_ context.Context, plaintext []byte) (kms.Ciphertext, error) {
	if c.err != nil {
		return kms.Ciphertext{}, c.err
	}
	return kms.Ciphertext{KeyID: "default", KeyVersion: 1, Ciphertext: string(reverse(plaintext))}, nil
}

func (c reverseCipher) Decrypt(_ context.Context, ciphertext string) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return reverse([]byte(ciphertext)), nil
}

func postJSON(handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
	return rec
}

func TestKMS_RoundTrip(t *testing.T) {
	h := &KMSHandler{KMS: reverseCipher{}, Env: "test"}
	plain := base64.StdEncoding.EncodeToString([]byte("hello"))

	rec := postJSON(h.Encrypt, "/api/v1/kms/encrypt", `{"plaintext":"`+plain+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"ciphertext":"olleh"`)
	assert.Contains(t, rec.Body.String(), `"key_id":"default"`)

	rec = postJSON(h.Decrypt, "/api/v1/kms/decrypt", `{"ciphertext":"olleh"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plaintext":"`+plain+`"`)
}

func TestKMS_Errors(t *testing.T) {
	tests := []struct {
		name     string
		cipher   reverseCipher
		handler  func(h *KMSHandler) http.HandlerFunc
		body     string
		wantCode int
	}{
		{
			name:     "plaintext not base64",
			handler:  func(h *KMSHandler) http.HandlerFunc { return h.Encrypt },
			body:     `{"plaintext":"not base64!"}`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "missing ciphertext",
			handler:  func(h *KMSHandler) http.HandlerFunc { return h.Decrypt },
			body:     `{}`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "kms rejects input",
			cipher:   reverseCipher{err: &kms.APIError{Status: http.StatusBadRequest, Message: "bad ciphertext"}},
			handler:  func(h *KMSHandler) http.HandlerFunc { return h.Decrypt },
			body:     `{"ciphertext":"x"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "kms unavailable",
			cipher:   reverseCipher{err: &kms.APIError{Status: http.StatusInternalServerError, Message: "boom"}},
			handler:  func(h *KMSHandler) http.HandlerFunc { return h.Encrypt },
			body:     `{"plaintext":"aGk="}`,
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "kms throttled",
			cipher:   reverseCipher{err: &kms.APIError{Status: http.StatusTooManyRequests, Message: "slow down"}},
			handler:  func(h *KMSHandler) http.HandlerFunc { return h.Encrypt },
			body:     `{"plaintext":"aGk="}`,
			wantCode: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &KMSHandler{KMS: tt.cipher, Env: "test"}
			rec := postJSON(tt.handler(h), "/api/v1/kms", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}
