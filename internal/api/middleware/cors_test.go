package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsHandler(allowed []string, allowAll bool) http.Handler {
	return CORS("/api/", allowed, allowAll)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func corsRequest(h http.Handler, method, path, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if method == http.MethodOptions {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORS(t *testing.T) {
	allowed := []string{"https://app.example.com", "https://Admin.example.com"}

	tests := []struct {
		name       string
		allowAll   bool
		method     string
		path       string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"allow all echoes origin", true, http.MethodGet, "/api/v1/auth/me", "http://localhost:3000", http.StatusOK, "http://localhost:3000"},
		{"listed origin", false, http.MethodGet, "/api/v1/auth/me", "https://app.example.com", http.StatusOK, "https://app.example.com"},
		{"case insensitive", false, http.MethodGet, "/api/v1/auth/me", "https://admin.example.com", http.StatusOK, "https://admin.example.com"},
		{"unlisted origin", false, http.MethodGet, "/api/v1/auth/me", "https://evil.example", http.StatusOK, ""},
		{"no origin", false, http.MethodGet, "/api/v1/auth/me", "", http.StatusOK, ""},
		{"outside prefix", true, http.MethodGet, "/login", "http://localhost:3000", http.StatusOK, ""},
		{"preflight", false, http.MethodOptions, "/api/v1/auth/login", "https://app.example.com", http.StatusNoContent, "https://app.example.com"},
		{"preflight unlisted reaches router", false, http.MethodOptions, "/api/v1/auth/login", "https://evil.example", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := corsRequest(corsHandler(allowed, tt.allowAll), tt.method, tt.path, tt.origin)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestCORS_PreflightHeaders(t *testing.T) {
	rec := corsRequest(corsHandler(nil, true), http.MethodOptions, "/api/v1/vectors", "http://localhost:5173")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}
