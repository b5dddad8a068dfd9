package middleware

import (
	"net/http"

	"github.com/Togather-Foundation/appkit/internal/api/problem"
)

// DefaultMaxBodySize bounds JSON request bodies on the API.
const DefaultMaxBodySize int64 = 1 << 20

// RequestSize rejects bodies that declare more than maxBytes up front and
// caps the rest with http.MaxBytesReader, so handlers see a
// *http.MaxBytesError once a chunked body crosses the limit.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Connection", "close")
				problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeTooLarge, "Request body too large", nil, "")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
