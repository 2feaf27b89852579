package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ingressAuth enforces spec.md §6: when a PROXY_API_KEY is configured, the
// client must present it via x-api-key or "Authorization: Bearer <key>",
// constant-time compared, grounded on the teacher's auth middleware shape
// but checking a single configured token instead of a per-client database
// row.
func ingressAuth(proxyAPIKey string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if proxyAPIKey == "" {
			return next
		}
		expected := []byte(proxyAPIKey)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("x-api-key")
			if presented == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				log.Warn("rejected request with missing or invalid proxy API key",
					zap.String("method", r.Method), zap.String("path", r.URL.Path))
				writeAuthError(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"type":"error","error":{"type":"AUTH","message":"missing or invalid proxy API key"}}`))
}
