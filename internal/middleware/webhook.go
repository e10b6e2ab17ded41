package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
)

// WebhookToken returns middleware that validates a static token header on
// inbound provider callbacks. The Midjourney proxy sends its shared secret
// in the mj-api-secret header.
func WebhookToken(token, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, `{"error":"webhook token not configured"}`, http.StatusServiceUnavailable)
				return
			}

			got := r.Header.Get(header)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, fmt.Sprintf("invalid %s token", header), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
