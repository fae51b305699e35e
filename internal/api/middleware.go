package api

import (
	"net/http"
	"strings"

	"github.com/smartpark/sentinel/internal/ratelimit"
)

// publicPaths never require an API key.
var publicPaths = map[string]bool{
	"/":             true,
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
}

// APIKeyAuth rejects requests to non-public paths that don't present a
// key from allowedKeys in the X-API-Key header. An empty allowedKeys list
// disables auth entirely, matching a development deployment with no keys
// configured.
func APIKeyAuth(allowedKeys []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedKeys))
	for _, k := range allowedKeys {
		allowed[k] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" || !allowed[key] {
				Unauthorized(w, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit rejects requests over the configured per-client budget, keyed
// by API key when present and falling back to remote address otherwise.
func RateLimit(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = clientIP(r)
			}

			if ok, retryAfter := limiter.Allow(key); !ok {
				RateLimited(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}
