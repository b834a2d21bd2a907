package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
	"github.com/markusahlstrand/authhero-sub008/pkg/requestctx"
)

// PerIP returns a middleware limiting requests per client address as
// resolved by requestctx.Middleware. Requests without a known address pass.
func PerIP(limiter *RateLimiter, retryAfterSeconds int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := requestctx.ClientIP(r.Context())
			if ip == "" || limiter.Allow(ip) {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path, "method", r.Method)
			retryAfter := strconv.Itoa(retryAfterSeconds)
			err := errors.RateLimitExceeded(retryAfter)
			w.Header().Set("Retry-After", retryAfter)
			render.Status(r, err.HTTPStatusCode())
			render.JSON(w, r, map[string]string{
				"error":             "rate_limit_exceeded",
				"error_description": err.Message,
			})
		})
	}
}
