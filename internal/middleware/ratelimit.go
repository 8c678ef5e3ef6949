package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/cache"
)

// ConnectLimiter takes one connect token for a principal.
type ConnectLimiter interface {
	CheckConnectRateLimit(ctx context.Context, principalID string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for the push connect limiter.
type RateLimitConfig struct {
	Logger    *slog.Logger
	Limiter   ConnectLimiter
	Enabled   bool
	PerMinute int
	Burst     int
}

// RateLimitConnect limits push channel connects per principal so a
// reconnect storm from one dashboard cannot exhaust the instance.
// Must be applied after Session.
func RateLimitConnect(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			session := auth.SessionFromContext(r.Context())
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Limiter.CheckConnectRateLimit(r.Context(), session.PrincipalID, cfg.PerMinute, cfg.Burst)
			if err != nil {
				// Fail open.
				cfg.Logger.Error("rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("principal_id", session.PrincipalID),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.PerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "connect"),
					slog.String("principal_id", session.PrincipalID),
					slog.Int("retry_after_seconds", retryAfter),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					"too many connects, retry after "+strconv.Itoa(retryAfter)+" seconds")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
