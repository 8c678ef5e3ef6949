package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/cache"
	"github.com/talentgrid/entitlements/internal/model"
)

type fakeLimiter struct {
	allowed map[string]int
	err     error
}

func (f *fakeLimiter) CheckConnectRateLimit(ctx context.Context, principalID string, ratePerMinute, burst int) (*cache.RateLimitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.allowed[principalID] <= 0 {
		return &cache.RateLimitResult{Allowed: false, RetryAfter: 2 * time.Second}, nil
	}
	f.allowed[principalID]--
	return &cache.RateLimitResult{Allowed: true, Remaining: int64(f.allowed[principalID])}, nil
}

func connectRequest(principal string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	session := &auth.Session{PrincipalID: principal, TenantID: "acme", Role: model.RoleOwner}
	return req.WithContext(auth.ContextWithSession(req.Context(), session))
}

func TestRateLimitConnect(t *testing.T) {
	limiter := &fakeLimiter{allowed: map[string]int{"alice": 2}}
	handler := RateLimitConnect(RateLimitConfig{
		Logger:    discardLogger,
		Limiter:   limiter,
		Enabled:   true,
		PerMinute: 30,
		Burst:     2,
	})(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, connectRequest("alice"))
		if rec.Code != http.StatusOK {
			t.Fatalf("connect %d: status = %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, connectRequest("alice"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q, want 2", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimitConnect_FailsOpen(t *testing.T) {
	handler := RateLimitConnect(RateLimitConfig{
		Logger:  discardLogger,
		Limiter: &fakeLimiter{err: errors.New("redis down")},
		Enabled: true,
	})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, connectRequest("alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimitConnect_Disabled(t *testing.T) {
	handler := RateLimitConnect(RateLimitConfig{
		Logger:  discardLogger,
		Limiter: &fakeLimiter{allowed: map[string]int{}},
		Enabled: false,
	})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, connectRequest("alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
