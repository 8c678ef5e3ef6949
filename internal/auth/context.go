package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/talentgrid/entitlements/internal/model"
)

// Headers set by the upstream session layer for dashboard requests, and by
// collaborators for service calls.
const (
	HeaderPrincipalID = "X-Principal-ID"
	HeaderTenantID    = "X-Tenant-ID"
	HeaderRole        = "X-Principal-Role"
	HeaderServiceKey  = "X-Service-Key"
)

var (
	// ErrNoPrincipal indicates the request carries no principal.
	ErrNoPrincipal = errors.New("missing principal")
	// ErrInvalidRole indicates the role header is unknown.
	ErrInvalidRole = errors.New("invalid principal role")
)

// Session is the dashboard user a request acts for.
type Session struct {
	PrincipalID string
	TenantID    string
	Role        model.Role
}

// IsStaff returns true for principals outside any tenant.
func (s *Session) IsStaff() bool {
	return s.TenantID == ""
}

// SessionFromHeaders reads the session set by the upstream session layer.
func SessionFromHeaders(h http.Header) (*Session, error) {
	s := &Session{
		PrincipalID: strings.TrimSpace(h.Get(HeaderPrincipalID)),
		TenantID:    strings.TrimSpace(h.Get(HeaderTenantID)),
		Role:        model.Role(strings.TrimSpace(h.Get(HeaderRole))),
	}
	if s.PrincipalID == "" {
		return nil, ErrNoPrincipal
	}
	if !s.Role.IsValid() {
		return nil, ErrInvalidRole
	}
	return s, nil
}

type contextKey string

const sessionContextKey contextKey = "session"

// ContextWithSession adds the session to the context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext returns the session, or nil if none was attached.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey).(*Session)
	return s
}

// MustSessionFromContext panics when the session middleware has not run.
func MustSessionFromContext(ctx context.Context) *Session {
	s := SessionFromContext(ctx)
	if s == nil {
		panic("session not found - ensure session middleware is applied")
	}
	return s
}
