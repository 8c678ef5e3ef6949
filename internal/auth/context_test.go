package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/talentgrid/entitlements/internal/model"
)

func TestSessionFromHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		wantErr error
	}{
		{"tenant owner", map[string]string{HeaderPrincipalID: "alice", HeaderTenantID: "acme", HeaderRole: "owner"}, nil},
		{"staff admin", map[string]string{HeaderPrincipalID: "root", HeaderRole: "admin"}, nil},
		{"missing principal", map[string]string{HeaderTenantID: "acme", HeaderRole: "owner"}, ErrNoPrincipal},
		{"unknown role", map[string]string{HeaderPrincipalID: "alice", HeaderRole: "superuser"}, ErrInvalidRole},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			s, err := SessionFromHeaders(h)
			if err != tt.wantErr {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && s.PrincipalID != tt.headers[HeaderPrincipalID] {
				t.Errorf("principal = %q", s.PrincipalID)
			}
		})
	}
}

func TestSessionContext(t *testing.T) {
	t.Parallel()

	if SessionFromContext(context.Background()) != nil {
		t.Fatal("empty context should carry no session")
	}

	s := &Session{PrincipalID: "alice", Role: model.RoleAdmin}
	ctx := ContextWithSession(context.Background(), s)
	if got := MustSessionFromContext(ctx); got != s {
		t.Fatalf("got %+v", got)
	}
	if !s.IsStaff() {
		t.Fatal("session without tenant is staff")
	}
}
