package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/model"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestServiceKey(t *testing.T) {
	gen, err := auth.GenerateServiceKey(auth.EnvTest)
	if err != nil {
		t.Fatalf("GenerateServiceKey failed: %v", err)
	}
	keys, err := auth.NewKeySet([]string{gen.Hash})
	if err != nil {
		t.Fatalf("NewKeySet failed: %v", err)
	}

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"valid key", gen.Plaintext, http.StatusOK},
		{"missing key", "", http.StatusUnauthorized},
		{"malformed key", "not-a-key", http.StatusUnauthorized},
		{"unknown key", "sk_test_0123456789abcdef0123456789abcdef", http.StatusUnauthorized},
	}

	handler := ServiceKey(ServiceKeyConfig{Logger: discardLogger, Keys: keys})(okHandler())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/credits/consume", nil)
			if tt.key != "" {
				req.Header.Set(auth.HeaderServiceKey, tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), `"code":"UNAUTHORIZED"`) {
				t.Errorf("unexpected body: %s", rec.Body.String())
			}
		})
	}
}

func TestServiceKey_DisabledWithoutHashes(t *testing.T) {
	keys, _ := auth.NewKeySet(nil)
	handler := ServiceKey(ServiceKeyConfig{Logger: discardLogger, Keys: keys})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/credits/grant", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSessionAndRoles(t *testing.T) {
	tests := []struct {
		name       string
		principal  string
		tenant     string
		role       string
		chain      func(http.Handler) http.Handler
		wantStatus int
	}{
		{"no session", "", "", "", func(h http.Handler) http.Handler { return h }, http.StatusUnauthorized},
		{"bad role", "alice", "acme", "superuser", func(h http.Handler) http.Handler { return h }, http.StatusUnauthorized},
		{"owner allowed", "alice", "acme", "owner", RequireRole(model.RoleOwner, model.RoleAdmin), http.StatusOK},
		{"recruiter forbidden", "bob", "acme", "recruiter", RequireRole(model.RoleOwner, model.RoleAdmin), http.StatusForbidden},
		{"tenant required", "root", "", "admin", RequireTenant(), http.StatusForbidden},
		{"tenant present", "alice", "acme", "recruiter", RequireTenant(), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *auth.Session
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = auth.SessionFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})
			handler := Session(discardLogger)(tt.chain(inner))

			req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
			if tt.principal != "" {
				req.Header.Set(auth.HeaderPrincipalID, tt.principal)
			}
			if tt.tenant != "" {
				req.Header.Set(auth.HeaderTenantID, tt.tenant)
			}
			if tt.role != "" {
				req.Header.Set(auth.HeaderRole, tt.role)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK && (seen == nil || seen.PrincipalID != tt.principal) {
				t.Fatalf("session not attached: %+v", seen)
			}
		})
	}
}

func TestRequireRole_WithoutSession(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireRole(model.RoleOwner)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
