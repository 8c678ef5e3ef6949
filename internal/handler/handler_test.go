package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/handler/dto"
	"github.com/talentgrid/entitlements/internal/ledger"
	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/notification"
	"github.com/talentgrid/entitlements/internal/push"
	"github.com/talentgrid/entitlements/internal/repository/memory"
)

type testServer struct {
	router   http.Handler
	ledger   *ledger.Ledger
	counter  *notification.Counter
	recorder *metrics.InMemoryRecorder
	key      string
}

// newTestServer wires the router over the in-memory store with service key
// authentication enabled.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	recorder := metrics.NewInMemory()
	gateway := push.NewGateway(push.NewLocalBus(), push.NewHub(recorder, logger), push.Options{}, recorder, logger)

	l := ledger.New(store, gateway, recorder, logger, 30*24*time.Hour)
	counter := notification.NewCounter(store, gateway, recorder, logger)

	gen, err := auth.GenerateServiceKey(auth.EnvTest)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys, err := auth.NewKeySet([]string{gen.Hash})
	if err != nil {
		t.Fatalf("key set: %v", err)
	}

	router := NewRouter(RouterConfig{
		Logger:             logger,
		Credits:            NewCreditHandler(l, logger),
		Notifications:      NewNotificationHandler(counter, logger),
		Push:               NewPushHandler(gateway, logger),
		Health:             NewHealthHandler(DependencyCheck{Name: "store", Checker: store}),
		Metrics:            http.HandlerFunc(NewMetricsHandler(recorder).Metrics),
		ServiceKeys:        keys,
		MaxRequestBodySize: 1 << 20,
		IsDevelopment:      true,
	})

	return &testServer{router: router, ledger: l, counter: counter, recorder: recorder, key: gen.Plaintext}
}

// service performs a collaborator call.
func (s *testServer) service(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(t, method, path, body)
	req.Header.Set(auth.HeaderServiceKey, s.key)
	return s.do(req)
}

// dashboard performs a call on behalf of a signed-in principal.
func (s *testServer) dashboard(t *testing.T, method, path, principal, tenant, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(t, method, path, nil)
	req.Header.Set(auth.HeaderPrincipalID, principal)
	if tenant != "" {
		req.Header.Set(auth.HeaderTenantID, tenant)
	}
	req.Header.Set(auth.HeaderRole, role)
	return s.do(req)
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decodeBody[dto.ErrorResponse](t, rec)
	if body.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, body.Code, body.Error)
	}
}

func TestHandler_Info(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Info(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	response := decodeBody[map[string]string](t, rec)
	if response["service"] != "entitlements" || response["version"] != Version {
		t.Errorf("unexpected response: %v", response)
	}
}

func TestHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	expectError(t, s.do(httptest.NewRequest(http.MethodGet, "/nonexistent", nil)), http.StatusNotFound, "NOT_FOUND")
	expectError(t, s.do(httptest.NewRequest(http.MethodPatch, "/credits/grant", nil)), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestRouter_RequiresServiceKey(t *testing.T) {
	s := newTestServer(t)

	req := newJSONRequest(t, http.MethodPost, "/credits/consume", map[string]any{"tenantId": "acme", "kind": "job_post"})
	expectError(t, s.do(req), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestRouter_RequiresSession(t *testing.T) {
	s := newTestServer(t)

	expectError(t, s.do(httptest.NewRequest(http.MethodGet, "/notifications/unseen", nil)), http.StatusUnauthorized, "UNAUTHORIZED")
	expectError(t, s.do(httptest.NewRequest(http.MethodGet, "/ws", nil)), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t)

	s.service(t, http.MethodPost, "/credits/grant", dto.GrantRequest{TenantID: "acme", Kind: "job_post", Amount: 1, PlanID: "P1"})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`entitlements_credits_granted_total{duplicate="false"} 1`)) {
		t.Fatalf("grant not counted:\n%s", rec.Body.String())
	}
}
