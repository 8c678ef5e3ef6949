package handler

import (
	"net/http"
	"testing"

	"github.com/talentgrid/entitlements/internal/handler/dto"
	"github.com/talentgrid/entitlements/internal/model"
)

func seedDirectory(t *testing.T, s *testServer) {
	t.Helper()
	principals := []struct {
		id   string
		body dto.UpsertPrincipalRequest
	}{
		{"alice", dto.UpsertPrincipalRequest{TenantID: ptr("acme"), Role: model.RoleOwner}},
		{"bob", dto.UpsertPrincipalRequest{TenantID: ptr("acme"), Role: model.RoleRecruiter}},
		{"carol", dto.UpsertPrincipalRequest{TenantID: ptr("other"), Role: model.RoleAdmin}},
		{"root", dto.UpsertPrincipalRequest{Role: model.RoleAdmin}},
	}
	for _, p := range principals {
		rec := s.service(t, http.MethodPut, "/principals/"+p.id, p.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("upsert %s: %d %s", p.id, rec.Code, rec.Body.String())
		}
	}
}

func ptr(s string) *string { return &s }

func unseen(t *testing.T, s *testServer, principal, tenant string) int64 {
	t.Helper()
	rec := s.dashboard(t, http.MethodGet, "/notifications/unseen", principal, tenant, string(model.RoleOwner))
	if rec.Code != http.StatusOK {
		t.Fatalf("unseen %s: %d %s", principal, rec.Code, rec.Body.String())
	}
	return decodeBody[dto.UnseenResponse](t, rec).TotalUnseenNotifications
}

func TestNotifications_CountLifecycle(t *testing.T) {
	s := newTestServer(t)
	seedDirectory(t, s)

	rec := s.service(t, http.MethodPost, "/notifications/messages", dto.CreateMessageRequest{
		ID: "m1", Type: model.MessageTypeContact, TenantID: ptr("acme"), Subject: "hello",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[dto.CreateMessageResponse](t, rec); got.Recipients != 1 {
		t.Fatalf("recipients = %d, want 1", got.Recipients)
	}

	s.service(t, http.MethodPost, "/notifications/messages", dto.CreateMessageRequest{
		Type: model.MessageTypeJobReport, Subject: "platform report",
	})

	if got := unseen(t, s, "alice", "acme"); got != 1 {
		t.Fatalf("alice unseen = %d, want 1", got)
	}
	if got := unseen(t, s, "carol", "other"); got != 0 {
		t.Fatalf("carol unseen = %d, want 0", got)
	}
	if got := unseen(t, s, "root", ""); got != 1 {
		t.Fatalf("root unseen = %d, want 1", got)
	}

	rec = s.dashboard(t, http.MethodPut, "/notifications/mark-seen", "alice", "acme", string(model.RoleOwner))
	if rec.Code != http.StatusOK {
		t.Fatalf("mark seen: %d %s", rec.Code, rec.Body.String())
	}
	if got := unseen(t, s, "alice", "acme"); got != 0 {
		t.Fatalf("alice unseen after mark-seen = %d, want 0", got)
	}
}

func TestNotifications_DuplicateMessage(t *testing.T) {
	s := newTestServer(t)
	seedDirectory(t, s)

	req := dto.CreateMessageRequest{ID: "m1", Type: model.MessageTypeContact, TenantID: ptr("acme")}
	s.service(t, http.MethodPost, "/notifications/messages", req)

	rec := s.service(t, http.MethodPost, "/notifications/messages", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", rec.Code)
	}
	if got := decodeBody[dto.CreateMessageResponse](t, rec); !got.Duplicate {
		t.Fatal("replay should be reported as duplicate")
	}
	if got := unseen(t, s, "alice", "acme"); got != 1 {
		t.Fatalf("alice unseen = %d, want 1", got)
	}
}

func TestNotifications_DeleteUnseenMessage(t *testing.T) {
	s := newTestServer(t)
	seedDirectory(t, s)

	s.service(t, http.MethodPost, "/notifications/messages", dto.CreateMessageRequest{ID: "m1", Type: model.MessageTypeContact, TenantID: ptr("acme")})

	rec := s.service(t, http.MethodDelete, "/notifications/messages/m1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if got := unseen(t, s, "alice", "acme"); got != 0 {
		t.Fatalf("alice unseen after delete = %d, want 0", got)
	}

	expectError(t, s.service(t, http.MethodDelete, "/notifications/messages/m1", nil), http.StatusNotFound, "NOT_FOUND")
}

func TestNotifications_Validation(t *testing.T) {
	s := newTestServer(t)

	expectError(t, s.service(t, http.MethodPost, "/notifications/messages", dto.CreateMessageRequest{Type: "sms"}),
		http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, s.service(t, http.MethodPut, "/principals/dave", dto.UpsertPrincipalRequest{Role: "intern"}),
		http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, s.service(t, http.MethodPut, "/principals/bad%20id", dto.UpsertPrincipalRequest{Role: model.RoleOwner}),
		http.StatusBadRequest, "INVALID_PRINCIPAL_ID")
}

func TestNotifications_RecruiterIsForbidden(t *testing.T) {
	s := newTestServer(t)
	seedDirectory(t, s)

	expectError(t, s.dashboard(t, http.MethodGet, "/notifications/unseen", "bob", "acme", string(model.RoleRecruiter)),
		http.StatusForbidden, "FORBIDDEN")
}

func TestNotifications_UnknownPrincipal(t *testing.T) {
	s := newTestServer(t)

	expectError(t, s.dashboard(t, http.MethodGet, "/notifications/unseen", "ghost", "acme", string(model.RoleOwner)),
		http.StatusNotFound, "NOT_FOUND")
}
