package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/handler/dto"
	"github.com/talentgrid/entitlements/internal/middleware"
	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/notification"
)

// NotificationHandler handles message, directory and unseen count requests.
type NotificationHandler struct {
	counter *notification.Counter
	logger  *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(counter *notification.Counter, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{counter: counter, logger: logger}
}

// CreateMessage handles POST /notifications/messages.
func (h *NotificationHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.ID != "" {
		if err := middleware.ValidateIdentifier(req.ID); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_MESSAGE_ID", err.Error())
			return
		}
	}

	result, err := h.counter.OnMessageCreated(r.Context(), notification.MessageInput{
		ID:       req.ID,
		Type:     req.Type,
		TenantID: req.TenantID,
		Subject:  req.Subject,
		Body:     req.Body,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, dto.CreateMessageResponse{
		ID:         result.Message.ID,
		Recipients: result.Recipients,
		Duplicate:  result.Duplicate,
	})
}

// DeleteMessage handles DELETE /notifications/messages/{messageId}.
func (h *NotificationHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	if err := middleware.ValidateIdentifier(messageID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_MESSAGE_ID", err.Error())
		return
	}

	if err := h.counter.DeleteMessage(r.Context(), messageID); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpsertPrincipal handles PUT /principals/{principalId}.
func (h *NotificationHandler) UpsertPrincipal(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalId")
	if err := middleware.ValidateIdentifier(principalID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PRINCIPAL_ID", err.Error())
		return
	}

	var req dto.UpsertPrincipalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	principal := &model.Principal{ID: principalID, TenantID: req.TenantID, Role: req.Role}
	if err := h.counter.UpsertPrincipal(r.Context(), principal); err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Success: true})
}

// Unseen handles GET /notifications/unseen.
func (h *NotificationHandler) Unseen(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())

	count, err := h.counter.UnseenCount(r.Context(), session.PrincipalID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UnseenResponse{TotalUnseenNotifications: count})
}

// MarkSeen handles PUT /notifications/mark-seen.
func (h *NotificationHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())

	if _, err := h.counter.MarkSeen(r.Context(), session.PrincipalID); err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Success: true})
}

// handleServiceError maps notification errors to HTTP responses.
func (h *NotificationHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notification.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, notification.ErrInvalidType),
		errors.Is(err, notification.ErrInvalidRole),
		errors.Is(err, notification.ErrInvalidPrincipal),
		errors.Is(err, notification.ErrInvalidMessageID):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}
