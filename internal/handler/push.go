package handler

import (
	"log/slog"
	"net/http"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/middleware"
	"github.com/talentgrid/entitlements/internal/push"
)

// PushHandler upgrades dashboard sessions to the push channel.
type PushHandler struct {
	gateway *push.Gateway
	logger  *slog.Logger
}

// NewPushHandler creates a new PushHandler.
func NewPushHandler(gateway *push.Gateway, logger *slog.Logger) *PushHandler {
	return &PushHandler{gateway: gateway, logger: logger}
}

// Connect handles GET /ws. The connection joins the caller's tenant room
// and blocks until the client goes away.
func (h *PushHandler) Connect(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())

	// On upgrade failure the upgrader has already written the response.
	if err := h.gateway.Accept(w, r, session.PrincipalID, session.TenantID); err != nil {
		h.logger.Debug("push upgrade failed",
			"error", err,
			"principal_id", session.PrincipalID,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
}
