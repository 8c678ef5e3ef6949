package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/handler/dto"
	"github.com/talentgrid/entitlements/internal/ledger"
	"github.com/talentgrid/entitlements/internal/middleware"
	"github.com/talentgrid/entitlements/internal/model"
)

// CreditHandler handles credit pool and plan requests.
type CreditHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewCreditHandler creates a new CreditHandler.
func NewCreditHandler(l *ledger.Ledger, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{ledger: l, logger: logger}
}

// Grant handles POST /credits/grant.
func (h *CreditHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req dto.GrantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := middleware.ValidateIdentifier(req.PlanID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PLAN_ID", err.Error())
		return
	}

	result, err := h.ledger.Grant(r.Context(), ledger.GrantInput{
		TenantID:  req.TenantID,
		Kind:      req.Kind,
		Amount:    req.Amount,
		PlanID:    req.PlanID,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.GrantResponse{
		Balance:   result.Pool.Balance,
		Duplicate: result.Duplicate,
	})
}

// Consume handles POST /credits/consume.
func (h *CreditHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req dto.ConsumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	pool, err := h.ledger.Consume(r.Context(), req.TenantID, req.Kind, req.Amount)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceResponse{Balance: pool.Balance})
}

// SetBalance handles PUT /credits/balance.
func (h *CreditHandler) SetBalance(w http.ResponseWriter, r *http.Request) {
	var req dto.SetBalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Balance == nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "balance is required")
		return
	}

	pool, err := h.ledger.SetBalance(r.Context(), req.TenantID, req.Kind, *req.Balance)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceResponse{Balance: pool.Balance})
}

// Balance handles GET /credits/balance?kind= for the caller's tenant.
func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())
	kind := model.CreditKind(r.URL.Query().Get("kind"))

	view, err := h.ledger.Balance(r.Context(), session.TenantID, kind)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceViewResponse{
		TenantID:  view.Pool.TenantID,
		Kind:      view.Pool.Kind,
		Balance:   view.Pool.Balance,
		PlanState: view.PlanState,
	})
}

// ListPlans handles GET /plans for the caller's tenant.
func (h *CreditHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())

	plans, err := h.ledger.ListPlans(r.Context(), session.TenantID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToPlanListResponse(plans))
}

// CancelPlan handles POST /plans/{planId}/cancel.
func (h *CreditHandler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	if err := middleware.ValidateIdentifier(planID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PLAN_ID", err.Error())
		return
	}

	outcome, err := h.ledger.CancelPlan(r.Context(), planID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("plan_cancelled",
		"plan_id", planID,
		"transitioned", outcome.Transitioned,
		"request_id", middleware.GetRequestID(r.Context()),
	)
	writeJSON(w, http.StatusOK, dto.CancelPlanResponse{
		Plan:           dto.ToPlanResponse(outcome.Plan),
		CreditsRemoved: outcome.CreditsRemoved,
	})
}

// handleServiceError maps ledger errors to HTTP responses.
// ErrPlanExpired wraps ErrInsufficientCredit, so it is matched first.
func (h *CreditHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrPlanExpired):
		writeError(w, http.StatusPaymentRequired, "PLAN_EXPIRED", err.Error())
	case errors.Is(err, ledger.ErrInsufficientCredit):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDIT", err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ledger.ErrGrantConflict):
		writeError(w, http.StatusConflict, "GRANT_CONFLICT", err.Error())
	case errors.Is(err, ledger.ErrExpiresInPast):
		writeError(w, http.StatusUnprocessableEntity, "EXPIRES_IN_PAST", err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidBalance),
		errors.Is(err, ledger.ErrInvalidKind),
		errors.Is(err, ledger.ErrInvalidTenant),
		errors.Is(err, ledger.ErrInvalidPlanID):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}
