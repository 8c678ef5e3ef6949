// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/talentgrid/entitlements/internal/model"
)

// GrantRequest credits a purchased plan.
type GrantRequest struct {
	TenantID  string           `json:"tenantId"`
	Kind      model.CreditKind `json:"kind"`
	Amount    int64            `json:"amount"`
	PlanID    string           `json:"planId"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

// GrantResponse is the pool balance after a grant.
type GrantResponse struct {
	Balance   int64 `json:"balance"`
	Duplicate bool  `json:"duplicate"`
}

// ConsumeRequest takes credits for a billable action. Amount defaults to 1.
type ConsumeRequest struct {
	TenantID string           `json:"tenantId"`
	Kind     model.CreditKind `json:"kind"`
	Amount   int64            `json:"amount,omitempty"`
}

// SetBalanceRequest overrides a pool balance.
type SetBalanceRequest struct {
	TenantID string           `json:"tenantId"`
	Kind     model.CreditKind `json:"kind"`
	Balance  *int64           `json:"balance"`
}

// BalanceResponse is a pool balance after a mutation.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// BalanceViewResponse is the authoritative balance read by dashboards.
type BalanceViewResponse struct {
	TenantID  string           `json:"tenantId"`
	Kind      model.CreditKind `json:"kind"`
	Balance   int64            `json:"balance"`
	PlanState model.PlanState  `json:"planState,omitempty"`
}

// PlanResponse represents a plan in API responses.
type PlanResponse struct {
	ID            string              `json:"id"`
	TenantID      string              `json:"tenantId"`
	Kind          model.CreditKind    `json:"kind"`
	GrantedAmount int64               `json:"grantedAmount"`
	Remaining     int64               `json:"remaining"`
	ActivatedAt   time.Time           `json:"activatedAt"`
	ExpiresAt     time.Time           `json:"expiresAt"`
	State         model.PlanState     `json:"state"`
	ExpiredAt     *time.Time          `json:"expiredAt,omitempty"`
	ExpiryReason  *model.ExpiryReason `json:"expiryReason,omitempty"`
}

// PlanListResponse is a tenant's plans.
type PlanListResponse struct {
	Data []PlanResponse `json:"data"`
}

// CancelPlanResponse is the plan after cancellation and the credits it
// took out of the pool.
type CancelPlanResponse struct {
	Plan           PlanResponse `json:"plan"`
	CreditsRemoved int64        `json:"creditsRemoved"`
}

// CreateMessageRequest records an inbound message. ID is optional and makes
// retries idempotent.
type CreateMessageRequest struct {
	ID       string            `json:"id,omitempty"`
	Type     model.MessageType `json:"type"`
	TenantID *string           `json:"tenantId,omitempty"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
}

// CreateMessageResponse reports the stored message.
type CreateMessageResponse struct {
	ID         string `json:"id"`
	Recipients int    `json:"recipients"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// UpsertPrincipalRequest syncs a directory entry.
type UpsertPrincipalRequest struct {
	TenantID *string    `json:"tenantId,omitempty"`
	Role     model.Role `json:"role"`
}

// UnseenResponse is a principal's unseen notification count.
type UnseenResponse struct {
	TotalUnseenNotifications int64 `json:"totalUnseenNotifications"`
}

// SuccessResponse acknowledges an operation.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToPlanResponse converts a Plan model to PlanResponse DTO.
func ToPlanResponse(p *model.Plan) PlanResponse {
	return PlanResponse{
		ID:            p.ID,
		TenantID:      p.TenantID,
		Kind:          p.Kind,
		GrantedAmount: p.GrantedAmount,
		Remaining:     p.Remaining,
		ActivatedAt:   p.ActivatedAt,
		ExpiresAt:     p.ExpiresAt,
		State:         p.State,
		ExpiredAt:     p.ExpiredAt,
		ExpiryReason:  p.ExpiryReason,
	}
}

// ToPlanListResponse converts plans to PlanListResponse.
func ToPlanListResponse(plans []*model.Plan) PlanListResponse {
	data := make([]PlanResponse, len(plans))
	for i, p := range plans {
		data[i] = ToPlanResponse(p)
	}
	return PlanListResponse{Data: data}
}
