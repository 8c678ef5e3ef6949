// Package model defines domain entities for the entitlement service.
package model

import (
	"slices"
	"time"
)

// CreditKind identifies a billable action metered by a credit pool.
type CreditKind string

const (
	CreditKindJobPost       CreditKind = "job_post"
	CreditKindCandidateView CreditKind = "candidate_view"
)

// ValidCreditKinds contains all metered credit kinds.
var ValidCreditKinds = []CreditKind{CreditKindJobPost, CreditKindCandidateView}

// IsValid checks if the credit kind is known.
func (k CreditKind) IsValid() bool {
	return slices.Contains(ValidCreditKinds, k)
}

// CreditPool is a tenant's remaining usage units for one credit kind.
// PlanID links the newest active plan, or the last plan to expire when none
// is active.
type CreditPool struct {
	TenantID  string     `json:"tenant_id"`
	Kind      CreditKind `json:"kind"`
	Balance   int64      `json:"balance"`
	PlanID    *string    `json:"plan_id,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsLinkedTo reports whether the pool's current plan is planID.
func (p *CreditPool) IsLinkedTo(planID string) bool {
	return p.PlanID != nil && *p.PlanID == planID
}

// PoolKey returns the serialization key for a (tenant, kind) pair.
func PoolKey(tenantID string, kind CreditKind) string {
	return tenantID + ":" + string(kind)
}
