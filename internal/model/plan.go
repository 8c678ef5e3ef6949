package model

import "time"

// PlanState is the lifecycle state of a plan.
type PlanState string

const (
	PlanStateActive  PlanState = "active"
	PlanStateExpired PlanState = "expired"
)

// ExpiryReason records why a plan left the active state.
type ExpiryReason string

const (
	ExpiryReasonElapsed   ExpiryReason = "elapsed"
	ExpiryReasonCancelled ExpiryReason = "cancelled"
)

// Plan is a time-bounded grant of credits purchased by a tenant.
// State only moves from active to expired. Remaining is the part of the
// grant still held in the pool; it is what expiring the plan takes away.
type Plan struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	Kind          CreditKind    `json:"kind"`
	GrantedAmount int64         `json:"granted_amount"`
	Remaining     int64         `json:"remaining"`
	ActivatedAt   time.Time     `json:"activated_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	State         PlanState     `json:"state"`
	ExpiredAt     *time.Time    `json:"expired_at,omitempty"`
	ExpiryReason  *ExpiryReason `json:"expiry_reason,omitempty"`
}

// IsActive returns true if the plan has not expired.
func (p *Plan) IsActive() bool {
	return p.State == PlanStateActive
}

// IsDue returns true if an active plan has reached its expiry time.
func (p *Plan) IsDue(now time.Time) bool {
	return p.IsActive() && !now.Before(p.ExpiresAt)
}

// Expire transitions the plan to expired. It returns false when the plan
// was already expired, leaving it untouched.
func (p *Plan) Expire(at time.Time, reason ExpiryReason) bool {
	if !p.IsActive() {
		return false
	}
	p.State = PlanStateExpired
	p.ExpiredAt = &at
	p.ExpiryReason = &reason
	p.Remaining = 0
	return true
}

// SameGrant reports whether other describes the same purchase as p.
// Used to tell an idempotent replay from a conflicting reuse of a plan ID.
func (p *Plan) SameGrant(other *Plan) bool {
	return p.ID == other.ID &&
		p.TenantID == other.TenantID &&
		p.Kind == other.Kind &&
		p.GrantedAmount == other.GrantedAmount
}

// ExpiresBefore orders plans by (ExpiresAt, ID), the order in which
// consumption draws them down.
func (p *Plan) ExpiresBefore(other *Plan) bool {
	if p.ExpiresAt.Equal(other.ExpiresAt) {
		return p.ID < other.ID
	}
	return p.ExpiresAt.Before(other.ExpiresAt)
}

// DrawDown takes amount from the remainders of active plans sorted with
// ExpiresBefore, soonest expiry first. It returns the part of amount the
// plans could not cover.
func DrawDown(plans []*Plan, amount int64) int64 {
	for _, p := range plans {
		if amount <= 0 {
			break
		}
		if !p.IsActive() {
			continue
		}
		take := min(p.Remaining, amount)
		p.Remaining -= take
		amount -= take
	}
	return amount
}

// ExpireOutcome reports what an expiry step changed. CreditsRemoved is the
// plan's remainder taken out of the pool; Pool is the pool afterwards, nil
// when the tenant has none.
type ExpireOutcome struct {
	Plan           *Plan
	Transitioned   bool
	CreditsRemoved int64
	Pool           *CreditPool
}
