package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/repository"
)

// GetPlan returns a plan by ID.
func (l *Ledger) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	plan, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, repository.ErrPlanNotFound) {
			return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListPlans returns a tenant's plans, newest first.
func (l *Ledger) ListPlans(ctx context.Context, tenantID string) ([]*model.Plan, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	plans, err := l.store.ListPlansByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// DuePlans returns one page of active plans whose expiry has passed.
func (l *Ledger) DuePlans(ctx context.Context, after *model.Plan, limit int) ([]*model.Plan, error) {
	plans, err := l.store.ListDuePlans(ctx, l.now(), after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due plans: %w", err)
	}
	return plans, nil
}

// ExpirePlan moves a plan to expired and removes its remaining credits from
// the pool. Every transition emits PlanExpired. Expiring an already expired
// plan returns an outcome with Transitioned=false.
func (l *Ledger) ExpirePlan(ctx context.Context, planID string, reason model.ExpiryReason) (*model.ExpireOutcome, error) {
	plan, err := l.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive() {
		return &model.ExpireOutcome{Plan: plan}, nil
	}

	unlock := l.locks.lock(model.PoolKey(plan.TenantID, plan.Kind))
	defer unlock()

	return l.expireLocked(ctx, planID, reason)
}

// CancelPlan expires a plan ahead of schedule.
func (l *Ledger) CancelPlan(ctx context.Context, planID string) (*model.ExpireOutcome, error) {
	return l.ExpirePlan(ctx, planID, model.ExpiryReasonCancelled)
}

// expireLocked runs the expiry step. The caller holds the pool's key lock.
func (l *Ledger) expireLocked(ctx context.Context, planID string, reason model.ExpiryReason) (*model.ExpireOutcome, error) {
	outcome, err := l.store.ExpirePlan(ctx, planID, l.now(), reason)
	if err != nil {
		if errors.Is(err, repository.ErrPlanNotFound) {
			return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to expire plan %s: %w", planID, err)
	}
	if !outcome.Transitioned {
		return outcome, nil
	}

	plan := outcome.Plan
	l.metrics.IncPlanExpired(string(reason))
	l.logger.Info("plan expired",
		"plan_id", plan.ID,
		"tenant_id", plan.TenantID,
		"kind", plan.Kind,
		"reason", reason,
		"credits_removed", outcome.CreditsRemoved,
	)

	if l.emitter != nil {
		l.emitter.Emit(model.PlanExpired(plan.TenantID, plan.Kind))
	}
	return outcome, nil
}
