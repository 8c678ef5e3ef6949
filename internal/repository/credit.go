package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/talentgrid/entitlements/internal/model"
)

const planColumns = `id, tenant_id, kind, granted_amount, remaining, activated_at, expires_at, state, expired_at, expiry_reason`

const poolColumns = `tenant_id, kind, balance, plan_id, updated_at`

// ApplyGrant records a plan and credits its amount to the tenant's pool in
// one transaction. A replay of an already-applied plan returns the current
// pool with applied=false; reusing the plan ID for a different grant
// returns ErrGrantConflict.
func (r *Repository) ApplyGrant(ctx context.Context, plan *model.Plan) (*model.CreditPool, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin grant: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO plans (id, tenant_id, kind, granted_amount, remaining, activated_at, expires_at, state)
		VALUES ($1, $2, $3, $4, $4, $5, $6, 'active')
		ON CONFLICT (id) DO NOTHING
	`,
		plan.ID,
		plan.TenantID,
		plan.Kind,
		plan.GrantedAmount,
		plan.ActivatedAt,
		plan.ExpiresAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert plan: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := scanPlan(tx.QueryRow(ctx,
			`SELECT `+planColumns+` FROM plans WHERE id = $1`, plan.ID))
		if err != nil {
			return nil, false, fmt.Errorf("failed to load existing plan: %w", err)
		}
		if !existing.SameGrant(plan) {
			return nil, false, ErrGrantConflict
		}

		pool, err := scanPool(tx.QueryRow(ctx,
			`SELECT `+poolColumns+` FROM credit_pools WHERE tenant_id = $1 AND kind = $2`,
			plan.TenantID, plan.Kind))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, ErrPoolNotFound
			}
			return nil, false, fmt.Errorf("failed to load pool: %w", err)
		}
		return pool, false, tx.Commit(ctx)
	}

	pool, err := scanPool(tx.QueryRow(ctx, `
		INSERT INTO credit_pools (tenant_id, kind, balance, plan_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, kind) DO UPDATE
		SET balance    = credit_pools.balance + EXCLUDED.balance,
		    plan_id    = EXCLUDED.plan_id,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+poolColumns,
		plan.TenantID,
		plan.Kind,
		plan.GrantedAmount,
		plan.ID,
		plan.ActivatedAt,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to credit pool: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit grant: %w", err)
	}
	return pool, true, nil
}

// GetPool retrieves a tenant's pool for one credit kind.
func (r *Repository) GetPool(ctx context.Context, tenantID string, kind model.CreditKind) (*model.CreditPool, error) {
	pool, err := scanPool(r.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM credit_pools WHERE tenant_id = $1 AND kind = $2`,
		tenantID, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	return pool, nil
}

// DecrementBalance subtracts amount from the pool only if the balance covers
// it, and draws the same amount from the active plans' remainders, soonest
// expiry first. The pool row is updated first, so its row lock serializes
// every writer of that pool's plan remainders.
func (r *Repository) DecrementBalance(ctx context.Context, tenantID string, kind model.CreditKind, amount int64) (*model.CreditPool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin decrement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pool, err := scanPool(tx.QueryRow(ctx, `
		UPDATE credit_pools
		SET balance = balance - $3, updated_at = now()
		WHERE tenant_id = $1 AND kind = $2 AND balance >= $3
		RETURNING `+poolColumns,
		tenantID, kind, amount))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to decrement balance: %w", err)
		}
		// Either the pool is missing or it is short.
		if _, err := r.GetPool(ctx, tenantID, kind); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientBalance
	}

	if err := drawDownPlans(ctx, tx, tenantID, kind, amount); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit decrement: %w", err)
	}
	return pool, nil
}

// SetBalance overwrites the pool balance. A decrease is drawn from the plan
// remainders like a consume; an increase is credited to the linked plan when
// it is active.
func (r *Repository) SetBalance(ctx context.Context, tenantID string, kind model.CreditKind, value int64) (*model.CreditPool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin set balance: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanPool(tx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM credit_pools WHERE tenant_id = $1 AND kind = $2 FOR UPDATE`,
		tenantID, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to lock pool: %w", err)
	}

	pool, err := scanPool(tx.QueryRow(ctx, `
		UPDATE credit_pools
		SET balance = $3, updated_at = now()
		WHERE tenant_id = $1 AND kind = $2
		RETURNING `+poolColumns,
		tenantID, kind, value))
	if err != nil {
		return nil, fmt.Errorf("failed to set balance: %w", err)
	}

	switch delta := value - current.Balance; {
	case delta < 0:
		if err := drawDownPlans(ctx, tx, tenantID, kind, -delta); err != nil {
			return nil, err
		}
	case delta > 0 && current.PlanID != nil:
		_, err := tx.Exec(ctx, `
			UPDATE plans SET remaining = remaining + $2
			WHERE id = $1 AND state = 'active'
		`, *current.PlanID, delta)
		if err != nil {
			return nil, fmt.Errorf("failed to credit linked plan: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit set balance: %w", err)
	}
	return pool, nil
}

// drawDownPlans takes amount from the active plans of a pool in
// (expires_at, id) order. The caller holds the pool row lock.
func drawDownPlans(ctx context.Context, tx pgx.Tx, tenantID string, kind model.CreditKind, amount int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE plans p
		SET remaining = p.remaining - LEAST(p.remaining, $3::bigint - o.before)
		FROM (
			SELECT id, (SUM(remaining) OVER (ORDER BY expires_at, id))::bigint - remaining AS before
			FROM plans
			WHERE tenant_id = $1 AND kind = $2 AND state = 'active' AND remaining > 0
		) o
		WHERE p.id = o.id AND o.before < $3::bigint
	`, tenantID, kind, amount)
	if err != nil {
		return fmt.Errorf("failed to draw down plans: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by ID.
func (r *Repository) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	plan, err := scanPlan(r.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, planID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListPlansByTenant returns a tenant's plans, newest first.
func (r *Repository) ListPlansByTenant(ctx context.Context, tenantID string) ([]*model.Plan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE tenant_id = $1
		ORDER BY activated_at DESC, id DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return collectPlans(rows)
}

// ListDuePlans returns active plans whose expiry has passed, ordered by
// (expires_at, id) and starting strictly after the given plan.
func (r *Repository) ListDuePlans(ctx context.Context, now time.Time, after *model.Plan, limit int) ([]*model.Plan, error) {
	query := `
		SELECT ` + planColumns + `
		FROM plans
		WHERE state = 'active' AND expires_at <= $1
	`
	args := []any{now}

	if after != nil {
		query += ` AND (expires_at, id) > ($2, $3)`
		args = append(args, after.ExpiresAt, after.ID)
	}

	query += fmt.Sprintf(" ORDER BY expires_at, id LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list due plans: %w", err)
	}
	return collectPlans(rows)
}

// ListActivePlans returns a pool's active plans in (expires_at, id) order.
func (r *Repository) ListActivePlans(ctx context.Context, tenantID string, kind model.CreditKind) ([]*model.Plan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE tenant_id = $1 AND kind = $2 AND state = 'active'
		ORDER BY expires_at, id
	`, tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list active plans: %w", err)
	}
	return collectPlans(rows)
}

// ExpirePlan moves an active plan to expired, removes its remaining credits
// from the pool and relinks the pool to the newest plan still active, all in
// one transaction. Calling it on an expired plan changes nothing.
func (r *Repository) ExpirePlan(ctx context.Context, planID string, at time.Time, reason model.ExpiryReason) (*model.ExpireOutcome, error) {
	plan, err := r.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin expire: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Pool first, then the plan: the same lock order as DecrementBalance.
	pool, err := scanPool(tx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM credit_pools WHERE tenant_id = $1 AND kind = $2 FOR UPDATE`,
		plan.TenantID, plan.Kind))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock pool: %w", err)
	}

	plan, err = scanPlan(tx.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1 FOR UPDATE`, planID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock plan: %w", err)
	}
	if !plan.IsActive() {
		return &model.ExpireOutcome{Plan: plan, Pool: pool}, nil
	}
	removed := plan.Remaining

	plan, err = scanPlan(tx.QueryRow(ctx, `
		UPDATE plans
		SET state = 'expired', expired_at = $2, expiry_reason = $3, remaining = 0
		WHERE id = $1
		RETURNING `+planColumns,
		planID, at, reason))
	if err != nil {
		return nil, fmt.Errorf("failed to expire plan: %w", err)
	}

	if pool != nil {
		pool, err = scanPool(tx.QueryRow(ctx, `
			UPDATE credit_pools
			SET balance    = GREATEST(balance - $3, 0),
			    plan_id    = COALESCE((
			        SELECT id FROM plans
			        WHERE tenant_id = $1 AND kind = $2 AND state = 'active'
			        ORDER BY activated_at DESC, id DESC
			        LIMIT 1
			    ), plan_id),
			    updated_at = $4
			WHERE tenant_id = $1 AND kind = $2
			RETURNING `+poolColumns,
			plan.TenantID, plan.Kind, removed, at))
		if err != nil {
			return nil, fmt.Errorf("failed to release plan credits: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit expire: %w", err)
	}

	return &model.ExpireOutcome{
		Plan:           plan,
		Transitioned:   true,
		CreditsRemoved: removed,
		Pool:           pool,
	}, nil
}

func collectPlans(rows pgx.Rows) ([]*model.Plan, error) {
	defer rows.Close()

	var plans []*model.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return plans, nil
}

// scanPlan scans a single row into a Plan model.
func scanPlan(row pgx.Row) (*model.Plan, error) {
	var plan model.Plan
	err := row.Scan(
		&plan.ID,
		&plan.TenantID,
		&plan.Kind,
		&plan.GrantedAmount,
		&plan.Remaining,
		&plan.ActivatedAt,
		&plan.ExpiresAt,
		&plan.State,
		&plan.ExpiredAt,
		&plan.ExpiryReason,
	)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// scanPool scans a single row into a CreditPool model.
func scanPool(row pgx.Row) (*model.CreditPool, error) {
	var pool model.CreditPool
	err := row.Scan(
		&pool.TenantID,
		&pool.Kind,
		&pool.Balance,
		&pool.PlanID,
		&pool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pool, nil
}
