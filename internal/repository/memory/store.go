// Package memory provides an in-process store with the same semantics as the
// PostgreSQL repository. It backs STORE_DRIVER=memory and the unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/repository"
)

// Store keeps pools, plans and the notification directory in maps guarded by
// a single lock, so every method is one atomic step.
type Store struct {
	mu sync.RWMutex

	pools map[string]*model.CreditPool
	plans map[string]*model.Plan

	principals map[string]*model.Principal
	counters   map[string]int64
	messages   map[string]*model.Message
	receipts   map[string]map[string]*time.Time // messageID -> principalID -> seenAt

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		pools:      make(map[string]*model.CreditPool),
		plans:      make(map[string]*model.Plan),
		principals: make(map[string]*model.Principal),
		counters:   make(map[string]int64),
		messages:   make(map[string]*model.Message),
		receipts:   make(map[string]map[string]*time.Time),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ApplyGrant records a plan and credits its pool.
func (s *Store) ApplyGrant(ctx context.Context, plan *model.Plan) (*model.CreditPool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.PoolKey(plan.TenantID, plan.Kind)

	if existing, ok := s.plans[plan.ID]; ok {
		if !existing.SameGrant(plan) {
			return nil, false, repository.ErrGrantConflict
		}
		pool, ok := s.pools[key]
		if !ok {
			return nil, false, repository.ErrPoolNotFound
		}
		return clonePool(pool), false, nil
	}

	stored := *plan
	stored.State = model.PlanStateActive
	stored.Remaining = plan.GrantedAmount
	stored.ExpiredAt = nil
	stored.ExpiryReason = nil
	s.plans[plan.ID] = &stored

	pool, ok := s.pools[key]
	if !ok {
		pool = &model.CreditPool{TenantID: plan.TenantID, Kind: plan.Kind}
		s.pools[key] = pool
	}
	planID := plan.ID
	pool.Balance += plan.GrantedAmount
	pool.PlanID = &planID
	pool.UpdatedAt = plan.ActivatedAt

	return clonePool(pool), true, nil
}

// GetPool retrieves a tenant's pool for one credit kind.
func (s *Store) GetPool(ctx context.Context, tenantID string, kind model.CreditKind) (*model.CreditPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool, ok := s.pools[model.PoolKey(tenantID, kind)]
	if !ok {
		return nil, repository.ErrPoolNotFound
	}
	return clonePool(pool), nil
}

// DecrementBalance subtracts amount if the balance covers it.
func (s *Store) DecrementBalance(ctx context.Context, tenantID string, kind model.CreditKind, amount int64) (*model.CreditPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[model.PoolKey(tenantID, kind)]
	if !ok {
		return nil, repository.ErrPoolNotFound
	}
	if pool.Balance < amount {
		return nil, repository.ErrInsufficientBalance
	}
	pool.Balance -= amount
	pool.UpdatedAt = s.now()
	model.DrawDown(s.activePlans(tenantID, kind), amount)
	return clonePool(pool), nil
}

// SetBalance overwrites the pool balance. A decrease is drawn from the plan
// remainders; an increase is credited to the linked plan when it is active.
func (s *Store) SetBalance(ctx context.Context, tenantID string, kind model.CreditKind, value int64) (*model.CreditPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[model.PoolKey(tenantID, kind)]
	if !ok {
		return nil, repository.ErrPoolNotFound
	}
	switch delta := value - pool.Balance; {
	case delta < 0:
		model.DrawDown(s.activePlans(tenantID, kind), -delta)
	case delta > 0 && pool.PlanID != nil:
		if linked, ok := s.plans[*pool.PlanID]; ok && linked.IsActive() {
			linked.Remaining += delta
		}
	}
	pool.Balance = value
	pool.UpdatedAt = s.now()
	return clonePool(pool), nil
}

// GetPlan retrieves a plan by ID.
func (s *Store) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[planID]
	if !ok {
		return nil, repository.ErrPlanNotFound
	}
	return clonePlan(plan), nil
}

// ListPlansByTenant returns a tenant's plans, newest first.
func (s *Store) ListPlansByTenant(ctx context.Context, tenantID string) ([]*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var plans []*model.Plan
	for _, p := range s.plans {
		if p.TenantID == tenantID {
			plans = append(plans, clonePlan(p))
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].ActivatedAt.Equal(plans[j].ActivatedAt) {
			return plans[i].ActivatedAt.After(plans[j].ActivatedAt)
		}
		return plans[i].ID > plans[j].ID
	})
	return plans, nil
}

// ListDuePlans returns active plans whose expiry has passed, ordered by
// (ExpiresAt, ID) and starting strictly after the given plan.
func (s *Store) ListDuePlans(ctx context.Context, now time.Time, after *model.Plan, limit int) ([]*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*model.Plan
	for _, p := range s.plans {
		if !p.IsDue(now) {
			continue
		}
		if after != nil && !planAfter(p, after) {
			continue
		}
		due = append(due, clonePlan(p))
	}
	sort.Slice(due, func(i, j int) bool { return planAfter(due[j], due[i]) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListActivePlans returns a pool's active plans in (ExpiresAt, ID) order.
func (s *Store) ListActivePlans(ctx context.Context, tenantID string, kind model.CreditKind) ([]*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.activePlans(tenantID, kind)
	out := make([]*model.Plan, len(active))
	for i, p := range active {
		out[i] = clonePlan(p)
	}
	return out, nil
}

// ExpirePlan transitions an active plan, removes its remaining credits from
// the pool and relinks the pool to the newest plan still active.
func (s *Store) ExpirePlan(ctx context.Context, planID string, at time.Time, reason model.ExpiryReason) (*model.ExpireOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return nil, repository.ErrPlanNotFound
	}
	pool, hasPool := s.pools[model.PoolKey(plan.TenantID, plan.Kind)]

	removed := plan.Remaining
	if !plan.Expire(at, reason) {
		outcome := &model.ExpireOutcome{Plan: clonePlan(plan)}
		if hasPool {
			outcome.Pool = clonePool(pool)
		}
		return outcome, nil
	}

	outcome := &model.ExpireOutcome{Plan: clonePlan(plan), Transitioned: true, CreditsRemoved: removed}
	if hasPool {
		pool.Balance = max(pool.Balance-removed, 0)
		if newest := s.newestActivePlan(plan.TenantID, plan.Kind); newest != nil {
			id := newest.ID
			pool.PlanID = &id
		}
		pool.UpdatedAt = at
		outcome.Pool = clonePool(pool)
	}
	return outcome, nil
}

// activePlans returns live pointers to a pool's active plans, soonest expiry
// first. The caller holds the lock.
func (s *Store) activePlans(tenantID string, kind model.CreditKind) []*model.Plan {
	var plans []*model.Plan
	for _, p := range s.plans {
		if p.TenantID == tenantID && p.Kind == kind && p.IsActive() {
			plans = append(plans, p)
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ExpiresBefore(plans[j]) })
	return plans
}

func (s *Store) newestActivePlan(tenantID string, kind model.CreditKind) *model.Plan {
	var newest *model.Plan
	for _, p := range s.activePlans(tenantID, kind) {
		if newest == nil || p.ActivatedAt.After(newest.ActivatedAt) ||
			(p.ActivatedAt.Equal(newest.ActivatedAt) && p.ID > newest.ID) {
			newest = p
		}
	}
	return newest
}

// planAfter orders plans by (ExpiresAt, ID).
func planAfter(p, ref *model.Plan) bool {
	if p.ExpiresAt.Equal(ref.ExpiresAt) {
		return p.ID > ref.ID
	}
	return p.ExpiresAt.After(ref.ExpiresAt)
}

func clonePool(p *model.CreditPool) *model.CreditPool {
	c := *p
	if p.PlanID != nil {
		id := *p.PlanID
		c.PlanID = &id
	}
	return &c
}

func clonePlan(p *model.Plan) *model.Plan {
	c := *p
	if p.ExpiredAt != nil {
		t := *p.ExpiredAt
		c.ExpiredAt = &t
	}
	if p.ExpiryReason != nil {
		r := *p.ExpiryReason
		c.ExpiryReason = &r
	}
	return &c
}
