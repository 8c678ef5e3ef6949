// Package ledger owns tenant credit pools and the plans that fund them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/repository"
)

// Store is the persistence the ledger needs. Every method must be atomic on
// its own; the ledger adds per-(tenant, kind) serialization on top.
type Store interface {
	ApplyGrant(ctx context.Context, plan *model.Plan) (*model.CreditPool, bool, error)
	GetPool(ctx context.Context, tenantID string, kind model.CreditKind) (*model.CreditPool, error)
	DecrementBalance(ctx context.Context, tenantID string, kind model.CreditKind, amount int64) (*model.CreditPool, error)
	SetBalance(ctx context.Context, tenantID string, kind model.CreditKind, value int64) (*model.CreditPool, error)
	GetPlan(ctx context.Context, planID string) (*model.Plan, error)
	ListPlansByTenant(ctx context.Context, tenantID string) ([]*model.Plan, error)
	ListDuePlans(ctx context.Context, now time.Time, after *model.Plan, limit int) ([]*model.Plan, error)
	ListActivePlans(ctx context.Context, tenantID string, kind model.CreditKind) ([]*model.Plan, error)
	ExpirePlan(ctx context.Context, planID string, at time.Time, reason model.ExpiryReason) (*model.ExpireOutcome, error)
}

// Emitter receives events produced by state transitions. Emit must not block.
type Emitter interface {
	Emit(event model.Event)
}

// Ledger meters credits. Mutations for one (tenant, kind) pair run one at a
// time; different pairs proceed in parallel.
type Ledger struct {
	store           Store
	emitter         Emitter
	locks           *keyLocks
	metrics         metrics.Recorder
	logger          *slog.Logger
	defaultDuration time.Duration
	now             func() time.Time
}

// New creates a Ledger. defaultDuration is the plan lifetime used when a
// grant carries no expiry.
func New(store Store, emitter Emitter, recorder metrics.Recorder, logger *slog.Logger, defaultDuration time.Duration) *Ledger {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:           store,
		emitter:         emitter,
		locks:           newKeyLocks(),
		metrics:         recorder,
		logger:          logger.With("component", "ledger"),
		defaultDuration: defaultDuration,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// GrantInput defines input for crediting a purchased plan.
type GrantInput struct {
	TenantID  string
	Kind      model.CreditKind
	Amount    int64
	PlanID    string
	ExpiresAt *time.Time
}

// GrantResult is the outcome of a grant.
type GrantResult struct {
	Pool      *model.CreditPool
	Duplicate bool
}

// Grant credits a plan's amount to the tenant's pool and links the pool to
// the plan. Replaying a plan ID with the same parameters is a no-op
// reported as Duplicate.
func (l *Ledger) Grant(ctx context.Context, input GrantInput) (*GrantResult, error) {
	if err := validateKey(input.TenantID, input.Kind); err != nil {
		return nil, err
	}
	if input.PlanID == "" {
		return nil, ErrInvalidPlanID
	}
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := l.now()
	expiresAt := now.Add(l.defaultDuration)
	if input.ExpiresAt != nil {
		expiresAt = input.ExpiresAt.UTC()
	}

	plan := &model.Plan{
		ID:            input.PlanID,
		TenantID:      input.TenantID,
		Kind:          input.Kind,
		GrantedAmount: input.Amount,
		ActivatedAt:   now,
		ExpiresAt:     expiresAt,
		State:         model.PlanStateActive,
	}

	unlock := l.locks.lock(model.PoolKey(input.TenantID, input.Kind))
	defer unlock()

	var (
		pool    *model.CreditPool
		applied bool
		err     error
	)
	if expiresAt.After(now) {
		pool, applied, err = l.store.ApplyGrant(ctx, plan)
	} else {
		// A replay may arrive after the plan has already lapsed; only a new
		// plan ID is refused for expiring in the past.
		pool, err = l.replayedGrant(ctx, plan)
	}
	if err != nil {
		if errors.Is(err, repository.ErrGrantConflict) {
			return nil, ErrGrantConflict
		}
		if errors.Is(err, ErrExpiresInPast) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply grant: %w", err)
	}

	l.metrics.IncCreditGranted(string(input.Kind), !applied)
	if applied {
		l.logger.Info("plan granted",
			"tenant_id", input.TenantID,
			"kind", input.Kind,
			"plan_id", input.PlanID,
			"amount", input.Amount,
			"balance", pool.Balance,
		)
	}

	return &GrantResult{Pool: pool, Duplicate: !applied}, nil
}

// replayedGrant resolves a grant whose expiry is not in the future. It
// succeeds only when the plan was already applied with the same parameters.
func (l *Ledger) replayedGrant(ctx context.Context, plan *model.Plan) (*model.CreditPool, error) {
	existing, err := l.store.GetPlan(ctx, plan.ID)
	if err != nil {
		if errors.Is(err, repository.ErrPlanNotFound) {
			return nil, ErrExpiresInPast
		}
		return nil, err
	}
	if !existing.SameGrant(plan) {
		return nil, repository.ErrGrantConflict
	}
	return l.store.GetPool(ctx, plan.TenantID, plan.Kind)
}

// Consume takes amount credits from the pool, or fails without touching the
// balance. An amount of zero means one. Plans that have passed their expiry
// are expired on the spot rather than waiting for the next sweep. A shortfall
// on a pool left with no active plan is reported as ErrPlanExpired.
func (l *Ledger) Consume(ctx context.Context, tenantID string, kind model.CreditKind, amount int64) (*model.CreditPool, error) {
	if err := validateKey(tenantID, kind); err != nil {
		return nil, err
	}
	if amount == 0 {
		amount = 1
	}
	if amount < 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.lock(model.PoolKey(tenantID, kind))
	defer unlock()

	pool, err := l.store.GetPool(ctx, tenantID, kind)
	if err != nil {
		l.recordConsume(kind, err)
		return nil, l.mapPoolError(err, tenantID, kind)
	}

	live, err := l.expireDueLocked(ctx, tenantID, kind)
	if err != nil {
		return nil, err
	}

	updated, err := l.store.DecrementBalance(ctx, tenantID, kind, amount)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) && live == 0 && pool.PlanID != nil {
			err = ErrPlanExpired
		}
		l.recordConsume(kind, err)
		return nil, l.mapPoolError(err, tenantID, kind)
	}

	l.recordConsume(kind, nil)
	return updated, nil
}

// expireDueLocked expires the pool's active plans whose expiry has passed and
// returns how many active plans remain. The caller holds the pool's key lock.
func (l *Ledger) expireDueLocked(ctx context.Context, tenantID string, kind model.CreditKind) (int, error) {
	plans, err := l.store.ListActivePlans(ctx, tenantID, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to list active plans: %w", err)
	}
	now := l.now()
	live := 0
	for _, plan := range plans {
		if !plan.IsDue(now) {
			live++
			continue
		}
		if _, err := l.expireLocked(ctx, plan.ID, model.ExpiryReasonElapsed); err != nil {
			return 0, err
		}
	}
	return live, nil
}

// SetBalance overwrites a pool's balance. It bypasses grant accounting.
func (l *Ledger) SetBalance(ctx context.Context, tenantID string, kind model.CreditKind, value int64) (*model.CreditPool, error) {
	if err := validateKey(tenantID, kind); err != nil {
		return nil, err
	}
	if value < 0 {
		return nil, ErrInvalidBalance
	}

	unlock := l.locks.lock(model.PoolKey(tenantID, kind))
	defer unlock()

	pool, err := l.store.SetBalance(ctx, tenantID, kind, value)
	if err != nil {
		return nil, l.mapPoolError(err, tenantID, kind)
	}

	l.logger.Info("balance overridden", "tenant_id", tenantID, "kind", kind, "balance", value)
	return pool, nil
}

// BalanceView is the authoritative state a client resyncs from.
type BalanceView struct {
	Pool      *model.CreditPool
	PlanState model.PlanState
}

// Balance reads a pool and the state of its linked plan.
func (l *Ledger) Balance(ctx context.Context, tenantID string, kind model.CreditKind) (*BalanceView, error) {
	if err := validateKey(tenantID, kind); err != nil {
		return nil, err
	}

	pool, err := l.store.GetPool(ctx, tenantID, kind)
	if err != nil {
		return nil, l.mapPoolError(err, tenantID, kind)
	}

	view := &BalanceView{Pool: pool}
	plan, err := l.linkedPlan(ctx, pool)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		view.PlanState = plan.State
	}
	return view, nil
}

func (l *Ledger) linkedPlan(ctx context.Context, pool *model.CreditPool) (*model.Plan, error) {
	if pool.PlanID == nil {
		return nil, nil
	}
	plan, err := l.store.GetPlan(ctx, *pool.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrPlanNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load linked plan: %w", err)
	}
	return plan, nil
}

func (l *Ledger) mapPoolError(err error, tenantID string, kind model.CreditKind) error {
	switch {
	case errors.Is(err, repository.ErrPoolNotFound):
		return fmt.Errorf("credit pool %s: %w", model.PoolKey(tenantID, kind), ErrNotFound)
	case errors.Is(err, repository.ErrInsufficientBalance):
		return ErrInsufficientCredit
	case errors.Is(err, ErrInsufficientCredit):
		return err
	default:
		return fmt.Errorf("credit pool %s: %w", model.PoolKey(tenantID, kind), err)
	}
}

func (l *Ledger) recordConsume(kind model.CreditKind, err error) {
	outcome := metrics.ConsumeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrPlanExpired):
		outcome = metrics.ConsumePlanExpired
	case errors.Is(err, repository.ErrInsufficientBalance):
		outcome = metrics.ConsumeInsufficient
	case errors.Is(err, repository.ErrPoolNotFound):
		outcome = metrics.ConsumeNotFound
	default:
		return
	}
	l.metrics.IncCreditConsumed(string(kind), outcome)
}

func validateKey(tenantID string, kind model.CreditKind) error {
	if tenantID == "" {
		return ErrInvalidTenant
	}
	if !kind.IsValid() {
		return ErrInvalidKind
	}
	return nil
}
