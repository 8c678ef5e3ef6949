package expiry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/talentgrid/entitlements/internal/ledger"
	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/repository/memory"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingEmitter) Emit(event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// seedPlan stores a plan directly so tests can create plans already past due.
func seedPlan(t *testing.T, store *memory.Store, id, tenantID string, kind model.CreditKind, amount int64, expiresAt time.Time) {
	t.Helper()
	_, _, err := store.ApplyGrant(context.Background(), &model.Plan{
		ID:            id,
		TenantID:      tenantID,
		Kind:          kind,
		GrantedAmount: amount,
		ActivatedAt:   expiresAt.Add(-time.Hour),
		ExpiresAt:     expiresAt,
		State:         model.PlanStateActive,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSweepExpiresDuePlanOnce(t *testing.T) {
	store := memory.New()
	emitter := &recordingEmitter{}
	l := ledger.New(store, emitter, nil, nil, time.Hour)
	recorder := metrics.NewInMemory()
	sweeper := NewSweeper(l, time.Minute, 10, nil, recorder)

	seedPlan(t, store, "P", "T", model.CreditKindCandidateView, 7, time.Now().Add(-time.Second))

	res, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 1 {
		t.Fatalf("expected 1 expired plan, got %+v", res)
	}

	plan, _ := store.GetPlan(context.Background(), "P")
	if plan.State != model.PlanStateExpired {
		t.Fatalf("expected expired, got %s", plan.State)
	}
	pool, _ := store.GetPool(context.Background(), "T", model.CreditKindCandidateView)
	if pool.Balance != 0 {
		t.Fatalf("expected balance 0, got %d", pool.Balance)
	}
	if emitter.count() != 1 || emitter.events[0] != model.PlanExpired("T", model.CreditKindCandidateView) {
		t.Fatalf("expected one PlanExpired event, got %+v", emitter.events)
	}

	// Second sweep in immediate succession changes nothing.
	res, err = sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Scanned != 0 || emitter.count() != 1 {
		t.Fatalf("second sweep not idempotent: %+v, %d events", res, emitter.count())
	}
	if snap := recorder.Snapshot(); snap.SweepCount != 2 {
		t.Fatalf("expected 2 recorded sweeps, got %d", snap.SweepCount)
	}
}

func TestSweepPaginatesAndSkipsFuturePlans(t *testing.T) {
	store := memory.New()
	emitter := &recordingEmitter{}
	l := ledger.New(store, emitter, nil, nil, time.Hour)
	sweeper := NewSweeper(l, time.Minute, 2, nil, nil)

	past := time.Now().Add(-time.Hour)
	for i, tenant := range []string{"t1", "t2", "t3", "t4", "t5"} {
		seedPlan(t, store, "due-"+tenant, tenant, model.CreditKindJobPost, 1, past.Add(time.Duration(i)*time.Second))
	}
	seedPlan(t, store, "future", "t6", model.CreditKindJobPost, 1, time.Now().Add(time.Hour))

	res, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 5 || res.Expired != 5 {
		t.Fatalf("expected 5 expired, got %+v", res)
	}

	plan, _ := store.GetPlan(context.Background(), "future")
	if !plan.IsActive() {
		t.Fatal("future plan must stay active")
	}
}

type flakyExpirer struct {
	plans   []*model.Plan
	failID  string
	expired []string
}

func (f *flakyExpirer) DuePlans(ctx context.Context, after *model.Plan, limit int) ([]*model.Plan, error) {
	start := 0
	if after != nil {
		for i, p := range f.plans {
			if p.ID == after.ID {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(f.plans) {
		end = len(f.plans)
	}
	return f.plans[start:end], nil
}

func (f *flakyExpirer) ExpirePlan(ctx context.Context, planID string, reason model.ExpiryReason) (*model.ExpireOutcome, error) {
	if planID == f.failID {
		return nil, errors.New("connection reset")
	}
	f.expired = append(f.expired, planID)
	return &model.ExpireOutcome{Transitioned: true}, nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	expirer := &flakyExpirer{
		plans:  []*model.Plan{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		failID: "b",
	}
	recorder := metrics.NewInMemory()
	sweeper := NewSweeper(expirer, time.Minute, 2, nil, recorder)

	res, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(expirer.expired) != 2 || expirer.expired[1] != "c" {
		t.Fatalf("expected a and c expired, got %v", expirer.expired)
	}
	if recorder.Snapshot().ExpiryFailures != 1 {
		t.Fatal("expected failure to be counted")
	}
}

func TestRunSweepsAtStartupAndStops(t *testing.T) {
	store := memory.New()
	emitter := &recordingEmitter{}
	l := ledger.New(store, emitter, nil, nil, time.Hour)
	sweeper := NewSweeper(l, time.Hour, 10, nil, nil)

	seedPlan(t, store, "P", "T", model.CreditKindJobPost, 1, time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for emitter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if emitter.count() != 1 {
		t.Fatal("expected startup sweep to expire the due plan")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	if err := sweeper.Run(context.Background()); err == nil {
		t.Fatal("expected error on second Run")
	}
}

func TestRunStartsOnceUnderConcurrentCalls(t *testing.T) {
	l := ledger.New(memory.New(), nil, nil, nil, time.Hour)
	sweeper := NewSweeper(l, time.Hour, 10, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { errs <- sweeper.Run(ctx) }()
	}

	// All but the winner return at once; the winner returns on cancel.
	for i := 0; i < callers-1; i++ {
		select {
		case err := <-errs:
			if err == nil {
				t.Fatal("expected already started error")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("duplicate Run did not return")
		}
	}

	cancel()
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("winning Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
