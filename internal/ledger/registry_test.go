package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talentgrid/entitlements/internal/model"
)

func TestExpirePlanIsMonotonic(t *testing.T) {
	l, emitter, _ := newTestLedger()
	grant(t, l, "t1", model.CreditKindJobPost, 3, "plan-1")

	out, err := l.ExpirePlan(context.Background(), "plan-1", model.ExpiryReasonElapsed)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if !out.Transitioned || out.CreditsRemoved != 3 || out.Pool.Balance != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	out, err = l.ExpirePlan(context.Background(), "plan-1", model.ExpiryReasonCancelled)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if out.Transitioned {
		t.Fatal("expired plan must not transition again")
	}

	// A replayed grant must not revive the plan.
	res := grant(t, l, "t1", model.CreditKindJobPost, 3, "plan-1")
	if !res.Duplicate || res.Pool.Balance != 0 {
		t.Fatalf("replay after expiry: duplicate=%v balance=%d", res.Duplicate, res.Pool.Balance)
	}

	plan, _ := l.GetPlan(context.Background(), "plan-1")
	if plan.State != model.PlanStateExpired || *plan.ExpiryReason != model.ExpiryReasonElapsed {
		t.Fatalf("unexpected plan state %s", plan.State)
	}

	if len(emitter.Events()) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(emitter.Events()))
	}
}

func TestExpireRemovesOnlyThatPlansCredits(t *testing.T) {
	base := time.Now().UTC()

	tests := []struct {
		name        string
		at          time.Duration
		expire      string
		reason      model.ExpiryReason
		wantRemoved int64
		wantBalance int64
		wantLinked  string
	}{
		{"older plan elapses first", 90 * time.Minute, "p1", model.ExpiryReasonElapsed, 3, 5, "p2"},
		{"newer plan cancelled early", 0, "p2", model.ExpiryReasonCancelled, 5, 3, "p1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l, emitter, _ := newTestLedger()
			l.now = func() time.Time { return base }
			grantUntil(t, l, "p1", 3, base.Add(time.Hour))
			l.now = func() time.Time { return base.Add(time.Second) }
			grantUntil(t, l, "p2", 5, base.Add(2*time.Hour))
			l.now = func() time.Time { return base.Add(tt.at) }

			out, err := l.ExpirePlan(ctx, tt.expire, tt.reason)
			if err != nil {
				t.Fatalf("expire: %v", err)
			}
			if !out.Transitioned || out.CreditsRemoved != tt.wantRemoved {
				t.Fatalf("transitioned=%v removed=%d, want true/%d", out.Transitioned, out.CreditsRemoved, tt.wantRemoved)
			}
			if out.Pool.Balance != tt.wantBalance || !out.Pool.IsLinkedTo(tt.wantLinked) {
				t.Fatalf("pool balance=%d linked=%v, want %d/%s", out.Pool.Balance, *out.Pool.PlanID, tt.wantBalance, tt.wantLinked)
			}

			events := emitter.Events()
			if len(events) != 1 || events[0] != model.PlanExpired("t1", model.CreditKindJobPost) {
				t.Fatalf("expected one PlanExpired event, got %+v", events)
			}

			view, _ := l.Balance(ctx, "t1", model.CreditKindJobPost)
			if view.PlanState != model.PlanStateActive {
				t.Fatalf("pool must stay on an active plan, got %s", view.PlanState)
			}

			_, err = l.Consume(ctx, "t1", model.CreditKindJobPost, tt.wantBalance+1)
			if !errors.Is(err, ErrInsufficientCredit) || errors.Is(err, ErrPlanExpired) {
				t.Fatalf("expected plain ErrInsufficientCredit, got %v", err)
			}
			pool, err := l.Consume(ctx, "t1", model.CreditKindJobPost, tt.wantBalance)
			if err != nil {
				t.Fatalf("consume remaining credits: %v", err)
			}
			if pool.Balance != 0 {
				t.Fatalf("expected empty pool, got %d", pool.Balance)
			}
		})
	}
}

func TestConsumeExpiresOlderPlanAndDrawsFromNewer(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC()
	l, emitter, _ := newTestLedger()
	l.now = func() time.Time { return base }
	grantUntil(t, l, "p1", 3, base.Add(time.Hour))
	grantUntil(t, l, "p2", 5, base.Add(2*time.Hour))

	if _, err := l.Consume(ctx, "t1", model.CreditKindJobPost, 2); err != nil {
		t.Fatalf("consume: %v", err)
	}

	l.now = func() time.Time { return base.Add(90 * time.Minute) }
	pool, err := l.Consume(ctx, "t1", model.CreditKindJobPost, 5)
	if err != nil {
		t.Fatalf("consume after older plan lapsed: %v", err)
	}
	if pool.Balance != 0 {
		t.Fatalf("expected older plan's last credit removed, balance %d", pool.Balance)
	}
	if len(emitter.Events()) != 1 {
		t.Fatalf("expected one PlanExpired event, got %+v", emitter.Events())
	}

	p1, _ := l.GetPlan(ctx, "p1")
	if p1.State != model.PlanStateExpired || *p1.ExpiryReason != model.ExpiryReasonElapsed {
		t.Fatalf("p1 should have elapsed, got %s", p1.State)
	}
}

func grantUntil(t *testing.T, l *Ledger, planID string, amount int64, expiresAt time.Time) {
	t.Helper()
	_, err := l.Grant(context.Background(), GrantInput{
		TenantID:  "t1",
		Kind:      model.CreditKindJobPost,
		Amount:    amount,
		PlanID:    planID,
		ExpiresAt: &expiresAt,
	})
	if err != nil {
		t.Fatalf("grant %s: %v", planID, err)
	}
}

func TestPlanLookups(t *testing.T) {
	l, _, _ := newTestLedger()
	grant(t, l, "t1", model.CreditKindJobPost, 1, "plan-1")
	grant(t, l, "t1", model.CreditKindCandidateView, 1, "plan-2")
	grant(t, l, "t2", model.CreditKindJobPost, 1, "plan-3")

	plans, err := l.ListPlans(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}

	if _, err := l.GetPlan(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.CancelPlan(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.ListPlans(context.Background(), ""); !errors.Is(err, ErrInvalidTenant) {
		t.Fatalf("expected ErrInvalidTenant, got %v", err)
	}
}
