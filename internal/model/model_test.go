package model

import (
	"testing"
	"time"
)

func TestPlanExpireIsMonotonic(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &Plan{ID: "P", State: PlanStateActive, ExpiresAt: now, Remaining: 4}

	if !p.IsDue(now) {
		t.Fatal("plan should be due at its expiry time")
	}
	if p.IsDue(now.Add(-time.Second)) {
		t.Fatal("plan should not be due before its expiry time")
	}

	if !p.Expire(now, ExpiryReasonElapsed) {
		t.Fatal("first expire should transition")
	}
	if p.Expire(now.Add(time.Hour), ExpiryReasonCancelled) {
		t.Fatal("second expire must be a no-op")
	}
	if p.State != PlanStateExpired || *p.ExpiryReason != ExpiryReasonElapsed || !p.ExpiredAt.Equal(now) {
		t.Fatalf("expired plan was modified: %+v", p)
	}
	if p.IsDue(now.Add(time.Hour)) {
		t.Fatal("expired plan is never due")
	}
	if p.Remaining != 0 {
		t.Fatalf("expired plan keeps %d credits", p.Remaining)
	}
}

func TestDrawDownTakesSoonestExpiryFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	soon := &Plan{ID: "soon", State: PlanStateActive, ExpiresAt: now.Add(time.Hour), Remaining: 3}
	later := &Plan{ID: "later", State: PlanStateActive, ExpiresAt: now.Add(2 * time.Hour), Remaining: 5}
	gone := &Plan{ID: "gone", State: PlanStateExpired, ExpiresAt: now, Remaining: 7}

	if !soon.ExpiresBefore(later) || later.ExpiresBefore(soon) {
		t.Fatal("ExpiresBefore should order by expiry")
	}

	tests := []struct {
		amount        int64
		wantSoon      int64
		wantLater     int64
		wantUncovered int64
	}{
		{amount: 2, wantSoon: 1, wantLater: 5},
		{amount: 4, wantSoon: 0, wantLater: 4},
		{amount: 10, wantSoon: 0, wantLater: 0, wantUncovered: 2},
	}

	for _, tt := range tests {
		s, l, g := *soon, *later, *gone
		uncovered := DrawDown([]*Plan{&g, &s, &l}, tt.amount)
		if s.Remaining != tt.wantSoon || l.Remaining != tt.wantLater || uncovered != tt.wantUncovered {
			t.Errorf("DrawDown(%d) = soon %d later %d uncovered %d", tt.amount, s.Remaining, l.Remaining, uncovered)
		}
		if g.Remaining != 7 {
			t.Errorf("expired plan was drawn down")
		}
	}
}

func TestSameGrant(t *testing.T) {
	base := Plan{ID: "P", TenantID: "T", Kind: CreditKindJobPost, GrantedAmount: 10}

	tests := []struct {
		name  string
		other Plan
		want  bool
	}{
		{"identical", base, true},
		{"different amount", Plan{ID: "P", TenantID: "T", Kind: CreditKindJobPost, GrantedAmount: 11}, false},
		{"different kind", Plan{ID: "P", TenantID: "T", Kind: CreditKindCandidateView, GrantedAmount: 10}, false},
		{"different tenant", Plan{ID: "P", TenantID: "U", Kind: CreditKindJobPost, GrantedAmount: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.SameGrant(&tt.other); got != tt.want {
				t.Fatalf("SameGrant = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrincipalCanSee(t *testing.T) {
	acme, other := "acme", "other"
	tenantMsg := &Message{ID: "m1", TenantID: &acme}
	globalMsg := &Message{ID: "m2"}

	tests := []struct {
		name      string
		principal Principal
		msg       *Message
		want      bool
	}{
		{"owner sees own tenant", Principal{Role: RoleOwner, TenantID: &acme}, tenantMsg, true},
		{"admin of other tenant", Principal{Role: RoleAdmin, TenantID: &other}, tenantMsg, false},
		{"recruiter never notified", Principal{Role: RoleRecruiter, TenantID: &acme}, tenantMsg, false},
		{"staff sees global", Principal{Role: RoleAdmin}, globalMsg, true},
		{"tenant owner skips global", Principal{Role: RoleOwner, TenantID: &acme}, globalMsg, false},
		{"staff skips tenant message", Principal{Role: RoleOwner}, tenantMsg, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.principal.CanSee(tt.msg); got != tt.want {
				t.Fatalf("CanSee = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreditKindValidation(t *testing.T) {
	for _, k := range ValidCreditKinds {
		if !k.IsValid() {
			t.Fatalf("%q should be valid", k)
		}
	}
	if CreditKind("premium").IsValid() {
		t.Fatal("unknown kind should be invalid")
	}
	if PoolKey("acme", CreditKindJobPost) == PoolKey("acme", CreditKindCandidateView) {
		t.Fatal("pool keys must differ per kind")
	}
}
