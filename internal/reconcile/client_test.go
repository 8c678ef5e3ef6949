package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/push"
)

type fakeFetcher struct {
	mu         sync.Mutex
	unseen     int64
	balances   map[model.CreditKind]int64
	failBal    bool
	unseenHits int
}

func newFakeFetcher(unseen int64) *fakeFetcher {
	return &fakeFetcher{unseen: unseen, balances: make(map[model.CreditKind]int64)}
}

func (f *fakeFetcher) UnseenCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unseenHits++
	return f.unseen, nil
}

func (f *fakeFetcher) Balance(ctx context.Context, kind model.CreditKind) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBal {
		return 0, errors.New("service unavailable")
	}
	return f.balances[kind], nil
}

func (f *fakeFetcher) set(fn func(f *fakeFetcher)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeFetcher) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unseenHits
}

const welcomeFrame = `{"type":"welcome","data":{"connectionId":"c1"}}`

func countFrame(n string) []byte {
	return []byte(`{"type":"newNotificationCount","data":{"totalUnseenNotifications":` + n + `}}`)
}

func TestStaleCountIsDiscarded(t *testing.T) {
	ctx := context.Background()
	var alerts []int64
	c := NewClient(newFakeFetcher(2), nil, func(n int64) { alerts = append(alerts, n) }, nil)

	if err := c.HandleFrame(ctx, []byte(welcomeFrame)); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if c.Unseen() != 2 {
		t.Fatalf("expected resync to cache 2, got %d", c.Unseen())
	}

	_ = c.HandleFrame(ctx, countFrame("1"))
	if c.Unseen() != 2 || len(alerts) != 0 {
		t.Fatalf("stale count adopted: unseen=%d alerts=%v", c.Unseen(), alerts)
	}

	_ = c.HandleFrame(ctx, countFrame("5"))
	if c.Unseen() != 5 {
		t.Fatalf("expected 5, got %d", c.Unseen())
	}
	if len(alerts) != 1 || alerts[0] != 5 {
		t.Fatalf("expected one alert for 5, got %v", alerts)
	}

	_ = c.HandleFrame(ctx, countFrame("5"))
	if len(alerts) != 1 {
		t.Fatal("equal count must not alert")
	}
}

func TestFramesBeforeResyncAreDiscarded(t *testing.T) {
	ctx := context.Background()
	c := NewClient(newFakeFetcher(0), nil, nil, nil)

	_ = c.HandleFrame(ctx, countFrame("3"))
	if c.Unseen() != 0 {
		t.Fatalf("frame before resync adopted: %d", c.Unseen())
	}

	_ = c.HandleFrame(ctx, []byte(welcomeFrame))
	c.Disconnected()

	_ = c.HandleFrame(ctx, countFrame("4"))
	if c.Unseen() != 0 {
		t.Fatalf("frame after disconnect adopted: %d", c.Unseen())
	}
}

func TestPlanExpiredZeroesThenRefetches(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher(0)
	fetcher.balances[model.CreditKindJobPost] = 4
	c := NewClient(fetcher, []model.CreditKind{model.CreditKindJobPost}, nil, nil)

	_ = c.HandleFrame(ctx, []byte(welcomeFrame))
	if got := c.Balance(model.CreditKindJobPost); got.Value != 4 || got.Stale {
		t.Fatalf("unexpected balance after resync: %+v", got)
	}

	frame := []byte(`{"type":"planExpired","data":{"tenantId":"acme","kind":"job_post"}}`)

	fetcher.set(func(f *fakeFetcher) { f.failBal = true })
	_ = c.HandleFrame(ctx, frame)
	if got := c.Balance(model.CreditKindJobPost); got.Value != 0 || !got.Stale {
		t.Fatalf("expected zeroed stale balance, got %+v", got)
	}

	fetcher.set(func(f *fakeFetcher) {
		f.failBal = false
		f.balances[model.CreditKindJobPost] = 7
	})
	_ = c.HandleFrame(ctx, frame)
	if got := c.Balance(model.CreditKindJobPost); got.Value != 7 || got.Stale {
		t.Fatalf("expected refetched balance 7, got %+v", got)
	}
}

func TestNextReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{-1, 500 * time.Millisecond},
		{0, 500 * time.Millisecond},
		{3, 5 * time.Second},
		{99, 30 * time.Second},
	}

	for _, test := range tests {
		got := NextReconnectDelay(test.attempt)
		low := time.Duration(float64(test.base) * (1 - JitterFactor))
		high := time.Duration(float64(test.base) * (1 + JitterFactor))
		if got < low || got > high {
			t.Fatalf("attempt %d: %v outside [%v, %v]", test.attempt, got, low, high)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunResyncsOnEveryConnection(t *testing.T) {
	gw := push.NewGateway(push.NewLocalBus(), push.NewHub(nil, nil), push.Options{}, nil, nil)
	gwCtx, stopGateway := context.WithCancel(context.Background())
	defer stopGateway()
	go func() { _ = gw.Run(gwCtx) }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = gw.Accept(w, r, r.Header.Get("X-Principal-ID"), r.Header.Get("X-Tenant-ID"))
	}))
	defer srv.Close()

	fetcher := newFakeFetcher(1)
	c := NewClient(fetcher, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	session := Session{PrincipalID: "alice", TenantID: "acme", Role: model.RoleOwner}
	go func() { done <- c.Run(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), session.Header()) }()

	waitFor(t, "first resync", c.Synced)

	// Re-emit until the bus subscription is in place; repeats are idempotent.
	waitFor(t, "pushed count", func() bool {
		gw.Emit(model.NotificationCountChanged("alice", 3))
		return c.Unseen() == 3
	})

	// Drop every connection; the client must reconnect and resync.
	fetcher.set(func(f *fakeFetcher) { f.unseen = 9 })
	_ = gw.Shutdown(context.Background())

	waitFor(t, "second resync", func() bool { return fetcher.hits() >= 2 && c.Unseen() == 9 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop")
	}
}
