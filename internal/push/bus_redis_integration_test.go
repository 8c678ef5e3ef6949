package push_test

import (
	"context"
	"testing"
	"time"

	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/push"
	"github.com/talentgrid/entitlements/internal/testutil"
)

func TestRedisBusRoundTrip(t *testing.T) {
	client := testutil.OpenRedis(t)
	bus := push.NewRedisBus(client, testutil.UniqueID("push-test"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan model.Event, 1)
	go func() {
		_ = bus.Subscribe(ctx, func(e model.Event) {
			select {
			case received <- e:
			default:
			}
		})
	}()

	want := model.PlanExpired("acme", model.CreditKindCandidateView)

	// Publish until the subscriber is attached; Pub/Sub drops messages sent earlier.
	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("expected %+v, got %+v", want, got)
			}
			return
		case <-ticker.C:
			if err := bus.Publish(ctx, want); err != nil {
				t.Fatalf("publish: %v", err)
			}
		case <-deadline:
			t.Fatal("event not received")
		}
	}
}
