package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	CreditsGranted         uint64
	CreditsGrantDuplicates uint64
	CreditsConsumed        uint64
	CreditsRejected        uint64
	PlansExpired           uint64
	PlansCancelled         uint64
	ExpiryFailures         uint64
	SweepCount             uint64
	SweepDurationTotalNs   int64
	MessagesCreated        uint64
	PushDelivered          uint64
	PushDropped            uint64
	PushConnections        int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	creditsGranted         uint64
	creditsGrantDuplicates uint64
	creditsConsumed        uint64
	creditsRejected        uint64
	plansExpired           uint64
	plansCancelled         uint64
	expiryFailures         uint64
	sweepCount             uint64
	sweepDurationTotalNs   int64
	messagesCreated        uint64
	pushDelivered          uint64
	pushDropped            uint64
	pushConnections        int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		CreditsGranted:         atomic.LoadUint64(&m.creditsGranted),
		CreditsGrantDuplicates: atomic.LoadUint64(&m.creditsGrantDuplicates),
		CreditsConsumed:        atomic.LoadUint64(&m.creditsConsumed),
		CreditsRejected:        atomic.LoadUint64(&m.creditsRejected),
		PlansExpired:           atomic.LoadUint64(&m.plansExpired),
		PlansCancelled:         atomic.LoadUint64(&m.plansCancelled),
		ExpiryFailures:         atomic.LoadUint64(&m.expiryFailures),
		SweepCount:             atomic.LoadUint64(&m.sweepCount),
		SweepDurationTotalNs:   atomic.LoadInt64(&m.sweepDurationTotalNs),
		MessagesCreated:        atomic.LoadUint64(&m.messagesCreated),
		PushDelivered:          atomic.LoadUint64(&m.pushDelivered),
		PushDropped:            atomic.LoadUint64(&m.pushDropped),
		PushConnections:        atomic.LoadInt64(&m.pushConnections),
	}
}

// IncCreditGranted increments the grant counters.
func (m *InMemoryRecorder) IncCreditGranted(kind string, duplicate bool) {
	if duplicate {
		atomic.AddUint64(&m.creditsGrantDuplicates, 1)
		return
	}
	atomic.AddUint64(&m.creditsGranted, 1)
}

// IncCreditConsumed counts successful and rejected consumes.
func (m *InMemoryRecorder) IncCreditConsumed(kind, outcome string) {
	if outcome == ConsumeOK {
		atomic.AddUint64(&m.creditsConsumed, 1)
		return
	}
	atomic.AddUint64(&m.creditsRejected, 1)
}

// IncPlanExpired increments the expiry counter for reason.
func (m *InMemoryRecorder) IncPlanExpired(reason string) {
	if reason == "cancelled" {
		atomic.AddUint64(&m.plansCancelled, 1)
		return
	}
	atomic.AddUint64(&m.plansExpired, 1)
}

// IncExpiryFailure increments the expiry failure counter.
func (m *InMemoryRecorder) IncExpiryFailure() {
	atomic.AddUint64(&m.expiryFailures, 1)
}

// ObserveSweepDuration records sweep duration.
func (m *InMemoryRecorder) ObserveSweepDuration(duration time.Duration) {
	atomic.AddUint64(&m.sweepCount, 1)
	atomic.AddInt64(&m.sweepDurationTotalNs, duration.Nanoseconds())
}

// IncMessageCreated increments the message counter.
func (m *InMemoryRecorder) IncMessageCreated(msgType string) {
	atomic.AddUint64(&m.messagesCreated, 1)
}

// IncPushDelivered increments the delivered push counter.
func (m *InMemoryRecorder) IncPushDelivered(event string) {
	atomic.AddUint64(&m.pushDelivered, 1)
}

// IncPushDropped increments the dropped push counter.
func (m *InMemoryRecorder) IncPushDropped(event, reason string) {
	atomic.AddUint64(&m.pushDropped, 1)
}

// AddPushConnections adjusts the open connection gauge.
func (m *InMemoryRecorder) AddPushConnections(delta int64) {
	atomic.AddInt64(&m.pushConnections, delta)
}
