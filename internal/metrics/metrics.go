// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Consume outcomes.
const (
	ConsumeOK           = "ok"
	ConsumeInsufficient = "insufficient"
	ConsumePlanExpired  = "plan_expired"
	ConsumeNotFound     = "not_found"
)

// Push drop reasons.
const (
	DropBufferFull = "buffer_full"
	DropWriteError = "write_error"
	DropBusError   = "bus_error"
	DropClosed     = "conn_closed"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// Ledger metrics
	IncCreditGranted(kind string, duplicate bool)
	IncCreditConsumed(kind, outcome string)

	// Expiry metrics
	IncPlanExpired(reason string)
	IncExpiryFailure()
	ObserveSweepDuration(duration time.Duration)

	// Notification metrics
	IncMessageCreated(msgType string)

	// Push metrics
	IncPushDelivered(event string)
	IncPushDropped(event, reason string)
	AddPushConnections(delta int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
