package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncCreditGranted is a no-op.
func (n *NoopRecorder) IncCreditGranted(kind string, duplicate bool) {}

// IncCreditConsumed is a no-op.
func (n *NoopRecorder) IncCreditConsumed(kind, outcome string) {}

// IncPlanExpired is a no-op.
func (n *NoopRecorder) IncPlanExpired(reason string) {}

// IncExpiryFailure is a no-op.
func (n *NoopRecorder) IncExpiryFailure() {}

// ObserveSweepDuration is a no-op.
func (n *NoopRecorder) ObserveSweepDuration(duration time.Duration) {}

// IncMessageCreated is a no-op.
func (n *NoopRecorder) IncMessageCreated(msgType string) {}

// IncPushDelivered is a no-op.
func (n *NoopRecorder) IncPushDelivered(event string) {}

// IncPushDropped is a no-op.
func (n *NoopRecorder) IncPushDropped(event, reason string) {}

// AddPushConnections is a no-op.
func (n *NoopRecorder) AddPushConnections(delta int64) {}
