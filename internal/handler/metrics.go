package handler

import (
	"fmt"
	"net/http"

	"github.com/talentgrid/entitlements/internal/metrics"
)

// MetricsHandler exposes in-memory metrics in the Prometheus text format.
// Used when the Prometheus registry is not enabled.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics writes the current counters.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "entitlements_credits_granted_total{duplicate=\"false\"} %d\n", snap.CreditsGranted)
	writeMetric(w, "entitlements_credits_granted_total{duplicate=\"true\"} %d\n", snap.CreditsGrantDuplicates)
	writeMetric(w, "entitlements_credits_consumed_total{outcome=\"ok\"} %d\n", snap.CreditsConsumed)
	writeMetric(w, "entitlements_credits_consumed_total{outcome=\"rejected\"} %d\n", snap.CreditsRejected)

	writeMetric(w, "entitlements_plans_expired_total{reason=\"elapsed\"} %d\n", snap.PlansExpired)
	writeMetric(w, "entitlements_plans_expired_total{reason=\"cancelled\"} %d\n", snap.PlansCancelled)
	writeMetric(w, "entitlements_expiry_failures_total %d\n", snap.ExpiryFailures)
	writeMetric(w, "entitlements_expiry_sweep_duration_seconds_count %d\n", snap.SweepCount)
	writeMetric(w, "entitlements_expiry_sweep_duration_seconds_sum %.6f\n", float64(snap.SweepDurationTotalNs)/1e9)

	writeMetric(w, "entitlements_messages_created_total %d\n", snap.MessagesCreated)
	writeMetric(w, "entitlements_push_delivered_total %d\n", snap.PushDelivered)
	writeMetric(w, "entitlements_push_dropped_total %d\n", snap.PushDropped)
	writeMetric(w, "entitlements_push_connections %d\n", snap.PushConnections)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
