package model

import "time"

// EventType names a server-to-client push event.
type EventType string

const (
	EventPlanExpired          EventType = "planExpired"
	EventNewNotificationCount EventType = "newNotificationCount"
	EventWelcome              EventType = "welcome"
)

// Event is an invalidation hint routed to a tenant room or a principal.
// Exactly one of TenantID and PrincipalID selects the audience.
type Event struct {
	Type        EventType `json:"type"`
	TenantID    string    `json:"tenant_id,omitempty"`
	PrincipalID string    `json:"principal_id,omitempty"`

	Kind  CreditKind `json:"kind,omitempty"`
	Count int64      `json:"count,omitempty"`
}

// PlanExpired builds the event sent to a tenant room when a plan expires.
func PlanExpired(tenantID string, kind CreditKind) Event {
	return Event{Type: EventPlanExpired, TenantID: tenantID, Kind: kind}
}

// NotificationCountChanged builds the event sent to a principal on a new message.
func NotificationCountChanged(principalID string, count int64) Event {
	return Event{Type: EventNewNotificationCount, PrincipalID: principalID, Count: count}
}

// PushSubscription is a live connection's membership in a tenant room.
// It exists only while the connection is open.
type PushSubscription struct {
	ConnectionID string
	PrincipalID  string
	TenantID     string
	JoinedAt     time.Time
}
