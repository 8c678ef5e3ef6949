package push

import (
	"encoding/json"
	"fmt"

	"github.com/talentgrid/entitlements/internal/model"
)

// Frame is the JSON envelope written to clients.
type Frame struct {
	Type model.EventType `json:"type"`
	Data any             `json:"data"`
}

// PlanExpiredData is the payload of a planExpired frame.
type PlanExpiredData struct {
	TenantID string           `json:"tenantId"`
	Kind     model.CreditKind `json:"kind"`
}

// NotificationCountData is the payload of a newNotificationCount frame.
type NotificationCountData struct {
	TotalUnseenNotifications int64 `json:"totalUnseenNotifications"`
}

// WelcomeData is the payload of the frame sent when a connection joins.
// Clients resync when they receive it.
type WelcomeData struct {
	ConnectionID string `json:"connectionId"`
}

// encodeEvent renders an event as the frame clients receive.
func encodeEvent(event model.Event) ([]byte, error) {
	var frame Frame
	switch event.Type {
	case model.EventPlanExpired:
		frame = Frame{Type: event.Type, Data: PlanExpiredData{TenantID: event.TenantID, Kind: event.Kind}}
	case model.EventNewNotificationCount:
		frame = Frame{Type: event.Type, Data: NotificationCountData{TotalUnseenNotifications: event.Count}}
	default:
		return nil, fmt.Errorf("unsupported event type %q", event.Type)
	}
	return json.Marshal(frame)
}

func encodeWelcome(connectionID string) []byte {
	data, _ := json.Marshal(Frame{Type: model.EventWelcome, Data: WelcomeData{ConnectionID: connectionID}})
	return data
}

// frameType reads the type of an encoded frame for metric labels.
func frameType(frame []byte) string {
	var f struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(frame, &f)
	return f.Type
}
