package model

import (
	"slices"
	"time"
)

// MessageType classifies inbound messages that feed unseen counters.
type MessageType string

const (
	MessageTypeContact   MessageType = "contact"
	MessageTypeJobReport MessageType = "job_report"
)

// IsValid checks if the message type is known.
func (t MessageType) IsValid() bool {
	return t == MessageTypeContact || t == MessageTypeJobReport
}

// Message is an inbound contact form submission or job report.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	TenantID  *string     `json:"tenant_id,omitempty"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	Seen      bool        `json:"seen"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsGlobal returns true if the message is not scoped to a tenant.
func (m *Message) IsGlobal() bool {
	return m.TenantID == nil || *m.TenantID == ""
}

// Role is a principal's role in the directory.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleRecruiter Role = "recruiter"
)

// NotifiedRoles are the roles that receive unseen-message counts.
var NotifiedRoles = []Role{RoleOwner, RoleAdmin}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleRecruiter
}

// IsNotified returns true if the role receives message notifications.
func (r Role) IsNotified() bool {
	return slices.Contains(NotifiedRoles, r)
}

// Principal is a dashboard user known to the notification directory.
// A nil TenantID marks platform staff who see global messages.
type Principal struct {
	ID        string    `json:"id"`
	TenantID  *string   `json:"tenant_id,omitempty"`
	Role      Role      `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanSee reports whether the principal is entitled to see msg.
func (p *Principal) CanSee(msg *Message) bool {
	if !p.Role.IsNotified() {
		return false
	}
	if msg.IsGlobal() {
		return p.TenantID == nil
	}
	return p.TenantID != nil && *p.TenantID == *msg.TenantID
}

// CountChange is a principal's unseen count after a mutation.
type CountChange struct {
	PrincipalID string
	Count       int64
}
