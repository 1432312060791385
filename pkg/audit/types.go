package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role administration events
	EventTypeRoleCreate EventType = "role.create"
	EventTypeRoleUpdate EventType = "role.update"
	EventTypeRoleDelete EventType = "role.delete"

	// Session events
	EventTypeSessionLogin            EventType = "session.login"
	EventTypeSessionEscalate         EventType = "session.escalate"
	EventTypeSessionDeescalate       EventType = "session.deescalate"
	EventTypeSessionSwitchDepartment EventType = "session.switch_department"
	EventTypeSessionContinue         EventType = "session.continue"

	// Authorization events
	EventTypeAuthzDenied         EventType = "authz.denied"
	EventTypeAuthzSensitiveGrant EventType = "authz.sensitive_grant"

	// Snapshot events
	EventTypeSnapshotReload EventType = "snapshot.reload"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Subject
	Role         string   `json:"role,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	Rights       []string `json:"rights,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracks before/after for role updates
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}
