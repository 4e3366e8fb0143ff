package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
)

// Action identifies the kind of compliance decision or mutation being recorded
type Action string

const (
	ActionAdded        Action = "added"
	ActionRemoved      Action = "removed"
	ActionCheckBlocked Action = "check_blocked"
	ActionCheckAllowed Action = "check_allowed"
	ActionOverride     Action = "override"
)

var validActions = map[Action]bool{
	ActionAdded:        true,
	ActionRemoved:      true,
	ActionCheckBlocked: true,
	ActionCheckAllowed: true,
	ActionOverride:     true,
}

// Entry is one immutable row in the append-only compliance ledger.
// Entries are created once per action, never mutated, never deleted.
type Entry struct {
	ID             uuid.UUID              `json:"id"`
	Action         Action                 `json:"action"`
	PhoneNumber    string                 `json:"phone_number"`
	OrganizationID uuid.UUID              `json:"organization_id"`
	ActorID        uuid.UUID              `json:"actor_id"`
	Reason         string                 `json:"reason"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// NewEntry creates an audit entry with validation
func NewEntry(action Action, orgID, actorID uuid.UUID, phoneNumber, reason string) (*Entry, error) {
	if !validActions[action] {
		return nil, errors.NewValidationError("INVALID_AUDIT_ACTION", "unsupported audit action")
	}
	if orgID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_ORGANIZATION", "organization ID cannot be empty")
	}

	return &Entry{
		ID:             uuid.New(),
		Action:         action,
		PhoneNumber:    phoneNumber,
		OrganizationID: orgID,
		ActorID:        actorID,
		Reason:         reason,
		Metadata:       make(map[string]interface{}),
		Timestamp:      time.Now().UTC(),
	}, nil
}

// WithMetadata attaches structured metadata to the entry before it is appended
func (e *Entry) WithMetadata(key string, value interface{}) *Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsBlockingDecision reports whether this entry records a call being stopped
func (e *Entry) IsBlockingDecision() bool {
	return e.Action == ActionCheckBlocked
}
