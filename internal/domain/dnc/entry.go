package dnc

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
)

// DNCEntry represents a phone number on an organization's Do Not Call list.
// At most one active entry exists per (organization, phone number).
type DNCEntry struct {
	ID             uuid.UUID             `json:"id"`
	OrganizationID uuid.UUID             `json:"organization_id"`
	PhoneNumber    values.PhoneNumber    `json:"phone_number"`
	SuppressReason values.SuppressReason `json:"suppress_reason"`
	Source         string                `json:"source"`
	AddedAt        time.Time             `json:"added_at"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`

	// Metadata
	DetectedPhrase *string `json:"detected_phrase,omitempty"`
	Notes          *string `json:"notes,omitempty"`

	// Audit fields
	AddedBy   uuid.UUID `json:"added_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDNCEntry creates a new DNC entry with validation
// All business rules and validation are enforced in the constructor
func NewDNCEntry(orgID uuid.UUID, phoneNumber, reason, source string, addedBy uuid.UUID) (*DNCEntry, error) {
	if orgID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_ORGANIZATION", "organization ID cannot be empty")
	}

	phone, err := values.NewPhoneNumber(phoneNumber)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_PHONE_NUMBER", "invalid phone number format").WithCause(err)
	}

	suppressReason, err := values.NewSuppressReason(reason)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_SUPPRESS_REASON", "invalid suppress reason").WithCause(err)
	}

	if addedBy == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_USER", "added by user ID cannot be empty")
	}

	now := time.Now().UTC()
	return &DNCEntry{
		ID:             uuid.New(),
		OrganizationID: orgID,
		PhoneNumber:    phone,
		SuppressReason: suppressReason,
		Source:         source,
		AddedAt:        now,
		AddedBy:        addedBy,
		UpdatedAt:      now,
	}, nil
}

// SetExpiration sets the expiration time for the DNC entry
func (e *DNCEntry) SetExpiration(expiresAt time.Time) error {
	if expiresAt.Before(time.Now()) {
		return errors.NewValidationError("INVALID_EXPIRATION", "expiration date cannot be in the past")
	}

	e.ExpiresAt = &expiresAt
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// SetDetectedPhrase records the transcript phrase that triggered this entry
func (e *DNCEntry) SetDetectedPhrase(phrase string) {
	e.DetectedPhrase = &phrase
	e.UpdatedAt = time.Now().UTC()
}

// AddNote adds a note to the DNC entry
func (e *DNCEntry) AddNote(note string) {
	e.Notes = &note
	e.UpdatedAt = time.Now().UTC()
}

// IsExpired checks if the DNC entry has expired
func (e *DNCEntry) IsExpired() bool {
	if e.ExpiresAt == nil {
		return false // No expiration means permanent
	}
	return time.Now().After(*e.ExpiresAt)
}

// IsActive checks if the DNC entry is currently active
func (e *DNCEntry) IsActive() bool {
	return !e.IsExpired()
}

// CanCall determines if a call can be made to this number
func (e *DNCEntry) CanCall() bool {
	return !e.IsActive()
}

// IsPermanent checks if this DNC entry has no expiration
func (e *DNCEntry) IsPermanent() bool {
	return e.ExpiresAt == nil
}

// RequiresDocumentation checks if this entry requires compliance documentation
func (e *DNCEntry) RequiresDocumentation() bool {
	return e.SuppressReason.RequiresDocumentation()
}
