package dnc

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
)

// Role is the authorization level of an actor
type Role string

const (
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Actor identifies who is performing a compliance operation
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// IsElevated reports whether the actor may perform privileged operations
// (remove, override, filter rebuild)
func (a Actor) IsElevated() bool {
	return a.Role == RoleAdmin
}

// CheckMethod records how a check verdict was resolved
type CheckMethod string

const (
	// CheckMethodFilter means the filter answered "definitely absent" and the
	// store was never consulted
	CheckMethodFilter CheckMethod = "filter"
	// CheckMethodVerified means the filter answered "maybe present" and the
	// store supplied the authoritative verdict
	CheckMethodVerified CheckMethod = "verified"
	// CheckMethodStore means the filter was degraded and the check went
	// straight to the store
	CheckMethodStore CheckMethod = "store"
	// CheckMethodCached means a previously computed verdict was served from
	// the decision cache
	CheckMethodCached CheckMethod = "cached"
)

// CheckResponse is the service-level verdict for one number
type CheckResponse struct {
	PhoneNumber string        `json:"phone_number"`
	OnList      bool          `json:"on_list"`
	Method      CheckMethod   `json:"check_method"`
	Entry       *dnc.DNCEntry `json:"entry,omitempty"`
	CheckedAt   time.Time     `json:"checked_at"`
}

// CanCall is the inverse of OnList, kept explicit for API consumers
func (r *CheckResponse) CanCall() bool {
	return !r.OnList
}

// AddRequest carries everything needed to place a number on the list
type AddRequest struct {
	OrganizationID uuid.UUID  `json:"organization_id"`
	PhoneNumber    string     `json:"phone_number"`
	Reason         string     `json:"reason"`
	Source         string     `json:"source"`
	Notes          *string    `json:"notes,omitempty"`
	DetectedPhrase *string    `json:"detected_phrase,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Actor          Actor      `json:"-"`
}

// ScrubRequest is a bulk import-time validation request
type ScrubRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	PhoneNumbers   []string  `json:"phone_numbers"`
}

// MaxScrubBatch caps numbers per scrub call
const MaxScrubBatch = 10000

// ScrubResponse reports per-number verdicts for a scrub
type ScrubResponse struct {
	Total        int                        `json:"total"`
	DNCCount     int                        `json:"dnc_count"`
	CleanCount   int                        `json:"clean_count"`
	FailedCount  int                        `json:"failed_count"`
	DNCNumbers   []string                   `json:"dnc_numbers"`
	CleanNumbers []string                   `json:"clean_numbers"`
	Verdicts     map[string]dnc.CheckResult `json:"verdicts"`
	Failed       map[string]string          `json:"failed,omitempty"`
}

// ComplianceReport joins store state with the audit ledger for a date range
type ComplianceReport struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	ActiveEntries  int       `json:"active_entries"`
	Adds           int       `json:"adds"`
	Removes        int       `json:"removes"`
	BlockedCalls   int       `json:"blocked_calls"`
	AllowedCalls   int       `json:"allowed_calls"`
	Overrides      int       `json:"overrides"`
}

// FilterStatsResponse exposes the membership filter for observability
type FilterStatsResponse struct {
	FilterStats
	LastRebuildAt time.Time `json:"last_rebuild_at"`
	Degraded      bool      `json:"degraded"`
}

// DialDecision is the gate's answer to a dial-attempt precondition check
type DialDecision struct {
	Allowed     bool        `json:"allowed"`
	PhoneNumber string      `json:"phone_number"`
	Method      CheckMethod `json:"check_method,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	FailClosed  bool        `json:"fail_closed,omitempty"`
	DecidedAt   time.Time   `json:"decided_at"`
}

// OverridePermit is a one-time bypass issued to an elevated actor. It does
// not alter the underlying DNC entry.
type OverridePermit struct {
	ID            uuid.UUID `json:"id"`
	PhoneNumber   string    `json:"phone_number"`
	Justification string    `json:"justification"`
	IssuedTo      uuid.UUID `json:"issued_to"`
	IssuedAt      time.Time `json:"issued_at"`
}
