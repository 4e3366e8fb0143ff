package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// SuppressReason represents why a phone number is on the Do Not Call list
type SuppressReason struct {
	reason string
}

// Supported suppress reasons
const (
	SuppressReasonLeadRequested    = "lead_requested"
	SuppressReasonLegalRequirement = "legal_requirement"
	SuppressReasonAdminAdded       = "admin_added"
	SuppressReasonManual           = "manual"
	SuppressReasonDetectedFromCall = "detected_from_call"
)

var (
	reasonDisplayNames = map[string]string{
		SuppressReasonLeadRequested:    "Lead Requested Removal",
		SuppressReasonLegalRequirement: "Legal Requirement",
		SuppressReasonAdminAdded:       "Added by Administrator",
		SuppressReasonManual:           "Manual Entry",
		SuppressReasonDetectedFromCall: "Detected From Call Transcript",
	}

	supportedReasons = map[string]bool{
		SuppressReasonLeadRequested:    true,
		SuppressReasonLegalRequirement: true,
		SuppressReasonAdminAdded:       true,
		SuppressReasonManual:           true,
		SuppressReasonDetectedFromCall: true,
	}
)

// NewSuppressReason creates a new SuppressReason with validation
func NewSuppressReason(reason string) (SuppressReason, error) {
	normalized := strings.ToLower(strings.TrimSpace(reason))
	if normalized == "" {
		return SuppressReason{}, fmt.Errorf("suppress reason cannot be empty")
	}

	if !supportedReasons[normalized] {
		return SuppressReason{}, fmt.Errorf("unsupported suppress reason: %s", reason)
	}

	return SuppressReason{reason: normalized}, nil
}

// MustNewSuppressReason creates SuppressReason and panics on error (for constants/tests)
func MustNewSuppressReason(reason string) SuppressReason {
	sr, err := NewSuppressReason(reason)
	if err != nil {
		panic(err)
	}
	return sr
}

// String returns the reason string
func (s SuppressReason) String() string {
	return s.reason
}

// DisplayName returns a human-readable name for the reason
func (s SuppressReason) DisplayName() string {
	if name, ok := reasonDisplayNames[s.reason]; ok {
		return name
	}
	return s.reason
}

// IsEmpty checks if the reason is empty
func (s SuppressReason) IsEmpty() bool {
	return s.reason == ""
}

// Equal checks if two SuppressReason values are equal
func (s SuppressReason) Equal(other SuppressReason) bool {
	return s.reason == other.reason
}

// RequiresDocumentation reports whether entries with this reason need supporting evidence
func (s SuppressReason) RequiresDocumentation() bool {
	switch s.reason {
	case SuppressReasonLegalRequirement, SuppressReasonDetectedFromCall:
		return true
	default:
		return false
	}
}

// MarshalJSON implements JSON marshaling
func (s SuppressReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.reason)
}

// UnmarshalJSON implements JSON unmarshaling
func (s *SuppressReason) UnmarshalJSON(data []byte) error {
	var reason string
	if err := json.Unmarshal(data, &reason); err != nil {
		return err
	}

	sr, err := NewSuppressReason(reason)
	if err != nil {
		return err
	}

	*s = sr
	return nil
}

// Value implements driver.Valuer for database storage
func (s SuppressReason) Value() (driver.Value, error) {
	if s.reason == "" {
		return nil, nil
	}
	return s.reason, nil
}

// Scan implements sql.Scanner for database retrieval
func (s *SuppressReason) Scan(value interface{}) error {
	if value == nil {
		*s = SuppressReason{}
		return nil
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into SuppressReason", value)
	}

	if str == "" {
		*s = SuppressReason{}
		return nil
	}

	sr, err := NewSuppressReason(str)
	if err != nil {
		return err
	}

	*s = sr
	return nil
}

// SupportedSuppressReasons returns all valid reason strings
func SupportedSuppressReasons() []string {
	reasons := make([]string, 0, len(supportedReasons))
	for r := range supportedReasons {
		reasons = append(reasons, r)
	}
	return reasons
}
