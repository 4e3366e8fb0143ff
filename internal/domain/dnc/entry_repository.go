package dnc

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
)

// CheckResult is the authoritative verdict from the store for a single number
type CheckResult struct {
	OnList bool      `json:"on_list"`
	Entry  *DNCEntry `json:"entry,omitempty"`
}

// ScrubResult holds per-number verdicts for a bulk scrub
type ScrubResult struct {
	DNCNumbers   []string               `json:"dnc_numbers"`
	CleanNumbers []string               `json:"clean_numbers"`
	Verdicts     map[string]CheckResult `json:"verdicts"`
	Failed       map[string]string      `json:"failed,omitempty"` // number -> failure reason
}

// EntryFilter describes listing criteria for DNC entries
type EntryFilter struct {
	OrganizationID uuid.UUID
	Reason         *values.SuppressReason
	Source         *string
	StartDate      *time.Time
	EndDate        *time.Time
	Search         string
	Page           int
	Limit          int
}

// DNCEntryRepository is the authoritative, durable store of DNC entries.
// Implementations must never return false "clear" verdicts: Check always
// consults durable storage.
type DNCEntryRepository interface {
	// Save upserts an entry idempotently. When an active entry already exists
	// for the same (organization, phone number), the first reason wins and
	// only added_at, notes and detected_phrase are refreshed.
	Save(ctx context.Context, entry *DNCEntry) (*DNCEntry, error)

	// Remove deletes the active entry for the number. Returns false when no
	// active entry existed. Never partially applies.
	Remove(ctx context.Context, orgID uuid.UUID, phone values.PhoneNumber) (bool, error)

	// Check returns the authoritative verdict for a single number
	Check(ctx context.Context, orgID uuid.UUID, phone values.PhoneNumber) (*CheckResult, error)

	// Scrub checks a batch of numbers with chunked, batched lookups
	Scrub(ctx context.Context, orgID uuid.UUID, phones []values.PhoneNumber) (*ScrubResult, error)

	// ActiveNumbers returns all active numbers for one organization,
	// used for membership filter rebuilds
	ActiveNumbers(ctx context.Context, orgID uuid.UUID) ([]string, error)

	// AllActiveNumbers returns every active number across organizations
	AllActiveNumbers(ctx context.Context) ([]string, error)

	// List returns a page of entries matching the filter plus the total count
	List(ctx context.Context, filter EntryFilter) ([]*DNCEntry, int, error)

	// ExportCSV streams all active entries for the organization as CSV
	ExportCSV(ctx context.Context, orgID uuid.UUID, w io.Writer) error

	// CountActive returns the number of active entries for the organization
	CountActive(ctx context.Context, orgID uuid.UUID) (int, error)

	// CleanupExpired deletes expired entries in batches, returning how many
	// were removed
	CleanupExpired(ctx context.Context, batchSize int) (int, error)

	// Ping verifies durable storage is reachable
	Ping(ctx context.Context) error
}
