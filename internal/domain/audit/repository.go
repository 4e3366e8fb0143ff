package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Report aggregates ledger activity for a date range
type Report struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Adds           int       `json:"adds"`
	Removes        int       `json:"removes"`
	BlockedCalls   int       `json:"blocked_calls"`
	AllowedCalls   int       `json:"allowed_calls"`
	Overrides      int       `json:"overrides"`
}

// ListFilter describes forensic query criteria over the ledger
type ListFilter struct {
	OrganizationID uuid.UUID
	Action         *Action
	PhoneNumber    string
	StartDate      *time.Time
	EndDate        *time.Time
	Page           int
	Limit          int
}

// Repository is the append-only compliance ledger. There is no update or
// delete: blocked decisions and mutations are recorded even when the
// underlying operation failed.
type Repository interface {
	// Append inserts one immutable entry
	Append(ctx context.Context, entry *Entry) error

	// AggregateReport counts adds, removes, blocked/allowed checks and
	// overrides for the organization within the date range
	AggregateReport(ctx context.Context, orgID uuid.UUID, start, end time.Time) (*Report, error)

	// List returns a page of entries matching the filter plus the total count
	List(ctx context.Context, filter ListFilter) ([]*Entry, int, error)
}
