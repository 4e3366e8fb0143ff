package dnc

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/audit"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
)

// Service is the compliance orchestrator. It is the only writer of the
// membership filter and enforces the Store -> Filter -> Audit ordering on
// mutations so that a returned Add is visible to every subsequent Check.
type Service interface {
	// Check resolves a single number: filter fast path first, store
	// verification only on a filter positive
	Check(ctx context.Context, orgID uuid.UUID, phoneNumber string) (*CheckResponse, error)

	// Add places a number on the list. Idempotent; duplicate adds collapse to
	// one entry with the first reason winning.
	Add(ctx context.Context, req AddRequest) (*dnc.DNCEntry, error)

	// Remove takes a number off the list. Privileged: rejects non-elevated
	// actors before touching store or filter.
	Remove(ctx context.Context, orgID uuid.UUID, phoneNumber string, actor Actor, reason string) error

	// ScrubList validates a batch of numbers against the store directly,
	// bypassing the filter
	ScrubList(ctx context.Context, req ScrubRequest) (*ScrubResponse, error)

	// ComplianceReport aggregates ledger activity and store state for a range
	ComplianceReport(ctx context.Context, orgID uuid.UUID, start, end time.Time) (*ComplianceReport, error)

	// ListEntries pages through active entries
	ListEntries(ctx context.Context, filter dnc.EntryFilter) ([]*dnc.DNCEntry, int, error)

	// ListAudit pages through the compliance ledger
	ListAudit(ctx context.Context, filter audit.ListFilter) ([]*audit.Entry, int, error)

	// ExportCSV streams all active entries for the organization
	ExportCSV(ctx context.Context, orgID uuid.UUID, w io.Writer) error

	// GetFilterStats describes the membership filter
	GetFilterStats(ctx context.Context) (*FilterStatsResponse, error)

	// RebuildFilter rebuilds the filter from the store and swaps it in
	// atomically. Privileged when invoked through the API.
	RebuildFilter(ctx context.Context) error

	// CleanupExpired sweeps expired entries and rebuilds the filter when any
	// were removed
	CleanupExpired(ctx context.Context, batchSize int) (int, error)

	// HealthCheck validates store and cache connectivity
	HealthCheck(ctx context.Context) error
}

// DecisionCache caches check verdicts with a bounded TTL. Implementations
// must support explicit invalidation; the service never relies on expiry
// alone after a mutation.
type DecisionCache interface {
	GetDecision(ctx context.Context, orgID uuid.UUID, phoneNumber string) (*dnc.CheckResult, error)
	SetDecision(ctx context.Context, orgID uuid.UUID, phoneNumber string, result *dnc.CheckResult) error
	Invalidate(ctx context.Context, orgID uuid.UUID, phoneNumber string) error
	Ping(ctx context.Context) error
}

// LeadLifecycle is the external collaborator that owns outreach scheduling.
// Add notifies it so pending outreach to a newly suppressed number is
// cancelled. Failures are logged, never propagated: the DNC entry is already
// durable by the time this is called.
type LeadLifecycle interface {
	CancelPendingOutreach(ctx context.Context, orgID uuid.UUID, phoneNumber string) error
}

// TranscriptAnalyzer is the external opt-out detector boundary. Its
// classification logic (language model or otherwise) lives outside this
// engine; only the contract is owned here.
type TranscriptAnalyzer interface {
	AnalyzeSegment(ctx context.Context, req AnalyzeRequest) (*OptOutVerdict, error)
}

// AnalyzeRequest carries one transcript increment plus context
type AnalyzeRequest struct {
	CallID         uuid.UUID         `json:"call_id"`
	OrganizationID uuid.UUID         `json:"organization_id"`
	PhoneNumber    string            `json:"phone_number"`
	Segment        string            `json:"segment"`
	FullTranscript string            `json:"full_transcript"`
	Context        map[string]string `json:"context,omitempty"`
}

// OptOutVerdict is the analyzer's classification of a transcript segment
type OptOutVerdict struct {
	OptOutDetected      bool    `json:"opt_out_detected"`
	Confidence          float64 `json:"confidence"`
	DetectedPhrase      string  `json:"detected_phrase,omitempty"`
	RecommendedResponse string  `json:"recommended_response,omitempty"`
}
