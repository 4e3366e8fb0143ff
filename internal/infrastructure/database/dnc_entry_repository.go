package database

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/telemetry"
)

var tracer = telemetry.Tracer("dnc-compliance-engine/database")

// startSpan opens a client span for one store operation
func startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.table", "dnc_entries"),
		))
}

// scrubChunkSize bounds numbers per query so one oversized scrub cannot
// monopolize a pool connection
const scrubChunkSize = 1000

// activeClause selects entries that have not expired
const activeClause = "(expires_at IS NULL OR expires_at > NOW())"

// DNCEntryRepository implements dnc.DNCEntryRepository using PostgreSQL
type DNCEntryRepository struct {
	db *pgxpool.Pool
}

// NewDNCEntryRepository creates a new PostgreSQL DNC entry repository
func NewDNCEntryRepository(db *pgxpool.Pool) *DNCEntryRepository {
	return &DNCEntryRepository{db: db}
}

var _ dnc.DNCEntryRepository = (*DNCEntryRepository)(nil)

// Save upserts a DNC entry. Duplicate adds collapse in the database: first
// reason wins while the existing row is still active, and only added_at,
// notes and detected_phrase are refreshed. An expired row is fully replaced.
func (r *DNCEntryRepository) Save(ctx context.Context, entry *dnc.DNCEntry) (*dnc.DNCEntry, error) {
	ctx, span := startSpan(ctx, "save")
	defer span.End()

	query := `
		INSERT INTO dnc_entries (
			id, organization_id, phone_number, suppress_reason, source,
			detected_phrase, notes, added_by, added_at, expires_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (organization_id, phone_number)
		DO UPDATE SET
			suppress_reason = CASE WHEN dnc_entries.expires_at IS NOT NULL AND dnc_entries.expires_at <= NOW()
				THEN EXCLUDED.suppress_reason ELSE dnc_entries.suppress_reason END,
			source = CASE WHEN dnc_entries.expires_at IS NOT NULL AND dnc_entries.expires_at <= NOW()
				THEN EXCLUDED.source ELSE dnc_entries.source END,
			added_by = CASE WHEN dnc_entries.expires_at IS NOT NULL AND dnc_entries.expires_at <= NOW()
				THEN EXCLUDED.added_by ELSE dnc_entries.added_by END,
			expires_at = CASE WHEN dnc_entries.expires_at IS NOT NULL AND dnc_entries.expires_at <= NOW()
				THEN EXCLUDED.expires_at ELSE dnc_entries.expires_at END,
			detected_phrase = COALESCE(EXCLUDED.detected_phrase, dnc_entries.detected_phrase),
			notes = COALESCE(EXCLUDED.notes, dnc_entries.notes),
			added_at = EXCLUDED.added_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, organization_id, phone_number, suppress_reason, source,
			detected_phrase, notes, added_by, added_at, expires_at, updated_at
	`

	row := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.OrganizationID,
		entry.PhoneNumber.String(),
		entry.SuppressReason.String(),
		entry.Source,
		entry.DetectedPhrase,
		entry.Notes,
		entry.AddedBy,
		entry.AddedAt,
		entry.ExpiresAt,
		entry.UpdatedAt,
	)

	saved, err := scanEntry(row)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, errors.NewStoreUnavailableError("failed to save DNC entry").WithCause(err)
	}

	return saved, nil
}

// Remove deletes the active entry for the number. Expired rows are left for
// the cleanup sweep so the ledger of what was once listed stays queryable.
func (r *DNCEntryRepository) Remove(ctx context.Context, orgID uuid.UUID, phone values.PhoneNumber) (bool, error) {
	ctx, span := startSpan(ctx, "remove")
	defer span.End()

	query := `
		DELETE FROM dnc_entries
		WHERE organization_id = $1 AND phone_number = $2 AND ` + activeClause

	tag, err := r.db.Exec(ctx, query, orgID, phone.String())
	if err != nil {
		telemetry.RecordError(span, err)
		return false, errors.NewStoreUnavailableError("failed to remove DNC entry").WithCause(err)
	}

	return tag.RowsAffected() > 0, nil
}

// Check returns the authoritative verdict from durable storage
func (r *DNCEntryRepository) Check(ctx context.Context, orgID uuid.UUID, phone values.PhoneNumber) (*dnc.CheckResult, error) {
	ctx, span := startSpan(ctx, "check")
	defer span.End()

	query := `
		SELECT id, organization_id, phone_number, suppress_reason, source,
			detected_phrase, notes, added_by, added_at, expires_at, updated_at
		FROM dnc_entries
		WHERE organization_id = $1 AND phone_number = $2 AND ` + activeClause

	entry, err := scanEntry(r.db.QueryRow(ctx, query, orgID, phone.String()))
	if err != nil {
		if err == pgx.ErrNoRows {
			return &dnc.CheckResult{OnList: false}, nil
		}
		telemetry.RecordError(span, err)
		return nil, errors.NewStoreUnavailableError("failed to check DNC entry").WithCause(err)
	}

	return &dnc.CheckResult{OnList: true, Entry: entry}, nil
}

// Scrub checks a batch of numbers using chunked ANY() lookups
func (r *DNCEntryRepository) Scrub(ctx context.Context, orgID uuid.UUID, phones []values.PhoneNumber) (*dnc.ScrubResult, error) {
	ctx, span := startSpan(ctx, "scrub")
	span.SetAttributes(attribute.Int("batch_size", len(phones)))
	defer span.End()

	result := &dnc.ScrubResult{
		DNCNumbers:   make([]string, 0),
		CleanNumbers: make([]string, 0),
		Verdicts:     make(map[string]dnc.CheckResult, len(phones)),
	}

	query := `
		SELECT id, organization_id, phone_number, suppress_reason, source,
			detected_phrase, notes, added_by, added_at, expires_at, updated_at
		FROM dnc_entries
		WHERE organization_id = $1 AND phone_number = ANY($2) AND ` + activeClause

	for start := 0; start < len(phones); start += scrubChunkSize {
		end := start + scrubChunkSize
		if end > len(phones) {
			end = len(phones)
		}

		chunk := make([]string, 0, end-start)
		for _, p := range phones[start:end] {
			chunk = append(chunk, p.String())
		}

		rows, err := r.db.Query(ctx, query, orgID, chunk)
		if err != nil {
			return nil, errors.NewStoreUnavailableError("failed to scrub phone numbers").WithCause(err)
		}

		found := make(map[string]*dnc.DNCEntry, len(chunk))
		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				rows.Close()
				return nil, errors.NewStoreUnavailableError("failed to scan scrub row").WithCause(err)
			}
			found[entry.PhoneNumber.String()] = entry
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, errors.NewStoreUnavailableError("scrub query failed").WithCause(err)
		}

		for _, number := range chunk {
			if entry, ok := found[number]; ok {
				result.DNCNumbers = append(result.DNCNumbers, number)
				result.Verdicts[number] = dnc.CheckResult{OnList: true, Entry: entry}
			} else {
				result.CleanNumbers = append(result.CleanNumbers, number)
				result.Verdicts[number] = dnc.CheckResult{OnList: false}
			}
		}
	}

	return result, nil
}

// ActiveNumbers returns all active numbers for the organization
func (r *DNCEntryRepository) ActiveNumbers(ctx context.Context, orgID uuid.UUID) ([]string, error) {
	query := `
		SELECT phone_number FROM dnc_entries
		WHERE organization_id = $1 AND ` + activeClause

	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("failed to load active numbers").WithCause(err)
	}
	defer rows.Close()

	return collectNumbers(rows)
}

// AllActiveNumbers returns every active number across organizations,
// used to rebuild the membership filter at startup
func (r *DNCEntryRepository) AllActiveNumbers(ctx context.Context) ([]string, error) {
	query := `SELECT phone_number FROM dnc_entries WHERE ` + activeClause

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("failed to load active numbers").WithCause(err)
	}
	defer rows.Close()

	return collectNumbers(rows)
}

// List returns a page of entries matching the filter plus the total count
func (r *DNCEntryRepository) List(ctx context.Context, filter dnc.EntryFilter) ([]*dnc.DNCEntry, int, error) {
	var (
		conditions = []string{"organization_id = $1", activeClause}
		args       = []interface{}{filter.OrganizationID}
	)

	if filter.Reason != nil {
		args = append(args, filter.Reason.String())
		conditions = append(conditions, fmt.Sprintf("suppress_reason = $%d", len(args)))
	}
	if filter.Source != nil {
		args = append(args, *filter.Source)
		conditions = append(conditions, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("added_at >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conditions = append(conditions, fmt.Sprintf("added_at <= $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(phone_number LIKE $%d OR notes LIKE $%d)", len(args), len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM dnc_entries WHERE " + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStoreUnavailableError("failed to count DNC entries").WithCause(err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)

	query := fmt.Sprintf(`
		SELECT id, organization_id, phone_number, suppress_reason, source,
			detected_phrase, notes, added_by, added_at, expires_at, updated_at
		FROM dnc_entries
		WHERE %s
		ORDER BY added_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewStoreUnavailableError("failed to list DNC entries").WithCause(err)
	}
	defer rows.Close()

	entries := make([]*dnc.DNCEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, errors.NewStoreUnavailableError("failed to scan DNC entry").WithCause(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStoreUnavailableError("list query failed").WithCause(err)
	}

	return entries, total, nil
}

// ExportCSV streams all active entries for the organization as CSV
func (r *DNCEntryRepository) ExportCSV(ctx context.Context, orgID uuid.UUID, w io.Writer) error {
	query := `
		SELECT id, organization_id, phone_number, suppress_reason, source,
			detected_phrase, notes, added_by, added_at, expires_at, updated_at
		FROM dnc_entries
		WHERE organization_id = $1 AND ` + activeClause + `
		ORDER BY added_at DESC`

	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return errors.NewStoreUnavailableError("failed to export DNC entries").WithCause(err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	header := []string{"phone_number", "suppress_reason", "source", "detected_phrase", "notes", "added_by", "added_at", "expires_at"}
	if err := cw.Write(header); err != nil {
		return errors.NewInternalError("failed to write CSV header").WithCause(err)
	}

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return errors.NewStoreUnavailableError("failed to scan DNC entry").WithCause(err)
		}

		record := []string{
			entry.PhoneNumber.String(),
			entry.SuppressReason.String(),
			entry.Source,
			derefOrEmpty(entry.DetectedPhrase),
			derefOrEmpty(entry.Notes),
			entry.AddedBy.String(),
			entry.AddedAt.Format(time.RFC3339),
		}
		if entry.ExpiresAt != nil {
			record = append(record, entry.ExpiresAt.Format(time.RFC3339))
		} else {
			record = append(record, "")
		}

		if err := cw.Write(record); err != nil {
			return errors.NewInternalError("failed to write CSV record").WithCause(err)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewStoreUnavailableError("export query failed").WithCause(err)
	}

	cw.Flush()
	return cw.Error()
}

// CountActive returns the number of active entries for the organization
func (r *DNCEntryRepository) CountActive(ctx context.Context, orgID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM dnc_entries WHERE organization_id = $1 AND ` + activeClause

	var count int
	if err := r.db.QueryRow(ctx, query, orgID).Scan(&count); err != nil {
		return 0, errors.NewStoreUnavailableError("failed to count active entries").WithCause(err)
	}

	return count, nil
}

// CleanupExpired deletes expired entries in batches
func (r *DNCEntryRepository) CleanupExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	query := `
		DELETE FROM dnc_entries
		WHERE id IN (
			SELECT id FROM dnc_entries
			WHERE expires_at IS NOT NULL AND expires_at <= NOW()
			LIMIT $1
		)`

	tag, err := r.db.Exec(ctx, query, batchSize)
	if err != nil {
		return 0, errors.NewStoreUnavailableError("failed to cleanup expired entries").WithCause(err)
	}

	return int(tag.RowsAffected()), nil
}

// Ping verifies durable storage is reachable
func (r *DNCEntryRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*dnc.DNCEntry, error) {
	var entry dnc.DNCEntry
	err := row.Scan(
		&entry.ID,
		&entry.OrganizationID,
		&entry.PhoneNumber,
		&entry.SuppressReason,
		&entry.Source,
		&entry.DetectedPhrase,
		&entry.Notes,
		&entry.AddedBy,
		&entry.AddedAt,
		&entry.ExpiresAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func collectNumbers(rows pgx.Rows) ([]string, error) {
	numbers := make([]string, 0, 1024)
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, errors.NewStoreUnavailableError("failed to scan phone number").WithCause(err)
		}
		numbers = append(numbers, number)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreUnavailableError("numbers query failed").WithCause(err)
	}
	return numbers, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
