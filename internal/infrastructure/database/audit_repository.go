package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/audit"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
)

// AuditRepository implements audit.Repository using PostgreSQL.
// The dnc_audit_log table is insert-only: no UPDATE or DELETE statement
// exists anywhere in this package.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ audit.Repository = (*AuditRepository)(nil)

// Append inserts one immutable audit entry
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	query := `
		INSERT INTO dnc_audit_log (
			id, action, phone_number, organization_id, actor_id, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal audit metadata").WithCause(err)
	}

	_, err = r.db.Exec(ctx, query,
		entry.ID,
		string(entry.Action),
		entry.PhoneNumber,
		entry.OrganizationID,
		entry.ActorID,
		entry.Reason,
		metadataJSON,
		entry.Timestamp,
	)
	if err != nil {
		return errors.NewStoreUnavailableError("failed to append audit entry").WithCause(err)
	}

	return nil
}

// AggregateReport counts ledger activity for the organization and date range
func (r *AuditRepository) AggregateReport(ctx context.Context, orgID uuid.UUID, start, end time.Time) (*audit.Report, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE action = 'added'),
			COUNT(*) FILTER (WHERE action = 'removed'),
			COUNT(*) FILTER (WHERE action = 'check_blocked'),
			COUNT(*) FILTER (WHERE action = 'check_allowed'),
			COUNT(*) FILTER (WHERE action = 'override')
		FROM dnc_audit_log
		WHERE organization_id = $1 AND created_at >= $2 AND created_at <= $3
	`

	report := &audit.Report{
		OrganizationID: orgID,
		StartDate:      start,
		EndDate:        end,
	}

	err := r.db.QueryRow(ctx, query, orgID, start, end).Scan(
		&report.Adds,
		&report.Removes,
		&report.BlockedCalls,
		&report.AllowedCalls,
		&report.Overrides,
	)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("failed to aggregate audit report").WithCause(err)
	}

	return report, nil
}

// List returns a page of audit entries matching the filter
func (r *AuditRepository) List(ctx context.Context, filter audit.ListFilter) ([]*audit.Entry, int, error) {
	var (
		conditions = []string{"organization_id = $1"}
		args       = []interface{}{filter.OrganizationID}
	)

	if filter.Action != nil {
		args = append(args, string(*filter.Action))
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.PhoneNumber != "" {
		args = append(args, filter.PhoneNumber)
		conditions = append(conditions, fmt.Sprintf("phone_number = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM dnc_audit_log WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStoreUnavailableError("failed to count audit entries").WithCause(err)
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
		SELECT id, action, phone_number, organization_id, actor_id, reason, metadata, created_at
		FROM dnc_audit_log
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewStoreUnavailableError("failed to list audit entries").WithCause(err)
	}
	defer rows.Close()

	entries := make([]*audit.Entry, 0, limit)
	for rows.Next() {
		var (
			entry        audit.Entry
			action       string
			metadataJSON []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&action,
			&entry.PhoneNumber,
			&entry.OrganizationID,
			&entry.ActorID,
			&entry.Reason,
			&metadataJSON,
			&entry.Timestamp,
		); err != nil {
			return nil, 0, errors.NewStoreUnavailableError("failed to scan audit entry").WithCause(err)
		}

		entry.Action = audit.Action(action)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, 0, errors.NewInternalError("failed to unmarshal audit metadata").WithCause(err)
			}
		}

		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStoreUnavailableError("audit list query failed").WithCause(err)
	}

	return entries, total, nil
}
