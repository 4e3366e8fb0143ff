package dnc

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/audit"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/config"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/telemetry"
)

// Ensure service implements the interface
var _ Service = (*service)(nil)

var tracer = telemetry.Tracer("dnc-compliance-engine/service/dnc")

// filterRef wraps the filter so the whole instance can be swapped with one
// atomic pointer store; in-flight checks never observe a partially built
// filter.
type filterRef struct {
	filter MembershipFilter
}

// service implements the compliance orchestrator
type service struct {
	logger *zap.Logger
	cfg    config.FilterConfig

	entryRepo dnc.DNCEntryRepository
	auditRepo audit.Repository

	// Optional collaborators
	cache DecisionCache
	leads LeadLifecycle

	// current is nil while the filter is degraded; checks then go straight
	// to the store
	current       atomic.Pointer[filterRef]
	lastRebuild   atomic.Pointer[time.Time]
	// mutationMu serializes filter mutations against rebuild swaps so an Add
	// committed to the store is never lost from the published filter. Check
	// never takes this lock.
	mutationMu sync.Mutex
}

// NewService creates the compliance orchestrator. The cache and lead
// lifecycle collaborators are optional; everything else is required.
func NewService(
	logger *zap.Logger,
	cfg config.FilterConfig,
	entryRepo dnc.DNCEntryRepository,
	auditRepo audit.Repository,
	cache DecisionCache,
	leads LeadLifecycle,
) (Service, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if entryRepo == nil {
		return nil, errors.NewValidationError("INVALID_ENTRY_REPO", "entry repository cannot be nil")
	}
	if auditRepo == nil {
		return nil, errors.NewValidationError("INVALID_AUDIT_REPO", "audit repository cannot be nil")
	}

	return &service{
		logger:    logger,
		cfg:       cfg,
		entryRepo: entryRepo,
		auditRepo: auditRepo,
		cache:     cache,
		leads:     leads,
	}, nil
}

// Check resolves a verdict for one number. Fast path: a filter miss returns
// "clear" without a store round trip. A filter positive is always verified
// against the store, so false positives cost latency, never correctness.
func (s *service) Check(ctx context.Context, orgID uuid.UUID, phoneNumber string) (*CheckResponse, error) {
	ctx, span := tracer.Start(ctx, "dnc.check",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	start := time.Now()

	phone, err := values.NewPhoneNumber(phoneNumber)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_PHONE_NUMBER", "invalid phone number format").WithCause(err)
	}
	normalized := phone.String()

	if s.cache != nil {
		if cached, err := s.cache.GetDecision(ctx, orgID, normalized); err == nil {
			telemetry.ChecksTotal.WithLabelValues(string(CheckMethodCached), boolLabel(cached.OnList)).Inc()
			span.SetAttributes(
				attribute.String("check.method", string(CheckMethodCached)),
				attribute.Bool("check.on_list", cached.OnList))
			return &CheckResponse{
				PhoneNumber: normalized,
				OnList:      cached.OnList,
				Method:      CheckMethodCached,
				Entry:       cached.Entry,
				CheckedAt:   time.Now().UTC(),
			}, nil
		}
	}

	ref := s.current.Load()
	if ref == nil {
		// Filter degraded: store-only checking, correct but slower
		result, err := s.entryRepo.Check(ctx, orgID, phone)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		s.observeCheck(CheckMethodStore, result.OnList, start)
		span.SetAttributes(
			attribute.String("check.method", string(CheckMethodStore)),
			attribute.Bool("check.on_list", result.OnList))
		s.cacheDecision(ctx, orgID, normalized, result)
		return &CheckResponse{
			PhoneNumber: normalized,
			OnList:      result.OnList,
			Method:      CheckMethodStore,
			Entry:       result.Entry,
			CheckedAt:   time.Now().UTC(),
		}, nil
	}

	if !ref.filter.MayContain(normalized) {
		// Definitely absent; no store round trip, nothing worth caching
		s.observeCheck(CheckMethodFilter, false, start)
		span.SetAttributes(
			attribute.String("check.method", string(CheckMethodFilter)),
			attribute.Bool("check.on_list", false))
		return &CheckResponse{
			PhoneNumber: normalized,
			OnList:      false,
			Method:      CheckMethodFilter,
			CheckedAt:   time.Now().UTC(),
		}, nil
	}

	// Maybe present: the store is authoritative
	result, err := s.entryRepo.Check(ctx, orgID, phone)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.observeCheck(CheckMethodVerified, result.OnList, start)
	span.SetAttributes(
		attribute.String("check.method", string(CheckMethodVerified)),
		attribute.Bool("check.on_list", result.OnList))
	s.cacheDecision(ctx, orgID, normalized, result)

	return &CheckResponse{
		PhoneNumber: normalized,
		OnList:      result.OnList,
		Method:      CheckMethodVerified,
		Entry:       result.Entry,
		CheckedAt:   time.Now().UTC(),
	}, nil
}

// Add writes Store, then Filter, then Audit, in that order, before returning.
// Once Add returns, every subsequent Check observes the number on the list.
func (s *service) Add(ctx context.Context, req AddRequest) (*dnc.DNCEntry, error) {
	ctx, span := tracer.Start(ctx, "dnc.add",
		trace.WithAttributes(
			attribute.String("org_id", req.OrganizationID.String()),
			attribute.String("source", req.Source)))
	defer span.End()

	entry, err := dnc.NewDNCEntry(req.OrganizationID, req.PhoneNumber, req.Reason, req.Source, req.Actor.ID)
	if err != nil {
		return nil, err
	}
	if req.ExpiresAt != nil {
		if err := entry.SetExpiration(*req.ExpiresAt); err != nil {
			return nil, err
		}
	}
	if req.Notes != nil {
		entry.AddNote(*req.Notes)
	}
	if req.DetectedPhrase != nil {
		entry.SetDetectedPhrase(*req.DetectedPhrase)
	}

	normalized := entry.PhoneNumber.String()

	saved, err := s.entryRepo.Save(ctx, entry)
	if err != nil {
		telemetry.RecordError(span, err)
		// A failed add attempt still leaves forensic evidence
		s.appendAudit(ctx, audit.ActionAdded, req.OrganizationID, req.Actor.ID, normalized, req.Reason,
			map[string]interface{}{"error": err.Error(), "failed": true})
		return nil, err
	}

	// Filter update is serialized against rebuild swaps: the filter we load
	// under the lock is the one that survives any concurrent rebuild
	s.mutationMu.Lock()
	if ref := s.current.Load(); ref != nil {
		ref.filter.Add(normalized)
	}
	s.mutationMu.Unlock()

	s.invalidateDecision(ctx, req.OrganizationID, normalized)

	s.appendAudit(ctx, audit.ActionAdded, saved.OrganizationID, req.Actor.ID, normalized, saved.SuppressReason.String(),
		map[string]interface{}{"source": saved.Source, "entry_id": saved.ID.String()})

	// Best effort: the entry is already durable, a lost cancellation only
	// means the collaborator dials into the gate and gets blocked
	if s.leads != nil {
		if err := s.leads.CancelPendingOutreach(ctx, saved.OrganizationID, normalized); err != nil {
			s.logger.Warn("failed to cancel pending outreach",
				zap.String("phone", normalized),
				zap.Error(err))
		}
	}

	s.logger.Info("number added to DNC list",
		zap.String("phone", normalized),
		zap.String("reason", saved.SuppressReason.String()),
		zap.String("source", saved.Source))

	return saved, nil
}

// Remove is privileged. The probabilistic backing cannot delete a single key,
// so removal triggers a synchronous full rebuild from the store; until the
// swap lands a removed number at worst costs a store verification, which
// returns the correct "off list" verdict.
func (s *service) Remove(ctx context.Context, orgID uuid.UUID, phoneNumber string, actor Actor, reason string) error {
	ctx, span := tracer.Start(ctx, "dnc.remove",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	if !actor.IsElevated() {
		return errors.NewForbiddenError("removing DNC entries requires an elevated role")
	}

	phone, err := values.NewPhoneNumber(phoneNumber)
	if err != nil {
		return errors.NewValidationError("INVALID_PHONE_NUMBER", "invalid phone number format").WithCause(err)
	}
	normalized := phone.String()

	removed, err := s.entryRepo.Remove(ctx, orgID, phone)
	if err != nil {
		telemetry.RecordError(span, err)
		s.appendAudit(ctx, audit.ActionRemoved, orgID, actor.ID, normalized, reason,
			map[string]interface{}{"error": err.Error(), "failed": true})
		return err
	}
	if !removed {
		return errors.NewNotFoundError("DNC entry")
	}

	s.appendAudit(ctx, audit.ActionRemoved, orgID, actor.ID, normalized, reason, nil)
	s.invalidateDecision(ctx, orgID, normalized)

	if err := s.RebuildFilter(ctx); err != nil {
		// The stale filter still says "maybe present" for the removed number;
		// the verify path resolves that correctly against the store
		s.logger.Error("filter rebuild after remove failed",
			zap.String("phone", normalized),
			zap.Error(err))
	}

	s.logger.Info("number removed from DNC list",
		zap.String("phone", normalized),
		zap.String("reason", reason),
		zap.String("removed_by", actor.ID.String()))

	return nil
}

// ScrubList validates a batch against the store directly. The filter is
// bypassed: at import volume false positives would be wasteful and false
// negatives are never acceptable.
func (s *service) ScrubList(ctx context.Context, req ScrubRequest) (*ScrubResponse, error) {
	ctx, span := tracer.Start(ctx, "dnc.scrub",
		trace.WithAttributes(
			attribute.String("org_id", req.OrganizationID.String()),
			attribute.Int("batch_size", len(req.PhoneNumbers))))
	defer span.End()

	if len(req.PhoneNumbers) == 0 {
		return nil, errors.NewValidationError("EMPTY_BATCH", "phone numbers are required")
	}
	if len(req.PhoneNumbers) > MaxScrubBatch {
		return nil, errors.NewValidationError("BATCH_TOO_LARGE", "at most 10000 phone numbers per scrub")
	}

	telemetry.ScrubBatchSize.Observe(float64(len(req.PhoneNumbers)))

	resp := &ScrubResponse{
		Total:        len(req.PhoneNumbers),
		DNCNumbers:   make([]string, 0),
		CleanNumbers: make([]string, 0),
		Verdicts:     make(map[string]dnc.CheckResult, len(req.PhoneNumbers)),
		Failed:       make(map[string]string),
	}

	// Malformed numbers are reported inside the batch result, never abort it
	normalizedByInput := make(map[string]string, len(req.PhoneNumbers))
	phones := make([]values.PhoneNumber, 0, len(req.PhoneNumbers))
	seen := make(map[string]bool, len(req.PhoneNumbers))
	for _, input := range req.PhoneNumbers {
		phone, err := values.NewPhoneNumber(input)
		if err != nil {
			resp.Failed[input] = "invalid phone number format"
			continue
		}
		normalizedByInput[input] = phone.String()
		if !seen[phone.String()] {
			seen[phone.String()] = true
			phones = append(phones, phone)
		}
	}

	if len(phones) > 0 {
		result, err := s.entryRepo.Scrub(ctx, req.OrganizationID, phones)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		for input, normalized := range normalizedByInput {
			verdict := result.Verdicts[normalized]
			resp.Verdicts[input] = verdict
			if verdict.OnList {
				resp.DNCNumbers = append(resp.DNCNumbers, input)
			} else {
				resp.CleanNumbers = append(resp.CleanNumbers, input)
			}
		}
	}

	resp.DNCCount = len(resp.DNCNumbers)
	resp.CleanCount = len(resp.CleanNumbers)
	resp.FailedCount = len(resp.Failed)

	return resp, nil
}

// ComplianceReport joins the audit ledger aggregate with live store state
func (s *service) ComplianceReport(ctx context.Context, orgID uuid.UUID, start, end time.Time) (*ComplianceReport, error) {
	if end.Before(start) {
		return nil, errors.NewValidationError("INVALID_DATE_RANGE", "end date cannot be before start date")
	}

	ledger, err := s.auditRepo.AggregateReport(ctx, orgID, start, end)
	if err != nil {
		return nil, err
	}

	active, err := s.entryRepo.CountActive(ctx, orgID)
	if err != nil {
		return nil, err
	}

	return &ComplianceReport{
		OrganizationID: orgID,
		StartDate:      start,
		EndDate:        end,
		ActiveEntries:  active,
		Adds:           ledger.Adds,
		Removes:        ledger.Removes,
		BlockedCalls:   ledger.BlockedCalls,
		AllowedCalls:   ledger.AllowedCalls,
		Overrides:      ledger.Overrides,
	}, nil
}

// ListEntries pages through active entries
func (s *service) ListEntries(ctx context.Context, filter dnc.EntryFilter) ([]*dnc.DNCEntry, int, error) {
	return s.entryRepo.List(ctx, filter)
}

// ListAudit pages through the compliance ledger
func (s *service) ListAudit(ctx context.Context, filter audit.ListFilter) ([]*audit.Entry, int, error) {
	return s.auditRepo.List(ctx, filter)
}

// ExportCSV streams all active entries for the organization
func (s *service) ExportCSV(ctx context.Context, orgID uuid.UUID, w io.Writer) error {
	return s.entryRepo.ExportCSV(ctx, orgID, w)
}

// GetFilterStats describes the membership filter
func (s *service) GetFilterStats(ctx context.Context) (*FilterStatsResponse, error) {
	resp := &FilterStatsResponse{}

	if t := s.lastRebuild.Load(); t != nil {
		resp.LastRebuildAt = *t
	}

	ref := s.current.Load()
	if ref == nil {
		resp.Degraded = true
		return resp, nil
	}

	resp.FilterStats = ref.filter.Stats()
	return resp, nil
}

// RebuildFilter builds a fresh filter from a store snapshot, then publishes
// it with a single atomic swap. Used at startup, after removals, and from
// the admin endpoint to bound false-positive growth.
func (s *service) RebuildFilter(ctx context.Context) error {
	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	numbers, err := s.entryRepo.AllActiveNumbers(ctx)
	if err != nil {
		return errors.Wrap(err, "loading active numbers for filter rebuild")
	}

	filter := s.newFilter()
	filter.Initialize(numbers)

	s.current.Store(&filterRef{filter: filter})
	now := time.Now().UTC()
	s.lastRebuild.Store(&now)

	telemetry.FilterRebuildsTotal.Inc()
	telemetry.FilterEntries.Set(float64(len(numbers)))

	s.logger.Info("membership filter rebuilt",
		zap.Int("entries", len(numbers)),
		zap.String("backend", s.cfg.Backend))

	return nil
}

// CleanupExpired sweeps expired entries; the rebuild drops them from the filter
func (s *service) CleanupExpired(ctx context.Context, batchSize int) (int, error) {
	removed, err := s.entryRepo.CleanupExpired(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		if err := s.RebuildFilter(ctx); err != nil {
			s.logger.Error("filter rebuild after expiry sweep failed", zap.Error(err))
		}
	}

	return removed, nil
}

// HealthCheck validates store and cache connectivity and reports a degraded
// filter. Store loss is fatal; a missing filter is not, checks fall back to
// the store until a rebuild lands.
func (s *service) HealthCheck(ctx context.Context) error {
	if err := s.entryRepo.Ping(ctx); err != nil {
		return errors.NewStoreUnavailableError("store unreachable").WithCause(err)
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			// Cache loss degrades latency, not correctness
			s.logger.Warn("decision cache unreachable", zap.Error(err))
		}
	}

	if s.current.Load() == nil {
		return errors.NewFilterDegradedError("membership filter unavailable, checks go to the store")
	}

	return nil
}

func (s *service) newFilter() MembershipFilter {
	if s.cfg.Backend == "exact" {
		return NewExactFilter()
	}
	return NewBloomFilter(s.cfg.ExpectedCapacity, s.cfg.FalsePositiveRate)
}

// appendAudit writes one ledger row; a ledger failure is logged loudly but
// never turns a completed mutation into an error for the caller
func (s *service) appendAudit(ctx context.Context, action audit.Action, orgID, actorID uuid.UUID, phone, reason string, metadata map[string]interface{}) {
	entry, err := audit.NewEntry(action, orgID, actorID, phone, reason)
	if err != nil {
		s.logger.Error("failed to construct audit entry", zap.Error(err))
		return
	}
	for k, v := range metadata {
		entry.WithMetadata(k, v)
	}

	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry",
			zap.String("action", string(action)),
			zap.String("phone", phone),
			zap.Error(err))
	}
}

// cacheDecision stores on-list verdicts only. A "clear" cached by a check
// racing a concurrent Add could land after that Add's invalidation and mask
// the new entry until the TTL expires, so clear verdicts are never written;
// the filter fast path serves them without a cache round trip anyway. A stale
// cached positive after a racing Remove only over-blocks and ages out with
// the TTL.
func (s *service) cacheDecision(ctx context.Context, orgID uuid.UUID, phone string, result *dnc.CheckResult) {
	if s.cache == nil || !result.OnList {
		return
	}
	if err := s.cache.SetDecision(ctx, orgID, phone, result); err != nil {
		s.logger.Debug("decision cache set failed", zap.Error(err))
	}
}

func (s *service) invalidateDecision(ctx context.Context, orgID uuid.UUID, phone string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orgID, phone); err != nil {
		s.logger.Warn("decision cache invalidation failed",
			zap.String("phone", phone),
			zap.Error(err))
	}
}

func (s *service) observeCheck(method CheckMethod, onList bool, start time.Time) {
	telemetry.ChecksTotal.WithLabelValues(string(method), boolLabel(onList)).Inc()
	telemetry.CheckLatency.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
