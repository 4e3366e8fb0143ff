package dnc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/audit"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/telemetry"
)

// ErrCallBlocked is the distinguishable rejection returned to the dispatch
// collaborator. Dispatch must treat it as terminal; the only bypass is the
// audited Override path.
var ErrCallBlocked = errors.NewComplianceError("CALL_BLOCKED", "phone number is on the Do Not Call list")

// Gate is the synchronous precondition check invoked before every outbound
// dial attempt. On any internal failure it fails closed: a check that cannot
// be completed blocks the call.
type Gate struct {
	service   Service
	auditRepo audit.Repository
	logger    *zap.Logger
}

// NewGate creates the call-blocking gate
func NewGate(service Service, auditRepo audit.Repository, logger *zap.Logger) (*Gate, error) {
	if service == nil {
		return nil, errors.NewValidationError("INVALID_SERVICE", "compliance service cannot be nil")
	}
	if auditRepo == nil {
		return nil, errors.NewValidationError("INVALID_AUDIT_REPO", "audit repository cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}

	return &Gate{
		service:   service,
		auditRepo: auditRepo,
		logger:    logger,
	}, nil
}

// CheckDial decides whether a dial attempt may proceed. Every decision is
// audited; blocked attempts return ErrCallBlocked alongside the decision.
func (g *Gate) CheckDial(ctx context.Context, orgID uuid.UUID, phoneNumber string, actor Actor) (*DialDecision, error) {
	ctx, span := tracer.Start(ctx, "gate.check_dial",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	resp, err := g.service.Check(ctx, orgID, phoneNumber)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeValidation) {
			// A number that cannot be parsed cannot be safely dialed either
			return nil, err
		}

		// Fail closed: an unanswerable check blocks the call. Compliance risk
		// outranks availability here.
		decision := &DialDecision{
			Allowed:     false,
			PhoneNumber: phoneNumber,
			Reason:      "compliance check unavailable",
			FailClosed:  true,
			DecidedAt:   time.Now().UTC(),
		}

		g.appendDecision(ctx, audit.ActionCheckBlocked, orgID, actor.ID, phoneNumber, "fail_closed",
			map[string]interface{}{"error": err.Error(), "fail_closed": true})
		telemetry.GateDecisionsTotal.WithLabelValues("blocked_fail_closed").Inc()
		span.SetAttributes(attribute.String("gate.outcome", "blocked_fail_closed"))
		telemetry.RecordError(span, err)

		g.logger.Error("dial blocked: compliance check failed",
			zap.String("phone", phoneNumber),
			zap.Error(err))

		return decision, ErrCallBlocked
	}

	if resp.OnList {
		reason := ""
		if resp.Entry != nil {
			reason = resp.Entry.SuppressReason.String()
		}

		decision := &DialDecision{
			Allowed:     false,
			PhoneNumber: resp.PhoneNumber,
			Method:      resp.Method,
			Reason:      reason,
			DecidedAt:   time.Now().UTC(),
		}

		g.appendDecision(ctx, audit.ActionCheckBlocked, orgID, actor.ID, resp.PhoneNumber, reason,
			map[string]interface{}{"check_method": string(resp.Method)})
		telemetry.GateDecisionsTotal.WithLabelValues("blocked").Inc()
		span.SetAttributes(attribute.String("gate.outcome", "blocked"))

		return decision, ErrCallBlocked
	}

	g.appendDecision(ctx, audit.ActionCheckAllowed, orgID, actor.ID, resp.PhoneNumber, "",
		map[string]interface{}{"check_method": string(resp.Method)})
	telemetry.GateDecisionsTotal.WithLabelValues("allowed").Inc()
	span.SetAttributes(attribute.String("gate.outcome", "allowed"))

	return &DialDecision{
		Allowed:     true,
		PhoneNumber: resp.PhoneNumber,
		Method:      resp.Method,
		DecidedAt:   time.Now().UTC(),
	}, nil
}

// Override issues a one-time dial permit to an elevated actor. It does not
// alter the underlying DNC entry and is itself audited.
func (g *Gate) Override(ctx context.Context, orgID uuid.UUID, phoneNumber string, actor Actor, justification string) (*OverridePermit, error) {
	if !actor.IsElevated() {
		return nil, errors.NewForbiddenError("override requires an elevated role")
	}
	if strings.TrimSpace(justification) == "" {
		return nil, errors.NewValidationError("MISSING_JUSTIFICATION", "override requires a documented justification")
	}

	phone, err := values.NewPhoneNumber(phoneNumber)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_PHONE_NUMBER", "invalid phone number format").WithCause(err)
	}

	permit := &OverridePermit{
		ID:            uuid.New(),
		PhoneNumber:   phone.String(),
		Justification: justification,
		IssuedTo:      actor.ID,
		IssuedAt:      time.Now().UTC(),
	}

	g.appendDecision(ctx, audit.ActionOverride, orgID, actor.ID, permit.PhoneNumber, justification,
		map[string]interface{}{"permit_id": permit.ID.String()})
	telemetry.GateDecisionsTotal.WithLabelValues("override").Inc()

	g.logger.Warn("DNC override issued",
		zap.String("phone", permit.PhoneNumber),
		zap.String("issued_to", actor.ID.String()),
		zap.String("justification", justification))

	return permit, nil
}

// appendDecision writes the ledger row for a gate decision. Ledger failures
// are logged at error level; the decision itself stands.
func (g *Gate) appendDecision(ctx context.Context, action audit.Action, orgID, actorID uuid.UUID, phone, reason string, metadata map[string]interface{}) {
	entry, err := audit.NewEntry(action, orgID, actorID, phone, reason)
	if err != nil {
		g.logger.Error("failed to construct gate audit entry", zap.Error(err))
		return
	}
	for k, v := range metadata {
		entry.WithMetadata(k, v)
	}

	if err := g.auditRepo.Append(ctx, entry); err != nil {
		g.logger.Error("failed to append gate audit entry",
			zap.String("action", string(action)),
			zap.String("phone", phone),
			zap.Error(err))
	}
}
