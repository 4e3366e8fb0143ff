package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/audit"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
	dncService "github.com/davidleathers/dnc-compliance-engine/internal/service/dnc"
)

// DNCHandler handles the Do Not Call API endpoints
type DNCHandler struct {
	service   dncService.Service
	gate      *dncService.Gate
	consumer  *dncService.OptOutConsumer
	logger    *zap.Logger
	validator *validator.Validate
}

// NewDNCHandler creates a new DNC handler
func NewDNCHandler(service dncService.Service, gate *dncService.Gate, consumer *dncService.OptOutConsumer, logger *zap.Logger) *DNCHandler {
	v := validator.New()
	v.RegisterValidation("e164", validateE164PhoneNumber)

	return &DNCHandler{
		service:   service,
		gate:      gate,
		consumer:  consumer,
		logger:    logger,
		validator: v,
	}
}

// RateLimiters groups per-endpoint limiters; tightest on mutation and admin
// endpoints, loosest on check
type RateLimiters struct {
	Check    *RateLimiter
	Mutation *RateLimiter
	Admin    *RateLimiter
}

// RegisterRoutes registers all DNC routes on the mux
func (h *DNCHandler) RegisterRoutes(mux *http.ServeMux, auth Middleware, limiters RateLimiters) {
	handle := func(pattern, name string, limiter *RateLimiter, handler http.HandlerFunc, extra ...Middleware) {
		middlewares := append([]Middleware{
			MetricsMiddleware(name),
			auth,
			limiter.Middleware(),
		}, extra...)
		mux.Handle(pattern, Chain(handler, middlewares...))
	}

	handle("POST /api/v1/dnc", "dnc_add", limiters.Mutation, h.handleAdd)
	handle("GET /api/v1/dnc/check", "dnc_check", limiters.Check, h.handleCheck)
	handle("DELETE /api/v1/dnc", "dnc_remove", limiters.Mutation, h.handleRemove, RequireAdmin())
	handle("GET /api/v1/dnc", "dnc_list", limiters.Mutation, h.handleList)
	handle("POST /api/v1/dnc/scrub", "dnc_scrub", limiters.Mutation, h.handleScrub)
	handle("GET /api/v1/dnc/compliance-report", "dnc_report", limiters.Mutation, h.handleComplianceReport)
	handle("POST /api/v1/dnc/export", "dnc_export", limiters.Mutation, h.handleExport)
	handle("GET /api/v1/dnc/bloom-stats", "dnc_bloom_stats", limiters.Mutation, h.handleFilterStats)
	handle("POST /api/v1/dnc/rebuild-bloom-filter", "dnc_rebuild", limiters.Admin, h.handleRebuildFilter, RequireAdmin())
	handle("GET /api/v1/dnc/audit", "dnc_audit", limiters.Mutation, h.handleListAudit, RequireAdmin())

	handle("POST /api/v1/dnc/dial-check", "dnc_dial_check", limiters.Check, h.handleDialCheck)
	handle("POST /api/v1/dnc/override", "dnc_override", limiters.Admin, h.handleOverride, RequireAdmin())

	handle("POST /api/v1/webhooks/transcript", "transcript_webhook", limiters.Check, h.handleTranscriptWebhook)
}

// Request DTOs

type addDNCRequest struct {
	PhoneNumber    string     `json:"phone_number" validate:"required"`
	Reason         string     `json:"reason" validate:"required"`
	Source         string     `json:"source,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	DetectedPhrase *string    `json:"detected_phrase,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type removeDNCRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type scrubRequest struct {
	PhoneNumbers []string `json:"phone_numbers" validate:"required,min=1,max=10000"`
}

type dialCheckRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
}

type overrideRequest struct {
	PhoneNumber   string `json:"phone_number" validate:"required"`
	Justification string `json:"justification" validate:"required"`
}

type transcriptWebhookRequest struct {
	CallID         uuid.UUID         `json:"call_id" validate:"required"`
	PhoneNumber    string            `json:"phone_number" validate:"required,e164"`
	Segment        string            `json:"segment" validate:"required"`
	FullTranscript string            `json:"full_transcript"`
	Context        map[string]string `json:"context,omitempty"`
}

// checkResponse is the wire shape of a check verdict
type checkResponse struct {
	OnList      bool       `json:"on_list"`
	CanCall     bool       `json:"can_call"`
	CheckMethod string     `json:"check_method"`
	Reason      string     `json:"reason,omitempty"`
	AddedAt     *time.Time `json:"added_at,omitempty"`
}

// Handlers

func (h *DNCHandler) handleAdd(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req addDNCRequest
	if !h.decode(w, r, &req) {
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	entry, err := h.service.Add(r.Context(), dncService.AddRequest{
		OrganizationID: orgID,
		PhoneNumber:    req.PhoneNumber,
		Reason:         req.Reason,
		Source:         source,
		Notes:          req.Notes,
		DetectedPhrase: req.DetectedPhrase,
		ExpiresAt:      req.ExpiresAt,
		Actor:          actor,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (h *DNCHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	phoneNumber := r.URL.Query().Get("phone_number")
	if phoneNumber == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PHONE_NUMBER", "phone_number is required")
		return
	}

	resp, err := h.service.Check(r.Context(), orgID, phoneNumber)
	if err != nil {
		writeAppError(w, err)
		return
	}

	out := checkResponse{
		OnList:      resp.OnList,
		CanCall:     resp.CanCall(),
		CheckMethod: string(resp.Method),
	}
	if resp.Entry != nil {
		out.Reason = resp.Entry.SuppressReason.String()
		out.AddedAt = &resp.Entry.AddedAt
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *DNCHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	phoneNumber := r.URL.Query().Get("phone_number")
	if phoneNumber == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PHONE_NUMBER", "phone_number is required")
		return
	}

	var req removeDNCRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.Remove(r.Context(), orgID, phoneNumber, actor, req.Reason); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": true})
}

func (h *DNCHandler) handleList(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	filter, err := h.parseListParams(r, orgID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	entries, total, err := h.service.ListEntries(r.Context(), *filter)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

func (h *DNCHandler) handleScrub(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req scrubRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.ScrubList(r.Context(), dncService.ScrubRequest{
		OrganizationID: orgID,
		PhoneNumbers:   req.PhoneNumbers,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *DNCHandler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	start, end, err := parseDateRange(r)
	if err != nil {
		writeAppError(w, err)
		return
	}

	report, err := h.service.ComplianceReport(r.Context(), orgID, start, end)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *DNCHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	// Buffer the export so a mid-stream store failure becomes an error
	// response instead of a truncated file with a 200
	var buf bytes.Buffer
	if err := h.service.ExportCSV(r.Context(), orgID, &buf); err != nil {
		h.logger.Error("CSV export failed", zap.Error(err))
		writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="dnc_entries.csv"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("CSV export interrupted", zap.Error(err))
	}
}

func (h *DNCHandler) handleFilterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetFilterStats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *DNCHandler) handleRebuildFilter(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RebuildFilter(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}

	stats, err := h.service.GetFilterStats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *DNCHandler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	filter := audit.ListFilter{OrganizationID: orgID}
	q := r.URL.Query()
	if v := q.Get("action"); v != "" {
		action := audit.Action(v)
		filter.Action = &action
	}
	if v := q.Get("phone_number"); v != "" {
		filter.PhoneNumber = v
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	entries, total, err := h.service.ListAudit(r.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}

func (h *DNCHandler) handleDialCheck(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req dialCheckRequest
	if !h.decode(w, r, &req) {
		return
	}

	decision, err := h.gate.CheckDial(r.Context(), orgID, req.PhoneNumber, actor)
	if err != nil {
		if decision != nil {
			// Blocked: the decision explains why; 403 with the decision body
			writeJSON(w, http.StatusForbidden, decision)
			return
		}
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

func (h *DNCHandler) handleOverride(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}

	permit, err := h.gate.Override(r.Context(), orgID, req.PhoneNumber, actor, req.Justification)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, permit)
}

func (h *DNCHandler) handleTranscriptWebhook(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req transcriptWebhookRequest
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.consumer.ProcessSegment(r.Context(), dncService.AnalyzeRequest{
		CallID:         req.CallID,
		OrganizationID: orgID,
		PhoneNumber:    req.PhoneNumber,
		Segment:        req.Segment,
		FullTranscript: req.FullTranscript,
		Context:        req.Context,
	}, actor)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// Helpers

// decode unmarshals the request body into dst and runs struct validation,
// writing a 400 and returning false on any failure
func (h *DNCHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return false
	}
	return true
}

func (h *DNCHandler) identity(w http.ResponseWriter, r *http.Request) (dncService.Actor, uuid.UUID, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authentication")
		return dncService.Actor{}, uuid.Nil, false
	}

	orgID, ok := OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing organization")
		return dncService.Actor{}, uuid.Nil, false
	}

	return actor, orgID, true
}

func (h *DNCHandler) parseListParams(r *http.Request, orgID uuid.UUID) (*dnc.EntryFilter, error) {
	q := r.URL.Query()

	filter := &dnc.EntryFilter{OrganizationID: orgID, Search: q.Get("search")}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	if v := q.Get("reason"); v != "" {
		reason, err := values.NewSuppressReason(v)
		if err != nil {
			return nil, invalidParam("reason")
		}
		filter.Reason = &reason
	}
	if v := q.Get("source"); v != "" {
		filter.Source = &v
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, invalidParam("start_date")
		}
		filter.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, invalidParam("end_date")
		}
		filter.EndDate = &t
	}

	return filter, nil
}

func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	start, err := time.Parse(time.RFC3339, q.Get("start_date"))
	if err != nil {
		return time.Time{}, time.Time{}, invalidParam("start_date")
	}
	end, err := time.Parse(time.RFC3339, q.Get("end_date"))
	if err != nil {
		return time.Time{}, time.Time{}, invalidParam("end_date")
	}

	return start, end, nil
}

var e164WithFormatting = regexp.MustCompile(`^\+?[0-9\s\-\(\)\.]{7,20}$`)

func validateE164PhoneNumber(fl validator.FieldLevel) bool {
	return e164WithFormatting.MatchString(fl.Field().String())
}
