package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/audit"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/config"
	dncService "github.com/davidleathers/dnc-compliance-engine/internal/service/dnc"
)

const testSecret = "test-secret"

// stubService lets each test wire only the operations it exercises
type stubService struct {
	checkFn  func(ctx context.Context, orgID uuid.UUID, phoneNumber string) (*dncService.CheckResponse, error)
	addFn    func(ctx context.Context, req dncService.AddRequest) (*dnc.DNCEntry, error)
	removeFn func(ctx context.Context, orgID uuid.UUID, phoneNumber string, actor dncService.Actor, reason string) error
	scrubFn  func(ctx context.Context, req dncService.ScrubRequest) (*dncService.ScrubResponse, error)
	statsFn  func(ctx context.Context) (*dncService.FilterStatsResponse, error)
	exportFn func(ctx context.Context, orgID uuid.UUID, w io.Writer) error
	healthFn func(ctx context.Context) error
}

func (s *stubService) Check(ctx context.Context, orgID uuid.UUID, phoneNumber string) (*dncService.CheckResponse, error) {
	return s.checkFn(ctx, orgID, phoneNumber)
}

func (s *stubService) Add(ctx context.Context, req dncService.AddRequest) (*dnc.DNCEntry, error) {
	return s.addFn(ctx, req)
}

func (s *stubService) Remove(ctx context.Context, orgID uuid.UUID, phoneNumber string, actor dncService.Actor, reason string) error {
	return s.removeFn(ctx, orgID, phoneNumber, actor, reason)
}

func (s *stubService) ScrubList(ctx context.Context, req dncService.ScrubRequest) (*dncService.ScrubResponse, error) {
	return s.scrubFn(ctx, req)
}

func (s *stubService) ComplianceReport(ctx context.Context, orgID uuid.UUID, start, end time.Time) (*dncService.ComplianceReport, error) {
	return &dncService.ComplianceReport{OrganizationID: orgID, StartDate: start, EndDate: end}, nil
}

func (s *stubService) ListEntries(ctx context.Context, filter dnc.EntryFilter) ([]*dnc.DNCEntry, int, error) {
	return nil, 0, nil
}

func (s *stubService) ListAudit(ctx context.Context, filter audit.ListFilter) ([]*audit.Entry, int, error) {
	return nil, 0, nil
}

func (s *stubService) ExportCSV(ctx context.Context, orgID uuid.UUID, w io.Writer) error {
	if s.exportFn != nil {
		return s.exportFn(ctx, orgID, w)
	}
	_, err := w.Write([]byte("phone_number,suppress_reason\n"))
	return err
}

func (s *stubService) GetFilterStats(ctx context.Context) (*dncService.FilterStatsResponse, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return &dncService.FilterStatsResponse{}, nil
}

func (s *stubService) RebuildFilter(ctx context.Context) error { return nil }

func (s *stubService) CleanupExpired(ctx context.Context, batchSize int) (int, error) {
	return 0, nil
}

func (s *stubService) HealthCheck(ctx context.Context) error {
	if s.healthFn != nil {
		return s.healthFn(ctx)
	}
	return nil
}

func signToken(t *testing.T, actorID, orgID uuid.UUID, role string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, actorClaims{
		OrganizationID: orgID.String(),
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestMux(t *testing.T, svc dncService.Service) *http.ServeMux {
	t.Helper()

	logger := zaptest.NewLogger(t)
	handler := NewDNCHandler(svc, nil, nil, logger)

	mux := http.NewServeMux()
	limiter := NewRateLimiter(1000, 2000)
	handler.RegisterRoutes(mux, AuthMiddleware(testSecret), RateLimiters{
		Check:    limiter,
		Mutation: limiter,
		Admin:    limiter,
	})
	return mux
}

func authedRequest(t *testing.T, method, target, role string, body []byte) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New(), uuid.New(), role))
	return req
}

func TestHandleCheck(t *testing.T) {
	svc := &stubService{
		checkFn: func(ctx context.Context, orgID uuid.UUID, phoneNumber string) (*dncService.CheckResponse, error) {
			return &dncService.CheckResponse{
				PhoneNumber: "+15551234567",
				OnList:      true,
				Method:      dncService.CheckMethodVerified,
			}, nil
		},
	}
	mux := newTestMux(t, svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/dnc/check?phone_number=%2B15551234567", "agent", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp checkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OnList)
	assert.False(t, resp.CanCall)
	assert.Equal(t, "verified", resp.CheckMethod)
}

func TestHandleCheck_MissingNumber(t *testing.T) {
	mux := newTestMux(t, &stubService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/dnc/check", "agent", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdd(t *testing.T) {
	var captured dncService.AddRequest
	svc := &stubService{
		addFn: func(ctx context.Context, req dncService.AddRequest) (*dnc.DNCEntry, error) {
			captured = req
			return dnc.NewDNCEntry(req.OrganizationID, req.PhoneNumber, req.Reason, req.Source, req.Actor.ID)
		},
	}
	mux := newTestMux(t, svc)

	body := []byte(`{"phone_number": "+15551234567", "reason": "lead_requested"}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/dnc", "agent", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "+15551234567", captured.PhoneNumber)
	assert.Equal(t, "api", captured.Source, "source defaults to api")
	assert.NotEqual(t, uuid.Nil, captured.Actor.ID)
}

func TestHandleAdd_ValidationFailure(t *testing.T) {
	svc := &stubService{
		addFn: func(ctx context.Context, req dncService.AddRequest) (*dnc.DNCEntry, error) {
			return nil, errors.NewValidationError("INVALID_PHONE_NUMBER", "invalid phone number format")
		},
	}
	mux := newTestMux(t, svc)

	body := []byte(`{"phone_number": "garbage", "reason": "manual"}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/dnc", "agent", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_PHONE_NUMBER", resp.Error.Code)
}

func TestHandleAdd_MissingBodyFields(t *testing.T) {
	mux := newTestMux(t, &stubService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/dnc", "agent", []byte(`{"phone_number": "+15551234567"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRemove_AdminOnly(t *testing.T) {
	removed := false
	svc := &stubService{
		removeFn: func(ctx context.Context, orgID uuid.UUID, phoneNumber string, actor dncService.Actor, reason string) error {
			removed = true
			return nil
		},
	}
	mux := newTestMux(t, svc)

	body := []byte(`{"reason": "wrong number recorded"}`)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodDelete, "/api/v1/dnc?phone_number=%2B15551234567", "agent", body))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, removed)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodDelete, "/api/v1/dnc?phone_number=%2B15551234567", "admin", body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, removed)
}

func TestHandleScrub(t *testing.T) {
	svc := &stubService{
		scrubFn: func(ctx context.Context, req dncService.ScrubRequest) (*dncService.ScrubResponse, error) {
			return &dncService.ScrubResponse{
				Total:      len(req.PhoneNumbers),
				DNCCount:   1,
				CleanCount: 1,
			}, nil
		},
	}
	mux := newTestMux(t, svc)

	body := []byte(`{"phone_numbers": ["+15550000001", "+15550000002"]}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/dnc/scrub", "agent", body))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp dncService.ScrubResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestHandleScrub_EmptyBatch(t *testing.T) {
	mux := newTestMux(t, &stubService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/dnc/scrub", "agent", []byte(`{"phone_numbers": []}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExport(t *testing.T) {
	mux := newTestMux(t, &stubService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/dnc/export", "agent", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.NotEmpty(t, rec.Header().Get("Content-Length"))
	assert.Contains(t, rec.Body.String(), "phone_number")
}

func TestHandleExport_StoreFailure(t *testing.T) {
	mux := newTestMux(t, &stubService{
		exportFn: func(ctx context.Context, orgID uuid.UUID, w io.Writer) error {
			// Partial output before the failure must never reach the client
			// with a success status
			_, _ = w.Write([]byte("phone_number,suppress_reason\n+15551234567,manual\n"))
			return errors.NewStoreUnavailableError("connection reset")
		},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/dnc/export", "agent", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "+15551234567")
	assert.Contains(t, rec.Body.String(), "STORE_UNAVAILABLE")
}

func TestAuthMiddleware(t *testing.T) {
	mux := newTestMux(t, &stubService{
		statsFn: func(ctx context.Context) (*dncService.FilterStatsResponse, error) {
			return &dncService.FilterStatsResponse{}, nil
		},
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dnc/bloom-stats", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/dnc/bloom-stats", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, actorClaims{
			OrganizationID: uuid.New().String(),
			Role:           "agent",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   uuid.New().String(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		signed, err := token.SignedString([]byte("some-other-secret"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/dnc/bloom-stats", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/dnc/bloom-stats", "agent", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), rl.Middleware())

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	// Burst of 2 passes, the rest are throttled
	assert.Equal(t, []int{200, 200, 429, 429}, statuses[:4])

	// A different client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", errors.NewValidationError("BAD_INPUT", "nope"), http.StatusBadRequest, "BAD_INPUT"},
		{"forbidden", errors.NewForbiddenError("nope"), http.StatusForbidden, "FORBIDDEN"},
		{"not found", errors.NewNotFoundError("DNC entry"), http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"store unavailable", errors.NewStoreUnavailableError("down"), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"plain error", io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAppError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestTracingMiddleware(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var handlerSawSpan bool
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerSawSpan = trace.SpanContextFromContext(r.Context()).IsValid()
		w.WriteHeader(http.StatusNoContent)
	}), TracingMiddleware(tp.Tracer("test")))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dnc/check", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, handlerSawSpan, "handler must run inside an active span")
	assert.Len(t, rec.Header().Get("X-Trace-ID"), 32)
}

func TestHealthz(t *testing.T) {
	newHealthServer := func(healthFn func(ctx context.Context) error) http.Handler {
		cfg := &config.Config{}
		cfg.Server.Port = 0
		cfg.Security.RateLimit = config.RateLimitConfig{
			CheckPerSecond:    1000,
			MutationPerSecond: 100,
			AdminPerMinute:    60,
			BurstMultiplier:   2,
		}
		svc := &stubService{healthFn: healthFn}
		handler := NewDNCHandler(svc, nil, nil, zaptest.NewLogger(t))
		return NewServer(cfg, handler, svc, zaptest.NewLogger(t)).httpServer.Handler
	}

	t.Run("healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newHealthServer(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"ok"`)
	})

	t.Run("degraded filter stays serving", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newHealthServer(func(ctx context.Context) error {
			return errors.NewFilterDegradedError("membership filter unavailable")
		}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"degraded"`)
	})

	t.Run("store down is unhealthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newHealthServer(func(ctx context.Context) error {
			return errors.NewStoreUnavailableError("store unreachable")
		}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"unhealthy"`)
	})
}
