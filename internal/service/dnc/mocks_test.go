package dnc

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/audit"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
)

type mockEntryRepo struct {
	mock.Mock
}

func (m *mockEntryRepo) Save(ctx context.Context, entry *dnc.DNCEntry) (*dnc.DNCEntry, error) {
	args := m.Called(ctx, entry)
	if rf, ok := args.Get(0).(func(context.Context, *dnc.DNCEntry) (*dnc.DNCEntry, error)); ok {
		return rf(ctx, entry)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dnc.DNCEntry), args.Error(1)
}

func (m *mockEntryRepo) Remove(ctx context.Context, orgID uuid.UUID, phone values.PhoneNumber) (bool, error) {
	args := m.Called(ctx, orgID, phone)
	return args.Bool(0), args.Error(1)
}

func (m *mockEntryRepo) Check(ctx context.Context, orgID uuid.UUID, phone values.PhoneNumber) (*dnc.CheckResult, error) {
	args := m.Called(ctx, orgID, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dnc.CheckResult), args.Error(1)
}

func (m *mockEntryRepo) Scrub(ctx context.Context, orgID uuid.UUID, phones []values.PhoneNumber) (*dnc.ScrubResult, error) {
	args := m.Called(ctx, orgID, phones)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dnc.ScrubResult), args.Error(1)
}

func (m *mockEntryRepo) ActiveNumbers(ctx context.Context, orgID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockEntryRepo) AllActiveNumbers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockEntryRepo) List(ctx context.Context, filter dnc.EntryFilter) ([]*dnc.DNCEntry, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*dnc.DNCEntry), args.Int(1), args.Error(2)
}

func (m *mockEntryRepo) ExportCSV(ctx context.Context, orgID uuid.UUID, w io.Writer) error {
	args := m.Called(ctx, orgID, w)
	return args.Error(0)
}

func (m *mockEntryRepo) CountActive(ctx context.Context, orgID uuid.UUID) (int, error) {
	args := m.Called(ctx, orgID)
	return args.Int(0), args.Error(1)
}

func (m *mockEntryRepo) CleanupExpired(ctx context.Context, batchSize int) (int, error) {
	args := m.Called(ctx, batchSize)
	return args.Int(0), args.Error(1)
}

func (m *mockEntryRepo) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockAuditRepo struct {
	mock.Mock
}

func (m *mockAuditRepo) Append(ctx context.Context, entry *audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockAuditRepo) AggregateReport(ctx context.Context, orgID uuid.UUID, start, end time.Time) (*audit.Report, error) {
	args := m.Called(ctx, orgID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.Report), args.Error(1)
}

func (m *mockAuditRepo) List(ctx context.Context, filter audit.ListFilter) ([]*audit.Entry, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*audit.Entry), args.Int(1), args.Error(2)
}

type mockDecisionCache struct {
	mock.Mock
}

func (m *mockDecisionCache) GetDecision(ctx context.Context, orgID uuid.UUID, phoneNumber string) (*dnc.CheckResult, error) {
	args := m.Called(ctx, orgID, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dnc.CheckResult), args.Error(1)
}

func (m *mockDecisionCache) SetDecision(ctx context.Context, orgID uuid.UUID, phoneNumber string, result *dnc.CheckResult) error {
	args := m.Called(ctx, orgID, phoneNumber, result)
	return args.Error(0)
}

func (m *mockDecisionCache) Invalidate(ctx context.Context, orgID uuid.UUID, phoneNumber string) error {
	args := m.Called(ctx, orgID, phoneNumber)
	return args.Error(0)
}

func (m *mockDecisionCache) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockLeadLifecycle struct {
	mock.Mock
}

func (m *mockLeadLifecycle) CancelPendingOutreach(ctx context.Context, orgID uuid.UUID, phoneNumber string) error {
	args := m.Called(ctx, orgID, phoneNumber)
	return args.Error(0)
}

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) AnalyzeSegment(ctx context.Context, req AnalyzeRequest) (*OptOutVerdict, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*OptOutVerdict), args.Error(1)
}
