package dnc

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
)

func analyzeReq(orgID uuid.UUID) AnalyzeRequest {
	return AnalyzeRequest{
		CallID:         uuid.New(),
		OrganizationID: orgID,
		PhoneNumber:    "+15551234567",
		Segment:        "please take me off your list",
	}
}

func TestOptOutConsumer_AddsOnConfidentOptOut(t *testing.T) {
	entryRepo := new(mockEntryRepo)
	auditRepo := new(mockAuditRepo)
	analyzer := new(mockAnalyzer)
	svc := newTestService(t, entryRepo, auditRepo, nil, nil)

	consumer, err := NewOptOutConsumer(analyzer, svc, 0.85, zaptest.NewLogger(t))
	require.NoError(t, err)

	orgID := uuid.New()

	analyzer.On("AnalyzeSegment", mock.Anything, mock.Anything).Return(&OptOutVerdict{
		OptOutDetected:      true,
		Confidence:          0.97,
		DetectedPhrase:      "take me off your list",
		RecommendedResponse: "Understood, you're on our do-not-call list.",
	}, nil).Once()

	entryRepo.On("Save", mock.Anything, mock.MatchedBy(func(e *dnc.DNCEntry) bool {
		return e.SuppressReason.String() == values.SuppressReasonDetectedFromCall &&
			e.Source == "call_transcript" &&
			e.DetectedPhrase != nil && *e.DetectedPhrase == "take me off your list"
	})).Return(func(ctx context.Context, e *dnc.DNCEntry) (*dnc.DNCEntry, error) { return e, nil }).Once()
	auditRepo.On("Append", mock.Anything, mock.Anything).Return(nil).Once()

	outcome, err := consumer.ProcessSegment(context.Background(), analyzeReq(orgID), agentActor())
	require.NoError(t, err)

	assert.True(t, outcome.OptOutDetected)
	assert.True(t, outcome.Added)
	assert.Equal(t, "take me off your list", outcome.DetectedPhrase)
	assert.NotEmpty(t, outcome.RecommendedResponse)

	entryRepo.AssertExpectations(t)
}

func TestOptOutConsumer_BelowThresholdNoMutation(t *testing.T) {
	entryRepo := new(mockEntryRepo)
	auditRepo := new(mockAuditRepo)
	analyzer := new(mockAnalyzer)
	svc := newTestService(t, entryRepo, auditRepo, nil, nil)

	consumer, err := NewOptOutConsumer(analyzer, svc, 0.85, zaptest.NewLogger(t))
	require.NoError(t, err)

	analyzer.On("AnalyzeSegment", mock.Anything, mock.Anything).Return(&OptOutVerdict{
		OptOutDetected: true,
		Confidence:     0.55,
		DetectedPhrase: "not interested",
	}, nil).Once()

	outcome, err := consumer.ProcessSegment(context.Background(), analyzeReq(uuid.New()), agentActor())
	require.NoError(t, err)

	assert.True(t, outcome.OptOutDetected)
	assert.False(t, outcome.Added)
	entryRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestOptOutConsumer_AddFailurePropagates(t *testing.T) {
	entryRepo := new(mockEntryRepo)
	auditRepo := new(mockAuditRepo)
	analyzer := new(mockAnalyzer)
	svc := newTestService(t, entryRepo, auditRepo, nil, nil)

	consumer, err := NewOptOutConsumer(analyzer, svc, 0.85, zaptest.NewLogger(t))
	require.NoError(t, err)

	analyzer.On("AnalyzeSegment", mock.Anything, mock.Anything).Return(&OptOutVerdict{
		OptOutDetected: true,
		Confidence:     0.95,
		DetectedPhrase: "stop calling me",
	}, nil).Once()
	entryRepo.On("Save", mock.Anything, mock.Anything).
		Return(nil, errors.NewStoreUnavailableError("down")).Once()
	auditRepo.On("Append", mock.Anything, mock.Anything).Return(nil).Once()

	// A detected opt-out that cannot be recorded must surface as an error
	_, err = consumer.ProcessSegment(context.Background(), analyzeReq(uuid.New()), agentActor())
	assert.Error(t, err)
}

func TestOptOutConsumer_InvalidPhone(t *testing.T) {
	entryRepo := new(mockEntryRepo)
	auditRepo := new(mockAuditRepo)
	analyzer := new(mockAnalyzer)
	svc := newTestService(t, entryRepo, auditRepo, nil, nil)

	consumer, err := NewOptOutConsumer(analyzer, svc, 0.85, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := analyzeReq(uuid.New())
	req.PhoneNumber = "garbage"

	_, err = consumer.ProcessSegment(context.Background(), req, agentActor())
	require.Error(t, err)
	analyzer.AssertNotCalled(t, "AnalyzeSegment", mock.Anything, mock.Anything)
}

func TestKeywordAnalyzer(t *testing.T) {
	analyzer := NewKeywordAnalyzer(zaptest.NewLogger(t))

	tests := []struct {
		name          string
		segment       string
		wantDetected  bool
		minConfidence float64
	}{
		{
			name:          "explicit removal request",
			segment:       "Please take me off your list right now.",
			wantDetected:  true,
			minConfidence: 0.9,
		},
		{
			name:          "stop calling",
			segment:       "I told you people to STOP CALLING me!",
			wantDetected:  true,
			minConfidence: 0.9,
		},
		{
			name:          "soft deflection scores low",
			segment:       "I'm really not interested right now, maybe later.",
			wantDetected:  true,
			minConfidence: 0,
		},
		{
			name:         "no opt-out language",
			segment:      "Sure, tell me more about the offer.",
			wantDetected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := analyzer.AnalyzeSegment(context.Background(), AnalyzeRequest{
				CallID:  uuid.New(),
				Segment: tt.segment,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantDetected, verdict.OptOutDetected)
			if tt.wantDetected {
				assert.GreaterOrEqual(t, verdict.Confidence, tt.minConfidence)
				assert.NotEmpty(t, verdict.DetectedPhrase)
			}
		})
	}
}

func TestKeywordAnalyzer_FallsBackToFullTranscript(t *testing.T) {
	analyzer := NewKeywordAnalyzer(zaptest.NewLogger(t))

	verdict, err := analyzer.AnalyzeSegment(context.Background(), AnalyzeRequest{
		CallID:         uuid.New(),
		Segment:        "okay then",
		FullTranscript: "Caller: never call me again. Agent: okay then",
	})
	require.NoError(t, err)

	assert.True(t, verdict.OptOutDetected)
	assert.Equal(t, "never call me again", verdict.DetectedPhrase)
}

func TestKeywordAnalyzer_PicksStrongestPhrase(t *testing.T) {
	analyzer := NewKeywordAnalyzer(zaptest.NewLogger(t))

	verdict, err := analyzer.AnalyzeSegment(context.Background(), AnalyzeRequest{
		CallID:  uuid.New(),
		Segment: "I'm not interested, take me off your list",
	})
	require.NoError(t, err)

	require.True(t, verdict.OptOutDetected)
	assert.Equal(t, "take me off your list", verdict.DetectedPhrase)
	assert.InDelta(t, 0.98, verdict.Confidence, 0.001)
}
