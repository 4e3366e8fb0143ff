package dnc

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/errors"
	"github.com/davidleathers/dnc-compliance-engine/internal/domain/values"
)

// sourceCallTranscript tags entries produced by transcript analysis
const sourceCallTranscript = "call_transcript"

// OptOutConsumer connects the external transcript analyzer to the compliance
// service: when a segment classifies as an opt-out with sufficient
// confidence, the number goes on the list synchronously, before the call is
// allowed to continue.
type OptOutConsumer struct {
	analyzer            TranscriptAnalyzer
	service             Service
	confidenceThreshold float64
	logger              *zap.Logger
}

// OptOutOutcome reports what the consumer did with one segment
type OptOutOutcome struct {
	OptOutDetected      bool    `json:"opt_out_detected"`
	Added               bool    `json:"added"`
	Confidence          float64 `json:"confidence"`
	DetectedPhrase      string  `json:"detected_phrase,omitempty"`
	RecommendedResponse string  `json:"recommended_response,omitempty"`
}

// NewOptOutConsumer creates the transcript opt-out consumer
func NewOptOutConsumer(analyzer TranscriptAnalyzer, service Service, confidenceThreshold float64, logger *zap.Logger) (*OptOutConsumer, error) {
	if analyzer == nil {
		return nil, errors.NewValidationError("INVALID_ANALYZER", "transcript analyzer cannot be nil")
	}
	if service == nil {
		return nil, errors.NewValidationError("INVALID_SERVICE", "compliance service cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if confidenceThreshold <= 0 || confidenceThreshold > 1 {
		confidenceThreshold = 0.85
	}

	return &OptOutConsumer{
		analyzer:            analyzer,
		service:             service,
		confidenceThreshold: confidenceThreshold,
		logger:              logger,
	}, nil
}

// ProcessSegment runs the analyzer on one transcript increment and, on a
// confident opt-out, adds the number before returning. The recommended
// response lets the agent acknowledge the request and end the call
// gracefully.
func (c *OptOutConsumer) ProcessSegment(ctx context.Context, req AnalyzeRequest, actor Actor) (*OptOutOutcome, error) {
	if _, err := values.NewPhoneNumber(req.PhoneNumber); err != nil {
		return nil, errors.NewValidationError("INVALID_PHONE_NUMBER", "invalid phone number format").WithCause(err)
	}

	verdict, err := c.analyzer.AnalyzeSegment(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "transcript analysis failed")
	}

	outcome := &OptOutOutcome{
		OptOutDetected:      verdict.OptOutDetected,
		Confidence:          verdict.Confidence,
		DetectedPhrase:      verdict.DetectedPhrase,
		RecommendedResponse: verdict.RecommendedResponse,
	}

	if !verdict.OptOutDetected || verdict.Confidence < c.confidenceThreshold {
		if verdict.OptOutDetected {
			c.logger.Info("opt-out below confidence threshold, not added",
				zap.String("call_id", req.CallID.String()),
				zap.Float64("confidence", verdict.Confidence),
				zap.Float64("threshold", c.confidenceThreshold))
		}
		return outcome, nil
	}

	addReq := AddRequest{
		OrganizationID: req.OrganizationID,
		PhoneNumber:    req.PhoneNumber,
		Reason:         values.SuppressReasonDetectedFromCall,
		Source:         sourceCallTranscript,
		Actor:          actor,
	}
	if verdict.DetectedPhrase != "" {
		addReq.DetectedPhrase = &verdict.DetectedPhrase
	}

	if _, err := c.service.Add(ctx, addReq); err != nil {
		// The caller must know the suppression did not land; the call cannot
		// continue on an unrecorded opt-out
		return nil, errors.Wrap(err, "recording detected opt-out")
	}

	outcome.Added = true

	c.logger.Info("opt-out detected and recorded",
		zap.String("call_id", req.CallID.String()),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("detected_phrase", verdict.DetectedPhrase))

	return outcome, nil
}
