package dnc

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// optOutPhrase pairs a trigger phrase with how strongly it signals an opt-out.
// Explicit imperatives score high; softer deflections score below the default
// threshold and require the surrounding transcript to confirm.
type optOutPhrase struct {
	phrase     string
	confidence float64
}

var optOutPhrases = []optOutPhrase{
	{"do not call me again", 0.99},
	{"don't call me again", 0.99},
	{"never call me again", 0.99},
	{"take me off your list", 0.98},
	{"remove me from your list", 0.98},
	{"put me on your do not call list", 0.98},
	{"stop calling me", 0.95},
	{"stop calling", 0.90},
	{"unsubscribe me", 0.90},
	{"i'm not interested, don't call", 0.92},
	{"quit calling", 0.88},
	{"lose my number", 0.85},
	{"not interested", 0.40},
	{"wrong number", 0.30},
}

// KeywordAnalyzer is the built-in TranscriptAnalyzer: case-insensitive phrase
// matching over the segment, falling back to the full transcript for phrases
// that straddle segment boundaries.
type KeywordAnalyzer struct {
	logger *zap.Logger
}

var _ TranscriptAnalyzer = (*KeywordAnalyzer)(nil)

func NewKeywordAnalyzer(logger *zap.Logger) *KeywordAnalyzer {
	return &KeywordAnalyzer{logger: logger}
}

func (a *KeywordAnalyzer) AnalyzeSegment(ctx context.Context, req AnalyzeRequest) (*OptOutVerdict, error) {
	if match := bestMatch(req.Segment); match != nil {
		return a.verdict(req, match), nil
	}
	if match := bestMatch(req.FullTranscript); match != nil {
		return a.verdict(req, match), nil
	}

	return &OptOutVerdict{OptOutDetected: false, Confidence: 0}, nil
}

func (a *KeywordAnalyzer) verdict(req AnalyzeRequest, match *optOutPhrase) *OptOutVerdict {
	a.logger.Debug("opt-out phrase matched",
		zap.String("call_id", req.CallID.String()),
		zap.String("phrase", match.phrase),
		zap.Float64("confidence", match.confidence))

	return &OptOutVerdict{
		OptOutDetected:      true,
		Confidence:          match.confidence,
		DetectedPhrase:      match.phrase,
		RecommendedResponse: "I understand. I've added you to our do-not-call list and you won't hear from us again. Have a good day.",
	}
}

// bestMatch returns the highest-confidence phrase found in text, nil if none
func bestMatch(text string) *optOutPhrase {
	if text == "" {
		return nil
	}
	lowered := strings.ToLower(text)

	var best *optOutPhrase
	for i := range optOutPhrases {
		p := &optOutPhrases[i]
		if strings.Contains(lowered, p.phrase) {
			if best == nil || p.confidence > best.confidence {
				best = p
			}
		}
	}
	return best
}
