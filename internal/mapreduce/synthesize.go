package mapreduce

import (
	"context"
	"fmt"

	"github.com/lindqvist/mapfold/internal/models"
)

const (
	synthesisMaxTokens   = 1500
	synthesisTemperature = 0.7
)

// Synthesizer renders an aggregation summary into a natural-language answer.
// It is a formatting boundary only: the summary's computed numbers are
// embedded verbatim in the prompt and the model is instructed to use them
// unchanged, never to re-derive quantities.
type Synthesizer struct {
	model Completer
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(model Completer) *Synthesizer {
	return &Synthesizer{model: model}
}

// Synthesize produces the final answer text for the query.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, summary models.AggregationSummary, intentType models.IntentType) (string, error) {
	prompt := buildSynthesisPrompt(query, summary, intentType)
	userPrompt := fmt.Sprintf("Generate final response for: %s", query)

	answer, err := s.model.Complete(ctx, prompt, userPrompt, synthesisMaxTokens, synthesisTemperature)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return answer, nil
}
