package llmclient

import (
	"context"
	"fmt"
)

// Stub is a deterministic Client for tests: it classifies every question
// as the configured Intent and paraphrases by appending a variant suffix.
type Stub struct {
	Intent         string
	Confidence     float64
	Paraphrases    []string
	ClassifyErr    error
	ParaphraseErr  error
}

// NewStub returns a Stub that always answers with intent/confidence and
// suffixed paraphrases, unless Err fields are set.
func NewStub(intent string, confidence float64) *Stub {
	return &Stub{Intent: intent, Confidence: confidence}
}

// ClassifyIntent returns the configured intent/confidence or ClassifyErr.
func (s *Stub) ClassifyIntent(_ context.Context, _ string) (string, float64, error) {
	if s.ClassifyErr != nil {
		return "", 0, s.ClassifyErr
	}
	return s.Intent, s.Confidence, nil
}

// Paraphrase returns up to n configured paraphrases, or deterministic
// generated ones if none were configured.
func (s *Stub) Paraphrase(_ context.Context, question string, n int) ([]string, error) {
	if s.ParaphraseErr != nil {
		return nil, s.ParaphraseErr
	}
	if len(s.Paraphrases) > 0 {
		if n < len(s.Paraphrases) {
			return s.Paraphrases[:n], nil
		}
		return s.Paraphrases, nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("%s (variant %d)", question, i+1))
	}
	return out, nil
}
