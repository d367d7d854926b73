package reranker

import "context"

// Stub is a deterministic Scorer for tests: it scores each text by its
// position (earlier texts rank higher), or returns Err if set.
type Stub struct {
	Err error
}

// Score returns a descending sequence of scores the length of texts.
func (s *Stub) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	scores := make([]float64, len(texts))
	n := len(texts)
	for i := range texts {
		if n <= 1 {
			scores[i] = 1
			continue
		}
		scores[i] = 1 - float64(i)/float64(n-1)
	}
	return scores, nil
}
