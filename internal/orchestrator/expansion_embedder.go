package orchestrator

import (
	"context"
	"sync"

	"thutuc-retrieval/internal/embedder"
)

// expansionEmbedder memoises embed calls within a single Retrieve
// invocation: the raw question is always expansions[0] (spec §4.1), so
// Stage 0's cache-probe embedding is reused by Stage 3 instead of
// re-calling the collaborator for the same text.
type expansionEmbedder struct {
	mu       sync.Mutex
	delegate embedder.Embedder
	cached   map[string][]float32
}

func newExpansionEmbedder(delegate embedder.Embedder) *expansionEmbedder {
	return &expansionEmbedder{delegate: delegate, cached: make(map[string][]float32)}
}

func (e *expansionEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	if v, ok := e.cached[text]; ok {
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	v, err := e.delegate.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cached[text] = v
	e.mu.Unlock()
	return v, nil
}
