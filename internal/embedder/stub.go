package embedder

import (
	"context"
	"hash/fnv"
)

// Stub is a deterministic Embedder for tests: it derives a vector from
// a hash of the input text so the same text always embeds identically
// without a network call.
type Stub struct {
	Dimensions int
	Err        error
}

// NewStub returns a Stub producing dim-dimensional vectors.
func NewStub(dim int) *Stub {
	return &Stub{Dimensions: dim}
}

// Embed derives a unit-ish vector from text deterministically.
func (s *Stub) Embed(_ context.Context, text string) ([]float32, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	dim := s.Dimensions
	if dim <= 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int32(seed>>32)) / float32(1<<31)
	}
	return vec, nil
}
