package vectorstore

import (
	"context"
	"math"
	"sort"

	"thutuc-retrieval/internal/types"
)

// Fake is an in-memory Store used by orchestrator and stage tests: it
// ranks by cosine similarity over whatever vectors were Upserted,
// honouring the same Filter semantics as QdrantStore.
type Fake struct {
	entries []fakeEntry
	Err     error // when set, Search returns this error unconditionally
}

type fakeEntry struct {
	chunk  types.Chunk
	vector []float32
}

// NewFake returns an empty in-memory store.
func NewFake() *Fake {
	return &Fake{}
}

// Upsert records chunk/vector for later Search calls.
func (f *Fake) Upsert(_ context.Context, chunk types.Chunk, vector []float32) error {
	f.entries = append(f.entries, fakeEntry{chunk: chunk, vector: vector})
	return nil
}

// Search ranks stored entries by cosine similarity against vector,
// restricted to entries matching filter.
func (f *Fake) Search(_ context.Context, vector []float32, k int, filter Filter) ([]ScoredChunk, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	var hits []ScoredChunk
	for _, e := range f.entries {
		if !matches(e.chunk, filter) {
			continue
		}
		hits = append(hits, ScoredChunk{ChunkID: e.chunk.ChunkID, Score: cosine(vector, e.vector)})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// HealthCheck always succeeds for the fake.
func (f *Fake) HealthCheck(_ context.Context) error { return nil }

func matches(chunk types.Chunk, filter Filter) bool {
	if filter.Tier != "" && chunk.Tier != filter.Tier {
		return false
	}
	if len(filter.ChunkTypes) > 0 && !containsChunkType(filter.ChunkTypes, chunk.ChunkType) {
		return false
	}
	if len(filter.ProcedureIDs) > 0 && !containsProcedureID(filter.ProcedureIDs, chunk.ProcedureID) {
		return false
	}
	return true
}

func containsChunkType(set []types.ChunkType, v types.ChunkType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsProcedureID(set []types.ProcedureID, v types.ProcedureID) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
