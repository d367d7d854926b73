// Package chunkstore loads and serves the immutable chunk corpus (spec
// §3, §4.2). Persistent state is a single JSON file — spec §6 names the
// format explicitly, so encoding/json (not a database driver) is the
// right tool, the way the teacher's internal/config loads its own JSON
// snapshots with the stdlib encoder.
package chunkstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	stderrors "thutuc-retrieval/internal/errors"
	"thutuc-retrieval/internal/types"

	"github.com/go-viper/mapstructure/v2"
)

// Store is the process-wide, read-only chunk corpus (spec §3:
// "ownership... constructed once at startup and thereafter read-only").
type Store struct {
	chunks      map[types.ChunkID]types.Chunk
	byProcedure map[types.ProcedureID][]types.Chunk
}

// Load reads chunks from a JSON file and validates the invariants in
// spec §3: every child references an existing parent, chunk_id is
// unique, and (procedure_id, chunk_type) uniquely identifies a parent
// overview.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: read %s: %w", path, err)
	}

	var raw []types.Chunk
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("chunkstore: decode %s: %w", path, err)
	}

	return build(raw)
}

// LoadFromChunks builds a Store directly from an in-memory slice,
// useful for tests and for callers that already parsed the file.
func LoadFromChunks(chunks []types.Chunk) (*Store, error) {
	return build(chunks)
}

func build(raw []types.Chunk) (*Store, error) {
	s := &Store{
		chunks:      make(map[types.ChunkID]types.Chunk, len(raw)),
		byProcedure: make(map[types.ProcedureID][]types.Chunk),
	}

	parentOverviews := make(map[string]bool)

	for _, c := range raw {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("chunkstore: %w", err)
		}
		if _, exists := s.chunks[c.ChunkID]; exists {
			return nil, fmt.Errorf("chunkstore: duplicate chunk_id %q", c.ChunkID)
		}
		s.chunks[c.ChunkID] = c
		s.byProcedure[c.ProcedureID] = append(s.byProcedure[c.ProcedureID], c)

		if c.Tier == types.TierParent {
			key := string(c.ProcedureID) + "|" + string(c.ChunkType)
			if parentOverviews[key] {
				return nil, fmt.Errorf("chunkstore: duplicate parent overview for procedure %q", c.ProcedureID)
			}
			parentOverviews[key] = true
		}
	}

	for procID, group := range s.byProcedure {
		hasParent := false
		for _, c := range group {
			if c.Tier == types.TierParent {
				hasParent = true
				break
			}
		}
		if !hasParent {
			return nil, fmt.Errorf("chunkstore: procedure %q has children but no parent overview", procID)
		}
	}

	for procID, group := range s.byProcedure {
		s.byProcedure[procID] = orderProcedureChunks(group)
	}

	return s, nil
}

// orderProcedureChunks sorts a procedure's chunks parent-first, then
// children by the stable ChildChunkTypeOrder (spec §4.2: by_procedure
// returns "parent first, then children by stable chunk_type order").
func orderProcedureChunks(group []types.Chunk) []types.Chunk {
	rank := make(map[types.ChunkType]int, len(types.ChildChunkTypeOrder))
	for i, ct := range types.ChildChunkTypeOrder {
		rank[ct] = i
	}

	sorted := make([]types.Chunk, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].Tier, sorted[j].Tier
		if ti != tj {
			return ti == types.TierParent
		}
		return rank[sorted[i].ChunkType] < rank[sorted[j].ChunkType]
	})
	return sorted
}

// Get implements spec §4.2's get(chunk_id) -> Chunk.
func (s *Store) Get(id types.ChunkID) (types.Chunk, error) {
	c, ok := s.chunks[id]
	if !ok {
		return types.Chunk{}, stderrors.NotFound(fmt.Sprintf("chunk %q not found", id))
	}
	return c, nil
}

// ByProcedure implements spec §4.2's by_procedure(procedure_id) ->
// ordered sequence of Chunk.
func (s *Store) ByProcedure(id types.ProcedureID) ([]types.Chunk, error) {
	group, ok := s.byProcedure[id]
	if !ok {
		return nil, stderrors.NotFound(fmt.Sprintf("procedure %q not found", id))
	}
	return group, nil
}

// All returns every chunk in the store, used to (re)build the lexical
// and vector indices.
func (s *Store) All() []types.Chunk {
	out := make([]types.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	return out
}

// DecodeMeta decodes a chunk's free-form Metadata into the typed
// ProcedureMeta view via mapstructure, the way the teacher decodes
// loosely-typed payloads into domain structs.
func DecodeMeta(chunk types.Chunk) (types.ProcedureMeta, error) {
	var meta types.ProcedureMeta
	if chunk.Metadata == nil {
		return meta, nil
	}
	if err := mapstructure.Decode(chunk.Metadata, &meta); err != nil {
		return meta, fmt.Errorf("chunkstore: decode metadata for %q: %w", chunk.ChunkID, err)
	}
	return meta, nil
}
