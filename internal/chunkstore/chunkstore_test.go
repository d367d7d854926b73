package chunkstore

import (
	"testing"

	"thutuc-retrieval/internal/types"

	"github.com/stretchr/testify/require"
)

func sampleChunks() []types.Chunk {
	return []types.Chunk{
		{ChunkID: "p1", ProcedureID: "proc1", Tier: types.TierParent, ChunkType: types.ChunkTypeOverview, Content: "overview", TokenCount: 5},
		{ChunkID: "c1", ProcedureID: "proc1", Tier: types.TierChild, ChunkType: types.ChunkTypeProcess, Content: "process text", TokenCount: 5},
		{ChunkID: "c2", ProcedureID: "proc1", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "documents text", TokenCount: 5},
	}
}

func TestByProcedureOrdersParentFirstThenStable(t *testing.T) {
	store, err := LoadFromChunks(sampleChunks())
	require.NoError(t, err)

	group, err := store.ByProcedure("proc1")
	require.NoError(t, err)
	require.Len(t, group, 3)
	require.Equal(t, types.ChunkID("p1"), group[0].ChunkID)
	require.Equal(t, types.ChunkID("c2"), group[1].ChunkID) // documents precedes process
	require.Equal(t, types.ChunkID("c1"), group[2].ChunkID)
}

func TestGetNotFound(t *testing.T) {
	store, err := LoadFromChunks(sampleChunks())
	require.NoError(t, err)

	_, err = store.Get("missing")
	require.Error(t, err)
}

func TestChildWithoutParentRejected(t *testing.T) {
	_, err := LoadFromChunks([]types.Chunk{
		{ChunkID: "c1", ProcedureID: "proc2", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "x", TokenCount: 1},
	})
	require.Error(t, err)
}

func TestDuplicateChunkIDRejected(t *testing.T) {
	chunks := sampleChunks()
	chunks = append(chunks, chunks[0])
	_, err := LoadFromChunks(chunks)
	require.Error(t, err)
}

func TestDuplicateParentOverviewRejected(t *testing.T) {
	chunks := sampleChunks()
	dup := chunks[0]
	dup.ChunkID = "p1-dup"
	chunks = append(chunks, dup)
	_, err := LoadFromChunks(chunks)
	require.Error(t, err)
}
