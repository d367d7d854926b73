package assembler

import (
	"strings"
	"testing"

	"thutuc-retrieval/internal/chunkstore"
	"thutuc-retrieval/internal/types"

	"github.com/stretchr/testify/require"
)

func fixtureStore(t *testing.T) *chunkstore.Store {
	t.Helper()
	chunks := []types.Chunk{
		{ChunkID: "p1", ProcedureID: "proc1", Tier: types.TierParent, ChunkType: types.ChunkTypeOverview, Content: "Tổng quan thủ tục đăng ký kết hôn", TokenCount: 6},
		{ChunkID: "c1", ProcedureID: "proc1", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "Giấy tờ cần chuẩn bị gồm chứng minh nhân dân", TokenCount: 7},
		{ChunkID: "c2", ProcedureID: "proc1", Tier: types.TierChild, ChunkType: types.ChunkTypeProcess, Content: "Quy trình nộp hồ sơ tại ủy ban nhân dân", TokenCount: 7},
		{ChunkID: "p2", ProcedureID: "proc2", Tier: types.TierParent, ChunkType: types.ChunkTypeOverview, Content: "Tổng quan đăng ký kinh doanh", TokenCount: 4},
		{ChunkID: "c3", ProcedureID: "proc2", Tier: types.TierChild, ChunkType: types.ChunkTypeFeesTiming, Content: "Lệ phí đăng ký kinh doanh là 100 nghìn đồng", TokenCount: 7},
	}
	store, err := chunkstore.LoadFromChunks(chunks)
	require.NoError(t, err)
	return store
}

func TestAssembleRespectsChunkBudget(t *testing.T) {
	store := fixtureStore(t)
	a := New(store, 1200)

	reranked := []Scored{
		{Chunk: mustGet(t, store, "c1"), Score: 0.9},
		{Chunk: mustGet(t, store, "c3"), Score: 0.8},
		{Chunk: mustGet(t, store, "c2"), Score: 0.7},
	}
	cfg := types.ContextConfig{Chunks: 1, MaxDescendants: 5, MaxSiblings: 0, IncludeParents: true}

	result := a.Assemble(reranked, cfg, false)

	for _, item := range result.Chunks {
		require.NotEqual(t, types.ChunkID("c3"), item.ChunkID, "budget of 1 procedure should exclude proc2's chunk")
	}
	require.Contains(t, chunkIDs(result.Chunks), types.ChunkID("p1"))
}

func TestAssembleCapsDescendantsPerProcedure(t *testing.T) {
	store := fixtureStore(t)
	a := New(store, 1200)

	reranked := []Scored{
		{Chunk: mustGet(t, store, "c1"), Score: 0.9},
		{Chunk: mustGet(t, store, "c2"), Score: 0.8},
	}
	cfg := types.ContextConfig{Chunks: 1, MaxDescendants: 1, MaxSiblings: 0, IncludeParents: false}

	result := a.Assemble(reranked, cfg, false)

	ids := chunkIDs(result.Chunks)
	require.Len(t, ids, 1)
	require.Equal(t, types.ChunkID("c1"), ids[0])
}

func TestAssembleIncludesSiblingCarryover(t *testing.T) {
	store := fixtureStore(t)
	a := New(store, 1200)

	reranked := []Scored{
		{Chunk: mustGet(t, store, "c1"), Score: 0.9},
		{Chunk: mustGet(t, store, "c3"), Score: 0.5},
	}
	cfg := types.ContextConfig{Chunks: 1, MaxDescendants: 5, MaxSiblings: 1, IncludeParents: false}

	result := a.Assemble(reranked, cfg, false)

	require.Contains(t, chunkIDs(result.Chunks), types.ChunkID("c3"))
}

func TestAssembleConfidenceIsMeanScoreDegradedScaled(t *testing.T) {
	store := fixtureStore(t)
	a := New(store, 1200)

	reranked := []Scored{
		{Chunk: mustGet(t, store, "c1"), Score: 0.8},
		{Chunk: mustGet(t, store, "c2"), Score: 0.4},
	}
	cfg := types.ContextConfig{Chunks: 1, MaxDescendants: 5, MaxSiblings: 0, IncludeParents: false}

	full := a.Assemble(reranked, cfg, false)
	require.InDelta(t, 0.6, full.Confidence, 1e-9)

	degraded := a.Assemble(reranked, cfg, true)
	require.InDelta(t, 0.6*0.9, degraded.Confidence, 1e-9)
}

func TestAssembleTruncatesOversizedChunkWithEllipsis(t *testing.T) {
	store := fixtureStore(t)
	a := New(store, 3)

	long := mustGet(t, store, "c1")
	long.TokenCount = 100
	long.Content = strings.Repeat("từ ", 100)

	reranked := []Scored{{Chunk: long, Score: 0.5}}
	cfg := types.ContextConfig{Chunks: 1, MaxDescendants: 1, MaxSiblings: 0, IncludeParents: false}

	result := a.Assemble(reranked, cfg, false)
	require.Contains(t, result.ContextText, "[truncated]")
}

func mustGet(t *testing.T, store *chunkstore.Store, id types.ChunkID) types.Chunk {
	t.Helper()
	c, err := store.Get(id)
	require.NoError(t, err)
	return c
}

func chunkIDs(items []types.RetrievedItem) []types.ChunkID {
	out := make([]types.ChunkID, len(items))
	for i, it := range items {
		out[i] = it.ChunkID
	}
	return out
}
