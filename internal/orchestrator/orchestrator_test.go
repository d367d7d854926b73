package orchestrator

import (
	"context"
	"testing"
	"time"

	"thutuc-retrieval/internal/chunkstore"
	"thutuc-retrieval/internal/config"
	"thutuc-retrieval/internal/embedder"
	stderrors "thutuc-retrieval/internal/errors"
	"thutuc-retrieval/internal/lexical"
	"thutuc-retrieval/internal/llmclient"
	"thutuc-retrieval/internal/logging"
	"thutuc-retrieval/internal/reranker"
	"thutuc-retrieval/internal/semanticcache"
	"thutuc-retrieval/internal/types"
	"thutuc-retrieval/internal/vectorstore"

	"github.com/stretchr/testify/require"
)

func fixtureChunks() []types.Chunk {
	return []types.Chunk{
		{ChunkID: "p-marriage", ProcedureID: "1.013124", Tier: types.TierParent, ChunkType: types.ChunkTypeOverview, Content: "Tổng quan thủ tục đăng ký kết hôn tại ủy ban nhân dân", TokenCount: 9},
		{ChunkID: "c-marriage-docs", ProcedureID: "1.013124", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "Giấy tờ cần chuẩn bị gồm chứng minh nhân dân và giấy khai sinh", TokenCount: 10},
		{ChunkID: "p-business", ProcedureID: "2.004512", Tier: types.TierParent, ChunkType: types.ChunkTypeOverview, Content: "Tổng quan đăng ký kinh doanh hộ cá thể", TokenCount: 7},
		{ChunkID: "c-business-fees", ProcedureID: "2.004512", Tier: types.TierChild, ChunkType: types.ChunkTypeFeesTiming, Content: "Phí đăng ký kinh doanh là một trăm nghìn đồng", TokenCount: 8},
	}
}

type harness struct {
	orc    *Orchestrator
	cache  *semanticcache.Cache
	vstore *vectorstore.Fake
	cfg    *config.Config
}

func newHarness(t *testing.T, intent string) *harness {
	t.Helper()
	store, err := chunkstore.LoadFromChunks(fixtureChunks())
	require.NoError(t, err)

	lexIdx := lexical.New(1.5, 0.75)
	lexIdx.Build(store.All())

	vstore := vectorstore.NewFake()
	emb := embedder.NewStub(8)
	ctx := context.Background()
	for _, c := range store.All() {
		vec, _ := emb.Embed(ctx, c.Content)
		require.NoError(t, vstore.Upsert(ctx, c, vec))
	}

	cfg := config.Default()
	cache := semanticcache.New(cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.SimThreshold)
	llm := llmclient.NewStub(intent, 0.9)
	log := logging.NewLogger(logging.ERROR)

	orc := New(store, lexIdx, vstore, emb, llm, &reranker.Stub{}, cache, cfg, log)
	return &harness{orc: orc, cache: cache, vstore: vstore, cfg: cfg}
}

func TestExactCodeFastPath(t *testing.T) {
	h := newHarness(t, "documents")
	result, err := h.orc.Retrieve(context.Background(), "sess-1", "Thủ tục 1.013124 cần giấy tờ gì?")
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Confidence)
	require.False(t, result.Degraded)

	var found []types.ChunkID
	for _, item := range result.Chunks {
		found = append(found, item.ChunkID)
	}
	require.Contains(t, found, types.ChunkID("p-marriage"))
	require.Contains(t, found, types.ChunkID("c-marriage-docs"))
}

func TestCacheIdempotenceAcrossRepeatedCalls(t *testing.T) {
	h := newHarness(t, "fees")
	question := "Phí đăng ký kinh doanh?"

	first, err := h.orc.Retrieve(context.Background(), "sess-2", question)
	require.NoError(t, err)

	statsBefore := h.cache.Stats()
	require.Equal(t, int64(0), statsBefore.Hits)

	second, err := h.orc.Retrieve(context.Background(), "sess-2", question)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(1), h.cache.Stats().Hits)
}

func TestDegradedWhenVectorStoreFails(t *testing.T) {
	h := newHarness(t, "fees")
	h.vstore.Err = errDenseUnavailable

	result, err := h.orc.Retrieve(context.Background(), "sess-3", "Phí đăng ký kinh doanh?")
	require.NoError(t, err)
	require.True(t, result.Degraded)
	require.NotEmpty(t, result.Chunks)
}

func TestNoChannelsWhenBothFail(t *testing.T) {
	store, err := chunkstore.LoadFromChunks(fixtureChunks())
	require.NoError(t, err)

	emptyLexIdx := lexical.New(1.5, 0.75)
	emptyLexIdx.Build(nil)

	vstore := vectorstore.NewFake()
	vstore.Err = errDenseUnavailable

	cfg := config.Default()
	cache := semanticcache.New(cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.SimThreshold)
	llm := llmclient.NewStub("fees", 0.9)
	log := logging.NewLogger(logging.ERROR)

	orc := New(store, emptyLexIdx, vstore, embedder.NewStub(8), llm, &reranker.Stub{}, cache, cfg, log)

	result, err := orc.Retrieve(context.Background(), "sess-4", "Phí đăng ký kinh doanh?")
	require.Error(t, err)
	re, ok := err.(*stderrors.RetrievalError)
	require.True(t, ok)
	require.Equal(t, stderrors.ErrorCodeNoChannels, re.Code)
	require.Equal(t, float64(0), result.Confidence)
	require.Equal(t, 0, cache.Stats().Size)
}

func TestOverviewIntentDisablesStructuredOutput(t *testing.T) {
	h := newHarness(t, "overview")
	result, err := h.orc.Retrieve(context.Background(), "sess-5", "Thủ tục đăng ký kết hôn là gì?")
	require.NoError(t, err)
	require.False(t, result.Plan.ContextConfig.EnableStructuredOutput)
	require.LessOrEqual(t, result.Plan.ContextConfig.Chunks, 3)
}

func TestProcessIntentHasWiderDescendantBudgetThanFees(t *testing.T) {
	hProcess := newHarness(t, "process")
	resultProcess, err := hProcess.orc.Retrieve(context.Background(), "sess-6", "Quy trình đấu thầu dự án công?")
	require.NoError(t, err)

	hFees := newHarness(t, "fees")
	resultFees, err := hFees.orc.Retrieve(context.Background(), "sess-7", "Phí đăng ký kinh doanh?")
	require.NoError(t, err)

	require.Greater(t, resultProcess.Plan.ContextConfig.MaxDescendants, resultFees.Plan.ContextConfig.MaxDescendants)
}

func TestOverallTimeoutMapsToTimeoutError(t *testing.T) {
	h := newHarness(t, "fees")
	h.cfg.Timeouts.Overall = time.Nanosecond

	_, err := h.orc.Retrieve(context.Background(), "sess-8", "Phí đăng ký kinh doanh?")
	require.Error(t, err)
	require.True(t, stderrors.IsTimeout(err))
}

var errDenseUnavailable = stderrors.New(stderrors.ErrorCodeInternal, "vector store unavailable")

// fixedEmbedder ignores its input and always returns the same vector,
// so a test can control cosine similarity against the vectorstore
// entries it upserts directly instead of depending on a hash-based stub.
type fixedEmbedder struct{ vector []float32 }

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vector, nil
}

// TestCrossTierChildSurfacesOutsideParentSet exercises spec §8's
// testable property 5: a child chunk whose procedure never appears
// among stage 3's parent hits (P) must still surface, discounted by
// CrossTierPenalty, rather than being hard-filtered the way the
// original system filtered it.
func TestCrossTierChildSurfacesOutsideParentSet(t *testing.T) {
	chunks := []types.Chunk{
		{ChunkID: "parent-a", ProcedureID: "A", Tier: types.TierParent, ChunkType: types.ChunkTypeOverview, Content: "Tổng quan thủ tục A", TokenCount: 4},
		{ChunkID: "child-a-docs", ProcedureID: "A", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "Giấy tờ của thủ tục A cần chuẩn bị", TokenCount: 6},
		{ChunkID: "parent-b", ProcedureID: "B", Tier: types.TierParent, ChunkType: types.ChunkTypeOverview, Content: "Tổng quan thủ tục B", TokenCount: 4},
		{ChunkID: "child-b-docs", ProcedureID: "B", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "Hồ sơ thủ tục B gồm các loại giấy khác nhau", TokenCount: 7},
		{ChunkID: "parent-c", ProcedureID: "C", Tier: types.TierParent, ChunkType: types.ChunkTypeOverview, Content: "Tổng quan thủ tục C", TokenCount: 4},
		{ChunkID: "child-c-docs", ProcedureID: "C", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "Tài liệu riêng của thủ tục C khác hẳn", TokenCount: 6},
	}
	store, err := chunkstore.LoadFromChunks(chunks)
	require.NoError(t, err)

	// Empty lexical index: this test isolates the dense cross-tier
	// penalty, so the lexical channel contributes nothing.
	lexIdx := lexical.New(1.5, 0.75)
	lexIdx.Build(nil)

	// Only procedure A's parent is indexed for dense search, so stage 3
	// will only ever surface P = {A}. Procedures B and C still have a
	// parent chunk in the store (chunkstore requires one per procedure)
	// but it is deliberately never upserted into the vector store.
	vstore := vectorstore.NewFake()
	ctx := context.Background()
	mustUpsert := func(id types.ChunkID, vec []float32) {
		c, getErr := store.Get(id)
		require.NoError(t, getErr)
		require.NoError(t, vstore.Upsert(ctx, c, vec))
	}
	mustUpsert("parent-a", []float32{1, 0})
	mustUpsert("child-a-docs", []float32{1, 0})  // same procedure as the only parent hit: no penalty
	mustUpsert("child-b-docs", []float32{1, 0})  // different procedure, same raw similarity: penalized
	mustUpsert("child-c-docs", []float32{0, 1})  // orthogonal filler so the penalized score isn't the set floor

	cfg := config.Default()
	cfg.Ensemble.WeightDense = 1
	cfg.Ensemble.WeightLex = 0
	cfg.Ensemble.WeightCE = 0

	cache := semanticcache.New(cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.SimThreshold)
	llm := llmclient.NewStub("documents", 0.9)
	log := logging.NewLogger(logging.ERROR)
	emb := fixedEmbedder{vector: []float32{1, 0}}

	orc := New(store, lexIdx, vstore, emb, llm, nil, cache, cfg, log)

	result, err := orc.Retrieve(ctx, "sess-cross-tier", "Giấy tờ cần chuẩn bị cho thủ tục B là gì?")
	require.NoError(t, err)
	require.False(t, result.Degraded)

	var childB *types.RetrievedItem
	for i := range result.Chunks {
		if result.Chunks[i].ChunkID == "child-b-docs" {
			childB = &result.Chunks[i]
		}
	}
	require.NotNil(t, childB, "child chunk outside stage 3's parent set must still surface, not be dropped")
	require.False(t, childB.CrossTierMatch, "chunk's procedure was never in P, so it must not be marked as a cross-tier match")
	require.InDelta(t, cfg.Retrieval.CrossTierPenalty, childB.Score, 1e-9)
}
