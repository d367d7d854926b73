package lexical

import (
	"testing"

	"thutuc-retrieval/internal/types"

	"github.com/stretchr/testify/require"
)

func testChunks() []types.Chunk {
	return []types.Chunk{
		{ChunkID: "c1", ProcedureID: "p1", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "Thủ tục đăng ký kết hôn cần chứng minh nhân dân", TokenCount: 10},
		{ChunkID: "c2", ProcedureID: "p2", Tier: types.TierChild, ChunkType: types.ChunkTypeDocuments, Content: "Đăng ký kinh doanh cần giấy phép", TokenCount: 8},
		{ChunkID: "c3", ProcedureID: "p3", Tier: types.TierChild, ChunkType: types.ChunkTypeFeesTiming, Content: "Phí và lệ phí đăng ký kinh doanh theo quy định", TokenCount: 9},
	}
}

func TestBM25StopwordInvariance(t *testing.T) {
	ix := New(1.5, 0.75)
	ix.Build(testChunks())

	withStopword := ix.Search("đăng ký và kết hôn", 10)
	withoutStopword := ix.Search("đăng ký kết hôn", 10)

	require.Equal(t, len(withStopword), len(withoutStopword))
	for i := range withStopword {
		require.Equal(t, withoutStopword[i].ChunkID, withStopword[i].ChunkID)
		require.InDelta(t, withoutStopword[i].Score, withStopword[i].Score, 1e-9)
	}
}

func TestBM25RanksExactMatchHighest(t *testing.T) {
	ix := New(1.5, 0.75)
	ix.Build(testChunks())

	results := ix.Search("đăng ký kinh doanh", 10)
	require.NotEmpty(t, results)
	require.Contains(t, []types.ChunkID{"c2", "c3"}, results[0].ChunkID)
}

func TestBM25Stats(t *testing.T) {
	ix := New(1.5, 0.75)
	ix.Build(testChunks())

	stats := ix.Stats()
	require.Equal(t, 3, stats.NumDocs)
	require.Equal(t, 1.5, stats.K1)
	require.Equal(t, 0.75, stats.B)
	require.Greater(t, stats.VocabSize, 0)
}

func TestBM25EmptyIndex(t *testing.T) {
	ix := New(1.5, 0.75)
	results := ix.Search("anything", 10)
	require.Empty(t, results)
}
