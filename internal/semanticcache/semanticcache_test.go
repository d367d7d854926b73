package semanticcache

import (
	"testing"
	"time"

	"thutuc-retrieval/internal/types"

	"github.com/stretchr/testify/require"
)

func TestCacheIdempotence(t *testing.T) {
	c := New(10, time.Hour, 0.92)
	result := types.RetrievalResult{Confidence: 0.8, Intent: types.IntentOverview}
	c.Put("question one", []float32{1, 0, 0}, result)

	first, ok := c.Get("question one", []float32{1, 0, 0})
	require.True(t, ok)
	second, ok := c.Get("question one", []float32{1, 0, 0})
	require.True(t, ok)
	require.Equal(t, first, second)
}

func TestCacheSemanticEquivalence(t *testing.T) {
	c := New(10, time.Hour, 0.92)
	result := types.RetrievalResult{Confidence: 0.75}
	c.Put("đăng ký kết hôn cần giấy tờ gì?", []float32{1, 0, 0}, result)

	// cosine of {1,0,0} and {0.995, 0.05, 0} is about 0.9987, well above 0.92
	got, ok := c.Get("đăng ký kết hôn cần những giấy tờ nào?", []float32{0.995, 0.05, 0})
	require.True(t, ok)
	require.Equal(t, result, got)
	require.Equal(t, int64(1), c.Stats().Hits)
}

func TestCacheLRUEviction(t *testing.T) {
	c := New(3, time.Hour, 0.92)
	c.Put("q1", []float32{1, 0, 0}, types.RetrievalResult{})
	c.Put("q2", []float32{0, 1, 0}, types.RetrievalResult{})
	c.Put("q3", []float32{0, 0, 1}, types.RetrievalResult{})

	// touch q1 so it's most recently used, leaving q2 as LRU
	_, _ = c.Get("q1", []float32{1, 0, 0})

	c.Put("q4", []float32{1, 1, 0}, types.RetrievalResult{})

	stats := c.Stats()
	require.Equal(t, 3, stats.Size)
	require.Equal(t, int64(1), stats.Evictions)

	_, ok := c.Get("q2", []float32{0, 1, 0})
	require.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New(10, -time.Second, 0.92) // already-expired TTL
	c.Put("q1", []float32{1, 0, 0}, types.RetrievalResult{})

	_, ok := c.Get("q1", []float32{1, 0, 0})
	require.False(t, ok)
	require.Equal(t, int64(1), c.Stats().Expired)
}

func TestCacheNoMatchBelowThreshold(t *testing.T) {
	c := New(10, time.Hour, 0.92)
	c.Put("q1", []float32{1, 0, 0}, types.RetrievalResult{})

	_, ok := c.Get("totally different question", []float32{0, 1, 0})
	require.False(t, ok)
}
