// Package semanticcache implements stages 0 and 9 of the retrieval
// pipeline: a semantic result cache keyed by exact question text first,
// then by cosine similarity over stored query embeddings (spec §4.4).
// Structurally modeled on the teacher's internal/embeddings.EmbeddingCache
// (hit/miss/eviction counters, a recency list, one mutex guarding
// everything), extended with the similarity scan a plain LRU cannot do.
package semanticcache

import (
	"container/list"
	"math"
	"sync"
	"time"

	"thutuc-retrieval/internal/types"
)

// Stats implements spec §4.4's stats() -> {size, hits, misses, hit_rate,
// evictions, expired}.
type Stats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
}

type entry struct {
	question   string
	embedding  []float32
	result     types.RetrievalResult
	createdAt  time.Time
	lastAccess time.Time
	element    *list.Element
}

// Cache is the process-wide mutable semantic cache. Go's sync.Mutex is
// not reentrant; no code path here re-enters the lock while holding it,
// so a plain Mutex satisfies spec §4.4's "single lock guarding all
// mutation and traversal" requirement.
type Cache struct {
	mu           sync.Mutex
	maxSize      int
	ttl          time.Duration
	simThreshold float64

	byQuestion map[string]*entry
	recency    *list.List // front = most recently accessed

	hits, misses, evictions, expired int64
}

// New builds an empty Cache with the tunables from spec §6.
func New(maxSize int, ttl time.Duration, simThreshold float64) *Cache {
	return &Cache{
		maxSize:      maxSize,
		ttl:          ttl,
		simThreshold: simThreshold,
		byQuestion:   make(map[string]*entry),
		recency:      list.New(),
	}
}

// Get implements spec §4.4's get(question, query_vector) -> RetrievalResult
// | miss: exact-string match first, then cosine-similarity fallback.
func (c *Cache) Get(question string, queryVector []float32) (types.RetrievalResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if e, ok := c.byQuestion[question]; ok {
		if c.isExpiredLocked(e, now) {
			c.removeLocked(e)
			c.expired++
			c.misses++
			return types.RetrievalResult{}, false
		}
		return c.hitLocked(e, now), true
	}

	var best *entry
	var bestSim float64
	for _, e := range c.byQuestion {
		if c.isExpiredLocked(e, now) {
			continue
		}
		sim := cosine(queryVector, e.embedding)
		if sim >= c.simThreshold && sim > bestSim {
			best, bestSim = e, sim
		}
	}
	if best != nil {
		return c.hitLocked(best, now), true
	}

	c.misses++
	return types.RetrievalResult{}, false
}

func (c *Cache) hitLocked(e *entry, now time.Time) types.RetrievalResult {
	e.lastAccess = now
	c.recency.MoveToFront(e.element)
	c.hits++
	return e.result
}

func (c *Cache) isExpiredLocked(e *entry, now time.Time) bool {
	return now.Sub(e.createdAt) > c.ttl
}

// Put implements spec §4.4's put(question, query_vector, result),
// evicting the least-recently-used entry at capacity.
func (c *Cache) Put(question string, queryVector []float32, result types.RetrievalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if existing, ok := c.byQuestion[question]; ok {
		existing.embedding = queryVector
		existing.result = result
		existing.createdAt = now
		existing.lastAccess = now
		c.recency.MoveToFront(existing.element)
		return
	}

	e := &entry{question: question, embedding: queryVector, result: result, createdAt: now, lastAccess: now}
	e.element = c.recency.PushFront(e)
	c.byQuestion[question] = e

	for len(c.byQuestion) > c.maxSize {
		c.evictLRULocked()
	}
}

// evictLRULocked removes the entry with the smallest last_access,
// i.e. the back of the recency list.
func (c *Cache) evictLRULocked() {
	back := c.recency.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.removeLocked(e)
	c.evictions++
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.byQuestion, e.question)
	c.recency.Remove(e.element)
}

// ClearExpired implements spec §4.4's clear_expired().
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var removed int
	for _, e := range c.byQuestion {
		if c.isExpiredLocked(e, now) {
			c.removeLocked(e)
			c.expired++
			removed++
		}
	}
	return removed
}

// Clear empties the cache entirely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byQuestion = make(map[string]*entry)
	c.recency = list.New()
}

// Stats implements spec §4.4's stats().
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:      len(c.byQuestion),
		Hits:      c.hits,
		Misses:    c.misses,
		HitRate:   hitRate,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
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
