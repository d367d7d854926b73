// Package metrics assembles the stats surface spec §6 names for the
// generator and HTTP layer: cache.stats(), lexical.stats(), config()
// combined into a single JSON-serializable snapshot.
package metrics

import (
	"thutuc-retrieval/internal/circuitbreaker"
	"thutuc-retrieval/internal/config"
	"thutuc-retrieval/internal/lexical"
	"thutuc-retrieval/internal/semanticcache"
)

// BreakerProvider is implemented by every external collaborator adapter
// that guards its calls with a circuit breaker, so the stats surface can
// report which one is flapping without reaching into its internals.
type BreakerProvider interface {
	BreakerStats() circuitbreaker.Stats
}

// Snapshot is the combined stats surface the illustrative /stats
// handler and tests assert against.
type Snapshot struct {
	Cache    semanticcache.Stats          `json:"cache"`
	Lexical  lexical.Stats                `json:"lexical"`
	Config   ConfigSnapshot               `json:"config"`
	Breakers map[string]circuitbreaker.Stats `json:"breakers,omitempty"`
}

// ConfigSnapshot mirrors the tunables an operator needs to see without
// exposing secrets (API keys are omitted).
type ConfigSnapshot struct {
	SimThreshold     float64 `json:"sim_threshold"`
	CacheMaxSize     int     `json:"cache_max_size"`
	CacheTTLHours    float64 `json:"cache_ttl_hours"`
	BM25K1           float64 `json:"bm25_k1"`
	BM25B            float64 `json:"bm25_b"`
	CrossTierPenalty float64 `json:"cross_tier_penalty"`
	TopKParent       int     `json:"top_k_parent"`
	TopKChild        int     `json:"top_k_child"`
	RRFK             int     `json:"rrf_k"`
	MaxChunkTokens   int     `json:"max_chunk_tokens"`
	WeightDense      float64 `json:"weight_dense"`
	WeightLex        float64 `json:"weight_lex"`
	WeightCE         float64 `json:"weight_ce"`
}

// Collector reads live stats from the cache, lexical index, and every
// circuit-breaker-guarded collaborator on demand.
type Collector struct {
	cache    *semanticcache.Cache
	lex      *lexical.Index
	cfg      *config.Config
	breakers map[string]BreakerProvider
}

// New builds a Collector over the process-wide cache, lexical index,
// resolved config, and the named collaborators whose breaker stats
// should appear in Snapshot.Breakers.
func New(cache *semanticcache.Cache, lex *lexical.Index, cfg *config.Config, breakers map[string]BreakerProvider) *Collector {
	return &Collector{cache: cache, lex: lex, cfg: cfg, breakers: breakers}
}

// Snapshot implements spec §6's config()/stats() surface as one call.
func (c *Collector) Snapshot() Snapshot {
	var breakers map[string]circuitbreaker.Stats
	if len(c.breakers) > 0 {
		breakers = make(map[string]circuitbreaker.Stats, len(c.breakers))
		for name, b := range c.breakers {
			breakers[name] = b.BreakerStats()
		}
	}

	return Snapshot{
		Cache:    c.cache.Stats(),
		Lexical:  c.lex.Stats(),
		Breakers: breakers,
		Config: ConfigSnapshot{
			SimThreshold:     c.cfg.Cache.SimThreshold,
			CacheMaxSize:     c.cfg.Cache.MaxSize,
			CacheTTLHours:    c.cfg.Cache.TTL.Hours(),
			BM25K1:           c.cfg.Lexical.K1,
			BM25B:            c.cfg.Lexical.B,
			CrossTierPenalty: c.cfg.Retrieval.CrossTierPenalty,
			TopKParent:       c.cfg.Retrieval.TopKParent,
			TopKChild:        c.cfg.Retrieval.TopKChild,
			RRFK:             c.cfg.Retrieval.RRFK,
			MaxChunkTokens:   c.cfg.Assembler.MaxChunkTokens,
			WeightDense:      c.cfg.Ensemble.WeightDense,
			WeightLex:        c.cfg.Ensemble.WeightLex,
			WeightCE:         c.cfg.Ensemble.WeightCE,
		},
	}
}
