// Package config loads the retrieval core's tunables the way the
// teacher's config layer does: typed defaults, overridden by a .env file
// (via godotenv) and then by process environment variables, assembled
// into one immutable snapshot handed to every component at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full set of tunables named in spec §6.
type Config struct {
	Cache     CacheConfig
	Lexical   LexicalConfig
	Retrieval RetrievalConfig
	Ensemble  EnsembleConfig
	Timeouts  TimeoutConfig
	Assembler AssemblerConfig
	Embedder  EmbedderConfig
	VectorDB  VectorDBConfig
	LLM       LLMConfig
	Reranker  RerankerConfig
	LogLevel  string
	LogJSON   bool
}

// CacheConfig holds the semantic cache's tunables (spec §4.4, §6).
type CacheConfig struct {
	SimThreshold float64
	MaxSize      int
	TTL          time.Duration
}

// LexicalConfig holds the BM25 index's tunables (spec §4.2, §6).
type LexicalConfig struct {
	K1 float64
	B  float64
}

// RetrievalConfig holds the orchestrator's per-stage tunables (spec §4.7, §6).
type RetrievalConfig struct {
	CrossTierPenalty float64
	TopKParent       int
	TopKChild        int
	RRFK             int
	RerankTopKCap    int
	JaccardDedupeMax float64
}

// EnsembleConfig holds the reranker's ensemble weights (spec §4.5, §6).
type EnsembleConfig struct {
	WeightDense float64
	WeightLex   float64
	WeightCE    float64
}

// TimeoutConfig holds the per-collaborator suspension-point timeouts and
// the overall request deadline (spec §5).
type TimeoutConfig struct {
	Embedder time.Duration
	Vector   time.Duration
	LLM      time.Duration
	Reranker time.Duration
	Overall  time.Duration
}

// AssemblerConfig holds the context assembler's truncation budget (spec §4.6).
type AssemblerConfig struct {
	MaxChunkTokens int
}

// EmbedderConfig configures the embedding collaborator (spec §6).
type EmbedderConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	CacheSize  int
	CacheTTL   time.Duration
}

// VectorDBConfig configures the Qdrant-backed vector store adapter.
type VectorDBConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// LLMConfig configures the query analyser's LLM collaborator.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// RerankerConfig configures the cross-encoder collaborator.
type RerankerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

const envPrefix = "RETRIEVAL_"

// Load assembles a Config from defaults, an optional .env file, and
// process environment variables, in that order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfg.Cache.SimThreshold = getFloat(envPrefix+"SIM_THRESHOLD", cfg.Cache.SimThreshold)
	cfg.Cache.MaxSize = getInt(envPrefix+"CACHE_MAX_SIZE", cfg.Cache.MaxSize)
	cfg.Cache.TTL = getHours(envPrefix+"CACHE_TTL_HOURS", cfg.Cache.TTL)

	cfg.Lexical.K1 = getFloat(envPrefix+"BM25_K1", cfg.Lexical.K1)
	cfg.Lexical.B = getFloat(envPrefix+"BM25_B", cfg.Lexical.B)

	cfg.Retrieval.CrossTierPenalty = getFloat(envPrefix+"CROSS_TIER_PENALTY", cfg.Retrieval.CrossTierPenalty)
	cfg.Retrieval.TopKParent = getInt(envPrefix+"TOP_K_PARENT", cfg.Retrieval.TopKParent)
	cfg.Retrieval.TopKChild = getInt(envPrefix+"TOP_K_CHILD", cfg.Retrieval.TopKChild)
	cfg.Retrieval.RRFK = getInt(envPrefix+"RRF_K", cfg.Retrieval.RRFK)

	cfg.Ensemble.WeightDense = getFloat(envPrefix+"WEIGHT_DENSE", cfg.Ensemble.WeightDense)
	cfg.Ensemble.WeightLex = getFloat(envPrefix+"WEIGHT_LEX", cfg.Ensemble.WeightLex)
	cfg.Ensemble.WeightCE = getFloat(envPrefix+"WEIGHT_CE", cfg.Ensemble.WeightCE)

	cfg.Assembler.MaxChunkTokens = getInt(envPrefix+"MAX_CHUNK_TOKENS", cfg.Assembler.MaxChunkTokens)

	cfg.Embedder.BaseURL = getStr(envPrefix+"EMBEDDER_URL", cfg.Embedder.BaseURL)
	cfg.Embedder.APIKey = getStr(envPrefix+"EMBEDDER_API_KEY", cfg.Embedder.APIKey)
	cfg.Embedder.Model = getStr(envPrefix+"EMBEDDER_MODEL", cfg.Embedder.Model)
	cfg.Embedder.Dimensions = getInt(envPrefix+"EMBEDDER_DIM", cfg.Embedder.Dimensions)

	cfg.VectorDB.Host = getStr(envPrefix+"QDRANT_HOST", cfg.VectorDB.Host)
	cfg.VectorDB.Port = getInt(envPrefix+"QDRANT_PORT", cfg.VectorDB.Port)
	cfg.VectorDB.APIKey = getStr(envPrefix+"QDRANT_API_KEY", cfg.VectorDB.APIKey)
	cfg.VectorDB.Collection = getStr(envPrefix+"QDRANT_COLLECTION", cfg.VectorDB.Collection)
	cfg.VectorDB.UseTLS = getBool(envPrefix+"QDRANT_TLS", cfg.VectorDB.UseTLS)

	cfg.LLM.BaseURL = getStr(envPrefix+"LLM_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getStr(envPrefix+"LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getStr(envPrefix+"LLM_MODEL", cfg.LLM.Model)

	cfg.Reranker.BaseURL = getStr(envPrefix+"RERANKER_URL", cfg.Reranker.BaseURL)
	cfg.Reranker.APIKey = getStr(envPrefix+"RERANKER_API_KEY", cfg.Reranker.APIKey)
	cfg.Reranker.Model = getStr(envPrefix+"RERANKER_MODEL", cfg.Reranker.Model)

	cfg.LogLevel = getStr(envPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getBool(envPrefix+"LOG_JSON", cfg.LogJSON)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration with every tunable at the value
// named in spec §6.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			SimThreshold: 0.92,
			MaxSize:      100,
			TTL:          24 * time.Hour,
		},
		Lexical: LexicalConfig{
			K1: 1.5,
			B:  0.75,
		},
		Retrieval: RetrievalConfig{
			CrossTierPenalty: 0.8,
			TopKParent:       5,
			TopKChild:        100,
			RRFK:             60,
			RerankTopKCap:    20,
			JaccardDedupeMax: 0.95,
		},
		Ensemble: EnsembleConfig{
			WeightDense: 0.55,
			WeightLex:   0.35,
			WeightCE:    0.10,
		},
		Timeouts: TimeoutConfig{
			Embedder: 10 * time.Second,
			Vector:   5 * time.Second,
			LLM:      60 * time.Second,
			Reranker: 15 * time.Second,
			Overall:  180 * time.Second,
		},
		Assembler: AssemblerConfig{
			MaxChunkTokens: 1200,
		},
		Embedder: EmbedderConfig{
			Dimensions: 1024,
			CacheSize:  2000,
			CacheTTL:   24 * time.Hour,
		},
		VectorDB: VectorDBConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "procedure_chunks",
		},
		LogLevel: "info",
		LogJSON:  true,
	}
}

// Validate rejects configurations that would break a documented invariant.
func (c *Config) Validate() error {
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive")
	}
	if c.Cache.SimThreshold <= 0 || c.Cache.SimThreshold > 1 {
		return fmt.Errorf("cache.sim_threshold must be in (0, 1]")
	}
	if c.Lexical.K1 <= 0 {
		return fmt.Errorf("lexical.k1 must be positive")
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical.b must be in [0, 1]")
	}
	if c.Retrieval.CrossTierPenalty <= 0 || c.Retrieval.CrossTierPenalty > 1 {
		return fmt.Errorf("retrieval.cross_tier_penalty must be in (0, 1]")
	}
	return nil
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getHours(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Hour
		}
	}
	return def
}
