// Package embedder adapts the dense-retrieval embedding collaborator:
// an HTTP client wrapped in a circuit breaker, fronted by an LRU+TTL
// cache so repeat questions (and repeat child-chunk indexing runs)
// don't re-pay an embedding call. Grounded on the teacher's
// internal/embeddings package, with the teacher's hand-rolled
// container/list LRU replaced by hashicorp/golang-lru/v2's expirable
// cache, the library the rest of the pack reaches for.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"thutuc-retrieval/internal/circuitbreaker"
	"thutuc-retrieval/internal/config"
	"thutuc-retrieval/internal/logging"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/blake2b"
)

// Embedder turns text into a dense vector for stages 0, 3 and 4 of the
// pipeline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls a bearer-authenticated embedding endpoint, caching
// results by a blake2b hash of (model, text) so identical questions
// across sessions never re-call the collaborator.
type HTTPEmbedder struct {
	httpClient *http.Client
	cfg        *config.EmbedderConfig
	breaker    *circuitbreaker.CircuitBreaker
	cache      *lru.LRU[string, []float32]
	log        logging.Logger
}

// New builds an HTTPEmbedder. timeout bounds every individual call
// (spec §5: embedder suspension points get 10s); cacheSize/cacheTTL
// come from cfg.
func New(cfg *config.EmbedderConfig, timeout time.Duration, log logging.Logger) *HTTPEmbedder {
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 2000
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}

	scoped := log.WithComponent("embedder")
	return &HTTPEmbedder{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		breaker: circuitbreaker.New("embedder", &circuitbreaker.Config{
			FailureThreshold:      5,
			SuccessThreshold:      2,
			Timeout:               30 * time.Second,
			MaxConcurrentRequests: 1,
		}, circuitbreaker.LogStateChange(scoped)),
		cache: lru.NewLRU[string, []float32](cacheSize, nil, cacheTTL),
		log:   scoped,
	}
}

// BreakerStats exposes the embedder's circuit breaker counters for
// internal/metrics.
func (e *HTTPEmbedder) BreakerStats() circuitbreaker.Stats {
	return e.breaker.Stats()
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the cached vector for text if present, otherwise calls
// the collaborator under circuit-breaker protection and caches the
// result.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	var vector []float32
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		v, err := e.call(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	e.cache.Add(key, vector)
	return vector, nil
}

func (e *HTTPEmbedder) call(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedder returned empty embedding")
	}
	return out.Embedding, nil
}

func (e *HTTPEmbedder) cacheKey(text string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(e.cfg.Model + "|" + text))
	return fmt.Sprintf("%x", h.Sum(nil))
}
