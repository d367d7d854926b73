// Package reranker implements stage 7 of the retrieval pipeline: an
// HTTP cross-encoder collaborator plus the ensemble scoring math that
// combines dense, lexical, and cross-encoder signals (spec §4.5).
// Client-shaped like internal/llmclient, wrapped in the same circuit
// breaker.
package reranker

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
)

// Scorer is the cross-encoder collaborator (spec §6: score(query,
// [texts]) -> [float] in [0, 1]).
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// HTTPScorer calls a bearer-authenticated cross-encoder endpoint.
type HTTPScorer struct {
	httpClient *http.Client
	cfg        *config.RerankerConfig
	breaker    *circuitbreaker.CircuitBreaker
	log        logging.Logger
}

// New builds an HTTPScorer. timeout bounds every call (spec §5: 15s).
func New(cfg *config.RerankerConfig, timeout time.Duration, log logging.Logger) *HTTPScorer {
	scoped := log.WithComponent("reranker")
	return &HTTPScorer{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		breaker: circuitbreaker.New("reranker", &circuitbreaker.Config{
			FailureThreshold:      5,
			SuccessThreshold:      2,
			Timeout:               30 * time.Second,
			MaxConcurrentRequests: 1,
		}, circuitbreaker.LogStateChange(scoped)),
		log: scoped,
	}
}

// BreakerStats exposes the reranker's circuit breaker counters for
// internal/metrics.
func (s *HTTPScorer) BreakerStats() circuitbreaker.Stats {
	return s.breaker.Stats()
}

type scoreRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// Score calls the cross-encoder collaborator under circuit-breaker
// protection.
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	var out scoreResponse
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(scoreRequest{Query: query, Texts: texts, Model: s.cfg.Model})
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/score", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("call reranker: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("reranker returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, fmt.Errorf("reranker: %w", err)
	}
	return out.Scores, nil
}
