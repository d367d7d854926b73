// Package llmclient adapts the query analyser's LLM collaborator
// (spec §4.1, §6): intent classification and paraphrase generation,
// over a bearer-authenticated JSON HTTP API shaped like the teacher's
// internal/ai clients, but scoped to exactly the two operations the
// analyser needs.
package llmclient

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

// Client is the LLM collaborator the query analyser depends on.
type Client interface {
	ClassifyIntent(ctx context.Context, question string) (intent string, confidence float64, err error)
	Paraphrase(ctx context.Context, question string, n int) ([]string, error)
}

// HTTPClient is the only production Client implementation.
type HTTPClient struct {
	httpClient *http.Client
	cfg        *config.LLMConfig
	breaker    *circuitbreaker.CircuitBreaker
	log        logging.Logger
}

// New builds an HTTPClient. timeout bounds every call (spec §5: 60s).
func New(cfg *config.LLMConfig, timeout time.Duration, log logging.Logger) *HTTPClient {
	scoped := log.WithComponent("llmclient")
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		breaker: circuitbreaker.New("llmclient", &circuitbreaker.Config{
			FailureThreshold:      5,
			SuccessThreshold:      2,
			Timeout:               30 * time.Second,
			MaxConcurrentRequests: 1,
		}, circuitbreaker.LogStateChange(scoped)),
		log: scoped,
	}
}

// BreakerStats exposes the LLM client's circuit breaker counters for
// internal/metrics.
func (c *HTTPClient) BreakerStats() circuitbreaker.Stats {
	return c.breaker.Stats()
}

type classifyRequest struct {
	Question string `json:"question"`
	Model    string `json:"model"`
}

type classifyResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// ClassifyIntent calls the collaborator's classification endpoint. The
// caller (internal/queryanalyser) is responsible for the overview/0
// fallback on error; this method only reports the error.
func (c *HTTPClient) ClassifyIntent(ctx context.Context, question string) (string, float64, error) {
	var out classifyResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/classify", classifyRequest{Question: question, Model: c.cfg.Model}, &out)
	})
	if err != nil {
		return "", 0, fmt.Errorf("llmclient: classify: %w", err)
	}
	return out.Intent, out.Confidence, nil
}

type paraphraseRequest struct {
	Question string `json:"question"`
	N        int    `json:"n"`
	Model    string `json:"model"`
}

type paraphraseResponse struct {
	Paraphrases []string `json:"paraphrases"`
}

// Paraphrase calls the collaborator's paraphrase endpoint for up to n
// variants of question.
func (c *HTTPClient) Paraphrase(ctx context.Context, question string, n int) ([]string, error) {
	var out paraphraseResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/paraphrase", paraphraseRequest{Question: question, N: n, Model: c.cfg.Model}, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("llmclient: paraphrase: %w", err)
	}
	return out.Paraphrases, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call llm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
