// server is the illustrative HTTP binary that exposes retrieve() over
// POST /retrieve so the external contract in spec section 6 is
// exercised end to end, plus GET /stats (one metrics snapshot) and
// GET /health. Session storage, chat endpoints, and a full statistics
// HTTP surface stay out of scope; this wires the retrieval core and
// nothing else.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thutuc-retrieval/internal/chunkstore"
	"thutuc-retrieval/internal/config"
	"thutuc-retrieval/internal/embedder"
	stderrors "thutuc-retrieval/internal/errors"
	"thutuc-retrieval/internal/lexical"
	"thutuc-retrieval/internal/llmclient"
	"thutuc-retrieval/internal/logging"
	"thutuc-retrieval/internal/metrics"
	"thutuc-retrieval/internal/orchestrator"
	"thutuc-retrieval/internal/reranker"
	"thutuc-retrieval/internal/semanticcache"
	"thutuc-retrieval/internal/types"
	"thutuc-retrieval/internal/vectorstore"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var (
	bannerColor = color.New(color.FgCyan, color.Bold)
	warnColor   = color.New(color.FgYellow)
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "HTTP server address")
		chunksPath = flag.String("chunks", envOr("RETRIEVAL_CHUNKS_PATH", "data/chunks.json"), "path to the chunk store JSON file")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger(logging.INFO).Fatal("failed to load configuration", "error", err)
	}

	log := logging.NewLogger(logging.ParseLogLevel(cfg.LogLevel)).WithComponent("server")

	store, err := chunkstore.Load(*chunksPath)
	if err != nil {
		log.Fatal("failed to load chunk store", "error", err, "path", *chunksPath)
	}

	lexIndex := lexical.New(cfg.Lexical.K1, cfg.Lexical.B)
	lexIndex.Build(store.All())

	vectors, err := vectorstore.New(&cfg.VectorDB, cfg.Embedder.Dimensions, log)
	if err != nil {
		log.Fatal("failed to connect to vector store", "error", err)
	}

	embed := embedder.New(&cfg.Embedder, cfg.Timeouts.Embedder, log)
	llm := llmclient.New(&cfg.LLM, cfg.Timeouts.LLM, log)
	scorer := reranker.New(&cfg.Reranker, cfg.Timeouts.Reranker, log)
	cache := semanticcache.New(cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.SimThreshold)

	orc := orchestrator.New(store, lexIndex, vectors, embed, llm, scorer, cache, cfg, log)
	collector := metrics.New(cache, lexIndex, cfg, map[string]metrics.BreakerProvider{
		"embedder":    embed,
		"llmclient":   llm,
		"reranker":    scorer,
		"vectorstore": vectors,
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Timeouts.Overall))

	router.Get("/health", handleHealth(vectors))
	router.Get("/stats", handleStats(collector))
	router.Post("/retrieve", handleRetrieve(orc, log))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Timeouts.Overall + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		bannerColor.Printf("retrieval core listening on %s\n", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			warnColor.Fprintf(os.Stderr, "server error: %v\n", err)
			log.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}

type retrieveRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type retrieveResponse struct {
	Chunks      []types.RetrievedItem `json:"chunks"`
	ContextText string                `json:"context_text"`
	Confidence  float64               `json:"confidence"`
	Intent      types.Intent          `json:"intent"`
	Degraded    bool                  `json:"degraded"`
}

func handleRetrieve(orc *orchestrator.Orchestrator, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retrieveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			stderrors.New(stderrors.ErrorCodeInvalidArg, "invalid JSON body").WriteHTTPError(w)
			return
		}

		sessionID := types.SessionID(req.SessionID)
		if err := sessionID.Validate(); err != nil {
			stderrors.New(stderrors.ErrorCodeInvalidArg, "invalid session_id").WriteHTTPError(w)
			return
		}
		if req.Question == "" {
			stderrors.New(stderrors.ErrorCodeInvalidArg, "question must not be empty").WriteHTTPError(w)
			return
		}

		result, err := orc.Retrieve(r.Context(), sessionID, req.Question)
		if err != nil {
			if re, ok := err.(*stderrors.RetrievalError); ok {
				re.WithSession(string(sessionID)).WriteHTTPError(w)
				return
			}
			log.ErrorContext(r.Context(), "unexpected retrieval error", "error", err)
			stderrors.Wrap(err, "retrieve failed").WriteHTTPError(w)
			return
		}

		resp := retrieveResponse{
			Chunks:      result.Chunks,
			ContextText: result.ContextText,
			Confidence:  result.Confidence,
			Intent:      result.Intent,
			Degraded:    result.Degraded,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.ErrorContext(r.Context(), "failed to encode response", "error", err)
		}
	}
}

func handleStats(collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.Snapshot())
	}
}

func handleHealth(vectors *vectorstore.QdrantStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := vectors.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
