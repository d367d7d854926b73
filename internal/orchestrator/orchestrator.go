// Package orchestrator implements the nine-stage retrieval pipeline:
// cache probe, query analysis, the exact-code fast path, dense
// parent/child retrieval, lexical augmentation, reciprocal rank fusion,
// cross-encoder reranking, context assembly, and cache store. Grounded
// on the teacher's request-lifecycle handlers: one struct holding every
// read-only collaborator plus the one mutable shared resource (the
// cache), a single entry method that fans stages 3 and 5 out with
// golang.org/x/sync/errgroup, runs stage 4 after the join, and then fuses.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"thutuc-retrieval/internal/assembler"
	"thutuc-retrieval/internal/chunkstore"
	"thutuc-retrieval/internal/config"
	stderrors "thutuc-retrieval/internal/errors"
	"thutuc-retrieval/internal/embedder"
	"thutuc-retrieval/internal/lexical"
	"thutuc-retrieval/internal/llmclient"
	"thutuc-retrieval/internal/logging"
	"thutuc-retrieval/internal/queryanalyser"
	"thutuc-retrieval/internal/reranker"
	"thutuc-retrieval/internal/semanticcache"
	"thutuc-retrieval/internal/types"
	"thutuc-retrieval/internal/vectorstore"

	"golang.org/x/sync/errgroup"
)

// Orchestrator drives the nine stages against its collaborators. The
// chunk store, lexical index, vector store and reranker are read-only
// for the lifetime of the process; the cache is the only mutable
// resource and guards itself.
type Orchestrator struct {
	chunks   *chunkstore.Store
	lexIndex *lexical.Index
	vectors  vectorstore.Store
	embed    embedder.Embedder
	analyser *queryanalyser.Analyser
	scorer   reranker.Scorer
	cache    *semanticcache.Cache
	asm      *assembler.Assembler
	cfg      *config.Config
	log      logging.Logger
}

// New wires an Orchestrator from its collaborators and the resolved
// config snapshot.
func New(
	chunks *chunkstore.Store,
	lexIndex *lexical.Index,
	vectors vectorstore.Store,
	embed embedder.Embedder,
	llm llmclient.Client,
	scorer reranker.Scorer,
	cache *semanticcache.Cache,
	cfg *config.Config,
	log logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		chunks:   chunks,
		lexIndex: lexIndex,
		vectors:  vectors,
		embed:    embed,
		analyser: queryanalyser.New(llm, log),
		scorer:   scorer,
		cache:    cache,
		asm:      assembler.New(chunks, cfg.Assembler.MaxChunkTokens),
		cfg:      cfg,
		log:      log.WithComponent("orchestrator"),
	}
}

// Retrieve implements spec §4.7's retrieve(session_id, question) ->
// RetrievalResult end to end.
func (o *Orchestrator) Retrieve(ctx context.Context, sessionID types.SessionID, question string) (types.RetrievalResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Overall)
	defer cancel()

	log := o.log.WithTraceID(sessionID.String())

	// Stage 0: cache probe. The question embedding is computed once and
	// reused by Stage 3's first expansion (the raw question is always
	// expansions[0]) via expansionEmbedder's internal memoisation.
	embedCache := newExpansionEmbedder(o.embed)
	questionVector, embedErr := embedCache.embed(ctx, question)
	if embedErr != nil {
		log.WarnContext(ctx, "question embedding failed, cache probe skipped", "error", embedErr)
	} else if cached, ok := o.cache.Get(question, questionVector); ok {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return types.RetrievalResult{}, mapContextErr(err)
	}

	// Stage 1: query analysis.
	plan := o.analyser.Analyse(ctx, question)

	// Stage 2: exact-code fast path.
	if plan.DetectedProcedureCode != "" {
		if result, ok := o.exactCodeFastPath(plan); ok {
			o.maybeCache(ctx, question, questionVector, result)
			return result, nil
		}
		log.WarnContext(ctx, "detected procedure code not found, falling back to full pipeline", "code", plan.DetectedProcedureCode)
	}

	// Stages 3 and 5 have no mutual ordering constraint and fan out
	// together. Stage 4 needs Stage 3's procedure set P for the soft
	// cross-tier penalty, so it runs once Stage 3 has joined.
	var (
		parentHits   map[types.ChunkID]*candidate
		lexicalHits  []lexical.Scored
		parentAllErr bool
		lexicalErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, allFailed := o.denseParentRetrieval(gctx, embedCache, plan)
		parentHits, parentAllErr = hits, allFailed
		return nil
	})
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				lexicalErr = fmt.Errorf("lexical index panic: %v", r)
			}
		}()
		lexicalHits = o.lexIndex.Search(plan.RawQuestion, o.cfg.Retrieval.TopKChild)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return types.RetrievalResult{}, mapContextErr(err)
	}

	procedureSet := procedureSetOf(o.chunks, parentHits)
	childHits, childAllErr := o.denseChildRetrieval(ctx, embedCache, plan, procedureSet)

	denseFailed := parentAllErr && childAllErr
	lexicalFailed := lexicalErr != nil

	if denseFailed && lexicalFailed {
		log.ErrorContext(ctx, "both retrieval channels failed", "parent_error", parentAllErr, "child_error", childAllErr, "lexical_error", lexicalErr)
		return types.RetrievalResult{
			Chunks:     nil,
			Confidence: 0,
			Intent:     plan.Intent,
			Plan:       plan,
			Degraded:   true,
			Metadata:   map[string]interface{}{"error": "no-retrieval-channels"},
		}, stderrors.NoChannels()
	}
	degraded := denseFailed || lexicalFailed

	// Stage 6: reciprocal rank fusion + near-duplicate removal.
	candidates := mergeCandidates(parentHits, childHits)
	fused := o.fuseStage(candidates, lexicalHits)

	if len(fused) == 0 {
		return types.RetrievalResult{
			Chunks:     nil,
			Confidence: 0,
			Intent:     plan.Intent,
			Plan:       plan,
			Degraded:   true,
			Metadata:   map[string]interface{}{"error": "no-retrieval-channels"},
		}, stderrors.NoChannels()
	}

	// Stage 7: reranking.
	scored := o.rerankStage(ctx, plan, fused)

	// Stage 8: context assembly.
	result := o.asm.Assemble(scored, plan.ContextConfig, degraded)
	retrievalResult := types.RetrievalResult{
		Chunks:      result.Chunks,
		ContextText: result.ContextText,
		Confidence:  result.Confidence,
		Intent:      plan.Intent,
		Plan:        plan,
		Degraded:    degraded,
	}
	if degraded {
		retrievalResult.Metadata = map[string]interface{}{"degraded": true}
	}

	// Stage 9: cache store.
	o.maybeCache(ctx, question, questionVector, retrievalResult)

	return retrievalResult, nil
}

// exactCodeFastPath implements spec §4.7 stage 2: skip stages 3-7
// entirely and return every chunk for the detected procedure.
func (o *Orchestrator) exactCodeFastPath(plan types.QueryPlan) (types.RetrievalResult, bool) {
	group, err := o.chunks.ByProcedure(types.ProcedureID(plan.DetectedProcedureCode))
	if err != nil || len(group) == 0 {
		return types.RetrievalResult{}, false
	}

	scored := make([]assembler.Scored, 0, len(group))
	for _, c := range group {
		scored = append(scored, assembler.Scored{Chunk: c, Score: 1.0})
	}
	result := o.asm.Assemble(scored, types.ContextConfig{
		Chunks:         1,
		MaxDescendants: len(group),
		MaxSiblings:    0,
		IncludeParents: true,
	}, false)

	return types.RetrievalResult{
		Chunks:      result.Chunks,
		ContextText: result.ContextText,
		Confidence:  1.0,
		Intent:      plan.Intent,
		Plan:        plan,
		Degraded:    false,
	}, true
}

// denseParentRetrieval implements spec §4.7 stage 3.
func (o *Orchestrator) denseParentRetrieval(ctx context.Context, ee *expansionEmbedder, plan types.QueryPlan) (map[types.ChunkID]*candidate, bool) {
	out := make(map[types.ChunkID]*candidate)
	attempts, failures := 0, 0

	for _, expansion := range plan.Expansions {
		attempts++
		vector, err := ee.embed(ctx, expansion)
		if err != nil {
			failures++
			continue
		}
		hits, err := o.vectors.Search(ctx, vector, o.cfg.Retrieval.TopKParent, vectorstore.Filter{Tier: types.TierParent})
		if err != nil {
			failures++
			continue
		}
		for _, h := range hits {
			c, ok := out[h.ChunkID]
			if !ok {
				c = &candidate{chunkID: h.ChunkID}
				out[h.ChunkID] = c
			}
			if h.Score > c.denseScore {
				c.denseScore = h.Score
			}
		}
	}
	return out, attempts > 0 && failures == attempts
}

// denseChildRetrieval implements spec §4.7 stage 4, including the soft
// cross-tier penalty against procedureSet (P). Retrieve calls it once,
// after Stage 3 has joined and P is known; a nil procedureSet applies no
// penalty.
func (o *Orchestrator) denseChildRetrieval(ctx context.Context, ee *expansionEmbedder, plan types.QueryPlan, procedureSet map[types.ProcedureID]bool) (map[types.ChunkID]*candidate, bool) {
	out := make(map[types.ChunkID]*candidate)
	chunkTypes := queryanalyser.ChunkTypeFilter(plan.Intent)
	attempts, failures := 0, 0

	for _, expansion := range plan.Expansions {
		attempts++
		vector, err := ee.embed(ctx, expansion)
		if err != nil {
			failures++
			continue
		}
		hits, err := o.vectors.Search(ctx, vector, o.cfg.Retrieval.TopKChild, vectorstore.Filter{Tier: types.TierChild, ChunkTypes: chunkTypes})
		if err != nil {
			failures++
			continue
		}
		for _, h := range hits {
			score := h.Score
			crossTierMatch := false
			if procedureSet != nil {
				chunk, getErr := o.chunks.Get(h.ChunkID)
				if getErr == nil && procedureSet[chunk.ProcedureID] {
					crossTierMatch = true
				} else {
					score *= o.cfg.Retrieval.CrossTierPenalty
				}
			}
			c, ok := out[h.ChunkID]
			if !ok {
				c = &candidate{chunkID: h.ChunkID}
				out[h.ChunkID] = c
			}
			if score > c.denseScore {
				c.denseScore = score
				c.crossTierMatch = crossTierMatch
			}
		}
	}
	return out, attempts > 0 && failures == attempts
}

func procedureSetOf(store *chunkstore.Store, hits map[types.ChunkID]*candidate) map[types.ProcedureID]bool {
	set := make(map[types.ProcedureID]bool, len(hits))
	for id := range hits {
		if c, err := store.Get(id); err == nil {
			set[c.ProcedureID] = true
		}
	}
	return set
}

func mergeCandidates(lists ...map[types.ChunkID]*candidate) map[types.ChunkID]*candidate {
	out := make(map[types.ChunkID]*candidate)
	for _, list := range lists {
		for id, c := range list {
			existing, ok := out[id]
			if !ok {
				out[id] = c
				continue
			}
			if c.denseScore > existing.denseScore {
				existing.denseScore = c.denseScore
				existing.crossTierMatch = c.crossTierMatch
			}
		}
	}
	return out
}

// fuseStage implements spec §4.7 stage 6: build the per-source ranked
// lists, run RRF, then drop near-duplicates by Jaccard similarity.
func (o *Orchestrator) fuseStage(dense map[types.ChunkID]*candidate, lexicalHits []lexical.Scored) []*candidate {
	all := make(map[types.ChunkID]*candidate, len(dense)+len(lexicalHits))
	for id, c := range dense {
		all[id] = c
	}
	for _, h := range lexicalHits {
		c, ok := all[h.ChunkID]
		if !ok {
			c = &candidate{chunkID: h.ChunkID}
			all[h.ChunkID] = c
		}
		c.lexScore = h.Score
	}

	denseList := rankedList{source: types.SourceDense, boost: 1.0, ids: sortedByDenseScore(dense)}
	lexicalIDs := make([]types.ChunkID, len(lexicalHits))
	for i, h := range lexicalHits {
		lexicalIDs[i] = h.ChunkID
	}
	lexList := rankedList{source: types.SourceLexical, boost: 1.2, ids: lexicalIDs}

	ordered := fuse([]rankedList{denseList, lexList}, o.cfg.Retrieval.RRFK, all)

	content := make(map[types.ChunkID]string, len(ordered))
	for _, c := range ordered {
		if chunk, err := o.chunks.Get(c.chunkID); err == nil {
			content[c.chunkID] = chunk.Content
		}
	}
	return dedupeNearDuplicates(ordered, content, o.cfg.Retrieval.JaccardDedupeMax)
}

func sortedByDenseScore(dense map[types.ChunkID]*candidate) []types.ChunkID {
	type pair struct {
		id    types.ChunkID
		score float64
	}
	pairs := make([]pair, 0, len(dense))
	for id, c := range dense {
		pairs = append(pairs, pair{id, c.denseScore})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		return pairs[i].id < pairs[j].id
	})
	ids := make([]types.ChunkID, len(pairs))
	for i, p := range pairs {
		ids[i] = p.id
	}
	return ids
}

// rerankStage implements spec §4.7 stage 7: score the top-N fused
// candidates with the cross-encoder (if enabled), combine with the
// min-max normalised dense/lexical scores, and cap the output.
func (o *Orchestrator) rerankStage(ctx context.Context, plan types.QueryPlan, fused []*candidate) []assembler.Scored {
	n := len(fused)
	if n > 50 {
		n = 50
	}
	top := fused[:n]

	chunks := make([]types.Chunk, 0, len(top))
	texts := make([]string, 0, len(top))
	for _, c := range top {
		chunk, err := o.chunks.Get(c.chunkID)
		if err != nil {
			continue
		}
		chunks = append(chunks, chunk)
		texts = append(texts, chunk.Content)
	}

	weights := reranker.Weights{Dense: o.cfg.Ensemble.WeightDense, Lex: o.cfg.Ensemble.WeightLex, CE: o.cfg.Ensemble.WeightCE}
	ceScores := make([]float64, len(texts))
	rerankFailed := false
	if o.scorer != nil && reranker.ShouldScore(weights) {
		scores, err := o.scorer.Score(ctx, plan.RawQuestion, texts)
		if err != nil {
			o.log.WarnContext(ctx, "reranker failed, falling back to fused order", "error", err)
			rerankFailed = true
		} else if len(scores) == len(texts) {
			ceScores = scores
		}
	}

	rerankCandidates := make([]reranker.Candidate, len(chunks))
	crossTier := make([]bool, len(chunks))
	for i, c := range top[:len(chunks)] {
		rerankCandidates[i] = reranker.Candidate{DenseScore: c.denseScore, LexScore: c.lexScore, CEScore: ceScores[i]}
		crossTier[i] = c.crossTierMatch
	}
	finalScores := reranker.Combine(rerankCandidates, weights)

	scored := make([]assembler.Scored, len(chunks))
	for i, chunk := range chunks {
		scored[i] = assembler.Scored{Chunk: chunk, Score: finalScores[i], CrossTierMatch: crossTier[i]}
	}
	if !rerankFailed {
		sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	}

	topK := rerankTopK(plan.ContextConfig, o.cfg.Retrieval.RerankTopKCap)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// rerankTopK implements spec §6's default: config.chunks *
// (1 + config.max_descendants), rounded up, capped at capConfig.
func rerankTopK(cfg types.ContextConfig, capConfig int) int {
	raw := cfg.Chunks * (1 + cfg.MaxDescendants)
	if raw <= 0 {
		raw = capConfig
	}
	k := int(math.Ceil(float64(raw)))
	if k > capConfig {
		k = capConfig
	}
	if k <= 0 {
		k = capConfig
	}
	return k
}

func (o *Orchestrator) maybeCache(ctx context.Context, question string, questionVector []float32, result types.RetrievalResult) {
	if ctx.Err() != nil || questionVector == nil {
		return
	}
	o.cache.Put(question, questionVector, result)
}

func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return stderrors.Timeout("overall request deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return stderrors.Cancelled()
	}
	return stderrors.Wrap(err, "context error")
}
