// Package assembler implements stage 8 of the retrieval pipeline: turns
// a reranked candidate list into the final textual context block,
// respecting the per-intent budget (spec §4.6).
package assembler

import (
	"fmt"
	"strings"

	"thutuc-retrieval/internal/chunkstore"
	"thutuc-retrieval/internal/types"
)

// Scored is one reranked candidate entering assembly.
type Scored struct {
	Chunk          types.Chunk
	Score          float64
	CrossTierMatch bool
}

// Assembler groups, budgets, truncates, and concatenates chunks into a
// citable context block.
type Assembler struct {
	store          *chunkstore.Store
	maxChunkTokens int
}

// New builds an Assembler backed by store, truncating any chunk over
// maxChunkTokens (spec §6 default 1200).
func New(store *chunkstore.Store, maxChunkTokens int) *Assembler {
	return &Assembler{store: store, maxChunkTokens: maxChunkTokens}
}

// Result is what Assemble returns: the ordered chunks retained, the
// concatenated context text, and the confidence score.
type Result struct {
	Chunks      []types.RetrievedItem
	ContextText string
	Confidence  float64
}

// Assemble implements spec §4.6's algorithm against cfg. degraded
// scales confidence by 0.9 per spec.
func (a *Assembler) Assemble(reranked []Scored, cfg types.ContextConfig, degraded bool) Result {
	groups, order := groupByProcedure(reranked)
	if len(order) > cfg.Chunks {
		order = order[:cfg.Chunks]
	}

	var retained []types.RetrievedItem
	var textParts []string
	var scoreSum float64
	var scoreCount int

	keptProcedures := make(map[types.ProcedureID]bool, len(order))
	for _, procID := range order {
		keptProcedures[procID] = true
		group := groups[procID]

		if cfg.IncludeParents {
			if parent, ok := a.parentOverview(procID); ok {
				retained = append(retained, types.RetrievedItem{ChunkID: parent.ChunkID, Score: group[0].Score, Source: types.SourceReranked})
				textParts = append(textParts, a.renderChunk(parent))
			}
		}

		descendants := group
		if len(descendants) > cfg.MaxDescendants {
			descendants = descendants[:cfg.MaxDescendants]
		}
		for _, d := range descendants {
			retained = append(retained, types.RetrievedItem{ChunkID: d.Chunk.ChunkID, Score: d.Score, Source: types.SourceReranked, CrossTierMatch: d.CrossTierMatch})
			textParts = append(textParts, a.renderChunk(d.Chunk))
			scoreSum += d.Score
			scoreCount++
		}
	}

	siblings := collectSiblings(reranked, keptProcedures, cfg.MaxSiblings)
	for _, sib := range siblings {
		retained = append(retained, types.RetrievedItem{ChunkID: sib.Chunk.ChunkID, Score: sib.Score, Source: types.SourceReranked, CrossTierMatch: sib.CrossTierMatch})
		textParts = append(textParts, a.renderChunk(sib.Chunk))
		scoreSum += sib.Score
		scoreCount++
	}

	confidence := 0.0
	if scoreCount > 0 {
		confidence = scoreSum / float64(scoreCount)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if degraded {
		confidence *= 0.9
	}

	return Result{
		Chunks:      retained,
		ContextText: strings.Join(textParts, "\n\n"),
		Confidence:  confidence,
	}
}

// groupByProcedure groups children by procedure_id preserving the rank
// of each procedure's best-scoring chunk (spec §4.6 step 1).
func groupByProcedure(reranked []Scored) (map[types.ProcedureID][]Scored, []types.ProcedureID) {
	groups := make(map[types.ProcedureID][]Scored)
	var order []types.ProcedureID
	seen := make(map[types.ProcedureID]bool)

	for _, r := range reranked {
		procID := r.Chunk.ProcedureID
		groups[procID] = append(groups[procID], r)
		if !seen[procID] {
			seen[procID] = true
			order = append(order, procID)
		}
	}
	return groups, order
}

// collectSiblings appends up to maxSiblings chunks from procedures not
// already kept (spec §4.6 step 4: cross-procedure carryover).
func collectSiblings(reranked []Scored, kept map[types.ProcedureID]bool, maxSiblings int) []Scored {
	if maxSiblings <= 0 {
		return nil
	}
	var siblings []Scored
	seenProc := make(map[types.ProcedureID]bool)
	for _, r := range reranked {
		if kept[r.Chunk.ProcedureID] || seenProc[r.Chunk.ProcedureID] {
			continue
		}
		seenProc[r.Chunk.ProcedureID] = true
		siblings = append(siblings, r)
		if len(siblings) >= maxSiblings {
			break
		}
	}
	return siblings
}

func (a *Assembler) parentOverview(procID types.ProcedureID) (types.Chunk, bool) {
	group, err := a.store.ByProcedure(procID)
	if err != nil || len(group) == 0 {
		return types.Chunk{}, false
	}
	if group[0].Tier == types.TierParent {
		return group[0], true
	}
	return types.Chunk{}, false
}

// renderChunk truncates an oversized chunk (keep-head-and-tail with an
// explicit ellipsis, spec §4.6 step 5) and formats it with a stable,
// citable delimiter.
func (a *Assembler) renderChunk(chunk types.Chunk) string {
	content := chunk.Content
	if chunk.TokenCount > a.maxChunkTokens {
		content = truncateHeadTail(content, a.maxChunkTokens)
	}
	return fmt.Sprintf("[%s]\n%s", chunk.ChunkID, content)
}

// truncateHeadTail keeps the first half and last half of the word
// sequence, joined with an explicit ellipsis marker.
func truncateHeadTail(content string, maxTokens int) string {
	words := strings.Fields(content)
	if len(words) <= maxTokens {
		return content
	}
	half := maxTokens / 2
	head := words[:half]
	tail := words[len(words)-half:]
	return strings.Join(head, " ") + " … [truncated] … " + strings.Join(tail, " ")
}
