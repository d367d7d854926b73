package orchestrator

import (
	"sort"

	"thutuc-retrieval/internal/lexical"
	"thutuc-retrieval/internal/types"
)

// candidate accumulates everything the fusion and rerank stages need to
// know about one chunk across the dense and lexical channels.
type candidate struct {
	chunkID        types.ChunkID
	denseScore     float64
	lexScore       float64
	rrfScore       float64
	rankPerSource  map[types.Source]int
	crossTierMatch bool
}

// rankedList is one source's ordered hit list going into RRF, already
// sorted best-first.
type rankedList struct {
	source types.Source
	boost  float64
	ids    []types.ChunkID
}

// fuse implements spec §4.7 stage 6: RRF(d) = Σ boost / (k + rank_i(d))
// across every list, keyed by chunk_id, carrying the best rank per
// source for diagnostics.
func fuse(lists []rankedList, k int, candidates map[types.ChunkID]*candidate) []*candidate {
	for _, list := range lists {
		for idx, id := range list.ids {
			c, ok := candidates[id]
			if !ok {
				continue
			}
			rank := idx + 1
			c.rrfScore += list.boost / float64(k+rank)
			if c.rankPerSource == nil {
				c.rankPerSource = make(map[types.Source]int)
			}
			if existing, ok := c.rankPerSource[list.source]; !ok || rank < existing {
				c.rankPerSource[list.source] = rank
			}
		}
	}

	out := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rrfScore != out[j].rrfScore {
			return out[i].rrfScore > out[j].rrfScore
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out
}

// dedupeNearDuplicates removes candidates whose content word set has
// Jaccard similarity >= threshold with an already-kept candidate,
// keeping the earlier (higher-ranked) one (spec §4.7 stage 6).
func dedupeNearDuplicates(ordered []*candidate, content map[types.ChunkID]string, threshold float64) []*candidate {
	var kept []*candidate
	var keptSets []map[string]bool

	for _, c := range ordered {
		set := wordSet(content[c.chunkID])
		isDup := false
		for _, ks := range keptSets {
			if jaccard(set, ks) >= threshold {
				isDup = true
				break
			}
		}
		if isDup {
			continue
		}
		kept = append(kept, c)
		keptSets = append(keptSets, set)
	}
	return kept
}

func wordSet(content string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range lexical.Tokenize(content) {
		set[tok] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
