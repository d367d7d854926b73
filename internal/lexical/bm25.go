package lexical

import (
	"math"
	"sort"
	"sync"

	"thutuc-retrieval/internal/types"
)

// Scored is a single BM25 hit (spec §4.2: bm25_search returns ordered
// (chunk_id, score) pairs).
type Scored struct {
	ChunkID types.ChunkID
	Score   float64
}

// Stats is the surface spec §6 names: lexical.stats().
type Stats struct {
	NumDocs     int     `json:"num_docs"`
	AvgDocLen   float64 `json:"avg_doc_length"`
	VocabSize   int     `json:"vocab_size"`
	K1          float64 `json:"k1"`
	B           float64 `json:"b"`
}

type document struct {
	chunkID types.ChunkID
	terms   map[string]int
	length  int
}

// Index is a hand-rolled, configurable Okapi BM25 index: no example in
// the retrieval pack exposes k1/b at the public-API granularity the
// stopword-invariance property (spec §8 property 4) requires, so this
// is built directly on the Okapi formula rather than wrapping a
// full-text search library's opaque scorer.
type Index struct {
	mu        sync.RWMutex
	k1        float64
	b         float64
	docs      []document
	postings  map[string][]int // term -> doc indices
	docFreq   map[string]int
	avgDocLen float64
}

// New builds an empty index with the given k1/b (spec §6 defaults:
// k1=1.5, b=0.75).
func New(k1, b float64) *Index {
	return &Index{
		k1:       k1,
		b:        b,
		postings: make(map[string][]int),
		docFreq:  make(map[string]int),
	}
}

// Build replaces the index contents from chunks, the way the BM25
// index must be rebuilt whenever the chunk store reloads (spec §4.2
// invariant).
func (ix *Index) Build(chunks []types.Chunk) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.docs = make([]document, 0, len(chunks))
	ix.postings = make(map[string][]int)
	ix.docFreq = make(map[string]int)

	var totalLen int
	for _, c := range chunks {
		tokens := Tokenize(c.Content)
		terms := make(map[string]int, len(tokens))
		for _, t := range tokens {
			terms[t]++
		}
		docIdx := len(ix.docs)
		ix.docs = append(ix.docs, document{chunkID: c.ChunkID, terms: terms, length: len(tokens)})
		totalLen += len(tokens)

		for term := range terms {
			ix.postings[term] = append(ix.postings[term], docIdx)
			ix.docFreq[term]++
		}
	}

	if len(ix.docs) > 0 {
		ix.avgDocLen = float64(totalLen) / float64(len(ix.docs))
	} else {
		ix.avgDocLen = 0
	}
}

// Search implements spec §4.2's bm25_search(query, k).
func (ix *Index) Search(query string, k int) []Scored {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.docs) == 0 {
		return nil
	}

	queryTerms := Tokenize(query)
	scores := make(map[int]float64)
	n := float64(len(ix.docs))

	for _, term := range queryTerms {
		docIdxs, ok := ix.postings[term]
		if !ok {
			continue
		}
		df := float64(ix.docFreq[term])
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		if idf < 0 {
			idf = 0
		}

		for _, di := range docIdxs {
			doc := ix.docs[di]
			tf := float64(doc.terms[term])
			denom := tf + ix.k1*(1-ix.b+ix.b*float64(doc.length)/ix.avgDocLen)
			scores[di] += idf * (tf * (ix.k1 + 1) / denom)
		}
	}

	results := make([]Scored, 0, len(scores))
	for di, score := range scores {
		results = append(results, Scored{ChunkID: ix.docs[di].chunkID, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// Stats implements spec §6's lexical.stats().
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return Stats{
		NumDocs:   len(ix.docs),
		AvgDocLen: ix.avgDocLen,
		VocabSize: len(ix.postings),
		K1:        ix.k1,
		B:         ix.b,
	}
}
