package types

// Intent is the closed set of eight categories the query analyser
// classifies a question into. It is a sum type: every lookup against it
// (chunk-type filter, context budget, structured-output flag) is a map
// keyed by this type, never a runtime string switch at a hot path.
type Intent string

const (
	IntentDocuments    Intent = "documents"
	IntentRequirements Intent = "requirements"
	IntentProcess      Intent = "process"
	IntentLegal        Intent = "legal"
	IntentTimeline     Intent = "timeline"
	IntentFees         Intent = "fees"
	IntentLocation     Intent = "location"
	IntentOverview     Intent = "overview"
)

// Valid reports whether i is one of the eight closed intent values.
func (i Intent) Valid() bool {
	switch i {
	case IntentDocuments, IntentRequirements, IntentProcess, IntentLegal,
		IntentTimeline, IntentFees, IntentLocation, IntentOverview:
		return true
	default:
		return false
	}
}

// ContextConfig is the per-intent budget the assembler applies.
type ContextConfig struct {
	Chunks                 int
	MaxDescendants         int
	MaxSiblings            int
	IncludeParents         bool
	EnableStructuredOutput bool
}

// QueryPlan is the transient, per-request output of the query analyser.
type QueryPlan struct {
	RawQuestion           string
	Intent                Intent
	IntentConfidence       float64
	Expansions            []string
	DetectedProcedureCode string
	ContextConfig         ContextConfig
}

// Source names which retrieval channel produced a RetrievedItem.
type Source string

const (
	SourceDense    Source = "dense"
	SourceLexical  Source = "lexical"
	SourceFused    Source = "fused"
	SourceReranked Source = "reranked"
)

// RetrievedItem is the transient, per-request record the orchestrator
// carries between stages for a single candidate chunk.
type RetrievedItem struct {
	ChunkID         ChunkID
	Score           float64
	Source          Source
	RankPerSource   map[Source]int
	CrossTierMatch  bool
}

// RetrievalResult is what the orchestrator returns to its caller.
type RetrievalResult struct {
	Chunks      []RetrievedItem
	ContextText string
	Confidence  float64
	Intent      Intent
	Plan        QueryPlan
	Degraded    bool
	Metadata    map[string]interface{}
}
