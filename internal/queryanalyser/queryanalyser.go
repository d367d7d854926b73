// Package queryanalyser implements stage 1 of the retrieval pipeline:
// turning a raw question into a QueryPlan the rest of the orchestrator
// consumes without re-parsing the text. Grounded on the teacher's
// pattern of closed-enum dispatch via lookup tables rather than runtime
// string matching (internal/types.ChunkType-style sum types).
package queryanalyser

import (
	"context"
	"regexp"
	"strings"

	"thutuc-retrieval/internal/llmclient"
	"thutuc-retrieval/internal/logging"
	"thutuc-retrieval/internal/types"
)

// procedureCodeRe matches a dotted procedure code like "1.013124".
var procedureCodeRe = regexp.MustCompile(`\b\d+\.\d{5,7}\b`)

// chunkTypeFilter is the intent -> chunk_type filter table (spec §4.7).
var chunkTypeFilter = map[types.Intent][]types.ChunkType{
	types.IntentDocuments:    {types.ChunkTypeDocuments},
	types.IntentRequirements: {types.ChunkTypeRequirements},
	types.IntentProcess:      {types.ChunkTypeProcess},
	types.IntentLegal:        {types.ChunkTypeLegal},
	types.IntentTimeline:     {types.ChunkTypeFeesTiming},
	types.IntentFees:         {types.ChunkTypeFeesTiming},
	types.IntentLocation:     {types.ChunkTypeAgencies},
	types.IntentOverview:     nil, // no filter
}

// contextBudget is the intent -> ContextConfig table (spec §6, exact values).
var contextBudget = map[types.Intent]types.ContextConfig{
	types.IntentDocuments:    {Chunks: 2, MaxDescendants: 5, MaxSiblings: 2, IncludeParents: true, EnableStructuredOutput: true},
	types.IntentFees:         {Chunks: 2, MaxDescendants: 3, MaxSiblings: 1, IncludeParents: true, EnableStructuredOutput: true},
	types.IntentProcess:      {Chunks: 2, MaxDescendants: 40, MaxSiblings: 5, IncludeParents: true, EnableStructuredOutput: true},
	types.IntentLegal:        {Chunks: 3, MaxDescendants: 4, MaxSiblings: 3, IncludeParents: true, EnableStructuredOutput: true},
	types.IntentTimeline:     {Chunks: 3, MaxDescendants: 4, MaxSiblings: 3, IncludeParents: true, EnableStructuredOutput: true},
	types.IntentRequirements: {Chunks: 2, MaxDescendants: 2, MaxSiblings: 3, IncludeParents: true, EnableStructuredOutput: true},
	types.IntentLocation:     {Chunks: 2, MaxDescendants: 3, MaxSiblings: 1, IncludeParents: true, EnableStructuredOutput: true},
	types.IntentOverview:     {Chunks: 3, MaxDescendants: 5, MaxSiblings: 2, IncludeParents: true, EnableStructuredOutput: false},
}

// synonymTable is the fixed substitution table spec §4.1 names.
var synonymTable = map[string][]string{
	"đăng ký": {"đk", "ghi danh"},
	"đk":      {"đăng ký", "ghi danh"},
	"ghi danh": {"đăng ký", "đk"},
	"giấy tờ": {"hồ sơ", "tài liệu"},
	"hồ sơ":   {"giấy tờ", "tài liệu"},
	"tài liệu": {"giấy tờ", "hồ sơ"},
}

const maxExpansions = 5
const maxParaphrases = 3
const maxSynonymVariants = 2

// ChunkTypeFilter returns the chunk_type filter for intent (nil means
// "no filter").
func ChunkTypeFilter(intent types.Intent) []types.ChunkType {
	return chunkTypeFilter[intent]
}

// ContextConfigFor returns the per-intent context budget (spec §4.1,
// "context_config_for"). Unknown intents fall back to overview's budget.
func ContextConfigFor(intent types.Intent) types.ContextConfig {
	if cfg, ok := contextBudget[intent]; ok {
		return cfg
	}
	return contextBudget[types.IntentOverview]
}

// Analyser turns raw questions into query plans.
type Analyser struct {
	llm llmclient.Client
	log logging.Logger
}

// New builds an Analyser backed by llm.
func New(llm llmclient.Client, log logging.Logger) *Analyser {
	return &Analyser{llm: llm, log: log.WithComponent("queryanalyser")}
}

// Analyse implements spec §4.1's analyse(question) -> QueryPlan.
func (a *Analyser) Analyse(ctx context.Context, question string) types.QueryPlan {
	plan := types.QueryPlan{RawQuestion: question}

	intent, confidence, err := a.llm.ClassifyIntent(ctx, question)
	if err != nil || !types.Intent(intent).Valid() {
		a.log.WarnContext(ctx, "intent classification failed, falling back to overview", "error", err)
		plan.Intent = types.IntentOverview
		plan.IntentConfidence = 0
	} else {
		plan.Intent = types.Intent(intent)
		plan.IntentConfidence = confidence
	}
	plan.ContextConfig = ContextConfigFor(plan.Intent)

	if m := procedureCodeRe.FindString(question); m != "" {
		plan.DetectedProcedureCode = m
	}

	plan.Expansions = a.buildExpansions(ctx, question)
	return plan
}

func (a *Analyser) buildExpansions(ctx context.Context, question string) []string {
	seen := map[string]bool{strings.ToLower(question): true}
	expansions := []string{question}

	paraphrases, err := a.llm.Paraphrase(ctx, question, maxParaphrases)
	if err != nil {
		a.log.WarnContext(ctx, "paraphrase generation failed", "error", err)
		paraphrases = nil
	}
	for _, p := range paraphrases {
		if len(expansions) >= maxExpansions {
			break
		}
		key := strings.ToLower(p)
		if seen[key] || p == "" {
			continue
		}
		seen[key] = true
		expansions = append(expansions, p)
	}

	for _, variant := range synonymVariants(question) {
		if len(expansions) >= maxExpansions {
			break
		}
		key := strings.ToLower(variant)
		if seen[key] {
			continue
		}
		seen[key] = true
		expansions = append(expansions, variant)
	}

	return expansions
}

// synonymVariants substitutes at most one occurrence of a known phrase
// per variant, up to maxSynonymVariants variants, from synonymTable.
func synonymVariants(question string) []string {
	lower := strings.ToLower(question)
	var variants []string
	for phrase, subs := range synonymTable {
		idx := strings.Index(lower, phrase)
		if idx < 0 {
			continue
		}
		for _, sub := range subs {
			if len(variants) >= maxSynonymVariants {
				return variants
			}
			variants = append(variants, question[:idx]+sub+question[idx+len(phrase):])
		}
	}
	return variants
}
