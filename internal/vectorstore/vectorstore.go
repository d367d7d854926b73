// Package vectorstore adapts the dense-retrieval collaborator (stages 3
// and 4) to a Qdrant collection, the way the teacher's internal/storage
// package adapts conversation-chunk persistence to Qdrant: a thin client
// wrapper plus payload<->domain-type conversion and filter construction.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"thutuc-retrieval/internal/circuitbreaker"
	"thutuc-retrieval/internal/config"
	"thutuc-retrieval/internal/logging"
	"thutuc-retrieval/internal/types"

	"github.com/qdrant/go-client/qdrant"
)

// ScoredChunk is a single dense-search hit.
type ScoredChunk struct {
	ChunkID types.ChunkID
	Score   float64
}

// Filter narrows a Search call to a tier and a set of chunk types and
// procedure ids (spec §4.4/§4.5: all three are conjunctive).
type Filter struct {
	Tier         types.Tier
	ChunkTypes   []types.ChunkType
	ProcedureIDs []types.ProcedureID
}

// Store is what the orchestrator depends on; Qdrant is the only
// production implementation in this module, and the interface lets
// stage 3/4 tests substitute the in-memory Fake.
type Store interface {
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]ScoredChunk, error)
	Upsert(ctx context.Context, chunk types.Chunk, vector []float32) error
	HealthCheck(ctx context.Context) error
}

// QdrantStore implements Store against a running Qdrant instance.
type QdrantStore struct {
	client         *qdrant.Client
	collectionName string
	dimensions     uint64
	breaker        *circuitbreaker.CircuitBreaker
	log            logging.Logger
}

// New dials the collection named in cfg. It does not create the
// collection; operators provision it out of band the way the teacher's
// QdrantStore.Initialize does at service startup.
func New(cfg *config.VectorDBConfig, dimensions int, log logging.Logger) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create client: %w", err)
	}

	scoped := log.WithComponent("vectorstore")
	cb := circuitbreaker.New("vectorstore", &circuitbreaker.Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
	}, circuitbreaker.LogStateChange(scoped))

	return &QdrantStore{
		client:         client,
		collectionName: cfg.Collection,
		dimensions:     uint64(dimensions),
		breaker:        cb,
		log:            scoped,
	}, nil
}

// BreakerStats exposes the vector store's circuit breaker counters for
// internal/metrics.
func (s *QdrantStore) BreakerStats() circuitbreaker.Stats {
	return s.breaker.Stats()
}

// Search runs dense kNN search under circuit-breaker protection, scoped
// to filter. A tripped breaker returns circuitbreaker.ErrCircuitOpen,
// which the orchestrator treats the same as any other dense-channel
// failure (spec §4.4: degrade, do not fail the whole request).
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]ScoredChunk, error) {
	var hits []ScoredChunk
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		qf := buildFilter(filter)
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collectionName,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)), //nolint:gosec
			WithPayload:    qdrant.NewWithPayload(false),
			Filter:         qf,
		})
		if err != nil {
			return fmt.Errorf("vectorstore: query: %w", err)
		}
		hits = make([]ScoredChunk, 0, len(res))
		for _, point := range res {
			hits = append(hits, ScoredChunk{
				ChunkID: types.ChunkID(pointIDToString(point.GetId())),
				Score:   float64(point.GetScore()),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// Upsert writes a chunk's vector and filterable payload fields. Used by
// the indexing path (outside the query-time Retrieve call) to keep the
// collection current with the chunk store.
func (s *QdrantStore) Upsert(ctx context.Context, chunk types.Chunk, vector []float32) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		point := &qdrant.PointStruct{
			Id: stringToPointID(chunk.ChunkID.String()),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vector}},
			},
			Payload: map[string]*qdrant.Value{
				"tier":         stringValue(string(chunk.Tier)),
				"chunk_type":   stringValue(string(chunk.ChunkType)),
				"procedure_id": stringValue(chunk.ProcedureID.String()),
			},
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collectionName,
			Points:         []*qdrant.PointStruct{point},
		})
		if err != nil {
			return fmt.Errorf("vectorstore: upsert: %w", err)
		}
		return nil
	})
}

// HealthCheck reports whether the collection is reachable.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.GetCollectionInfo(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("vectorstore: health check: %w", err)
	}
	return nil
}

func buildFilter(f Filter) *qdrant.Filter {
	var conditions []*qdrant.Condition

	if f.Tier != "" {
		conditions = append(conditions, matchKeyword("tier", string(f.Tier)))
	}
	if len(f.ChunkTypes) > 0 {
		keywords := make([]string, len(f.ChunkTypes))
		for i, ct := range f.ChunkTypes {
			keywords[i] = string(ct)
		}
		conditions = append(conditions, matchKeywords("chunk_type", keywords))
	}
	if len(f.ProcedureIDs) > 0 {
		keywords := make([]string, len(f.ProcedureIDs))
		for i, p := range f.ProcedureIDs {
			keywords[i] = p.String()
		}
		conditions = append(conditions, matchKeywords("procedure_id", keywords))
	}

	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func matchKeyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func matchKeywords(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}
