package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex backed by a Qdrant instance.
//
// Chunk IDs "chunk_N" map to numeric point ID N, so re-upserting the same
// chunk after a resumed ingestion overwrites the point instead of
// duplicating it. The string ID is also kept in the payload for retrieval.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex creates a new QdrantIndex, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorIndex.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Reset deletes and recreates the collection, dropping every stored point.
func (s *QdrantIndex) Reset(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to delete collection %q: %w", s.cfg.Collection, err)
		}
	}
	return s.ensureCollection(ctx)
}

// pointID converts a "chunk_N" identifier to its numeric point ID.
func pointID(chunkID string) (uint64, error) {
	raw, ok := strings.CutPrefix(chunkID, "chunk_")
	if !ok {
		return 0, fmt.Errorf("qdrant: malformed chunk ID %q", chunkID)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("qdrant: malformed chunk ID %q: %w", chunkID, err)
	}
	return n, nil
}

// Upsert writes chunks with their embeddings. Existing point IDs are
// overwritten, which makes re-running an ingestion after a checkpoint resume
// idempotent.
func (s *QdrantIndex) Upsert(ctx context.Context, chunks []IndexedChunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		id, err := pointID(chunk.ChunkID)
		if err != nil {
			return err
		}

		payload := map[string]any{
			"chunk_id": chunk.ChunkID,
			"text":     chunk.Text,
		}
		for k, v := range chunk.Payload {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(id),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k results
// with VectorRank assigned in result order. filter entries become payload
// match conditions that all must hold.
func (s *QdrantIndex) Search(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]RetrievedChunk, error) {
	limit := uint64(topK)
	query := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for field, value := range filter {
			conditions = append(conditions, qdrant.NewMatch(field, value))
		}
		query.Filter = &qdrant.Filter{Must: conditions}
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	chunks := make([]RetrievedChunk, 0, len(results))
	for i, r := range results {
		chunk := fromPayload(r.Payload)
		chunk.Score = float64(r.Score)
		chunk.VectorRank = i + 1
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// Get fetches a single chunk by its "chunk_N" identifier.
func (s *QdrantIndex) Get(ctx context.Context, chunkID string) (RetrievedChunk, error) {
	id, err := pointID(chunkID)
	if err != nil {
		return RetrievedChunk{}, err
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return RetrievedChunk{}, fmt.Errorf("qdrant: get %s failed: %w", chunkID, err)
	}
	if len(points) == 0 {
		return RetrievedChunk{}, fmt.Errorf("qdrant: get %s: %w", chunkID, ErrNotFound)
	}

	return fromPayload(points[0].Payload), nil
}

// Count returns the number of points in the collection.
func (s *QdrantIndex) Count(ctx context.Context) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return n, nil
}

// Client exposes the underlying gRPC client, used by readiness probes.
func (s *QdrantIndex) Client() *qdrant.Client {
	return s.client
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// fromPayload rebuilds a RetrievedChunk from a stored point payload.
func fromPayload(payload map[string]*qdrant.Value) RetrievedChunk {
	chunk := RetrievedChunk{Metadata: make(map[string]any)}
	for k, v := range payload {
		switch k {
		case "chunk_id":
			chunk.ChunkID = v.GetStringValue()
		case "text":
			chunk.Text = v.GetStringValue()
		default:
			chunk.Metadata[k] = valueToAny(v)
		}
	}
	return chunk
}

// valueToAny converts a Qdrant payload value to its plain Go form. Payloads
// only contain scalars (metadata is flattened before upsert).
func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	default:
		return v.String()
	}
}
