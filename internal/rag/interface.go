// Package rag implements hybrid retrieval over a dual index: a Qdrant
// vector index for semantic search and a BM25 index for lexical search,
// joined by weighted reciprocal rank fusion, optionally reranked, and
// selected into a token-budgeted context block.
package rag

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a chunk ID is absent from an index.
var ErrNotFound = errors.New("rag: chunk not found")

// IndexedChunk is a chunk as written to the vector index: the enriched text,
// its embedding, and the flattened metadata payload.
type IndexedChunk struct {
	// ChunkID is the stable "chunk_N" identifier.
	ChunkID string

	// Text is the enriched full text (contextual description + chunk).
	Text string

	// Vector is the embedding of Text.
	Vector []float32

	// Payload holds flattened scalar metadata. List-valued tags are stored
	// as comma-joined strings so every value is a string, bool, or number.
	Payload map[string]any
}

// RetrievedChunk is one result of hybrid retrieval.
type RetrievedChunk struct {
	// ChunkID is the stable "chunk_N" identifier.
	ChunkID string `json:"chunk_id"`

	// Text is the enriched chunk text.
	Text string `json:"text"`

	// Metadata holds the flattened payload stored at index time.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Score is the fused (or reranked) relevance score.
	Score float64 `json:"score"`

	// VectorRank is the 1-based rank in the vector result list, 0 when the
	// chunk did not appear there.
	VectorRank int `json:"vector_rank,omitempty"`

	// LexicalRank is the 1-based rank in the lexical result list, 0 when
	// the chunk did not appear there.
	LexicalRank int `json:"lexical_rank,omitempty"`
}

// VectorIndex is the semantic half of the dual index.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Upsert writes chunks with pre-computed embeddings. Re-upserting an
	// existing chunk ID replaces it.
	Upsert(ctx context.Context, chunks []IndexedChunk) error

	// Search returns the topK nearest chunks with VectorRank set. filter
	// restricts candidates to chunks whose payload matches every entry.
	Search(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]RetrievedChunk, error)

	// Get fetches a single chunk by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, chunkID string) (RetrievedChunk, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (uint64, error)

	// Reset drops every stored chunk. Chunk ids restart at chunk_0 on each
	// ingestion run, so a rebuild must clear the index or points beyond the
	// new run's highest id would survive and stay retrievable.
	Reset(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// LexicalIndex is the keyword half of the dual index. It is built in memory
// during ingestion and persisted to disk.
type LexicalIndex interface {
	// Search returns the topK highest-scoring chunks with LexicalRank set.
	Search(query string, topK int) ([]RetrievedChunk, error)

	// Len returns the number of indexed documents.
	Len() int
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryEmbedder embeds a single search query. Backends that distinguish
// document and query inputs (e.g. Voyage's input_type) implement this with
// the query variant; others embed the text as-is.
type QueryEmbedder interface {
	// EmbedQuery converts one query into its embedding.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
