// Package query is the retrieval facade: a handle constructed once over the
// dual index that answers queries end to end (hybrid search, optional
// rerank, token-budgeted selection, context formatting). This facade backs
// `crag query` and the HTTP server's /api/query endpoint.
package query

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/rag"
)

// ErrIndexNotReady is returned when the lexical index blob is absent, which
// means no ingestion has completed against this data directory.
var ErrIndexNotReady = errors.New("query: index not ready, run `crag ingest` first")

// Options tunes a single retrieval call. Zero values fall back to the
// configured defaults.
type Options struct {
	// TopK is the maximum number of chunks returned (default FINAL_CHUNKS_MAX).
	TopK int
	// DisableRerank skips the rerank stage even when a reranker is configured.
	DisableRerank bool
	// MaxTokens overrides the token budget (default MAX_TOKENS_BUDGET).
	MaxTokens int
	// MetadataFilter restricts vector-side candidates to matching payloads.
	MetadataFilter map[string]string
}

// Service answers retrieval queries against an ingested knowledge base.
type Service struct {
	retriever *rag.HybridRetriever
	reranker  *rag.Reranker
	vector    rag.VectorIndex
	lexical   *rag.BM25Index
	settings  config.Settings
	costs     *costs.Tracker
}

// NewService constructs a Service over loaded indexes. reranker may be nil,
// in which case retrieval keeps the fused order; tracker may be nil.
func NewService(vector rag.VectorIndex, lexical *rag.BM25Index, embedder rag.QueryEmbedder, reranker *rag.Reranker, settings config.Settings, tracker *costs.Tracker) (*Service, error) {
	if tracker == nil {
		tracker = costs.NewTracker()
	}
	retriever, err := rag.NewHybridRetriever(vector, lexical, embedder, rag.FusionConfig{
		SemanticTopK:   settings.SemanticTopK,
		LexicalTopK:    settings.LexicalTopK,
		RRFK:           settings.RRFK,
		SemanticWeight: settings.SemanticWeight,
		LexicalWeight:  settings.LexicalWeight,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		retriever: retriever,
		reranker:  reranker,
		vector:    vector,
		lexical:   lexical,
		settings:  settings,
		costs:     tracker,
	}, nil
}

// LoadLexicalIndex loads the persisted lexical index from the data dir.
// A missing blob returns ErrIndexNotReady without touching the network.
func LoadLexicalIndex(dataDir string) (*rag.BM25Index, error) {
	idx := rag.NewBM25Index()
	if err := idx.Load(config.BM25IndexPath(dataDir)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrIndexNotReady
		}
		return nil, err
	}
	return idx, nil
}

// RetrieveChunks returns ranked chunks for a query: hybrid retrieval over a
// wide candidate pool, then reranking (or plain truncation) down to TopK.
// Useful for inspection; RetrieveForContext is the production surface.
func (s *Service) RetrieveChunks(ctx context.Context, queryText string, opts Options) ([]rag.RetrievedChunk, error) {
	log := logging.FromContext(ctx)

	topK := opts.TopK
	if topK <= 0 {
		topK = s.settings.FinalChunksMax
	}

	// Retrieve a wider pool than the final count so the reranker has
	// candidates to work with.
	poolSize := s.settings.SemanticTopK
	if s.settings.LexicalTopK > poolSize {
		poolSize = s.settings.LexicalTopK
	}
	if poolSize < topK {
		poolSize = topK
	}

	fused, err := s.retriever.Retrieve(ctx, queryText, poolSize, opts.MetadataFilter)
	if err != nil {
		return nil, err
	}

	if s.reranker != nil && !opts.DisableRerank {
		return s.reranker.Rerank(ctx, queryText, fused, topK), nil
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}
	log.Debug("returning fused results without reranking", slog.Int("chunks", len(fused)))
	return fused, nil
}

// Answer is a full query result: the formatted context block plus the
// selected chunks that went into it.
type Answer struct {
	// Context is the formatted, token-budgeted context block.
	Context string `json:"context"`
	// Chunks is the selected chunks, in context order.
	Chunks []rag.RetrievedChunk `json:"chunks"`
}

// Retrieve answers a query end to end: hybrid retrieval, optional rerank,
// budget selection, and formatting.
func (s *Service) Retrieve(ctx context.Context, queryText string, opts Options) (*Answer, error) {
	log := logging.FromContext(ctx)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.settings.MaxTokensBudget
	}

	chunks, err := s.RetrieveChunks(ctx, queryText, opts)
	if err != nil {
		return nil, err
	}

	selected := rag.SelectWithinBudget(chunks, rag.SelectConfig{
		MinChunks: s.settings.FinalChunksMin,
		MaxChunks: s.settings.FinalChunksMax,
		MaxTokens: maxTokens,
	})
	formatted := rag.FormatContext(selected, maxTokens)

	log.Info("context assembled",
		slog.Int("candidates", len(chunks)),
		slog.Int("selected", len(selected)),
		slog.Int("max_tokens", maxTokens),
	)
	s.costs.LogSummary(log)
	return &Answer{Context: formatted, Chunks: selected}, nil
}

// RetrieveForContext answers a query with just the formatted context block,
// ready to embed in an LLM prompt.
func (s *Service) RetrieveForContext(ctx context.Context, queryText string, opts Options) (string, error) {
	answer, err := s.Retrieve(ctx, queryText, opts)
	if err != nil {
		return "", err
	}
	return answer.Context, nil
}

// Stats describes the state of the dual index.
type Stats struct {
	// VectorChunks is the vector-index point count.
	VectorChunks uint64 `json:"vector_chunks"`
	// Lexical summarizes the lexical index corpus.
	Lexical rag.BM25Stats `json:"lexical"`
	// Costs is the spend accumulated by this service instance.
	Costs costs.Summary `json:"costs"`
}

// Stats reports index statistics for the stats surface.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	count, err := s.vector.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: vector count failed: %w", err)
	}
	return &Stats{
		VectorChunks: count,
		Lexical:      s.lexical.Stats(),
		Costs:        s.costs.Snapshot(),
	}, nil
}
