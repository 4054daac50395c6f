package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/embedder"
	"github.com/54b3r/crag-go/internal/query"
	"github.com/54b3r/crag-go/internal/rag"
)

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openVectorIndex connects to Qdrant using QDRANT_* env vars, sizing the
// collection for the configured embedding backend.
func openVectorIndex(ctx context.Context, log *slog.Logger) (*rag.QdrantIndex, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := 6334
	if raw := os.Getenv("QDRANT_PORT"); raw != "" {
		fmt.Sscanf(raw, "%d", &port) //nolint:errcheck // unparseable value keeps the default
	}
	collection := getEnvOrDefault("QDRANT_COLLECTION", "crag-chunks")
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	index, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	log.Info("qdrant index ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return index, nil
}

// buildQueryService wires the full retrieval stack: loaded lexical index,
// Qdrant connection, query embedder, and optional reranker. The Qdrant index
// is returned alongside the service so callers can attach readiness probes;
// the close function releases the connection.
func buildQueryService(ctx context.Context, log *slog.Logger, settings config.Settings, tracker *costs.Tracker) (*query.Service, *rag.QdrantIndex, func(), error) {
	lexical, err := query.LoadLexicalIndex(settings.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, nil, nil, err
	}
	emb, err := embedder.NewClientFromEnv(settings.EmbeddingBatchSize, settings.Retry, tracker)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	vector, err := openVectorIndex(ctx, log)
	if err != nil {
		return nil, nil, nil, err
	}

	reranker := rag.NewRerankerFromEnv(settings.Retry, tracker)
	if reranker == nil {
		log.Info("reranking disabled", slog.String("reason", "RERANK_API_KEY not set"))
	}

	svc, err := query.NewService(vector, lexical, emb, reranker, settings, tracker)
	if err != nil {
		vector.Close() //nolint:errcheck // already failing
		return nil, nil, nil, err
	}
	return svc, vector, func() { _ = vector.Close() }, nil
}
