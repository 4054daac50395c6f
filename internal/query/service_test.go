package query

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/rag"
	"github.com/54b3r/crag-go/internal/retry"
)

type fakeVectorIndex struct {
	results []rag.RetrievedChunk
	count   uint64
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, chunks []rag.IndexedChunk) error { return nil }

func (f *fakeVectorIndex) Search(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]rag.RetrievedChunk, error) {
	return f.results, nil
}

func (f *fakeVectorIndex) Get(ctx context.Context, chunkID string) (rag.RetrievedChunk, error) {
	return rag.RetrievedChunk{}, rag.ErrNotFound
}

func (f *fakeVectorIndex) Count(ctx context.Context) (uint64, error) { return f.count, nil }
func (f *fakeVectorIndex) Reset(ctx context.Context) error           { return nil }
func (f *fakeVectorIndex) Close() error                              { return nil }

type fakeEmbedder struct{}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func quietContext() context.Context {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return logging.WithLogger(context.Background(), log)
}

func testSettings(dataDir string) config.Settings {
	return config.Settings{
		SemanticTopK:    20,
		LexicalTopK:     20,
		RRFK:            60,
		SemanticWeight:  1,
		LexicalWeight:   1,
		RerankTopN:      10,
		FinalChunksMin:  3,
		FinalChunksMax:  10,
		MaxTokensBudget: 2000,
		Retry:           retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2.0},
		DataDir:         dataDir,
	}
}

func builtLexicalIndex(texts map[string]string) *rag.BM25Index {
	idx := rag.NewBM25Index()
	docs := make([]rag.LexicalDoc, 0, len(texts))
	for id, text := range texts {
		docs = append(docs, rag.LexicalDoc{ChunkID: id, Text: text})
	}
	idx.Build(docs)
	return idx
}

func vectorResults(ids ...string) []rag.RetrievedChunk {
	out := make([]rag.RetrievedChunk, 0, len(ids))
	for i, id := range ids {
		out = append(out, rag.RetrievedChunk{
			ChunkID:    id,
			Text:       "text for " + id,
			Metadata:   map[string]any{"topic": "Topic " + id, "section_title": "Section"},
			VectorRank: i + 1,
		})
	}
	return out
}

func TestLoadLexicalIndex_MissingBlob(t *testing.T) {
	t.Parallel()

	_, err := LoadLexicalIndex(t.TempDir())
	if !errors.Is(err, ErrIndexNotReady) {
		t.Errorf("expected ErrIndexNotReady, got %v", err)
	}
}

func TestLoadLexicalIndex_RoundTrip(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	idx := builtLexicalIndex(map[string]string{"chunk_0": "strength training basics"})
	if err := idx.Save(config.BM25IndexPath(dataDir)); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadLexicalIndex(dataDir)
	if err != nil {
		t.Fatalf("LoadLexicalIndex failed: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("loaded index has %d docs, want 1", loaded.Len())
	}
}

func TestRetrieveChunks_TruncatesWithoutReranker(t *testing.T) {
	t.Parallel()

	vector := &fakeVectorIndex{results: vectorResults("chunk_0", "chunk_1", "chunk_2", "chunk_3")}
	lexical := builtLexicalIndex(map[string]string{"chunk_0": "text for chunk_0"})
	s, err := NewService(vector, lexical, &fakeEmbedder{}, nil, testSettings(t.TempDir()), nil)
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := s.RetrieveChunks(quietContext(), "strength", Options{TopK: 2})
	if err != nil {
		t.Fatalf("RetrieveChunks failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}
}

func TestRetrieveChunks_AppliesReranker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test server
			"results": []map[string]any{{"index": 1, "relevance_score": 0.99}},
		})
	}))
	defer srv.Close()

	settings := testSettings(t.TempDir())
	reranker := rag.NewReranker(&rag.RerankConfig{
		Endpoint: srv.URL,
		APIKey:   "k",
		Retry:    settings.Retry,
	}, nil)

	vector := &fakeVectorIndex{results: vectorResults("chunk_0", "chunk_1")}
	lexical := builtLexicalIndex(map[string]string{"chunk_0": "text for chunk_0"})
	s, err := NewService(vector, lexical, &fakeEmbedder{}, reranker, settings, nil)
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := s.RetrieveChunks(quietContext(), "q", Options{TopK: 1})
	if err != nil {
		t.Fatalf("RetrieveChunks failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ChunkID != "chunk_1" {
		t.Errorf("expected reranked chunk_1, got %+v", chunks)
	}

	// DisableRerank keeps the fused order.
	chunks, err = s.RetrieveChunks(quietContext(), "q", Options{TopK: 1, DisableRerank: true})
	if err != nil {
		t.Fatalf("RetrieveChunks failed: %v", err)
	}
	if chunks[0].ChunkID != "chunk_0" {
		t.Errorf("expected fused-order chunk_0 with rerank disabled, got %s", chunks[0].ChunkID)
	}
}

func TestRetrieveForContext_FormatsBlock(t *testing.T) {
	t.Parallel()

	vector := &fakeVectorIndex{results: vectorResults("chunk_0", "chunk_1")}
	lexical := builtLexicalIndex(map[string]string{"chunk_0": "text for chunk_0"})
	s, err := NewService(vector, lexical, &fakeEmbedder{}, nil, testSettings(t.TempDir()), nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := s.RetrieveForContext(quietContext(), "strength", Options{})
	if err != nil {
		t.Fatalf("RetrieveForContext failed: %v", err)
	}
	if !strings.HasPrefix(out, "# Retrieved Knowledge") {
		t.Errorf("missing context header: %q", out[:40])
	}
	if !strings.Contains(out, "## Source 1: Topic chunk_0") {
		t.Error("missing first labeled source")
	}
	if !strings.Contains(out, "text for chunk_0") {
		t.Error("missing chunk text")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	vector := &fakeVectorIndex{count: 42}
	lexical := builtLexicalIndex(map[string]string{"chunk_0": "some indexed text here"})
	s, err := NewService(vector, lexical, &fakeEmbedder{}, nil, testSettings(t.TempDir()), nil)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(quietContext())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.VectorChunks != 42 {
		t.Errorf("VectorChunks = %d, want 42", stats.VectorChunks)
	}
	if stats.Lexical.Documents != 1 {
		t.Errorf("Lexical.Documents = %d, want 1", stats.Lexical.Documents)
	}
}
