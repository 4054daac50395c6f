package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/crag-go/internal/chunker"
	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/document"
	"github.com/54b3r/crag-go/internal/enricher"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/rag"
	"github.com/54b3r/crag-go/internal/retry"
)

const sampleDoc = `# Training Knowledge Base

## 1. Programming Principles

### Progressive Overload

Training stress must increase over time for continued adaptation.
Add load or reps week to week.
`

// scriptedModel answers each pipeline stage with canned responses.
type scriptedModel struct{}

func (s *scriptedModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	prompt := msgs[len(msgs)-1].Content
	switch {
	case strings.Contains(prompt, "<document_section>"):
		return schema.AssistantMessage(`["Training stress must increase over time.", "Add load or reps week to week."]`, nil), nil
	case strings.Contains(prompt, "<propositions>"):
		return schema.AssistantMessage(`[{"chunk_text": "Training stress must increase over time. Add load or reps week to week.", "topic": "Progressive overload", "propositions_used": [0, 1]}]`, nil), nil
	default:
		return schema.AssistantMessage("This chunk explains progressive overload within the programming principles section.", nil), nil
	}
}

func (s *scriptedModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("scriptedModel: streaming not supported")
}

func (s *scriptedModel) BindTools(_ []*schema.ToolInfo) error { return nil }

// memVectorIndex records upserts in memory.
type memVectorIndex struct {
	points map[string]rag.IndexedChunk
	resets int
	err    error
}

func newMemVectorIndex() *memVectorIndex {
	return &memVectorIndex{points: make(map[string]rag.IndexedChunk)}
}

func (m *memVectorIndex) Upsert(ctx context.Context, chunks []rag.IndexedChunk) error {
	if m.err != nil {
		return m.err
	}
	for _, c := range chunks {
		m.points[c.ChunkID] = c
	}
	return nil
}

func (m *memVectorIndex) Search(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]rag.RetrievedChunk, error) {
	return nil, nil
}

func (m *memVectorIndex) Get(ctx context.Context, chunkID string) (rag.RetrievedChunk, error) {
	return rag.RetrievedChunk{}, rag.ErrNotFound
}

func (m *memVectorIndex) Count(ctx context.Context) (uint64, error) {
	return uint64(len(m.points)), nil
}

func (m *memVectorIndex) Reset(ctx context.Context) error {
	m.resets++
	m.points = make(map[string]rag.IndexedChunk)
	return nil
}

func (m *memVectorIndex) Close() error { return nil }

// unitEmbedder returns a fixed vector per text.
type unitEmbedder struct {
	calls int
	err   error
}

func (u *unitEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func quietContext() context.Context {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return logging.WithLogger(context.Background(), log)
}

func testPipeline(t *testing.T, dataDir string, vector rag.VectorIndex, emb rag.Embedder) *Pipeline {
	t.Helper()

	settings := config.Settings{
		ChunkMinTokens:   200,
		ChunkMaxTokens:   800,
		SectionMaxTokens: 2000,
		ChunkWorkers:     2,
		Retry:            retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2.0},
		DataDir:          dataDir,
	}

	m := &scriptedModel{}
	p, err := NewPipeline(
		chunker.New(m, settings, nil),
		enricher.New(m, settings.Retry, nil),
		emb,
		vector,
		rag.NewBM25Index(),
		settings,
		nil,
	)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p
}

func writeSampleDoc(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "knowledge.md")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIngest_FullRun(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	docPath := writeSampleDoc(t, t.TempDir())
	vector := newMemVectorIndex()
	p := testPipeline(t, dataDir, vector, &unitEmbedder{})

	stats, err := p.Ingest(quietContext(), docPath, false)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if stats.DocumentTitle != "Training Knowledge Base" {
		t.Errorf("DocumentTitle = %q", stats.DocumentTitle)
	}
	if stats.ChunksCreated != 1 || stats.ChunksEnriched != 1 {
		t.Errorf("chunks created/enriched = %d/%d, want 1/1", stats.ChunksCreated, stats.ChunksEnriched)
	}
	if stats.EmbeddingsGenerated != 1 {
		t.Errorf("EmbeddingsGenerated = %d, want 1", stats.EmbeddingsGenerated)
	}
	if stats.Resumed {
		t.Error("fresh run should not report Resumed")
	}

	point, ok := vector.points["chunk_0"]
	if !ok {
		t.Fatal("chunk_0 not upserted to vector index")
	}
	if !strings.Contains(point.Text, "progressive overload") {
		t.Errorf("indexed text missing contextual description: %q", point.Text)
	}
	if point.Payload["topic"] != "Progressive overload" {
		t.Errorf("payload topic = %v", point.Payload["topic"])
	}

	// The dual index and metadata must exist; the checkpoint must not.
	if _, err := os.Stat(config.BM25IndexPath(dataDir)); err != nil {
		t.Errorf("lexical index blob missing: %v", err)
	}
	if _, err := os.Stat(config.MetadataPath(dataDir)); err != nil {
		t.Errorf("metadata file missing: %v", err)
	}
	if _, err := os.Stat(config.CheckpointPath(dataDir)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("checkpoint should be deleted after success, stat err = %v", err)
	}
}

func TestIngest_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	docPath := writeSampleDoc(t, t.TempDir())

	// First run fails at embedding, after the checkpoint write.
	failing := &unitEmbedder{err: errors.New("embedding service down")}
	p := testPipeline(t, dataDir, newMemVectorIndex(), failing)
	if _, err := p.Ingest(quietContext(), docPath, false); err == nil {
		t.Fatal("expected embedding failure")
	}
	if _, err := os.Stat(config.CheckpointPath(dataDir)); err != nil {
		t.Fatalf("checkpoint should survive the failed run: %v", err)
	}

	// Second run resumes at embedding without re-chunking.
	working := &unitEmbedder{}
	vector := newMemVectorIndex()
	p2 := testPipeline(t, dataDir, vector, working)
	stats, err := p2.Ingest(quietContext(), docPath, false)
	if err != nil {
		t.Fatalf("resumed Ingest failed: %v", err)
	}
	if !stats.Resumed {
		t.Error("expected Resumed = true")
	}
	if len(vector.points) != 1 {
		t.Errorf("expected 1 upserted point after resume, got %d", len(vector.points))
	}
	if _, err := os.Stat(config.CheckpointPath(dataDir)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("checkpoint should be deleted after resumed success, stat err = %v", err)
	}
}

func TestIngest_RebuildDiscardsCheckpoint(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	docPath := writeSampleDoc(t, t.TempDir())

	// Leave a checkpoint behind via a failed run.
	failing := &unitEmbedder{err: errors.New("down")}
	p := testPipeline(t, dataDir, newMemVectorIndex(), failing)
	if _, err := p.Ingest(quietContext(), docPath, false); err == nil {
		t.Fatal("expected embedding failure")
	}

	p2 := testPipeline(t, dataDir, newMemVectorIndex(), &unitEmbedder{})
	stats, err := p2.Ingest(quietContext(), docPath, true)
	if err != nil {
		t.Fatalf("rebuild Ingest failed: %v", err)
	}
	if stats.Resumed {
		t.Error("rebuild must not resume from the stale checkpoint")
	}
}

func TestIngest_RebuildClearsStaleVectorPoints(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	docPath := writeSampleDoc(t, t.TempDir())

	// A previous larger document left a point whose id is beyond anything
	// this run will produce. Ids restart at chunk_0 every run, so nothing
	// would ever overwrite it.
	vector := newMemVectorIndex()
	vector.points["chunk_5"] = rag.IndexedChunk{ChunkID: "chunk_5", Text: "stale"}

	p := testPipeline(t, dataDir, vector, &unitEmbedder{})
	if _, err := p.Ingest(quietContext(), docPath, true); err != nil {
		t.Fatalf("rebuild Ingest failed: %v", err)
	}

	if vector.resets != 1 {
		t.Errorf("vector resets = %d, want 1", vector.resets)
	}
	if _, ok := vector.points["chunk_5"]; ok {
		t.Error("stale chunk_5 survived rebuild")
	}
	if _, ok := vector.points["chunk_0"]; !ok {
		t.Error("chunk_0 missing after rebuild")
	}
}

func TestIngest_NonRebuildKeepsVectorPoints(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	docPath := writeSampleDoc(t, t.TempDir())
	vector := newMemVectorIndex()

	p := testPipeline(t, dataDir, vector, &unitEmbedder{})
	if _, err := p.Ingest(quietContext(), docPath, false); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if vector.resets != 0 {
		t.Errorf("vector resets = %d, want 0 for a non-rebuild run", vector.resets)
	}
}

func TestIngest_CorruptCheckpointStartsOver(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	docPath := writeSampleDoc(t, t.TempDir())

	if err := os.WriteFile(config.CheckpointPath(dataDir), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := testPipeline(t, dataDir, newMemVectorIndex(), &unitEmbedder{})
	stats, err := p.Ingest(quietContext(), docPath, false)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if stats.Resumed {
		t.Error("corrupt checkpoint must not be resumed")
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	t.Parallel()

	path := config.CheckpointPath(t.TempDir())
	doc := document.Parse(sampleDoc, "fallback")
	cp := &Checkpoint{
		Document: doc,
		EnrichedChunks: []enricher.EnrichedChunk{{
			Chunk:                 chunker.SemanticChunk{ChunkID: "chunk_0", Text: "chunk text"},
			ContextualDescription: "a description",
			FullText:              "a description\n\nchunk text",
		}},
		CreatedAt: time.Now(),
	}

	if err := saveCheckpoint(path, cp); err != nil {
		t.Fatalf("saveCheckpoint failed: %v", err)
	}
	loaded, err := loadCheckpoint(path)
	if err != nil {
		t.Fatalf("loadCheckpoint failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a checkpoint")
	}
	if loaded.Document.Title != doc.Title {
		t.Errorf("title = %q, want %q", loaded.Document.Title, doc.Title)
	}
	if loaded.EnrichedChunks[0].FullText != cp.EnrichedChunks[0].FullText {
		t.Errorf("full text did not round-trip: %q", loaded.EnrichedChunks[0].FullText)
	}
}

func TestLoadCheckpoint_Missing(t *testing.T) {
	t.Parallel()

	cp, err := loadCheckpoint(config.CheckpointPath(t.TempDir()))
	if err != nil {
		t.Fatalf("loadCheckpoint failed: %v", err)
	}
	if cp != nil {
		t.Error("expected nil checkpoint for missing file")
	}
}

func TestLoadCheckpoint_CorruptReportsError(t *testing.T) {
	t.Parallel()

	path := config.CheckpointPath(t.TempDir())
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := loadCheckpoint(path)
	if err == nil {
		t.Fatal("expected a decode error for a corrupt checkpoint")
	}
	if cp != nil {
		t.Error("corrupt checkpoint must not produce a usable value")
	}
}

func TestLoadCheckpoint_EmptyReportsError(t *testing.T) {
	t.Parallel()

	path := config.CheckpointPath(t.TempDir())
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadCheckpoint(path); err == nil {
		t.Fatal("expected an error for a checkpoint without document or chunks")
	}
}
