package enricher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/crag-go/internal/chunker"
	"github.com/54b3r/crag-go/internal/document"
	"github.com/54b3r/crag-go/internal/retry"
)

type fakeModel struct {
	respond func(msgs []*schema.Message) (string, error)
}

func (f *fakeModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	content, err := f.respond(msgs)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (f *fakeModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("fakeModel: streaming not supported")
}

func (f *fakeModel) BindTools(_ []*schema.ToolInfo) error { return nil }

var fastPolicy = retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2.0}

func Test_EnrichChunk_BuildsFullText(t *testing.T) {
	t.Parallel()

	m := &fakeModel{respond: func(msgs []*schema.Message) (string, error) {
		return "  This chunk covers linear progression.  ", nil
	}}
	e := New(m, fastPolicy, nil)

	chunk := chunker.SemanticChunk{ChunkID: "chunk_0", Text: "Add weight every session."}
	out, err := e.EnrichChunk(context.Background(), chunk, "full document text")
	if err != nil {
		t.Fatal(err)
	}

	if out.ContextualDescription != "This chunk covers linear progression." {
		t.Errorf("description = %q (whitespace not trimmed?)", out.ContextualDescription)
	}
	want := "This chunk covers linear progression.\n\nAdd weight every session."
	if out.FullText != want {
		t.Errorf("FullText = %q, want %q", out.FullText, want)
	}
	if out.Chunk.ChunkID != "chunk_0" {
		t.Errorf("source chunk not preserved: %+v", out.Chunk)
	}
}

func Test_EnrichChunk_DocumentAsSystemSegment(t *testing.T) {
	t.Parallel()

	var captured []*schema.Message
	m := &fakeModel{respond: func(msgs []*schema.Message) (string, error) {
		captured = msgs
		return "ctx", nil
	}}
	e := New(m, fastPolicy, nil)

	chunk := chunker.SemanticChunk{ChunkID: "chunk_0", Text: "chunk body"}
	if _, err := e.EnrichChunk(context.Background(), chunk, "THE WHOLE DOCUMENT"); err != nil {
		t.Fatal(err)
	}

	if len(captured) != 2 {
		t.Fatalf("got %d messages, want 2 (system + user)", len(captured))
	}
	if captured[0].Role != schema.System ||
		!strings.Contains(captured[0].Content, "<document>\nTHE WHOLE DOCUMENT\n</document>") {
		t.Errorf("system message = %+v", captured[0])
	}
	if captured[1].Role != schema.User ||
		!strings.Contains(captured[1].Content, "<chunk>\nchunk body\n</chunk>") {
		t.Errorf("user message = %+v", captured[1])
	}
	if strings.Contains(captured[1].Content, "THE WHOLE DOCUMENT") {
		t.Error("document text leaked into the user message")
	}
}

func Test_EnrichChunks_DropsFailedChunks(t *testing.T) {
	t.Parallel()

	m := &fakeModel{respond: func(msgs []*schema.Message) (string, error) {
		if strings.Contains(msgs[1].Content, "poison") {
			return "", errors.New("model unavailable")
		}
		return "ctx", nil
	}}
	e := New(m, fastPolicy, nil)

	chunks := []chunker.SemanticChunk{
		{ChunkID: "chunk_0", Text: "fine"},
		{ChunkID: "chunk_1", Text: "poison"},
		{ChunkID: "chunk_2", Text: "also fine"},
	}
	doc := &document.Document{Title: "doc", FullText: "text"}

	res, err := e.EnrichChunks(context.Background(), chunks, doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 2 || res.ChunksSkipped != 1 {
		t.Fatalf("enriched=%d skipped=%d, want 2/1", len(res.Chunks), res.ChunksSkipped)
	}
	if res.Chunks[0].Chunk.ChunkID != "chunk_0" || res.Chunks[1].Chunk.ChunkID != "chunk_2" {
		t.Errorf("wrong chunks survived: %s, %s",
			res.Chunks[0].Chunk.ChunkID, res.Chunks[1].Chunk.ChunkID)
	}
}

func Test_EnrichChunks_AbortsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	m := &fakeModel{respond: func(msgs []*schema.Message) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	e := New(m, fastPolicy, nil)

	chunks := []chunker.SemanticChunk{{ChunkID: "chunk_0", Text: "a"}, {ChunkID: "chunk_1", Text: "b"}}
	doc := &document.Document{Title: "doc", FullText: "text"}

	_, err := e.EnrichChunks(ctx, chunks, doc)
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled in chain, got %v", err)
	}
}
