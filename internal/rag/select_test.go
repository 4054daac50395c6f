package rag

import (
	"strings"
	"testing"

	"github.com/54b3r/crag-go/internal/budget"
)

func chunkWithTokens(id string, tokens int) RetrievedChunk {
	return RetrievedChunk{ChunkID: id, Text: strings.Repeat("word ", tokens*4/5)}
}

func TestSelectWithinBudget_NoBudgetKeepsAll(t *testing.T) {
	t.Parallel()

	chunks := []RetrievedChunk{
		chunkWithTokens("chunk_0", 100),
		chunkWithTokens("chunk_1", 100),
	}
	selected := SelectWithinBudget(chunks, SelectConfig{MaxTokens: 0})
	if len(selected) != 2 {
		t.Errorf("expected all chunks without a budget, got %d", len(selected))
	}
}

func TestSelectWithinBudget_MinFloorIgnoresBudget(t *testing.T) {
	t.Parallel()

	// Each chunk alone exceeds the budget, yet the first MinChunks stay.
	chunks := []RetrievedChunk{
		chunkWithTokens("chunk_0", 500),
		chunkWithTokens("chunk_1", 500),
		chunkWithTokens("chunk_2", 500),
		chunkWithTokens("chunk_3", 500),
	}
	selected := SelectWithinBudget(chunks, SelectConfig{MinChunks: 3, MaxTokens: 100})
	if len(selected) != 3 {
		t.Fatalf("expected the 3-chunk floor, got %d", len(selected))
	}
	for i, want := range []string{"chunk_0", "chunk_1", "chunk_2"} {
		if selected[i].ChunkID != want {
			t.Errorf("selected[%d] = %s, want %s", i, selected[i].ChunkID, want)
		}
	}
}

func TestSelectWithinBudget_GreedyFillAfterFloor(t *testing.T) {
	t.Parallel()

	chunks := []RetrievedChunk{
		chunkWithTokens("chunk_0", 100),
		chunkWithTokens("chunk_1", 100),
		chunkWithTokens("chunk_2", 100),
		chunkWithTokens("chunk_3", 100),
		chunkWithTokens("chunk_4", 500),
	}
	selected := SelectWithinBudget(chunks, SelectConfig{MinChunks: 3, MaxTokens: 420})
	// Floor covers the first 3; chunk_3 fits under the budget; chunk_4 would
	// exceed it and selection stops there.
	if len(selected) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(selected))
	}
	if selected[3].ChunkID != "chunk_3" {
		t.Errorf("last selected = %s, want chunk_3", selected[3].ChunkID)
	}
}

func TestSelectWithinBudget_MaxChunksCaps(t *testing.T) {
	t.Parallel()

	chunks := make([]RetrievedChunk, 0, 12)
	for i := 0; i < 12; i++ {
		chunks = append(chunks, chunkWithTokens("chunk_"+strings.Repeat("x", i+1), 10))
	}
	selected := SelectWithinBudget(chunks, SelectConfig{MinChunks: 3, MaxChunks: 10, MaxTokens: 100000})
	if len(selected) != 10 {
		t.Errorf("expected MaxChunks cap of 10, got %d", len(selected))
	}
}

func TestSelectWithinBudget_DefaultsMinChunks(t *testing.T) {
	t.Parallel()

	chunks := []RetrievedChunk{
		chunkWithTokens("chunk_0", 500),
		chunkWithTokens("chunk_1", 500),
		chunkWithTokens("chunk_2", 500),
		chunkWithTokens("chunk_3", 500),
	}
	selected := SelectWithinBudget(chunks, SelectConfig{MaxTokens: 1})
	if len(selected) != budget.DefaultMinChunks {
		t.Errorf("expected default floor of %d, got %d", budget.DefaultMinChunks, len(selected))
	}
}

func TestFormatContext_LabelsSources(t *testing.T) {
	t.Parallel()

	chunks := []RetrievedChunk{
		{
			ChunkID: "chunk_0",
			Text:    "Volume should be distributed across the week.",
			Metadata: map[string]any{
				"topic":         "Weekly Volume",
				"section_title": "Programming Principles",
			},
		},
		{
			ChunkID: "chunk_1",
			Text:    "Rest intervals depend on the training goal.",
		},
	}

	out := FormatContext(chunks, 0)
	if !strings.HasPrefix(out, "# Retrieved Knowledge\n\n") {
		t.Errorf("missing header, got %q", out[:40])
	}
	if !strings.Contains(out, "## Source 1: Weekly Volume") {
		t.Error("missing labeled first source")
	}
	if !strings.Contains(out, "*From: Programming Principles*") {
		t.Error("missing section attribution")
	}
	if !strings.Contains(out, "## Source 2: Unknown") {
		t.Error("missing fallback topic for chunk without metadata")
	}
	if !strings.Contains(out, "*From: Unknown Section*") {
		t.Error("missing fallback section for chunk without metadata")
	}
	if !strings.Contains(out, "Volume should be distributed across the week.") {
		t.Error("missing first chunk text")
	}
	if strings.Count(out, "\n---\n") != 2 {
		t.Errorf("expected 2 separators, got %d", strings.Count(out, "\n---\n"))
	}
}

func TestFormatContext_TruncatesToBudget(t *testing.T) {
	t.Parallel()

	chunks := []RetrievedChunk{{ChunkID: "chunk_0", Text: strings.Repeat("word ", 2000)}}
	out := FormatContext(chunks, 50)
	if got := budget.Estimate(out); got > 50 {
		t.Errorf("formatted block estimates %d tokens, want <= 50", got)
	}
}
