package rag

import (
	"fmt"
	"strings"

	"github.com/54b3r/crag-go/internal/budget"
)

// SelectConfig controls budget-aware chunk selection and formatting.
type SelectConfig struct {
	// MinChunks is the number of leading chunks always included regardless
	// of token cost.
	MinChunks int
	// MaxChunks caps the selection size.
	MaxChunks int
	// MaxTokens is the token budget for the selected chunk texts.
	// Zero or negative means no budget.
	MaxTokens int
}

// SelectWithinBudget keeps the leading chunks that fit the token budget.
// The first MinChunks are always included so a tight budget never empties
// the context; after that, chunks are added greedily in order until adding
// one would exceed MaxTokens. The result never exceeds MaxChunks.
func SelectWithinBudget(chunks []RetrievedChunk, cfg SelectConfig) []RetrievedChunk {
	if cfg.MinChunks <= 0 {
		cfg.MinChunks = budget.DefaultMinChunks
	}
	if cfg.MaxChunks > 0 && len(chunks) > cfg.MaxChunks {
		chunks = chunks[:cfg.MaxChunks]
	}
	if cfg.MaxTokens <= 0 {
		return chunks
	}

	selected := make([]RetrievedChunk, 0, len(chunks))
	total := 0
	for i, chunk := range chunks {
		tokens := budget.Estimate(chunk.Text)
		switch {
		case i < cfg.MinChunks:
			selected = append(selected, chunk)
			total += tokens
		case total+tokens <= cfg.MaxTokens:
			selected = append(selected, chunk)
			total += tokens
		default:
			return selected
		}
	}
	return selected
}

// FormatContext renders selected chunks as a markdown block ready to embed
// in an LLM prompt. Each chunk is labeled with its topic and source section
// from the indexed metadata. maxTokens > 0 truncates the final block as a
// guard against the minimum-chunk floor overshooting the budget.
func FormatContext(chunks []RetrievedChunk, maxTokens int) string {
	var b strings.Builder
	b.WriteString("# Retrieved Knowledge\n\n")

	for i, chunk := range chunks {
		topic := metadataString(chunk.Metadata, "topic", "Unknown")
		section := metadataString(chunk.Metadata, "section_title", "Unknown Section")

		fmt.Fprintf(&b, "## Source %d: %s\n", i+1, topic)
		fmt.Fprintf(&b, "*From: %s*\n\n", section)
		b.WriteString(chunk.Text)
		b.WriteString("\n\n---\n\n")
	}

	formatted := b.String()
	if maxTokens > 0 {
		formatted = budget.Truncate(formatted, maxTokens)
	}
	return formatted
}

// metadataString reads a string field from chunk metadata with a fallback.
func metadataString(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
