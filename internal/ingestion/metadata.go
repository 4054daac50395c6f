package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/crag-go/internal/document"
	"github.com/54b3r/crag-go/internal/enricher"
	"github.com/54b3r/crag-go/internal/rag"
)

// Metadata is the JSON record written after a successful ingestion. It is
// the human-inspectable companion to the opaque index blobs: every chunk
// with its contextual description, in chunk-id order.
type Metadata struct {
	// DocumentTitle is the ingested document's title.
	DocumentTitle string `json:"document_title"`
	// DocumentFilepath is the source path the document was read from.
	DocumentFilepath string `json:"document_filepath"`
	// TotalChunks is the number of indexed chunks.
	TotalChunks int `json:"total_chunks"`
	// Chunks lists every enriched chunk.
	Chunks []enricher.EnrichedChunk `json:"chunks"`
}

// saveMetadata writes the chunk metadata JSON, creating the directory as
// needed.
func saveMetadata(path string, doc *document.Document, chunks []enricher.EnrichedChunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ingestion: create data dir: %w", err)
	}

	meta := Metadata{
		DocumentTitle:    doc.Title,
		DocumentFilepath: doc.Filepath,
		TotalChunks:      len(chunks),
		Chunks:           chunks,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("ingestion: marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("ingestion: write metadata: %w", err)
	}
	return nil
}

// indexPayload flattens a chunk's metadata into the scalar-only payload the
// vector index stores. List-valued tag families are comma-joined; empty
// families are omitted so filters only match chunks that carry the tag.
func indexPayload(chunk enricher.EnrichedChunk) map[string]any {
	sc := chunk.Chunk
	payload := map[string]any{
		"topic":          sc.Topic,
		"section_title":  sc.SectionTitle,
		"subsection":     sc.Subsection,
		"section_number": sc.Ordinal,
		"token_count":    chunk.TokenCount(),
		"content_type":   sc.Tags.ContentType,
		"has_template":   sc.Tags.HasTemplate,
	}
	addJoined(payload, "training_focus", sc.Tags.TrainingFocus)
	addJoined(payload, "experience_level", sc.Tags.ExperienceLevel)
	addJoined(payload, "program_structures", sc.Tags.ProgramStructures)
	return payload
}

// addJoined stores a comma-joined list value, skipping empty lists.
func addJoined(payload map[string]any, key string, values []string) {
	if len(values) == 0 {
		return
	}
	payload[key] = strings.Join(values, ",")
}

// toIndexedChunks pairs enriched chunks with their embeddings for upsert.
// The two slices must be parallel.
func toIndexedChunks(chunks []enricher.EnrichedChunk, embeddings [][]float32) ([]rag.IndexedChunk, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("ingestion: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	indexed := make([]rag.IndexedChunk, len(chunks))
	for i, chunk := range chunks {
		indexed[i] = rag.IndexedChunk{
			ChunkID: chunk.Chunk.ChunkID,
			Text:    chunk.FullText,
			Vector:  embeddings[i],
			Payload: indexPayload(chunk),
		}
	}
	return indexed, nil
}
