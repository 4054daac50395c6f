package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/crag-go/internal/document"
	"github.com/54b3r/crag-go/internal/enricher"
)

// Checkpoint captures the pipeline state after enrichment, the last stage
// that spends money on completions. A resumed run re-enters at embedding,
// which is cheap to repeat relative to re-chunking and re-enriching.
type Checkpoint struct {
	// Document is the parsed source document.
	Document *document.Document `json:"document"`
	// EnrichedChunks is every enriched chunk, in chunk-id order.
	EnrichedChunks []enricher.EnrichedChunk `json:"enriched_chunks"`
	// CreatedAt records when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// saveCheckpoint writes the checkpoint atomically: a temp file in the same
// directory renamed over the target, so a crash mid-write never leaves a
// half checkpoint that the next run would try to resume from.
func saveCheckpoint(path string, cp *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ingestion: create data dir: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("ingestion: marshal checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ingestion: write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("ingestion: rename checkpoint: %w", err)
	}
	return nil
}

// loadCheckpoint reads a checkpoint. A missing file returns (nil, nil); an
// unreadable, undecodable, or incomplete one returns an error. The caller
// starts over either way, but the error explains why the LLM stages re-ran.
func loadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingestion: read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("ingestion: decode checkpoint %s: %w", path, err)
	}
	if cp.Document == nil || len(cp.EnrichedChunks) == 0 {
		return nil, fmt.Errorf("ingestion: checkpoint %s missing document or chunks", path)
	}
	return &cp, nil
}

// deleteCheckpoint removes the checkpoint file; a missing file is fine.
func deleteCheckpoint(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ingestion: delete checkpoint: %w", err)
	}
	return nil
}
