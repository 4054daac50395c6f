package config

import "path/filepath"

// Data-dir layout. Everything the pipeline persists locally lives under one
// directory (CRAG_DATA_DIR) so a rebuild can reason about all of it at once.

// BM25IndexPath is the lexical index blob.
func BM25IndexPath(dataDir string) string {
	return filepath.Join(dataDir, "bm25_index.gob")
}

// CheckpointPath is the post-enrichment ingestion checkpoint.
func CheckpointPath(dataDir string) string {
	return filepath.Join(dataDir, "checkpoint.json")
}

// MetadataPath is the chunk metadata JSON written after a successful ingestion.
func MetadataPath(dataDir string) string {
	return filepath.Join(dataDir, "chunks_metadata.json")
}

// RunLogPath is the sqlite database of ingestion run records.
func RunLogPath(dataDir string) string {
	return filepath.Join(dataDir, "runs.db")
}
