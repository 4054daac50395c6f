package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/54b3r/crag-go/internal/retry"
)

// Pipeline defaults. Every value can be overridden via the env var named in
// the corresponding Settings field comment.
const (
	DefaultChunkMinTokens     = 200
	DefaultChunkMaxTokens     = 800
	DefaultChunkTargetTokens  = 500
	DefaultSectionMaxTokens   = 2000
	DefaultChunkWorkers       = 4
	DefaultSemanticTopK       = 20
	DefaultLexicalTopK        = 20
	DefaultRRFK               = 60
	DefaultSemanticWeight     = 1.0
	DefaultLexicalWeight      = 1.0
	DefaultRerankTopN         = 10
	DefaultFinalChunksMin     = 3
	DefaultFinalChunksMax     = 10
	DefaultMaxTokensBudget    = 2000
	DefaultEmbeddingBatchSize = 128
)

// Settings is the resolved pipeline configuration: env vars parsed into
// typed values with defaults filled in. Call Load first so YAML-provided
// values have been projected into the environment.
type Settings struct {
	// ChunkMinTokens is the minimum grouped-chunk size (CHUNK_MIN_TOKENS).
	ChunkMinTokens int
	// ChunkMaxTokens is the maximum grouped-chunk size (CHUNK_MAX_TOKENS).
	ChunkMaxTokens int
	// ChunkTargetTokens is the preferred grouped-chunk size (CHUNK_TARGET_TOKENS).
	ChunkTargetTokens int
	// SectionMaxTokens is the pre-split threshold for sections (SECTION_MAX_TOKENS).
	SectionMaxTokens int
	// ChunkWorkers bounds concurrent extraction calls (CHUNK_WORKERS).
	ChunkWorkers int

	// SemanticTopK is the vector-search candidate count (SEMANTIC_TOP_K).
	SemanticTopK int
	// LexicalTopK is the lexical-search candidate count (LEXICAL_TOP_K).
	LexicalTopK int
	// RRFK is the rank-fusion dampening constant (RRF_K).
	RRFK int
	// SemanticWeight scales vector-side fusion contributions (SEMANTIC_WEIGHT).
	SemanticWeight float64
	// LexicalWeight scales lexical-side fusion contributions (LEXICAL_WEIGHT).
	LexicalWeight float64
	// RerankTopN is how many candidates survive reranking (RERANK_TOP_N).
	RerankTopN int

	// FinalChunksMin is the selection floor (FINAL_CHUNKS_MIN).
	FinalChunksMin int
	// FinalChunksMax is the selection cap (FINAL_CHUNKS_MAX).
	FinalChunksMax int
	// MaxTokensBudget is the context token budget (MAX_TOKENS_BUDGET).
	MaxTokensBudget int

	// EmbeddingBatchSize is the max texts per embedding request (EMBEDDING_BATCH_SIZE).
	EmbeddingBatchSize int

	// Retry is the shared policy for external calls (RETRY_*).
	Retry retry.Policy

	// DataDir holds the lexical index, checkpoint, metadata, and run log
	// (CRAG_DATA_DIR).
	DataDir string
}

// LoadSettings resolves pipeline settings from the environment.
func LoadSettings() Settings {
	return Settings{
		ChunkMinTokens:    envInt("CHUNK_MIN_TOKENS", DefaultChunkMinTokens),
		ChunkMaxTokens:    envInt("CHUNK_MAX_TOKENS", DefaultChunkMaxTokens),
		ChunkTargetTokens: envInt("CHUNK_TARGET_TOKENS", DefaultChunkTargetTokens),
		SectionMaxTokens:  envInt("SECTION_MAX_TOKENS", DefaultSectionMaxTokens),
		ChunkWorkers:      envInt("CHUNK_WORKERS", DefaultChunkWorkers),

		SemanticTopK:   envInt("SEMANTIC_TOP_K", DefaultSemanticTopK),
		LexicalTopK:    envInt("LEXICAL_TOP_K", DefaultLexicalTopK),
		RRFK:           envInt("RRF_K", DefaultRRFK),
		SemanticWeight: envFloat("SEMANTIC_WEIGHT", DefaultSemanticWeight),
		LexicalWeight:  envFloat("LEXICAL_WEIGHT", DefaultLexicalWeight),
		RerankTopN:     envInt("RERANK_TOP_N", DefaultRerankTopN),

		FinalChunksMin:  envInt("FINAL_CHUNKS_MIN", DefaultFinalChunksMin),
		FinalChunksMax:  envInt("FINAL_CHUNKS_MAX", DefaultFinalChunksMax),
		MaxTokensBudget: envInt("MAX_TOKENS_BUDGET", DefaultMaxTokensBudget),

		EmbeddingBatchSize: envInt("EMBEDDING_BATCH_SIZE", DefaultEmbeddingBatchSize),

		Retry: retry.Policy{
			MaxAttempts:   envInt("RETRY_MAX_ATTEMPTS", retry.DefaultPolicy.MaxAttempts),
			InitialDelay:  envDuration("RETRY_INITIAL_DELAY", retry.DefaultPolicy.InitialDelay),
			BackoffFactor: envFloat("RETRY_BACKOFF_FACTOR", retry.DefaultPolicy.BackoffFactor),
		},

		DataDir: dataDir(),
	}
}

// dataDir resolves CRAG_DATA_DIR, defaulting to ~/.crag/data. Falls back to
// a relative directory when the home directory cannot be determined.
func dataDir() string {
	if dir := os.Getenv("CRAG_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crag-data"
	}
	return filepath.Join(home, ".crag", "data")
}

// envInt reads an integer env var, returning def when unset or unparseable.
func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// envFloat reads a float env var, returning def when unset or unparseable.
func envFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// envDuration reads a duration env var ("1s", "500ms"). Bare numbers are
// treated as seconds for compatibility with numeric config files.
func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
