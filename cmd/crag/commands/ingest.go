package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/crag-go/internal/chunker"
	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/embedder"
	"github.com/54b3r/crag-go/internal/enricher"
	"github.com/54b3r/crag-go/internal/ingestion"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/provider"
	"github.com/54b3r/crag-go/internal/rag"
	"github.com/54b3r/crag-go/internal/runlog"
	"github.com/54b3r/crag-go/internal/tracing"
)

// NewIngestCmd constructs the `crag ingest` command, which runs the full
// ingestion pipeline over a markdown document.
func NewIngestCmd() *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a markdown document into the dual index",
		Long: `Parse a markdown document, chunk it with LLM propositional chunking,
enrich each chunk with document context, embed the enriched text, and index
the result into Qdrant (vector) and a persisted BM25 index (lexical).

A checkpoint is written after the LLM stages so an interrupted run resumes
without re-spending chunking and enrichment calls. Use --rebuild to discard
any checkpoint and re-run everything from scratch.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: crag-chunks)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Chat backend for chunking/enrichment (default: ollama)
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, voyage (defaults to MODEL_PROVIDER)
  CRAG_DATA_DIR        Data directory for index, checkpoint, run log (default: ~/.crag/data)

Examples:
  crag ingest ./docs/knowledge_base.md
  crag ingest --rebuild ./docs/knowledge_base.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			settings := config.LoadSettings()
			tracker := costs.NewTracker()

			// Langfuse tracing covers the chunking and enrichment LLM calls.
			// Opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			emb, err := embedder.NewClientFromEnv(settings.EmbeddingBatchSize, settings.Retry, tracker)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}

			vector, err := openVectorIndex(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer vector.Close() //nolint:errcheck // connection teardown on exit

			pipeline, err := ingestion.NewPipeline(
				chunker.New(chatModel, settings, tracker),
				enricher.New(chatModel, settings.Retry, tracker),
				emb,
				vector,
				rag.NewBM25Index(),
				settings,
				tracker,
			)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			stats, err := pipeline.Ingest(ctx, args[0], rebuild)
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			recordRun(ctx, log, settings, stats)

			fmt.Printf("Ingested %q: %d chunks indexed (%d sections, %.1fs, $%.4f)\n",
				stats.DocumentTitle, stats.ChunksCreated, stats.SectionsParsed,
				stats.ElapsedSeconds, stats.Costs.Total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Discard any checkpoint and re-run all stages from scratch")

	return cmd
}

// recordRun appends the ingestion outcome to the sqlite run log. Failures are
// logged but never fail the ingestion itself.
func recordRun(ctx context.Context, log *slog.Logger, settings config.Settings, stats *ingestion.Stats) {
	store, err := runlog.Open(config.RunLogPath(settings.DataDir))
	if err != nil {
		log.Warn("run log unavailable", slog.Any("error", err))
		return
	}
	defer store.Close() //nolint:errcheck // read-only after write

	run := runlog.Run{
		DocumentTitle:   stats.DocumentTitle,
		DocumentPath:    stats.DocumentFilepath,
		Chunks:          stats.ChunksCreated,
		SectionsSkipped: stats.SectionsSkipped,
		ChunksSkipped:   stats.ChunksSkipped,
		Resumed:         stats.Resumed,
		ElapsedSeconds:  stats.ElapsedSeconds,
		CostUSD:         stats.Costs.Total,
	}
	if err := store.Record(ctx, run); err != nil {
		log.Warn("run log write failed", slog.Any("error", err))
	}
}
