// Package ingestion orchestrates the full indexing pipeline: parse the
// source document into sections, chunk each section propositionally, enrich
// every chunk with a situating description, embed the enriched texts, and
// write both halves of the dual index plus a metadata record.
//
// The pipeline checkpoints after enrichment — the last stage that spends
// completion tokens — so an interrupted run resumes at embedding instead of
// re-paying for chunking and enrichment. This pipeline backs `crag ingest`.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/crag-go/internal/chunker"
	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/document"
	"github.com/54b3r/crag-go/internal/enricher"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/rag"
)

// Stats summarizes one ingestion run.
type Stats struct {
	// DocumentTitle is the parsed document's title.
	DocumentTitle string `json:"document_title"`
	// DocumentFilepath is the source path.
	DocumentFilepath string `json:"document_filepath"`
	// DocumentTokens is the estimated token count of the full document.
	DocumentTokens int `json:"document_tokens"`
	// SectionsParsed is the section count after oversized-section splitting.
	SectionsParsed int `json:"sections_parsed"`
	// SectionsSkipped counts sections dropped during chunking.
	SectionsSkipped int `json:"sections_skipped"`
	// ChunksCreated is the semantic chunk count.
	ChunksCreated int `json:"chunks_created"`
	// ChunksEnriched is the enriched (and therefore indexed) chunk count.
	ChunksEnriched int `json:"chunks_enriched"`
	// ChunksSkipped counts chunks dropped during enrichment.
	ChunksSkipped int `json:"chunks_skipped"`
	// EmbeddingsGenerated is the embedding count.
	EmbeddingsGenerated int `json:"embeddings_generated"`
	// Resumed reports whether the run restarted from a checkpoint.
	Resumed bool `json:"resumed"`
	// ElapsedSeconds is wall-clock run time.
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// Costs is the per-operation spend summary.
	Costs costs.Summary `json:"costs"`
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	chunker  *chunker.Chunker
	enricher *enricher.Enricher
	embedder rag.Embedder
	vector   rag.VectorIndex
	lexical  *rag.BM25Index
	settings config.Settings
	costs    *costs.Tracker
}

// NewPipeline constructs a Pipeline from its stage components. All
// components are required; tracker may be nil.
func NewPipeline(c *chunker.Chunker, e *enricher.Enricher, emb rag.Embedder, vector rag.VectorIndex, lexical *rag.BM25Index, settings config.Settings, tracker *costs.Tracker) (*Pipeline, error) {
	if c == nil || e == nil || emb == nil || vector == nil || lexical == nil {
		return nil, fmt.Errorf("ingestion: pipeline requires chunker, enricher, embedder, vector index, and lexical index")
	}
	if tracker == nil {
		tracker = costs.NewTracker()
	}
	return &Pipeline{
		chunker:  c,
		enricher: e,
		embedder: emb,
		vector:   vector,
		lexical:  lexical,
		settings: settings,
		costs:    tracker,
	}, nil
}

// Ingest runs the full pipeline for one document. rebuild discards any
// existing checkpoint, resets the vector collection, and starts from
// scratch; otherwise a valid checkpoint skips parsing, chunking, and
// enrichment. The checkpoint is deleted only after the metadata write, so
// every earlier failure leaves it available for the next run.
func (p *Pipeline) Ingest(ctx context.Context, filepath string, rebuild bool) (*Stats, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	checkpointPath := config.CheckpointPath(p.settings.DataDir)

	stats := &Stats{DocumentFilepath: filepath}

	var doc *document.Document
	var enriched []enricher.EnrichedChunk

	if rebuild {
		if err := deleteCheckpoint(checkpointPath); err != nil {
			return nil, err
		}
		// Chunk ids restart at chunk_0, so the vector collection must be
		// cleared too: a rebuild producing fewer chunks would otherwise leave
		// the old run's higher-numbered points retrievable.
		if err := p.vector.Reset(ctx); err != nil {
			return nil, fmt.Errorf("ingestion: vector index reset failed: %w", err)
		}
		log.Info("rebuild: vector index reset")
	} else {
		cp, err := loadCheckpoint(checkpointPath)
		if err != nil {
			log.Warn("ingestion: checkpoint unreadable, starting over", slog.Any("error", err))
		} else if cp != nil {
			log.Info("resuming from checkpoint",
				slog.Int("enriched_chunks", len(cp.EnrichedChunks)),
				slog.Time("created_at", cp.CreatedAt),
			)
			doc = cp.Document
			enriched = cp.EnrichedChunks
			stats.Resumed = true
		}
	}

	if !stats.Resumed {
		var err error
		doc, enriched, err = p.buildChunks(ctx, filepath, stats)
		if err != nil {
			return nil, err
		}

		if err := saveCheckpoint(checkpointPath, &Checkpoint{
			Document:       doc,
			EnrichedChunks: enriched,
			CreatedAt:      time.Now(),
		}); err != nil {
			return nil, err
		}
		log.Info("checkpoint saved", slog.Int("enriched_chunks", len(enriched)))
	}

	stats.DocumentTitle = doc.Title
	stats.DocumentTokens = doc.TotalTokens
	stats.ChunksEnriched = len(enriched)
	if stats.ChunksCreated == 0 {
		stats.ChunksCreated = len(enriched)
	}

	// Embed.
	texts := make([]string, len(enriched))
	for i, chunk := range enriched {
		texts[i] = chunk.FullText
	}
	log.Info("generating embeddings", slog.Int("chunks", len(texts)))
	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embedding failed: %w", err)
	}
	stats.EmbeddingsGenerated = len(embeddings)

	// Vector index.
	indexed, err := toIndexedChunks(enriched, embeddings)
	if err != nil {
		return nil, err
	}
	log.Info("upserting vector index", slog.Int("points", len(indexed)))
	if err := p.vector.Upsert(ctx, indexed); err != nil {
		return nil, fmt.Errorf("ingestion: vector upsert failed: %w", err)
	}

	// Lexical index.
	docs := make([]rag.LexicalDoc, len(enriched))
	for i, chunk := range enriched {
		docs[i] = rag.LexicalDoc{ChunkID: chunk.Chunk.ChunkID, Text: chunk.FullText}
	}
	p.lexical.Build(docs)
	bm25Path := config.BM25IndexPath(p.settings.DataDir)
	if err := p.lexical.Save(bm25Path); err != nil {
		return nil, fmt.Errorf("ingestion: lexical index save failed: %w", err)
	}
	log.Info("lexical index saved", slog.String("path", bm25Path), slog.Int("documents", len(docs)))

	// Metadata, then checkpoint cleanup.
	metadataPath := config.MetadataPath(p.settings.DataDir)
	if err := saveMetadata(metadataPath, doc, enriched); err != nil {
		return nil, err
	}
	log.Info("metadata saved", slog.String("path", metadataPath))

	if err := deleteCheckpoint(checkpointPath); err != nil {
		return nil, err
	}

	stats.ElapsedSeconds = time.Since(start).Seconds()
	stats.Costs = p.costs.Snapshot()
	p.costs.LogSummary(log)

	log.Info("ingestion complete",
		slog.String("document", doc.Title),
		slog.Int("chunks", len(enriched)),
		slog.Float64("elapsed_seconds", stats.ElapsedSeconds),
	)
	return stats, nil
}

// buildChunks runs the parse → split → chunk → enrich stages.
func (p *Pipeline) buildChunks(ctx context.Context, filepath string, stats *Stats) (*document.Document, []enricher.EnrichedChunk, error) {
	log := logging.FromContext(ctx)

	doc, err := document.ParseFile(filepath)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: parse failed: %w", err)
	}
	doc.Sections = document.SplitLargeSections(log, doc.Sections, p.settings.SectionMaxTokens)
	doc.LogSummary(log)
	stats.SectionsParsed = len(doc.Sections)

	chunkResult, err := p.chunker.ChunkDocument(ctx, doc)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: chunking failed: %w", err)
	}
	stats.ChunksCreated = len(chunkResult.Chunks)
	stats.SectionsSkipped = chunkResult.SectionsSkipped
	log.Info("semantic chunks created",
		slog.Int("chunks", len(chunkResult.Chunks)),
		slog.Int("sections_skipped", chunkResult.SectionsSkipped),
	)

	enrichResult, err := p.enricher.EnrichChunks(ctx, chunkResult.Chunks, doc)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: enrichment failed: %w", err)
	}
	stats.ChunksSkipped = enrichResult.ChunksSkipped
	log.Info("chunks enriched",
		slog.Int("chunks", len(enrichResult.Chunks)),
		slog.Int("skipped", enrichResult.ChunksSkipped),
	)

	return doc, enrichResult.Chunks, nil
}
