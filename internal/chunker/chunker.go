// Package chunker turns parsed document sections into semantically complete
// chunks using a two-stage LLM process: extract atomic propositions from
// each section, then group related propositions into chunks of a target
// token range. Extraction runs concurrently across sections; grouping runs
// sequentially in section order so chunk IDs stay deterministic.
package chunker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/crag-go/internal/budget"
	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/document"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/retry"
)

// ErrNoChunks is returned when chunking an entire document produced nothing.
// Per-section failures are skipped and counted, but a fully empty result
// means the pipeline cannot proceed.
var ErrNoChunks = errors.New("chunker: no chunks produced from document")

// Proposition is one atomic factual statement extracted from a section.
type Proposition struct {
	// Text is the standalone statement.
	Text string `json:"text"`
	// Ordinal is the parent section's heading number.
	Ordinal int `json:"section_number"`
	// SectionTitle is the parent section title.
	SectionTitle string `json:"section_title"`
	// Subsection is the parent subsection title, if any.
	Subsection string `json:"subsection,omitempty"`
	// Index is the position within the section's extraction output.
	Index int `json:"index"`
}

// SemanticChunk is a group of related propositions forming one retrievable
// unit. IDs are "chunk_N" with N assigned by a document-global counter in
// section order.
type SemanticChunk struct {
	// ChunkID is the stable identifier, "chunk_N".
	ChunkID string `json:"chunk_id"`
	// Text is the combined chunk text.
	Text string `json:"text"`
	// Topic is the model's one-line description of the chunk.
	Topic string `json:"topic"`
	// PropositionsUsed indexes into the section's proposition list.
	PropositionsUsed []int `json:"propositions_used"`
	// Ordinal is the source section's heading number.
	Ordinal int `json:"section_number"`
	// SectionTitle is the source section title.
	SectionTitle string `json:"section_title"`
	// Subsection is the source subsection title, if any.
	Subsection string `json:"subsection,omitempty"`
	// TokenCount is the estimated token count of Text.
	TokenCount int `json:"token_count"`
	// Tags carries the source section's classification.
	Tags document.Tags `json:"tags"`
}

// Result aggregates a document-level chunking run.
type Result struct {
	// Chunks is every chunk produced, in section order.
	Chunks []SemanticChunk
	// SectionsProcessed counts sections that yielded chunks.
	SectionsProcessed int
	// SectionsSkipped counts sections dropped after extraction or grouping
	// failed, or that yielded no propositions.
	SectionsSkipped int
}

// Chunker drives the two-stage chunking process against a chat model.
type Chunker struct {
	model     model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	minTokens int
	maxTokens int
	workers   int
	retry     retry.Policy
	costs     *costs.Tracker
}

// New constructs a Chunker. tracker may be nil when cost attribution is not
// wanted.
func New(m model.ChatModel, settings config.Settings, tracker *costs.Tracker) *Chunker { //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream
	if tracker == nil {
		tracker = costs.NewTracker()
	}
	workers := settings.ChunkWorkers
	if workers < 1 {
		workers = 1
	}
	return &Chunker{
		model:     m,
		minTokens: settings.ChunkMinTokens,
		maxTokens: settings.ChunkMaxTokens,
		workers:   workers,
		retry:     settings.Retry,
		costs:     tracker,
	}
}

// Extract runs stage 1 on a single section and returns its atomic
// propositions in response order.
func (c *Chunker) Extract(ctx context.Context, section document.Section) ([]Proposition, error) {
	log := logging.FromContext(ctx)
	log.Info("extracting propositions",
		slog.String("section", section.Title),
		slog.Int("tokens", section.TokenCount),
	)

	prompt := fmt.Sprintf(`<document_section>
%s
</document_section>

Extract all atomic propositions (discrete factual statements) from this section. Each proposition should:
- Be a complete, standalone factual statement
- Contain one clear concept or instruction
- Be understandable without additional context

Return as JSON array of strings:
["proposition 1", "proposition 2", ...]`, section.Content)

	texts, err := retry.Do(ctx, c.retry, "proposition extraction",
		func(ctx context.Context) ([]string, error) {
			resp, err := c.generate(ctx, costs.OpExtraction, prompt)
			if err != nil {
				return nil, err
			}
			var out []string
			if err := decodeArray("extract", resp, &out); err != nil {
				return nil, err
			}
			return out, nil
		})
	if err != nil {
		return nil, err
	}

	props := make([]Proposition, 0, len(texts))
	for i, text := range texts {
		props = append(props, Proposition{
			Text:         text,
			Ordinal:      section.Ordinal,
			SectionTitle: section.Title,
			Subsection:   section.Subtitle,
			Index:        i,
		})
	}

	log.Info("extracted propositions",
		slog.String("section", section.Title),
		slog.Int("count", len(props)),
	)
	return props, nil
}

// groupedChunk is the model's response shape for stage 2.
type groupedChunk struct {
	ChunkText        string `json:"chunk_text"`
	Topic            string `json:"topic"`
	PropositionsUsed []int  `json:"propositions_used"`
}

// Group runs stage 2 on one section's propositions. startIndex is the
// document-global chunk counter; the returned chunks are numbered from it.
func (c *Chunker) Group(ctx context.Context, props []Proposition, section document.Section, startIndex int) ([]SemanticChunk, error) {
	log := logging.FromContext(ctx)
	log.Info("grouping propositions",
		slog.String("section", section.Title),
		slog.Int("propositions", len(props)),
	)

	var list strings.Builder
	for i, p := range props {
		fmt.Fprintf(&list, "%d. %s\n", i, p.Text)
	}

	prompt := fmt.Sprintf(`<propositions>
%s</propositions>

Group these propositions into semantically complete chunks. Each chunk should:
- Contain related propositions that form a complete concept
- Be %d-%d tokens in length
- Be coherent and understandable on its own
- Cover one main topic (e.g., a specific program template, principle, or training concept)

Return as JSON:
[
  {
    "chunk_text": "combined propositions forming complete concept",
    "topic": "brief description of what this chunk covers",
    "propositions_used": [0, 1, 2]
  }
]`, list.String(), c.minTokens, c.maxTokens)

	grouped, err := retry.Do(ctx, c.retry, "proposition grouping",
		func(ctx context.Context) ([]groupedChunk, error) {
			resp, err := c.generate(ctx, costs.OpGrouping, prompt)
			if err != nil {
				return nil, err
			}
			var out []groupedChunk
			if err := decodeArray("group", resp, &out); err != nil {
				return nil, err
			}
			return out, nil
		})
	if err != nil {
		return nil, err
	}

	chunks := make([]SemanticChunk, 0, len(grouped))
	for i, g := range grouped {
		chunks = append(chunks, SemanticChunk{
			ChunkID:          fmt.Sprintf("chunk_%d", startIndex+i),
			Text:             g.ChunkText,
			Topic:            g.Topic,
			PropositionsUsed: g.PropositionsUsed,
			Ordinal:          section.Ordinal,
			SectionTitle:     section.Title,
			Subsection:       section.Subtitle,
			TokenCount:       budget.Estimate(g.ChunkText),
			Tags:             section.Tags,
		})
	}

	log.Info("created semantic chunks",
		slog.String("section", section.Title),
		slog.Int("count", len(chunks)),
	)
	return chunks, nil
}

// ChunkDocument runs both stages over every section. Stage 1 runs with up to
// the configured number of concurrent workers; stage 2 runs sequentially in
// section order so chunk numbering is reproducible. Sections that fail either
// stage are skipped and counted, not fatal. Returns ErrNoChunks when the
// whole document produced nothing.
func (c *Chunker) ChunkDocument(ctx context.Context, doc *document.Document) (*Result, error) {
	log := logging.FromContext(ctx)
	log.Info("starting propositional chunking",
		slog.String("document", doc.Title),
		slog.Int("sections", len(doc.Sections)),
	)

	type extraction struct {
		props []Proposition
		err   error
	}
	extracted := make([]extraction, len(doc.Sections))

	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	for i := range doc.Sections {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			props, err := c.Extract(ctx, doc.Sections[i])
			extracted[i] = extraction{props: props, err: err}
		}(i)
	}
	wg.Wait()

	res := &Result{}
	counter := 0
	for i, section := range doc.Sections {
		ext := extracted[i]
		if ext.err != nil {
			log.Error("section extraction failed, skipping",
				slog.String("section", section.Title),
				slog.Any("error", ext.err),
			)
			res.SectionsSkipped++
			continue
		}
		if len(ext.props) == 0 {
			log.Warn("no propositions extracted, skipping",
				slog.String("section", section.Title),
			)
			res.SectionsSkipped++
			continue
		}

		chunks, err := c.Group(ctx, ext.props, section, counter)
		if err != nil {
			log.Error("section grouping failed, skipping",
				slog.String("section", section.Title),
				slog.Any("error", err),
			)
			res.SectionsSkipped++
			continue
		}

		counter += len(chunks)
		res.Chunks = append(res.Chunks, chunks...)
		res.SectionsProcessed++
	}

	if len(res.Chunks) == 0 {
		return nil, ErrNoChunks
	}

	log.Info("propositional chunking complete",
		slog.Int("chunks", len(res.Chunks)),
		slog.Int("sections_processed", res.SectionsProcessed),
		slog.Int("sections_skipped", res.SectionsSkipped),
	)
	return res, nil
}

// generate sends a single user prompt, records its cost, and returns the
// response text.
func (c *Chunker) generate(ctx context.Context, op costs.Operation, prompt string) (string, error) {
	msgs := []*schema.Message{
		schema.UserMessage(prompt),
	}
	resp, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("chunker: model call failed: %w", err)
	}

	c.costs.Add(op, callCost(prompt, resp))
	return resp.Content, nil
}

// callCost computes the cost of one completion, preferring provider-reported
// usage and falling back to the character heuristic.
func callCost(prompt string, resp *schema.Message) float64 {
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		u := resp.ResponseMeta.Usage
		return costs.CompletionCost(u.PromptTokens, u.CompletionTokens, 0)
	}
	return costs.CompletionCost(budget.Estimate(prompt), budget.Estimate(resp.Content), 0)
}

// decodeArray recovers and unmarshals a JSON array from a model response.
func decodeArray(stage, response string, v any) error {
	raw, err := extractJSONArray(stage, response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &ParseError{Stage: stage, Raw: response, Err: err}
	}
	return nil
}
