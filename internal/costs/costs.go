// Package costs tracks the dollar cost of external API calls made during
// ingestion and retrieval. Every completion, embedding, and rerank call site
// reports its cost here so ingestion stats can attribute spend per stage.
package costs

import (
	"log/slog"
	"sync"
)

// Operation labels a cost-bearing external call site.
type Operation string

const (
	// OpExtraction is stage-1 propositional chunking (extract).
	OpExtraction Operation = "proposition_extraction"
	// OpGrouping is stage-2 propositional chunking (group).
	OpGrouping Operation = "proposition_grouping"
	// OpContextualization is the per-chunk situating-description call.
	OpContextualization Operation = "contextualization"
	// OpEmbeddings covers document batches and query embeddings.
	OpEmbeddings Operation = "embeddings"
	// OpReranking is the cross-encoder rerank call.
	OpReranking Operation = "reranking"
)

// operations is the fixed set reported in summaries, in display order.
var operations = []Operation{
	OpExtraction,
	OpGrouping,
	OpContextualization,
	OpEmbeddings,
	OpReranking,
}

// Tracker accumulates per-operation costs and call counts. Safe for
// concurrent use; ingestion workers report from multiple goroutines.
type Tracker struct {
	mu    sync.Mutex
	costs map[Operation]float64
	calls map[Operation]int
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		costs: make(map[Operation]float64),
		calls: make(map[Operation]int),
	}
}

// Add records the cost of one call to the given operation.
func (t *Tracker) Add(op Operation, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.costs[op] += cost
	t.calls[op]++
}

// Total returns the accumulated cost across all operations.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0.0
	for _, c := range t.costs {
		total += c
	}
	return total
}

// Summary is a point-in-time snapshot of accumulated costs.
type Summary struct {
	// Costs maps operation name to accumulated dollars.
	Costs map[string]float64 `json:"costs"`
	// Calls maps operation name to call count.
	Calls map[string]int `json:"calls"`
	// Total is the sum across all operations.
	Total float64 `json:"total"`
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		Costs: make(map[string]float64, len(operations)),
		Calls: make(map[string]int, len(operations)),
	}
	for _, op := range operations {
		s.Costs[string(op)] = t.costs[op]
		s.Calls[string(op)] = t.calls[op]
		s.Total += t.costs[op]
	}
	return s
}

// LogSummary emits one structured log line per operation plus the total.
func (t *Tracker) LogSummary(log *slog.Logger) {
	s := t.Snapshot()
	for _, op := range operations {
		log.Info("cost summary",
			slog.String("operation", string(op)),
			slog.Float64("usd", s.Costs[string(op)]),
			slog.Int("calls", s.Calls[string(op)]),
		)
	}
	log.Info("cost summary total", slog.Float64("usd", s.Total))
}
