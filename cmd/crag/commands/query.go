package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/query"
)

// NewQueryCmd constructs the `crag query` command, which retrieves chunks for
// a question and prints the assembled context block.
func NewQueryCmd() *cobra.Command {
	var topK int
	var noRerank bool
	var maxTokens int
	var filters []string
	var showChunks bool

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Query the indexed knowledge base",
		Long: `Run hybrid retrieval over the dual index: vector search against Qdrant
plus lexical BM25 search, fused with reciprocal rank fusion, optionally
reranked, and trimmed to a token budget.

The output is a formatted context block ready to paste into an LLM prompt.
Use --chunks to inspect the individual chunks and their scores instead.

Examples:
  crag query "how should beginners structure a training week?"
  crag query --top-k 5 --no-rerank "progressive overload"
  crag query --filter content_type=table "macro targets"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			settings := config.LoadSettings()
			tracker := costs.NewTracker()

			metadataFilter, err := parseFilters(filters)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			svc, _, closeStack, err := buildQueryService(ctx, log, settings, tracker)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer closeStack()

			opts := query.Options{
				TopK:           topK,
				DisableRerank:  noRerank,
				MaxTokens:      maxTokens,
				MetadataFilter: metadataFilter,
			}

			answer, err := svc.Retrieve(ctx, strings.Join(args, " "), opts)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			if showChunks {
				for i, c := range answer.Chunks {
					fmt.Printf("%2d. %-10s score=%.4f vector_rank=%d lexical_rank=%d\n",
						i+1, c.ChunkID, c.Score, c.VectorRank, c.LexicalRank)
				}
				return nil
			}

			fmt.Println(answer.Context)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Maximum chunks to return (default: FINAL_CHUNKS_MAX)")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "Skip the rerank stage and keep the fused order")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Context token budget (default: MAX_TOKENS_BUDGET)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Metadata filter key=value, restricts vector candidates (repeatable)")
	cmd.Flags().BoolVar(&showChunks, "chunks", false, "Print chunk scores and ranks instead of the context block")

	return cmd
}

// parseFilters converts key=value flags into a metadata filter map.
func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, f := range raw {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --filter %q, expected key=value", f)
		}
		out[key] = value
	}
	return out, nil
}
