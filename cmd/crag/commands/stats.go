package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/runlog"
)

// NewStatsCmd constructs the `crag stats` command, which reports index state
// and recent ingestion runs.
func NewStatsCmd() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and recent ingestion runs",
		Long: `Report the state of the dual index: vector point count from Qdrant,
lexical corpus statistics from the persisted BM25 index, and the most recent
ingestion runs from the local run log.

Examples:
  crag stats
  crag stats --recent 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			settings := config.LoadSettings()

			svc, _, closeStack, err := buildQueryService(ctx, log, settings, costs.NewTracker())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer closeStack()

			stats, err := svc.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("Vector index:  %d chunks\n", stats.VectorChunks)
			fmt.Printf("Lexical index: %d documents, %d terms, avg length %.1f tokens\n",
				stats.Lexical.Documents, stats.Lexical.VocabularySize, stats.Lexical.AvgDocLength)

			store, err := runlog.Open(config.RunLogPath(settings.DataDir))
			if err != nil {
				// The run log is best-effort; index stats are still useful alone.
				log.Warn("run log unavailable")
				return nil
			}
			defer store.Close() //nolint:errcheck // read-only

			runs, err := store.Recent(ctx, recent)
			if err != nil {
				return fmt.Errorf("stats: run log read failed: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("\nNo ingestion runs recorded.")
				return nil
			}

			fmt.Printf("\nRecent ingestion runs:\n")
			for _, r := range runs {
				resumed := ""
				if r.Resumed {
					resumed = " (resumed)"
				}
				fmt.Printf("  %s  %-30q %4d chunks  %6.1fs  $%.4f%s\n",
					r.CreatedAt.Format("2006-01-02 15:04"), r.DocumentTitle,
					r.Chunks, r.ElapsedSeconds, r.CostUSD, resumed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 10, "Number of recent ingestion runs to show")

	return cmd
}
