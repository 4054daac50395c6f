// Package commands defines all Cobra CLI commands for the crag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/crag-go/internal/audit"
	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crag",
		Short: "crag — contextual RAG over markdown knowledge bases",
		Long: `crag ingests markdown documents into a dual vector + lexical index and
answers queries with a token-budgeted context block assembled from the most
relevant chunks.

Ingestion runs each document through LLM propositional chunking and
contextual enrichment before embedding, so retrieved chunks carry enough
surrounding context to stand alone in a prompt.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.crag/config.yaml).
See 'crag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.crag/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewQueryCmd(),
		NewServeCmd(),
		NewStatsCmd(),
		NewVersionCmd(),
	)

	return root
}
