package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/crag-go/internal/config"
	"github.com/54b3r/crag-go/internal/costs"
	"github.com/54b3r/crag-go/internal/logging"
	"github.com/54b3r/crag-go/internal/server"
)

// NewServeCmd constructs the `crag serve` command, which starts the HTTP
// retrieval API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the crag HTTP retrieval API",
		Long: `Start the retrieval API on localhost.

The server exposes POST /api/query for context retrieval, /api/health and
/api/ready probes, and /metrics for Prometheus scraping. Set CRAG_API_KEY
to require Bearer authentication on /api/query.

Examples:
  crag serve
  crag serve --port 9090
  CRAG_API_KEY=secret crag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			settings := config.LoadSettings()
			tracker := costs.NewTracker()

			// Flags win; otherwise CRAG_HOST/CRAG_PORT (including values
			// projected from the YAML config) override the defaults.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("CRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				if raw := os.Getenv("CRAG_PORT"); raw != "" {
					fmt.Sscanf(raw, "%d", &port) //nolint:errcheck // unparseable value keeps the default
				}
			}

			svc, vector, closeStack, err := buildQueryService(ctx, log, settings, tracker)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeStack()

			pingers := []server.Pinger{
				server.NewQdrantPinger(vector.Client()),
				server.NewLexicalIndexPinger(config.BM25IndexPath(settings.DataDir)),
			}

			srv, err := server.New(svc, &server.Config{
				Host:     host,
				Port:     port,
				Logger:   log,
				Pingers:  pingers,
				APIKey:   os.Getenv("CRAG_API_KEY"),
				Registry: prometheus.NewRegistry(),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
