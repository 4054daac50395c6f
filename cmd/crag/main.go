// Command crag is the entry point for the contextual RAG pipeline.
// It provides a CLI (via Cobra) for ingesting markdown knowledge bases,
// querying them, and serving the retrieval API over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/crag-go/cmd/crag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
