package server

import (
	"context"
	"fmt"
	"os"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// LexicalIndexPinger reports whether the persisted lexical index blob exists.
// A missing blob means ingestion has never completed, so queries would fail
// with ErrIndexNotReady — the server is alive but not ready.
type LexicalIndexPinger struct {
	// path is the lexical index blob location.
	path string
}

// NewLexicalIndexPinger constructs a LexicalIndexPinger for the given path.
func NewLexicalIndexPinger(path string) *LexicalIndexPinger {
	return &LexicalIndexPinger{path: path}
}

// Name returns the dependency label used in readiness responses.
func (p *LexicalIndexPinger) Name() string { return "lexical_index" }

// Ping stats the index blob.
func (p *LexicalIndexPinger) Ping(ctx context.Context) error {
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("index blob not found at %s: %w", p.path, err)
	}
	return nil
}
