package runlog

import (
	"context"
	"testing"
	"time"
)

// openTestStore opens an in-memory Store for use in tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_RunLog_RecordAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	run := Run{
		DocumentTitle:   "Training Knowledge Base",
		DocumentPath:    "/docs/knowledge.md",
		Chunks:          42,
		SectionsSkipped: 1,
		ChunksSkipped:   2,
		Resumed:         true,
		ElapsedSeconds:  123.4,
		CostUSD:         0.87,
	}
	if err := s.Record(ctx, run); err != nil {
		t.Fatalf("record: %v", err)
	}

	runs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("want 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.DocumentTitle != run.DocumentTitle || got.Chunks != 42 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.Resumed || got.ChunksSkipped != 2 || got.SectionsSkipped != 1 {
		t.Errorf("flags/counts mismatch: %+v", got)
	}
	if got.CostUSD != 0.87 {
		t.Errorf("cost = %f, want 0.87", got.CostUSD)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should be filled in on record")
	}
}

func Test_RunLog_RecentNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, title := range []string{"oldest", "middle", "newest"} {
		run := Run{
			DocumentTitle: title,
			DocumentPath:  "/docs/doc.md",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Record(ctx, run); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("want 2 runs, got %d", len(runs))
	}
	if runs[0].DocumentTitle != "newest" || runs[1].DocumentTitle != "middle" {
		t.Errorf("ordering wrong: %s, %s", runs[0].DocumentTitle, runs[1].DocumentTitle)
	}
}

func Test_RunLog_EmptyReturnsNil(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	runs, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("want 0 runs, got %d", len(runs))
	}
}
