package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/crag-go/internal/retry"
)

var testRetryPolicy = retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2.0}

func TestOpenAIEmbedder_SortsByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test server
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	embeddings, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if embeddings[0][0] != 0.1 || embeddings[1][0] != 0.2 {
		t.Errorf("embeddings not reordered by index: %v", embeddings)
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test server
			"error": map[string]string{"message": "invalid api key"},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	if _, err := e.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestVoyageEmbedder_InputTypes(t *testing.T) {
	t.Parallel()

	var inputTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req voyageEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		inputTypes = append(inputTypes, req.InputType)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": []float32{float32(i)}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck // test server
	}))
	defer srv.Close()

	e := NewVoyageEmbedder(&VoyageConfig{BaseURL: srv.URL, APIKey: "vk", Model: "voyage-3"})

	if _, err := e.Embed(context.Background(), []string{"doc one", "doc two"}); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	vec, err := e.EmbedQuery(context.Background(), "search query")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	if len(vec) != 1 {
		t.Errorf("query embedding length = %d, want 1", len(vec))
	}

	if len(inputTypes) != 2 || inputTypes[0] != "document" || inputTypes[1] != "query" {
		t.Errorf("input_types = %v, want [document query]", inputTypes)
	}
}

// fakeBackend counts calls and records batch sizes.
type fakeBackend struct {
	batches  [][]string
	failures atomic.Int32
}

func (f *fakeBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return nil, errors.New("transient failure")
	}
	f.batches = append(f.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestClient_BatchesPreserveOrder(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	c := NewClient(backend, 2, testRetryPolicy, nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	embeddings, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(backend.batches) != 3 {
		t.Fatalf("expected 3 batches of size <= 2, got %d", len(backend.batches))
	}
	if len(backend.batches[2]) != 1 {
		t.Errorf("final batch size = %d, want 1", len(backend.batches[2]))
	}
	for i, text := range texts {
		if embeddings[i][0] != float32(len(text)) {
			t.Errorf("embedding %d out of order: got %.0f, want %d", i, embeddings[i][0], len(text))
		}
	}
}

func TestClient_EmptyInput(t *testing.T) {
	t.Parallel()

	c := NewClient(&fakeBackend{}, 4, testRetryPolicy, nil)
	embeddings, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(embeddings) != 0 {
		t.Errorf("expected empty result, got %d", len(embeddings))
	}
}

func TestClient_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.failures.Store(1)
	c := NewClient(backend, 4, testRetryPolicy, nil)

	if _, err := c.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
}

func TestClient_FailedBatchFailsCall(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	backend.failures.Store(10)
	c := NewClient(backend, 4, testRetryPolicy, nil)

	if _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}

// fakeQueryBackend also implements the query variant.
type fakeQueryBackend struct {
	fakeBackend
	queries []string
}

func (f *fakeQueryBackend) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	return []float32{42}, nil
}

func TestClient_EmbedQueryUsesQueryVariant(t *testing.T) {
	t.Parallel()

	backend := &fakeQueryBackend{}
	c := NewClient(backend, 4, testRetryPolicy, nil)

	vec, err := c.EmbedQuery(context.Background(), "how many sets per week")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	if vec[0] != 42 {
		t.Errorf("expected the query-variant embedding, got %v", vec)
	}
	if len(backend.queries) != 1 || len(backend.batches) != 0 {
		t.Errorf("expected one query call and no document batches, got %d/%d",
			len(backend.queries), len(backend.batches))
	}
}

func TestClient_EmbedQueryFallsBackToDocumentEmbed(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	c := NewClient(backend, 4, testRetryPolicy, nil)

	vec, err := c.EmbedQuery(context.Background(), "query")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	if vec[0] != float32(len("query")) {
		t.Errorf("fallback embedding = %v", vec)
	}
	if len(backend.batches) != 1 {
		t.Errorf("expected a single-element document batch, got %d", len(backend.batches))
	}
}

func TestNewFromEnv_Voyage(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "voyage")
	t.Setenv("VOYAGE_API_KEY", "vk")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("EMBEDDING_ENDPOINT", "")

	e, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	v, ok := e.(*VoyageEmbedder)
	if !ok {
		t.Fatalf("expected *VoyageEmbedder, got %T", e)
	}
	if v.model != defaultVoyageModel {
		t.Errorf("model = %s, want %s", v.model, defaultVoyageModel)
	}
}

func TestNewFromEnv_VoyageRequiresKey(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "voyage")
	t.Setenv("VOYAGE_API_KEY", "")
	t.Setenv("EMBEDDING_API_KEY", "")

	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error when no voyage key is set")
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	for backend, want := range map[string]int{
		"ollama": defaultOllamaDimensions,
		"voyage": defaultVoyageDimensions,
		"openai": defaultOpenAIDimensions,
	} {
		if got := DefaultDimensions(backend); got != want {
			t.Errorf("DefaultDimensions(%s) = %d, want %d", backend, got, want)
		}
	}
}

func TestDefaultDimensions_EnvOverride(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "256")
	if got := DefaultDimensions("ollama"); got != 256 {
		t.Errorf("DefaultDimensions = %d, want 256", got)
	}
}
