package rag

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrIndexNotBuilt is returned when searching a BM25 index that has neither
// been built nor loaded.
var ErrIndexNotBuilt = errors.New("bm25: index not built")

// Okapi BM25 parameters. These are the conventional defaults and are baked
// into persisted indexes, so changing them requires a rebuild.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// LexicalDoc is one document fed to the BM25 index: a chunk ID and its
// enriched text.
type LexicalDoc struct {
	// ChunkID is the stable "chunk_N" identifier.
	ChunkID string
	// Text is the enriched full text to index.
	Text string
}

// BM25Stats summarizes a built index.
type BM25Stats struct {
	// Documents is the number of indexed chunks.
	Documents int `json:"documents"`
	// VocabularySize is the number of distinct tokens.
	VocabularySize int `json:"vocabulary_size"`
	// AvgDocLength is the mean token count per document.
	AvgDocLength float64 `json:"avg_doc_length"`
}

// BM25Index implements LexicalIndex with in-memory Okapi BM25 scoring.
// Safe for concurrent searches; Build and Load must not race with Search.
type BM25Index struct {
	mu sync.RWMutex

	chunkIDs   []string
	chunkTexts []string
	tokenized  [][]string

	// Derived on build/load.
	docFreq   map[string]int
	docLen    []int
	avgDocLen float64
	built     bool
}

// NewBM25Index constructs an empty index. Call Build or Load before Search.
func NewBM25Index() *BM25Index {
	return &BM25Index{docFreq: make(map[string]int)}
}

// tokenPattern strips punctuation except hyphens, which keeps compound terms
// like "upper-lower" as one token.
var tokenPattern = regexp.MustCompile(`[^\pL\pN_\s-]`)

// Tokenize lowercases, strips punctuation except hyphens, splits on
// whitespace, and drops tokens shorter than 2 or longer than 20 characters.
// The same rule applies to documents and queries, which matters for score
// parity.
func Tokenize(text string) []string {
	text = tokenPattern.ReplaceAllString(strings.ToLower(text), " ")

	var tokens []string
	for _, t := range strings.Fields(text) {
		if n := len(t); n >= 2 && n <= 20 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Build replaces the index contents with the given documents.
func (idx *BM25Index) Build(docs []LexicalDoc) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.chunkIDs = make([]string, len(docs))
	idx.chunkTexts = make([]string, len(docs))
	idx.tokenized = make([][]string, len(docs))
	for i, doc := range docs {
		idx.chunkIDs[i] = doc.ChunkID
		idx.chunkTexts[i] = doc.Text
		idx.tokenized[i] = Tokenize(doc.Text)
	}

	idx.recompute()
	idx.built = true
}

// recompute derives document frequencies and length statistics from the
// tokenized corpus. Caller holds the write lock.
func (idx *BM25Index) recompute() {
	idx.docFreq = make(map[string]int)
	idx.docLen = make([]int, len(idx.tokenized))

	total := 0
	for i, tokens := range idx.tokenized {
		idx.docLen[i] = len(tokens)
		total += len(tokens)

		seen := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			if !seen[t] {
				seen[t] = true
				idx.docFreq[t]++
			}
		}
	}

	if len(idx.tokenized) > 0 {
		idx.avgDocLen = float64(total) / float64(len(idx.tokenized))
	}
}

// Search scores every document against the query and returns the topK
// highest, with LexicalRank assigned 1-based in result order. Ties keep
// corpus order.
func (idx *BM25Index) Search(query string, topK int) ([]RetrievedChunk, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.built {
		return nil, ErrIndexNotBuilt
	}

	queryTokens := Tokenize(query)
	n := len(idx.tokenized)

	scores := make([]float64, n)
	for _, t := range queryTokens {
		df := idx.docFreq[t]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))

		for i, tokens := range idx.tokenized {
			freq := 0
			for _, dt := range tokens {
				if dt == t {
					freq++
				}
			}
			if freq == 0 {
				continue
			}
			norm := bm25K1 * (1 - bm25B + bm25B*float64(idx.docLen[i])/idx.avgDocLen)
			scores[i] += idf * float64(freq) * (bm25K1 + 1) / (float64(freq) + norm)
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if topK > n {
		topK = n
	}
	results := make([]RetrievedChunk, 0, topK)
	for rank, i := range order[:topK] {
		results = append(results, RetrievedChunk{
			ChunkID:     idx.chunkIDs[i],
			Text:        idx.chunkTexts[i],
			Score:       scores[i],
			LexicalRank: rank + 1,
		})
	}
	return results, nil
}

// Len returns the number of indexed documents.
func (idx *BM25Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunkIDs)
}

// Stats returns corpus statistics for the stats surface.
func (idx *BM25Index) Stats() BM25Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.built {
		return BM25Stats{}
	}
	return BM25Stats{
		Documents:      len(idx.chunkIDs),
		VocabularySize: len(idx.docFreq),
		AvgDocLength:   idx.avgDocLen,
	}
}

// bm25Snapshot is the gob-persisted form. The four fields are co-versioned:
// a partial write would fail to decode rather than load a half index.
// Frequency tables are recomputed on load.
type bm25Snapshot struct {
	ChunkIDs   []string
	ChunkTexts []string
	Tokenized  [][]string
	K1, B      float64
}

// Save writes the index to path, creating parent directories as needed.
func (idx *BM25Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.built {
		return ErrIndexNotBuilt
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("bm25: create index dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bm25: create index file: %w", err)
	}
	defer f.Close()

	snap := bm25Snapshot{
		ChunkIDs:   idx.chunkIDs,
		ChunkTexts: idx.chunkTexts,
		Tokenized:  idx.tokenized,
		K1:         bm25K1,
		B:          bm25B,
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		return fmt.Errorf("bm25: encode index: %w", err)
	}
	return nil
}

// Load replaces the index contents from a file written by Save. A missing
// file surfaces the underlying not-found error so callers can branch on it.
func (idx *BM25Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bm25: open index file: %w", err)
	}
	defer f.Close()

	var snap bm25Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("bm25: decode index file %s: %w", path, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.chunkIDs = snap.ChunkIDs
	idx.chunkTexts = snap.ChunkTexts
	idx.tokenized = snap.Tokenized
	idx.recompute()
	idx.built = true
	return nil
}
