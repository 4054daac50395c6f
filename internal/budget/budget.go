// Package budget provides token estimation and token-limited truncation for
// the retrieval pipeline. Because the pipeline supports multiple completion
// and embedding backends with different tokenizers, this package uses a
// conservative character-based heuristic: 1 token ≈ 4 characters (English
// prose). This deliberately under-estimates token counts to leave headroom
// for model-specific overhead.
package budget

import (
	"strings"
	"unicode/utf8"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English text; using 3 would
	// be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxTokens is the default token budget for an assembled context
	// block. Override via MAX_TOKENS_BUDGET.
	DefaultMaxTokens = 2000

	// DefaultMinChunks is the number of leading chunks always included in a
	// budget-selected context regardless of token cost, so the output is
	// never empty. Override via FINAL_CHUNKS_MIN.
	DefaultMinChunks = 3
)

// Estimate returns a rough token count for s using the character heuristic.
// Non-empty strings always estimate to at least 1 token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Truncate cuts s so its estimated token count does not exceed maxTokens.
// The cut lands on the last whitespace boundary before the character limit
// when one exists, so a word is never split mid-way. Either way the result
// is valid UTF-8: the limit backs up to a rune boundary before cutting.
// maxTokens <= 0 returns the empty string.
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * charsPerToken
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}

	cut := s[:limit]
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
