package costs

// Published per-token prices, in dollars per million tokens. These are
// estimates for cost attribution only — billing truth lives with the
// providers. Cached completion input is billed at a 90% discount.
const (
	completionInputPerM  = 1.00
	completionOutputPerM = 5.00
	completionCachedPerM = 0.10

	embeddingPerM = 0.13

	// Rerank providers bill per search, not per document.
	rerankPerSearch = 2.00 / 1000
)

// CompletionCost returns the cost of one completion call given its token
// usage. cached counts input tokens served from the provider's prompt cache.
func CompletionCost(inputTokens, outputTokens, cachedTokens int) float64 {
	return float64(inputTokens)*(completionInputPerM/1_000_000) +
		float64(outputTokens)*(completionOutputPerM/1_000_000) +
		float64(cachedTokens)*(completionCachedPerM/1_000_000)
}

// EmbeddingCost returns the cost of embedding the given number of tokens.
func EmbeddingCost(tokens int) float64 {
	return float64(tokens) * (embeddingPerM / 1_000_000)
}

// RerankCost returns the cost of one rerank search.
func RerankCost() float64 {
	return rerankPerSearch
}
