package document

import (
	"log/slog"
	"strings"

	"github.com/54b3r/crag-go/internal/budget"
)

// SplitLargeSections returns sections with any oversized entry split into
// multiple parts along paragraph boundaries. Paragraphs are packed greedily
// and never split mid-paragraph, so a part can exceed maxTokens when a
// single paragraph does. Split parts keep the parent's titles and tags.
func SplitLargeSections(log *slog.Logger, sections []Section, maxTokens int) []Section {
	var out []Section
	for _, sec := range sections {
		if sec.TokenCount <= maxTokens {
			out = append(out, sec)
			continue
		}

		parts := splitByParagraphs(sec, maxTokens)
		out = append(out, parts...)

		log.Info("split oversized section",
			slog.String("title", sec.Title),
			slog.Int("tokens", sec.TokenCount),
			slog.Int("parts", len(parts)),
		)
	}
	return out
}

func splitByParagraphs(sec Section, maxTokens int) []Section {
	paragraphs := strings.Split(sec.Content, "\n\n")

	var parts []Section
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		part := sec
		part.Content = strings.Join(current, "\n\n")
		part.TokenCount = currentTokens
		parts = append(parts, part)
		current = nil
		currentTokens = 0
	}

	for _, para := range paragraphs {
		paraTokens := budget.Estimate(para)
		if currentTokens+paraTokens > maxTokens && len(current) > 0 {
			flush()
		}
		current = append(current, para)
		currentTokens += paraTokens
	}
	flush()

	return parts
}
