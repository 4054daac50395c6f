// Package document parses a structured knowledge document into titled
// sections that downstream chunking can process independently. The input
// format uses two heading levels below the document title:
//
//	# Document Title
//	## 1. Section Title
//	### Subsection Title
//
// A section with no sub-headings becomes one Section; a section with
// sub-headings is split into one Section per sub-heading. Malformed heading
// sequences are handled best-effort: sections never overlap and every
// boundary is the start of the next heading at the same or higher level.
package document

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/54b3r/crag-go/internal/budget"
)

// Section is one independently processable region of the document.
// Sections are immutable once parsed.
type Section struct {
	// Ordinal is the numeric prefix of the parent heading ("## 3. ..." → 3).
	// Zero when the heading carried no number.
	Ordinal int `json:"ordinal"`

	// Title is the parent heading text (without the numeric prefix).
	Title string `json:"title"`

	// Subtitle is the sub-heading text, empty for sections without one.
	Subtitle string `json:"subtitle,omitempty"`

	// Content is the section body text, trimmed.
	Content string `json:"content"`

	// TokenCount is the estimated token count of Content.
	TokenCount int `json:"token_count"`

	// Tags holds the keyword-derived classification for this section.
	Tags Tags `json:"tags"`
}

// Document is the fully parsed input document.
type Document struct {
	// Filepath is the source path, empty when parsed from raw text.
	Filepath string `json:"filepath"`

	// Title is the document title from the top-level heading, or the file
	// stem when no title heading is present.
	Title string `json:"title"`

	// Sections is the ordered list of parsed sections.
	Sections []Section `json:"sections"`

	// FullText is the complete raw document, kept for contextual enrichment.
	FullText string `json:"full_text"`

	// TotalTokens is the estimated token count of FullText.
	TotalTokens int `json:"total_tokens"`
}

// Heading patterns for the two structural levels below the title.
var (
	titlePattern      = regexp.MustCompile(`(?m)^# (.+)$`)
	sectionPattern    = regexp.MustCompile(`(?m)^##\s+(\d+)\.\s+(.+)$`)
	subsectionPattern = regexp.MustCompile(`(?m)^###\s+(.+)$`)
)

// ParseFile reads and parses the document at path. A missing file surfaces
// the underlying not-found error so callers can branch on os.IsNotExist.
func ParseFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("document: read %s: %w", path, err)
	}

	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc := Parse(string(raw), fallback)
	doc.Filepath = path
	return doc, nil
}

// Parse segments raw text into sections. fallbackTitle is used when the
// document has no top-level heading.
func Parse(raw, fallbackTitle string) *Document {
	title := fallbackTitle
	if m := titlePattern.FindStringSubmatch(raw); m != nil {
		title = strings.TrimSpace(m[1])
	}

	var sections []Section
	matches := sectionPattern.FindAllStringSubmatchIndex(raw, -1)
	for i, m := range matches {
		ordinal, _ := strconv.Atoi(raw[m[2]:m[3]])
		secTitle := strings.TrimSpace(raw[m[4]:m[5]])

		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(raw[m[1]:end])

		sections = append(sections, splitSubsections(ordinal, secTitle, body)...)
	}

	return &Document{
		Title:       title,
		Sections:    sections,
		FullText:    raw,
		TotalTokens: budget.Estimate(raw),
	}
}

// splitSubsections turns one parent-heading region into Sections. When the
// region contains "###" sub-headings, each sub-heading becomes its own
// Section; leading text before the first sub-heading is folded into the
// first Section's content. Without sub-headings the whole region is one
// Section. Empty regions produce nothing.
func splitSubsections(ordinal int, title, body string) []Section {
	subs := subsectionPattern.FindAllStringSubmatchIndex(body, -1)
	if len(subs) == 0 {
		if body == "" {
			return nil
		}
		return []Section{newSection(ordinal, title, "", body)}
	}

	intro := strings.TrimSpace(body[:subs[0][0]])

	var out []Section
	for i, m := range subs {
		subtitle := strings.TrimSpace(body[m[2]:m[3]])

		end := len(body)
		if i+1 < len(subs) {
			end = subs[i+1][0]
		}
		content := strings.TrimSpace(body[m[1]:end])

		if i == 0 && intro != "" {
			content = intro + "\n\n" + content
		}
		if content == "" {
			continue
		}
		out = append(out, newSection(ordinal, title, subtitle, content))
	}
	return out
}

// newSection builds a Section with derived token count and tags.
func newSection(ordinal int, title, subtitle, content string) Section {
	return Section{
		Ordinal:    ordinal,
		Title:      title,
		Subtitle:   subtitle,
		Content:    content,
		TokenCount: budget.Estimate(content),
		Tags:       DeriveTags(title, content),
	}
}

// LogSummary emits a structured summary of the parse result.
func (d *Document) LogSummary(log *slog.Logger) {
	log.Info("document parsed",
		slog.String("title", d.Title),
		slog.Int("sections", len(d.Sections)),
		slog.Int("total_tokens", d.TotalTokens),
	)
}
