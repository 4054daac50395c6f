package document

import (
	"regexp"
	"strings"
)

// Tags is the keyword-derived classification attached to every section and
// propagated into chunk metadata. The four families are independent: a
// section can match several focuses and levels at once, or none.
type Tags struct {
	// TrainingFocus lists matched focus areas (strength, hypertrophy,
	// power, athletic). Empty when no keywords matched.
	TrainingFocus []string `json:"training_focus,omitempty"`

	// ExperienceLevel lists matched audience levels (novice, intermediate,
	// advanced).
	ExperienceLevel []string `json:"experience_level,omitempty"`

	// ProgramStructures lists matched program layouts (full_body,
	// upper_lower, ppl, body_part_split).
	ProgramStructures []string `json:"program_structures,omitempty"`

	// HasTemplate reports whether the section embeds a concrete program
	// template (fenced block or "workout X:" listing).
	HasTemplate bool `json:"has_template"`

	// ContentType is exactly one of program_template, principle,
	// exercise_list, or general.
	ContentType string `json:"content_type"`
}

// keyword tables, matched case-insensitively against section content.
var (
	focusKeywords = []struct {
		tag      string
		keywords []string
	}{
		{"strength", []string{"strength", "powerlifting", "1-5 reps", "max"}},
		{"hypertrophy", []string{"hypertrophy", "muscle growth", "8-12 reps", "volume"}},
		{"power", []string{"power", "explosive", "olympic", "clean", "snatch"}},
		{"athletic", []string{"athletic", "sport", "performance"}},
	}

	levelKeywords = []struct {
		tag      string
		keywords []string
	}{
		{"novice", []string{"novice", "beginner", "new lifter"}},
		{"intermediate", []string{"intermediate", "experienced"}},
		{"advanced", []string{"advanced", "elite", "competitive"}},
	}

	structureKeywords = []struct {
		tag      string
		keywords []string
	}{
		{"full_body", []string{"full body", "full-body"}},
		{"upper_lower", []string{"upper/lower", "upper lower"}},
		{"ppl", []string{"push/pull/legs", "ppl"}},
		{"body_part_split", []string{"body part split", "bro split"}},
	}

	templatePattern = regexp.MustCompile("```|workout [a-z]:")
)

// DeriveTags classifies a section by keyword matching. title feeds only the
// content-type decision; all list families match against content.
func DeriveTags(title, content string) Tags {
	lower := strings.ToLower(content)

	tags := Tags{
		TrainingFocus:     matchFamily(lower, focusKeywords),
		ExperienceLevel:   matchFamily(lower, levelKeywords),
		ProgramStructures: matchFamily(lower, structureKeywords),
	}

	tags.HasTemplate = templatePattern.MatchString(lower)

	titleLower := strings.ToLower(title)
	switch {
	case tags.HasTemplate:
		tags.ContentType = "program_template"
	case containsAny(titleLower, []string{"principle", "concept", "theory"}):
		tags.ContentType = "principle"
	case strings.Contains(lower, "exercise") &&
		(strings.Contains(lower, "list") || strings.Contains(lower, "selection")):
		tags.ContentType = "exercise_list"
	default:
		tags.ContentType = "general"
	}

	return tags
}

func matchFamily(lower string, table []struct {
	tag      string
	keywords []string
}) []string {
	var out []string
	for _, entry := range table {
		if containsAny(lower, entry.keywords) {
			out = append(out, entry.tag)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
