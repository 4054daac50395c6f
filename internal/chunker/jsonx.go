package chunker

import (
	"fmt"
	"strings"
)

// ParseError reports a model response that could not be parsed as the
// expected JSON array. The raw response is kept for logging.
type ParseError struct {
	// Stage names the call that produced the response (extract, group).
	Stage string
	// Raw is the full model response text.
	Raw string
	// Err is the underlying unmarshal error, nil when no array was found.
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chunker: %s response is not valid JSON: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("chunker: %s response contains no JSON array", e.Stage)
}

func (e *ParseError) Unwrap() error { return e.Err }

// extractJSONArray recovers a JSON array from a model response that may wrap
// it in markdown fences or leading prose. Tried in order: a ```json fence, a
// bare ``` fence, then the first "[" in the text.
func extractJSONArray(stage, response string) (string, error) {
	text := strings.TrimSpace(response)

	if idx := strings.Index(text, "```json"); idx != -1 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}
	if idx := strings.Index(text, "["); idx != -1 {
		return text[idx:], nil
	}
	return "", &ParseError{Stage: stage, Raw: response}
}
