package budget

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func Test_Estimate_Heuristic(t *testing.T) {
	t.Parallel()

	if got := Estimate(""); got != 0 {
		t.Errorf("Estimate(empty) = %d, want 0", got)
	}
	if got := Estimate("ab"); got != 1 {
		t.Errorf("Estimate(short) = %d, want 1 (non-empty floors at 1)", got)
	}
	if got := Estimate(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("Estimate(400 chars) = %d, want 100", got)
	}
}

func Test_Truncate_WithinLimitUnchanged(t *testing.T) {
	t.Parallel()

	s := "short text"
	if got := Truncate(s, 100); got != s {
		t.Errorf("Truncate returned %q, want unchanged input", got)
	}
}

func Test_Truncate_CutsOnWordBoundary(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("word ", 100) // 500 chars
	got := Truncate(s, 50)            // 200-char limit

	if Estimate(got) > 50 {
		t.Errorf("truncated estimate = %d, want <= 50", Estimate(got))
	}
	if strings.HasSuffix(got, "wor") || strings.HasSuffix(got, "wo") {
		t.Errorf("truncation split a word: %q", got[len(got)-10:])
	}
}

func Test_Truncate_KeepsRuneBoundary(t *testing.T) {
	t.Parallel()

	// No whitespace before the limit, so the cut falls mid-string. The
	// 200-byte limit lands inside a 3-byte rune (200 % 3 != 0) and must back
	// up to the rune boundary instead of emitting a partial sequence.
	s := strings.Repeat("€", 100) // 300 bytes
	got := Truncate(s, 50)        // 200-byte limit

	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got[len(got)-4:])
	}
	if len(got) == 0 || len(got) > 200 {
		t.Errorf("truncated length = %d, want within (0, 200]", len(got))
	}
}

func Test_Truncate_MultiByteWithWhitespace(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("héllo wörld ", 50) // 700 bytes
	got := Truncate(s, 50)

	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if strings.HasSuffix(got, "hé") || strings.HasSuffix(got, "wö") {
		t.Errorf("truncation split a word: %q", got)
	}
}

func Test_Truncate_ZeroBudget(t *testing.T) {
	t.Parallel()

	if got := Truncate("anything", 0); got != "" {
		t.Errorf("Truncate(_, 0) = %q, want empty", got)
	}
}
