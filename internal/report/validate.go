package report

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// placeholderMarkers are fragments that indicate the model emitted template
// scaffolding or refused instead of writing the section.
var placeholderMarkers = []string{
	"[insert",
	"{{",
	"}}",
	"<placeholder",
	"lorem ipsum",
	"as an ai",
	"i cannot",
	"todo:",
}

var numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

// ValidateSection checks one generated section draft against its spec and the
// numeric facts it was prompted with. It returns an empty string when the
// draft is acceptable, otherwise a human-readable violation used to refine
// the retry prompt.
func ValidateSection(text string, spec SectionSpec, facts map[string]float64) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "the section is empty"
	}
	if spec.MaxLength > 0 && len(trimmed) > spec.MaxLength {
		return fmt.Sprintf("the section is %d characters, over the %d character limit", len(trimmed), spec.MaxLength)
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Sprintf("the section contains placeholder text %q", marker)
		}
	}
	if bad, ok := unverifiedNumber(trimmed, facts); ok {
		return fmt.Sprintf("the figure %s does not appear in the transaction data", bad)
	}
	return ""
}

// unverifiedNumber scans the draft for numeric claims and reports the first
// one that matches no known fact within tolerance. Single-digit integers are
// ignored; they are list numbering and counting words, not financial claims.
func unverifiedNumber(text string, facts map[string]float64) (string, bool) {
	for _, tok := range numberPattern.FindAllString(text, -1) {
		clean := strings.ReplaceAll(tok, ",", "")
		n, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			continue
		}
		if !strings.Contains(clean, ".") && math.Abs(n) < 10 {
			continue
		}
		if !factMatches(n, facts) {
			return tok, true
		}
	}
	return "", false
}

func factMatches(n float64, facts map[string]float64) bool {
	for _, f := range facts {
		tol := math.Max(0.01, 0.005*math.Abs(f))
		if math.Abs(n-f) <= tol {
			return true
		}
	}
	return false
}
