// Package predict holds the ranked code alternatives a kernel posts, so the
// shell can cycle through them and drop them as the user runs them.
package predict

import (
	"strings"
)

// Candidate is one alternative insertion.
type Candidate struct {
	Code    string
	Tooltip string

	sections []string
}

// NewCandidate builds a candidate and splits its code into space-separated
// sections for matching.
func NewCandidate(code, tooltip string) Candidate {
	return Candidate{Code: code, Tooltip: tooltip, sections: splitSections(code)}
}

func splitSections(code string) []string {
	return strings.FieldsFunc(code, func(r rune) bool { return r == ' ' })
}

// matchingSections counts the leading sections c and other share, ignoring case.
func (c Candidate) matchingSections(other Candidate) int {
	n := min(len(c.sections), len(other.sections))
	count := 0
	for i := 0; i < n; i++ {
		if !strings.EqualFold(c.sections[i], other.sections[i]) {
			break
		}
		count++
	}
	return count
}

// Process turns code blocks into candidates. Each block must be a one-liner,
// or two lines where the first is a '#' comment that becomes the tooltip.
// Any other block makes the whole set unusable and Process returns false.
func Process(blocks []string) ([]Candidate, bool) {
	candidates := make([]Candidate, 0, len(blocks))
	for _, block := range blocks {
		first, rest, multiline := strings.Cut(block, "\n")
		if !multiline {
			candidates = append(candidates, NewCandidate(strings.TrimSpace(block), ""))
			continue
		}

		first = strings.TrimSpace(first)
		if !strings.HasPrefix(first, "#") || strings.Contains(rest, "\n") {
			return nil, false
		}
		tooltip := strings.TrimSpace(strings.TrimLeft(first, "#"))
		candidates = append(candidates, NewCandidate(strings.TrimSpace(rest), tooltip))
	}
	return candidates, true
}
