package memory

import (
	"context"
	"strings"
)

// maxNoopSummaryRunes bounds the summary produced by NoopExtractor.
const maxNoopSummaryRunes = 500

// NoopExtractor stores the resource as one item: its whitespace-collapsed
// prefix as summary and the modality as category. Service falls back to it
// when the LLM proposes no items, so every memorized resource stays findable.
type NoopExtractor struct{}

// Extract returns a single item, or nothing for blank content.
func (NoopExtractor) Extract(_ context.Context, content, modality string) ([]Extracted, error) {
	summary := strings.Join(strings.Fields(content), " ")
	if summary == "" {
		return nil, nil
	}
	if modality == "" {
		modality = DefaultModality
	}
	return []Extracted{{
		Summary:  truncateRunes(summary, maxNoopSummaryRunes),
		Category: modality,
	}}, nil
}

// truncateRunes cuts s to at most n runes, appending "..." when it cuts.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n < 3 {
		return "..."
	}
	return string(r[:n-3]) + "..."
}

// Compile-time interface satisfaction check.
var _ Extractor = NoopExtractor{}
