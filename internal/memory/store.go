package memory

import (
	"context"
	"math"
	"sort"
	"time"
)

// Record is an item ready for storage.
type Record struct {
	ID         string
	ResourceID string
	// UserScope holds the identity keys the item belongs to, e.g.
	// {"user_id": "u1"}. Retrieval filters compare against it.
	UserScope map[string]string
	Summary   string
	Category  string
	Metadata  map[string]any
	Embedding []float32
	CreatedAt time.Time
}

// Store persists records and answers similarity queries.
type Store interface {
	// Put stores all records atomically where the backend allows it.
	Put(ctx context.Context, records []Record) error

	// Search returns up to topK items whose scope matches every key in where,
	// ordered by descending cosine similarity to embedding.
	Search(ctx context.Context, embedding []float32, where map[string]string, topK int) ([]Item, error)

	// Close releases resources.
	Close() error
}

// matchesScope reports whether every key/value in where is present in scope.
func matchesScope(scope, where map[string]string) bool {
	for k, v := range where {
		if scope[k] != v {
			return false
		}
	}
	return true
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 if the lengths differ, either vector is empty, or has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankItems sorts by descending score, newest first on ties, and keeps topK.
func rankItems(items []Item, topK int) []Item {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if topK > 0 && len(items) > topK {
		items = items[:topK]
	}
	return items
}
