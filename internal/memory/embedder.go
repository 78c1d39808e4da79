package memory

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed produces a vector embedding for the given text.
	// Returns nil with no error for empty text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Extracted is one memory item proposed by an Extractor.
type Extracted struct {
	Summary  string `json:"summary"`
	Category string `json:"category"`
}

// Extractor splits raw resource content into memory items.
type Extractor interface {
	// Extract returns the items worth remembering from content. modality
	// describes what the content is (conversation, document, ...).
	Extract(ctx context.Context, content, modality string) ([]Extracted, error)
}
