// Package memory implements the memory engine behind memu-wrapper.
//
// Memorize loads a resource (local file or URL), asks an LLM to split it into
// short memory items, embeds each item and stores it scoped to the owning user.
// Retrieve embeds the caller's conversation turns and ranks that user's stored
// items by cosine similarity.
//
// The HTTP layer only sees Service.Retrieve and Service.Memorize; everything
// else in this package is an implementation detail of the engine.
package memory

import (
	"errors"
	"time"
)

// ErrEmptyResource is returned by Memorize when the resource has no content.
var ErrEmptyResource = errors.New("memory: resource is empty")

// DefaultModality is used when Memorize is called without a modality.
const DefaultModality = "conversation"

// Query is a single conversational turn used as retrieval input.
type Query struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Item is a stored memory as returned by the engine. Every store produces this
// one shape; callers never have to probe for optional fields.
type Item struct {
	ID         string
	ResourceID string
	Summary    string
	Category   string
	Metadata   map[string]any
	Score      float64 // cosine similarity to the query; zero outside retrieval
	CreatedAt  time.Time
}

// RetrieveResult is the outcome of Service.Retrieve, best match first.
type RetrieveResult struct {
	Items []Item
}

// MemorizeResult is the outcome of Service.Memorize. MemoryID identifies the
// ingested resource; every item extracted from it shares that ResourceID.
type MemorizeResult struct {
	MemoryID   string
	ResourceID string
	Items      []Item
}
