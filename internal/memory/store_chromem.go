package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

const scopePrefix = "scope:"

var errNoEmbedding = errors.New("memory chromem: document has no embedding")

// ChromemStore implements Store on chromem-go, an embedded in-process vector
// database. Nothing is persisted; it backs the "inmemory" provider for local
// development and tests.
type ChromemStore struct {
	db          *chromem.DB
	logger      *slog.Logger
	mu          sync.RWMutex
	collections map[string]*chromem.Collection // keyed by user_id
}

// NewChromemStore creates an empty in-memory store.
func NewChromemStore(logger *slog.Logger) *ChromemStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromemStore{
		db:          chromem.NewDB(),
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}
}

// collection returns the collection for userID, creating it when create is set.
func (s *ChromemStore) collection(userID string, create bool) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	name := "global"
	if userID != "" {
		name = "user_" + userID
	}
	// Embeddings are always computed by the Service; the collection must
	// never call out to an embedding API on its own.
	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbedding }
	col, err := s.db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("memory chromem: create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

// Put adds records to their users' collections. Records without an embedding
// are skipped since they could never be retrieved.
func (s *ChromemStore) Put(ctx context.Context, records []Record) error {
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			s.logger.Warn("memory chromem: skip item without embedding", "id", rec.ID)
			continue
		}
		col, err := s.collection(rec.UserScope["user_id"], true)
		if err != nil {
			return err
		}

		meta := map[string]string{
			"resource_id": rec.ResourceID,
			"category":    rec.Category,
			"created_at":  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if len(rec.Metadata) > 0 {
			b, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("memory chromem: marshal metadata: %w", err)
			}
			meta["metadata"] = string(b)
		}
		for k, v := range rec.UserScope {
			meta[scopePrefix+k] = v
		}

		err = col.AddDocument(ctx, chromem.Document{
			ID:        rec.ID,
			Content:   rec.Summary,
			Embedding: rec.Embedding,
			Metadata:  meta,
		})
		if err != nil {
			return fmt.Errorf("memory chromem: add document: %w", err)
		}
	}
	return nil
}

// Search queries the user's collection, or every collection when where has
// no user_id.
func (s *ChromemStore) Search(ctx context.Context, embedding []float32, where map[string]string, topK int) ([]Item, error) {
	if topK <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	var cols []*chromem.Collection
	if uid, ok := where["user_id"]; ok {
		col, err := s.collection(uid, false)
		if err != nil {
			return nil, err
		}
		if col != nil {
			cols = append(cols, col)
		}
	} else {
		s.mu.RLock()
		for _, col := range s.collections {
			cols = append(cols, col)
		}
		s.mu.RUnlock()
	}

	filter := make(map[string]string, len(where))
	for k, v := range where {
		filter[scopePrefix+k] = v
	}

	var items []Item
	for _, col := range cols {
		// chromem-go rejects nResults larger than the collection.
		n := min(topK, col.Count())
		if n == 0 {
			continue
		}
		results, err := col.QueryEmbedding(ctx, embedding, n, filter, nil)
		if err != nil {
			return nil, fmt.Errorf("memory chromem: query: %w", err)
		}
		for _, r := range results {
			items = append(items, s.toItem(r))
		}
	}
	return rankItems(items, topK), nil
}

func (s *ChromemStore) toItem(r chromem.Result) Item {
	item := Item{
		ID:         r.ID,
		ResourceID: r.Metadata["resource_id"],
		Summary:    r.Content,
		Category:   r.Metadata["category"],
		Score:      float64(r.Similarity),
	}
	if raw := r.Metadata["metadata"]; raw != "" {
		item.Metadata = map[string]any{}
		if err := json.Unmarshal([]byte(raw), &item.Metadata); err != nil {
			s.logger.Warn("memory chromem: bad metadata", "id", r.ID, "err", err)
			item.Metadata = nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, r.Metadata["created_at"]); err == nil {
		item.CreatedAt = t
	}
	return item
}

// Close is a no-op; chromem-go keeps everything in memory.
func (s *ChromemStore) Close() error {
	return nil
}

// Compile-time interface satisfaction check.
var _ Store = (*ChromemStore)(nil)
