package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

// DefaultTopK is the number of items Retrieve returns when not configured.
const DefaultTopK = 10

// Service is the memory engine. It is safe for concurrent use once built.
type Service struct {
	store      Store
	embedder   Embedder
	extractor  Extractor
	fallback   Extractor
	loader     *resourceLoader
	cache      *ristretto.Cache
	embedModel string
	topK       int
	logger     *slog.Logger
}

type options struct {
	embedder   Embedder
	extractor  Extractor
	store      Store
	topK       int
	logger     *slog.Logger
	httpClient *http.Client
}

// Option customizes New.
type Option func(*options)

// WithEmbedder replaces the profile-derived embedder.
func WithEmbedder(e Embedder) Option { return func(o *options) { o.embedder = e } }

// WithExtractor replaces the profile-derived extractor.
func WithExtractor(x Extractor) Option { return func(o *options) { o.extractor = x } }

// WithStore replaces the store selected by the database config.
func WithStore(s Store) Option { return func(o *options) { o.store = s } }

// WithTopK sets how many items Retrieve returns.
func WithTopK(k int) Option { return func(o *options) { o.topK = k } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithHTTPClient sets the client used to fetch http(s) resources and to talk
// to the LLM provider.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// New builds a Service from LLM profiles and a database configuration.
// It fails when the profiles are incomplete, the store provider is unknown,
// or the store cannot be opened.
func New(profiles LLMProfiles, db DatabaseConfig, opts ...Option) (*Service, error) {
	o := options{topK: DefaultTopK}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.topK <= 0 {
		o.topK = DefaultTopK
	}

	chat, embed, err := profiles.resolve()
	if err != nil {
		return nil, err
	}

	embedModel := embed.EmbedModel
	if embedModel == "" {
		embedModel = defaultEmbeddingModel
	}
	if o.embedder == nil {
		o.embedder = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     embed.APIKey,
			BaseURL:    embed.BaseURL,
			Model:      embedModel,
			HTTPClient: o.httpClient,
		})
	}
	if o.extractor == nil {
		o.extractor = NewLLMExtractor(OpenAIConfig{
			APIKey:     chat.APIKey,
			BaseURL:    chat.BaseURL,
			Model:      chat.ChatModel,
			HTTPClient: o.httpClient,
			Logger:     o.logger,
		})
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     32 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: create embedding cache: %w", err)
	}

	if o.store == nil {
		o.store, err = openStore(db.MetadataStore, o.logger)
		if err != nil {
			cache.Close()
			return nil, err
		}
	}

	return &Service{
		store:      o.store,
		embedder:   o.embedder,
		extractor:  o.extractor,
		fallback:   NoopExtractor{},
		loader:     newResourceLoader(o.httpClient),
		cache:      cache,
		embedModel: embedModel,
		topK:       o.topK,
		logger:     o.logger,
	}, nil
}

func openStore(cfg MetadataStoreConfig, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", StoreSQLite:
		if cfg.DSN == "" {
			return nil, errors.New("memory: sqlite metadata store needs a dsn")
		}
		return OpenSQLiteStore(cfg.DSN, cfg.DDLMode, logger)
	case StoreInMemory:
		return NewChromemStore(logger), nil
	default:
		return nil, fmt.Errorf("memory: unsupported metadata store provider %q", cfg.Provider)
	}
}

// Close releases the store and the embedding cache.
func (s *Service) Close() error {
	s.cache.Close()
	return s.store.Close()
}

// Retrieve returns the stored items most similar to the conversation in
// queries, restricted to items whose user scope matches where. Empty queries
// produce an empty result.
func (s *Service) Retrieve(ctx context.Context, queries []Query, where map[string]string) (*RetrieveResult, error) {
	text := formatQueries(queries)
	if text == "" {
		return &RetrieveResult{}, nil
	}

	vec, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	if len(vec) == 0 {
		return &RetrieveResult{}, nil
	}

	items, err := s.store.Search(ctx, vec, where, s.topK)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	s.logger.Debug("memory: retrieved items", "queries", len(queries), "items", len(items))
	return &RetrieveResult{Items: items}, nil
}

// Memorize ingests the resource at resourceURL for user. Items are extracted,
// embedded and stored together; if any step fails nothing is stored.
func (s *Service) Memorize(ctx context.Context, resourceURL, modality string, user map[string]string) (*MemorizeResult, error) {
	if resourceURL == "" {
		return nil, errors.New("memory: resource url is required")
	}
	if modality == "" {
		modality = DefaultModality
	}
	start := time.Now()

	content, err := s.loader.Load(ctx, resourceURL)
	if err != nil {
		if errors.Is(err, ErrEmptyResource) {
			return nil, err
		}
		return nil, fmt.Errorf("memory: load resource: %w", err)
	}

	extracted, err := s.extractor.Extract(ctx, content, modality)
	if err != nil {
		return nil, fmt.Errorf("memory: extract items: %w", err)
	}
	if len(extracted) == 0 {
		extracted, _ = s.fallback.Extract(ctx, content, modality)
	}

	resourceID := uuid.NewString()
	now := time.Now().UTC()
	records := make([]Record, 0, len(extracted))
	items := make([]Item, 0, len(extracted))
	for _, ex := range extracted {
		vec, err := s.embedder.Embed(ctx, ex.Summary)
		if err != nil {
			return nil, fmt.Errorf("memory: embed item: %w", err)
		}

		metadata := map[string]any{
			"modality":     modality,
			"resource_url": resourceURL,
		}
		for k, v := range user {
			metadata[k] = v
		}

		rec := Record{
			ID:         uuid.NewString(),
			ResourceID: resourceID,
			UserScope:  maps.Clone(user),
			Summary:    ex.Summary,
			Category:   ex.Category,
			Metadata:   metadata,
			Embedding:  vec,
			CreatedAt:  now,
		}
		if rec.UserScope == nil {
			rec.UserScope = map[string]string{}
		}
		records = append(records, rec)
		items = append(items, Item{
			ID:         rec.ID,
			ResourceID: resourceID,
			Summary:    rec.Summary,
			Category:   rec.Category,
			Metadata:   metadata,
			CreatedAt:  now,
		})
	}

	if err := s.store.Put(ctx, records); err != nil {
		return nil, fmt.Errorf("memory: store items: %w", err)
	}

	s.logger.Info("memory: memorized resource",
		"resource_id", resourceID,
		"modality", modality,
		"items", len(items),
		"elapsed", time.Since(start).String(),
	)

	return &MemorizeResult{MemoryID: resourceID, ResourceID: resourceID, Items: items}, nil
}

// embedQuery embeds text through the cache.
func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	key := s.embedModel + "\x00" + text
	if v, ok := s.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) > 0 {
		s.cache.Set(key, vec, int64(len(vec)*4))
	}
	return vec, nil
}

// formatQueries renders the turns as "role: content" lines, skipping blank
// turns. The result is empty when no turn has content.
func formatQueries(queries []Query) string {
	var b strings.Builder
	for _, q := range queries {
		content := strings.TrimSpace(q.Content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		role := q.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s", role, content)
	}
	return b.String()
}
