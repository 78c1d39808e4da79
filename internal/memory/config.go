package memory

import (
	"fmt"
	"strings"
)

// Profile names understood by New.
const (
	ProfileDefault   = "default"
	ProfileEmbedding = "embedding"
)

// ProviderOpenAI is the only LLM provider currently wired.
const ProviderOpenAI = "openai"

// Metadata store providers.
const (
	StoreSQLite   = "sqlite"
	StoreInMemory = "inmemory"
)

// DDL modes for the SQLite store.
const (
	DDLCreate   = "create"
	DDLValidate = "validate"
)

// LLMProfile describes one LLM endpoint. The "default" profile drives item
// extraction (ChatModel); the "embedding" profile drives vectors (EmbedModel).
type LLMProfile struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url,omitempty"`
	ChatModel  string `yaml:"chat_model,omitempty"`
	EmbedModel string `yaml:"embed_model,omitempty"`
}

// LLMProfiles maps profile names to profiles.
type LLMProfiles map[string]LLMProfile

// MetadataStoreConfig selects and configures the item store.
type MetadataStoreConfig struct {
	Provider string `yaml:"provider"`
	DSN      string `yaml:"dsn"`
	DDLMode  string `yaml:"ddl_mode"`
}

// DatabaseConfig groups storage settings.
type DatabaseConfig struct {
	MetadataStore MetadataStoreConfig `yaml:"metadata_store"`
}

// resolve returns the chat and embedding profiles, falling back to the
// default profile when no dedicated embedding profile exists.
func (p LLMProfiles) resolve() (chat LLMProfile, embed LLMProfile, err error) {
	chat, ok := p[ProfileDefault]
	if !ok {
		return LLMProfile{}, LLMProfile{}, fmt.Errorf("memory: llm profile %q is required", ProfileDefault)
	}
	embed, ok = p[ProfileEmbedding]
	if !ok {
		embed = chat
	}
	for name, prof := range map[string]LLMProfile{ProfileDefault: chat, ProfileEmbedding: embed} {
		provider := strings.ToLower(prof.Provider)
		if provider != "" && provider != ProviderOpenAI {
			return LLMProfile{}, LLMProfile{}, fmt.Errorf("memory: llm profile %q: unsupported provider %q", name, prof.Provider)
		}
		if prof.APIKey == "" {
			return LLMProfile{}, LLMProfile{}, fmt.Errorf("memory: llm profile %q: api_key is required", name)
		}
	}
	return chat, embed, nil
}
