// Package config loads memu-wrapper settings from the environment.
//
// Values come from process environment variables, optionally seeded from a
// .env file. LLM profiles may additionally be overridden by a YAML file named
// by MEMU_PROFILES_FILE.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/memu-wrapper/common/redact"
	"github.com/bdobrica/memu-wrapper/internal/memory"
)

// Defaults applied when the matching variable is unset.
const (
	DefaultDBPath      = "./memu.db"
	DefaultChatModel   = "gpt-4o-mini"
	DefaultEmbedModel  = "text-embedding-3-small"
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	defaultEnvFileName = ".env"
)

// DefaultCORSOrigins are the local frontend origins allowed out of the box.
var DefaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}

// Config holds every setting the service reads at startup.
type Config struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string

	DBPath        string
	StoreProvider string
	DDLMode       string
	ChatModel     string
	EmbedModel    string
	ProfilesFile  string
	RetrieveTopK  int
	TempDir       string

	Host               string
	Port               int
	CORSAllowedOrigins []string

	LogLevel  string
	LogFormat string
}

// LoadEnvFile seeds the environment from a dotenv file. Variables already set
// in the process win. An empty path means ".env" in the working directory,
// which may be absent; an explicit path must exist.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFileName
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the environment and validates it.
// A missing OPENAI_API_KEY is not an error here; see HasCredential.
func Load() (*Config, error) {
	cfg := &Config{
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:      stringOr("OPENAI_BASE_URL", ""),
		DBPath:             stringOr("MEMU_DB_PATH", DefaultDBPath),
		StoreProvider:      strings.ToLower(stringOr("MEMU_STORE_PROVIDER", memory.StoreSQLite)),
		DDLMode:            strings.ToLower(stringOr("MEMU_DDL_MODE", memory.DDLCreate)),
		ChatModel:          stringOr("MEMU_CHAT_MODEL", DefaultChatModel),
		EmbedModel:         stringOr("MEMU_EMBED_MODEL", DefaultEmbedModel),
		ProfilesFile:       stringOr("MEMU_PROFILES_FILE", ""),
		TempDir:            stringOr("MEMU_TEMP_DIR", os.TempDir()),
		Host:               stringOr("HOST", DefaultHost),
		CORSAllowedOrigins: stringSliceOr("CORS_ALLOWED_ORIGINS", DefaultCORSOrigins),
		LogLevel:           stringOr("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          stringOr("LOG_FORMAT", DefaultLogFormat),
	}

	var err error
	if cfg.Port, err = intOr("PORT", DefaultPort); err != nil {
		return nil, err
	}
	if cfg.RetrieveTopK, err = intOr("MEMU_RETRIEVE_TOP_K", memory.DefaultTopK); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.RetrieveTopK < 1 {
		return fmt.Errorf("config: MEMU_RETRIEVE_TOP_K must be positive, got %d", c.RetrieveTopK)
	}
	switch c.StoreProvider {
	case memory.StoreSQLite, memory.StoreInMemory:
	default:
		return fmt.Errorf("config: MEMU_STORE_PROVIDER %q is not one of %s, %s",
			c.StoreProvider, memory.StoreSQLite, memory.StoreInMemory)
	}
	switch c.DDLMode {
	case memory.DDLCreate, memory.DDLValidate:
	default:
		return fmt.Errorf("config: MEMU_DDL_MODE %q is not one of %s, %s",
			c.DDLMode, memory.DDLCreate, memory.DDLValidate)
	}
	return nil
}

// HasCredential reports whether an OpenAI API key is configured.
func (c *Config) HasCredential() bool {
	return c.OpenAIAPIKey != ""
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// profilesFile is the on-disk shape of MEMU_PROFILES_FILE.
type profilesFile struct {
	LLMProfiles memory.LLMProfiles `yaml:"llm_profiles"`
}

// LLMProfiles builds the engine's LLM profiles: a "default" chat profile and
// an "embedding" profile, both keyed with OPENAI_API_KEY. Entries from the
// profiles file replace these; blank provider, api_key or base_url fields in
// the file inherit the environment values.
func (c *Config) LLMProfiles() (memory.LLMProfiles, error) {
	profiles := memory.LLMProfiles{
		memory.ProfileDefault: {
			Provider:  memory.ProviderOpenAI,
			APIKey:    c.OpenAIAPIKey,
			BaseURL:   c.OpenAIBaseURL,
			ChatModel: c.ChatModel,
		},
		memory.ProfileEmbedding: {
			Provider:   memory.ProviderOpenAI,
			APIKey:     c.OpenAIAPIKey,
			BaseURL:    c.OpenAIBaseURL,
			EmbedModel: c.EmbedModel,
		},
	}
	if c.ProfilesFile == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(c.ProfilesFile)
	if err != nil {
		return nil, fmt.Errorf("config: read profiles file: %w", err)
	}
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse profiles file %s: %w", c.ProfilesFile, err)
	}
	for name, p := range file.LLMProfiles {
		if p.Provider == "" {
			p.Provider = memory.ProviderOpenAI
		}
		if p.APIKey == "" {
			p.APIKey = c.OpenAIAPIKey
		}
		if p.BaseURL == "" {
			p.BaseURL = c.OpenAIBaseURL
		}
		profiles[name] = p
	}
	return profiles, nil
}

// DatabaseConfig builds the engine's storage settings. The SQLite path is made
// absolute and expressed as a sqlite:/// DSN.
func (c *Config) DatabaseConfig() (memory.DatabaseConfig, error) {
	store := memory.MetadataStoreConfig{
		Provider: c.StoreProvider,
		DDLMode:  c.DDLMode,
	}
	if c.StoreProvider == memory.StoreSQLite {
		abs, err := filepath.Abs(c.DBPath)
		if err != nil {
			return memory.DatabaseConfig{}, fmt.Errorf("config: resolve MEMU_DB_PATH: %w", err)
		}
		store.DSN = "sqlite:///" + strings.TrimPrefix(filepath.ToSlash(abs), "/")
	}
	return memory.DatabaseConfig{MetadataStore: store}, nil
}

// RedactedProfiles renders profiles for logging with credentials masked.
func RedactedProfiles(profiles memory.LLMProfiles) map[string]any {
	out := make(map[string]any, len(profiles))
	for name, p := range profiles {
		out[name] = map[string]any{
			"provider":    p.Provider,
			"api_key":     p.APIKey,
			"base_url":    p.BaseURL,
			"chat_model":  p.ChatModel,
			"embed_model": p.EmbedModel,
		}
	}
	return redact.Map(out)
}
