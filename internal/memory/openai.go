package memory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultChatModel      = "gpt-4o-mini"
	defaultOpenAITimeout  = 30 * time.Second
)

// OpenAIConfig configures the OpenAI-backed embedder and extractor.
type OpenAIConfig struct {
	// APIKey is the bearer token for authentication.
	APIKey string

	// BaseURL overrides the API endpoint (Azure, local proxies, compatible
	// servers). The SDK default is used when empty.
	BaseURL string

	// Model is the embedding or chat model, depending on the consumer.
	Model string

	// Timeout bounds each request. Defaults to 30 s.
	Timeout time.Duration

	// Logger receives warnings. Defaults to slog.Default().
	Logger *slog.Logger

	// HTTPClient replaces the SDK's default client when set.
	HTTPClient *http.Client
}

// newOpenAIClient builds an SDK client from cfg. Retries are disabled: a
// failed call is reported to the caller rather than silently repeated.
func newOpenAIClient(cfg OpenAIConfig) openai.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOpenAITimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return openai.NewClient(opts...)
}
