package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIEmbedder_EmptyText(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test-key"})
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed('') error: %v", err)
	}
	if vec != nil {
		t.Errorf("expected nil for empty text, got %v", vec)
	}
}

func TestOpenAIEmbedder_DefaultModel(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test-key"})
	if e.Model() != "text-embedding-3-small" {
		t.Errorf("Model() = %q, want text-embedding-3-small", e.Model())
	}
}

func TestOpenAIEmbedder_SuccessfulEmbedding(t *testing.T) {
	want := []float32{0.5, 0.25, 0.125}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("expected path ending in /embeddings, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key-123" {
			t.Errorf("unexpected Authorization header: %s", got)
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "custom-embed" {
			t.Errorf("expected model custom-embed, got %q", req.Model)
		}
		if len(req.Input) != 1 || req.Input[0] != "hello world" {
			t.Errorf("unexpected input %v", req.Input)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "custom-embed",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": want},
			},
			"usage": map[string]any{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:  "test-key-123",
		BaseURL: srv.URL,
		Model:   "custom-embed",
	})

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(vec) != len(want) {
		t.Fatalf("expected %d-dim embedding, got %d", len(want), len(vec))
	}
	for i, v := range vec {
		if v != want[i] {
			t.Errorf("embedding[%d] = %f, want %f", i, v, want[i])
		}
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "bad-key", BaseURL: srv.URL})

	_, err := e.Embed(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error for API error response")
	}
	if !strings.Contains(err.Error(), "embedder openai") {
		t.Errorf("error should carry the component prefix, got: %v", err)
	}
}

func TestOpenAIEmbedder_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[],"model":"m","usage":{"prompt_tokens":0,"total_tokens":0}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := e.Embed(context.Background(), "test"); err == nil {
		t.Fatal("expected error when no embedding data is returned")
	}
}
