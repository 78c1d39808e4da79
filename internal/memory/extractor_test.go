package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func chatServer(t *testing.T, reply string, check func(r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("expected path ending in /chat/completions, got %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
}

func TestLLMExtractor_ParsesItems(t *testing.T) {
	reply := `{"items":[{"summary":"The user likes green tea.","category":"Preferences"},{"summary":"The user lives in Lisbon.","category":"profile"}]}`
	srv := chatServer(t, reply, func(r *http.Request, body map[string]any) {
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("expected default chat model, got %v", body["model"])
		}
		msgs, _ := body["messages"].([]any)
		if len(msgs) != 2 {
			t.Errorf("expected system+user messages, got %d", len(msgs))
			return
		}
		sys, _ := msgs[0].(map[string]any)
		if content, _ := sys["content"].(string); !strings.Contains(content, "document") {
			t.Errorf("system prompt should mention the modality, got %q", content)
		}
	})
	defer srv.Close()

	x := NewLLMExtractor(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	items, err := x.Extract(context.Background(), "I love green tea. I live in Lisbon.", "document")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Category != "preferences" {
		t.Errorf("category should be lowercased, got %q", items[0].Category)
	}
	if items[1].Summary != "The user lives in Lisbon." {
		t.Errorf("unexpected summary %q", items[1].Summary)
	}
}

func TestLLMExtractor_BlankContentSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	x := NewLLMExtractor(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	items, err := x.Extract(context.Background(), "   \n", "conversation")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if items != nil || called {
		t.Errorf("blank content should not reach the API (called=%v, items=%v)", called, items)
	}
}

func TestLLMExtractor_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	x := NewLLMExtractor(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := x.Extract(context.Background(), "hello", "conversation"); err == nil {
		t.Fatal("expected error for API failure")
	}
}

// userMessages collects the user message of every chat request it sees.
type userMessages struct {
	mu   sync.Mutex
	seen []string
}

func (u *userMessages) record(_ *http.Request, body map[string]any) {
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		return
	}
	user, _ := msgs[1].(map[string]any)
	content, _ := user["content"].(string)
	u.mu.Lock()
	u.seen = append(u.seen, content)
	u.mu.Unlock()
}

func (u *userMessages) all() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return slices.Clone(u.seen)
}

func TestLLMExtractor_ChunksLongContent(t *testing.T) {
	var msgs userMessages
	srv := chatServer(t, `{"items":[{"summary":"A fact.","category":"knowledge"}]}`, msgs.record)
	defer srv.Close()

	const line = "alpha beta gamma\n"
	content := strings.Repeat(line, 2400)

	x := NewLLMExtractor(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	items, err := x.Extract(context.Background(), content, "document")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	sent := msgs.all()
	if len(sent) != 3 {
		t.Fatalf("expected 3 chat calls, got %d", len(sent))
	}
	if len(items) != 3 {
		t.Errorf("expected one item per chunk, got %d", len(items))
	}
	total := 0
	for i, m := range sent {
		n := utf8.RuneCountInString(m)
		if n > maxExtractInputRunes {
			t.Errorf("chunk %d has %d runes, limit %d", i, n, maxExtractInputRunes)
		}
		if !strings.HasSuffix(m, "gamma") {
			t.Errorf("chunk %d should end on a line boundary, ends with %q", i, m[len(m)-10:])
		}
		total += strings.Count(m, "alpha")
	}
	if total != 2400 {
		t.Errorf("chunks carry %d lines, want all 2400", total)
	}
}

func TestLLMExtractor_CapsChunksAndWarns(t *testing.T) {
	var msgs userMessages
	srv := chatServer(t, `{"items":[]}`, msgs.record)
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	// 941 lines of 17 runes fill one chunk exactly.
	const line = "alpha beta gamma\n"
	content := strings.Repeat(line, (maxExtractChunks+2)*941)

	x := NewLLMExtractor(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Logger: logger})
	if _, err := x.Extract(context.Background(), content, "document"); err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if got := len(msgs.all()); got != maxExtractChunks {
		t.Errorf("expected %d chat calls, got %d", maxExtractChunks, got)
	}
	out := logs.String()
	if !strings.Contains(out, "content truncated") {
		t.Fatalf("expected a truncation warning, got %q", out)
	}
	wantTotal := fmt.Sprintf("runes=%d", utf8.RuneCountInString(strings.TrimSpace(content)))
	wantKept := fmt.Sprintf("processed_runes=%d", maxExtractChunks*(941*17-1))
	for _, want := range []string{"level=WARN", wantTotal, wantKept} {
		if !strings.Contains(out, want) {
			t.Errorf("warning should contain %q, got %q", want, out)
		}
	}
}

func TestLLMExtractor_ShortContentSingleCall(t *testing.T) {
	var msgs userMessages
	srv := chatServer(t, `{"items":[]}`, msgs.record)
	defer srv.Close()

	var logs bytes.Buffer
	x := NewLLMExtractor(OpenAIConfig{
		APIKey:  "k",
		BaseURL: srv.URL,
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if _, err := x.Extract(context.Background(), "  I like tea.  ", "conversation"); err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	sent := msgs.all()
	if len(sent) != 1 || sent[0] != "I like tea." {
		t.Errorf("sent = %q", sent)
	}
	if logs.Len() != 0 {
		t.Errorf("short content should not warn, got %q", logs.String())
	}
}

func TestChunkRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want []string
	}{
		{"fits", "hello", 10, []string{"hello"}},
		{"prefers newline", "aaaaaa\nbb cccc dd", 10, []string{"aaaaaa", "bb cccc dd"}},
		{"falls back to space", "aaaaaa bbbbbbbb", 10, []string{"aaaaaa", "bbbbbbbb"}},
		{"hard cut", "abcdefghijkl", 5, []string{"abcde", "fghij", "kl"}},
		{"counts runes", "héllo wörld", 6, []string{"héllo", "wörld"}},
		{"blank", "   ", 2, nil},
		{"non-positive limit", "abc", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chunkRunes(tt.in, tt.n); !slices.Equal(got, tt.want) {
				t.Errorf("chunkRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []Extracted
	}{
		{
			name:  "plain json",
			reply: `{"items":[{"summary":"Likes jazz","category":"preferences"}]}`,
			want:  []Extracted{{Summary: "Likes jazz", Category: "preferences"}},
		},
		{
			name:  "fenced json",
			reply: "```json\n{\"items\":[{\"summary\":\"Owns a cat\",\"category\":\"\"}]}\n```",
			want:  []Extracted{{Summary: "Owns a cat", Category: "conversation"}},
		},
		{
			name:  "blank summaries dropped",
			reply: `{"items":[{"summary":"  ","category":"x"},{"summary":"Runs daily","category":"habits"}]}`,
			want:  []Extracted{{Summary: "Runs daily", Category: "habits"}},
		},
		{
			name:  "empty list",
			reply: `{"items":[]}`,
			want:  []Extracted{},
		},
		{
			name:  "not json",
			reply: "The user enjoys hiking.",
			want:  []Extracted{{Summary: "The user enjoys hiking.", Category: "conversation"}},
		},
		{
			name:  "blank reply",
			reply: "  ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseExtraction(tt.reply, "conversation")
			if len(got) != len(tt.want) {
				t.Fatalf("got %d items (%v), want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("item %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNoopExtractor(t *testing.T) {
	items, err := NoopExtractor{}.Extract(context.Background(), "  hello\n\n  world  ", "")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Summary != "hello world" {
		t.Errorf("summary = %q, want whitespace collapsed", items[0].Summary)
	}
	if items[0].Category != DefaultModality {
		t.Errorf("category = %q, want %q", items[0].Category, DefaultModality)
	}

	items, _ = NoopExtractor{}.Extract(context.Background(), " \t ", "document")
	if items != nil {
		t.Errorf("blank content should yield no items, got %v", items)
	}

	long := strings.Repeat("a", maxNoopSummaryRunes*2)
	items, _ = NoopExtractor{}.Extract(context.Background(), long, "document")
	if n := len([]rune(items[0].Summary)); n != maxNoopSummaryRunes {
		t.Errorf("summary length = %d, want %d", n, maxNoopSummaryRunes)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 10); got != "héllo" {
		t.Errorf("short string changed: %q", got)
	}
	if got := truncateRunes("héllo wörld", 8); got != "héllo..." {
		t.Errorf("truncateRunes = %q, want %q", got, "héllo...")
	}
	if got := truncateRunes("abcdef", 2); got != "..." {
		t.Errorf("truncateRunes tiny limit = %q", got)
	}
}
