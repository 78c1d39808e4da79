package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/openai/openai-go"
)

const (
	// maxExtractInputRunes caps the size of a single extraction request.
	// Longer resources are split into chunks of at most this many runes.
	maxExtractInputRunes = 16000
	// maxExtractChunks bounds the LLM calls spent on one resource. Content
	// past the last chunk is dropped with a warning.
	maxExtractChunks = 16

	extractorSystemPrompt = `You turn a %s into long-term memory items about the user.
Return JSON only, shaped as {"items":[{"summary":"...","category":"..."}]}.
Each summary is one self-contained sentence. Each category is a short lowercase
label such as profile, preferences, relationships, events, goals or knowledge.
Return {"items":[]} when nothing is worth remembering.`
)

// LLMExtractor implements Extractor using an OpenAI-compatible chat
// completions API. It is safe for concurrent use.
type LLMExtractor struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewLLMExtractor creates an Extractor backed by the chat completions API.
// cfg.Model defaults to gpt-4o-mini.
func NewLLMExtractor(cfg OpenAIConfig) *LLMExtractor {
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLMExtractor{
		client: newOpenAIClient(cfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

type extractionReply struct {
	Items []Extracted `json:"items"`
}

// Extract asks the model for memory items. Long content is split into
// chunks and each chunk is extracted separately. A reply that is not the
// requested JSON is kept as a single item so the resource is never silently
// dropped.
func (x *LLMExtractor) Extract(ctx context.Context, content, modality string) ([]Extracted, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	if modality == "" {
		modality = DefaultModality
	}

	chunks := chunkRunes(content, maxExtractInputRunes)
	if len(chunks) > maxExtractChunks {
		total := len([]rune(content))
		kept := 0
		for _, c := range chunks[:maxExtractChunks] {
			kept += len([]rune(c))
		}
		x.logger.Warn("extractor: content truncated",
			"modality", modality,
			"runes", total,
			"processed_runes", kept,
			"chunks", len(chunks),
			"max_chunks", maxExtractChunks,
		)
		chunks = chunks[:maxExtractChunks]
	}

	var out []Extracted
	for i, chunk := range chunks {
		items, err := x.extractChunk(ctx, chunk, modality)
		if err != nil {
			if len(chunks) > 1 {
				return nil, fmt.Errorf("extractor llm: chunk %d/%d: %w", i+1, len(chunks), err)
			}
			return nil, fmt.Errorf("extractor llm: %w", err)
		}
		out = append(out, items...)
	}
	return out, nil
}

func (x *LLMExtractor) extractChunk(ctx context.Context, chunk, modality string) ([]Extracted, error) {
	resp, err := x.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(x.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(extractorSystemPrompt, modality)),
			openai.UserMessage(chunk),
		},
		MaxCompletionTokens: openai.Int(1024),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}
	return parseExtraction(resp.Choices[0].Message.Content, modality), nil
}

// chunkRunes splits s into trimmed pieces of at most n runes. A cut prefers
// the last newline in the back half of the window, then the last whitespace,
// and falls back to a hard cut. Blank pieces are skipped.
func chunkRunes(s string, n int) []string {
	if n <= 0 {
		return nil
	}
	r := []rune(s)
	var out []string
	for len(r) > 0 {
		end := len(r)
		if end > n {
			end = n
			if cut := lastBreak(r[n/2:n], func(c rune) bool { return c == '\n' }); cut >= 0 {
				end = n/2 + cut + 1
			} else if cut := lastBreak(r[n/2:n], unicode.IsSpace); cut >= 0 {
				end = n/2 + cut + 1
			}
		}
		if piece := strings.TrimSpace(string(r[:end])); piece != "" {
			out = append(out, piece)
		}
		r = r[end:]
	}
	return out
}

func lastBreak(r []rune, match func(rune) bool) int {
	for i := len(r) - 1; i >= 0; i-- {
		if match(r[i]) {
			return i
		}
	}
	return -1
}

// parseExtraction decodes the model reply, tolerating markdown code fences.
func parseExtraction(reply, modality string) []Extracted {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parsed extractionReply
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return []Extracted{{Summary: text, Category: modality}}
	}

	out := make([]Extracted, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		summary := strings.TrimSpace(it.Summary)
		if summary == "" {
			continue
		}
		category := strings.ToLower(strings.TrimSpace(it.Category))
		if category == "" {
			category = modality
		}
		out = append(out, Extracted{Summary: summary, Category: category})
	}
	return out
}

// Compile-time interface satisfaction check.
var _ Extractor = (*LLMExtractor)(nil)
