package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/notestream/pkg/provider/llm"
)

// ── convertMessage ────────────────────────────────────────────────────────────

// TestConvertMessage checks that role, content and name are carried over.
func TestConvertMessage(t *testing.T) {
	tests := []struct {
		role string
		name string
	}{
		{"system", ""},
		{"user", ""},
		{"assistant", "notes"},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got := convertMessage(llm.Message{Role: tt.role, Content: "hi", Name: tt.name})
			if got.Role != tt.role {
				t.Errorf("expected role %q, got %q", tt.role, got.Role)
			}
			if got.ContentString() != "hi" {
				t.Errorf("expected content %q, got %q", "hi", got.ContentString())
			}
			if got.Name != tt.name {
				t.Errorf("expected name %q, got %q", tt.name, got.Name)
			}
		})
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SchemaInSystemPrompt(t *testing.T) {
	p := &Provider{model: "claude-3-5-sonnet-latest"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Always respond with valid JSON.",
		Messages:     []llm.Message{{Role: "user", Content: "transcript"}},
		Temperature:  0.7,
		MaxTokens:    4000,
		ResponseFormat: &llm.ResponseFormat{
			Name:   "content_blocks",
			Schema: map[string]any{"type": "object", "required": []string{"contentBlocks"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	sys := params.Messages[0].ContentString()
	if !strings.HasPrefix(sys, "Always respond with valid JSON.") {
		t.Errorf("system prompt lost original text: %q", sys)
	}
	if !strings.Contains(sys, `"contentBlocks"`) || !strings.Contains(sys, `"content_blocks"`) {
		t.Errorf("system prompt should embed schema: %q", sys)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature not set: %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 4000 {
		t.Errorf("max tokens not set: %v", params.MaxTokens)
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "llama3"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("expected only the user message, got %d", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens should stay unset")
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model  string
		window int
	}{
		{"gpt-4o-mini", 128_000},
		{"GPT-4O", 128_000},
		{"gpt-4", 8_192},
		{"claude-3-5-sonnet-latest", 200_000},
		{"claude-3-opus-20240229", 200_000},
		{"gemini-1.5-pro", 2_097_152},
		{"gemini-2.0-flash", 1_048_576},
		{"llama3", 32_768},
		{"unknown-model", 128_000},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("context window = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.SupportsStructuredOutput {
				t.Error("anyllm models embed the schema in the prompt")
			}
		})
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_OpenAI_WithAPIKey checks that OpenAI provider constructs successfully with an API key.
func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", p.model)
	}
}

// TestNew_OpenAI_MissingAPIKey checks that OpenAI returns an error when no API key is available.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New("openai", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

// TestConvenienceConstructors checks the convenience constructors delegate correctly.
func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"NewAnthropic", func() (*Provider, error) {
			return NewAnthropic("claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"NewGemini", func() (*Provider, error) { return NewGemini("gemini-2.0-flash", anyllmlib.WithAPIKey("g-test")) }},
		{"NewOllama", func() (*Provider, error) { return NewOllama("llama3") }},
		{"NewLlamaCpp", func() (*Provider, error) { return NewLlamaCpp("llama3") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			if p == nil {
				t.Fatalf("%s: expected non-nil provider", tt.name)
			}
		})
	}
}
