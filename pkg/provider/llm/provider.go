// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform interface
// for the notestream note generator to request structured completions and
// inspect model capabilities without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Providers never retry on their
// own: a failed request is returned to the caller, which owns retry policy.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and system
	// prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a convenience;
	// some providers return it directly rather than computing it from the parts.
	TotalTokens int
}

// ResponseFormat constrains the model's reply to a JSON document matching
// Schema. Providers with native structured-output support send the schema with
// the request; others append it to the system prompt.
type ResponseFormat struct {
	// Name identifies the schema to the backend (e.g. "content_blocks").
	Name string

	// Schema is a JSON Schema document in generic map form.
	Schema map[string]any

	// Strict asks the backend to reject schema-incompatible output itself.
	// Backends that do not support strict mode ignore it.
	Strict bool
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages must
// be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero leaves
	// the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history. If the provider does not natively support a dedicated
	// system prompt, implementors should prepend it as a "system"-role message.
	SystemPrompt string

	// ResponseFormat, when non-nil, requests a JSON reply matching a schema.
	ResponseFormat *ResponseFormat
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Complete must return promptly once ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails, the backend returns no choices, or
	// ctx is cancelled before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports. The result is assumed to be constant for the
	// lifetime of the Provider instance.
	Capabilities() ModelCapabilities
}

// SchemaPrompt returns req's system prompt with the response schema, if any,
// appended as instructions. Providers without native structured output use
// it in place of SystemPrompt.
func SchemaPrompt(req CompletionRequest) (string, error) {
	rf := req.ResponseFormat
	if rf == nil {
		return req.SystemPrompt, nil
	}
	schema, err := json.Marshal(rf.Schema)
	if err != nil {
		return "", fmt.Errorf("marshal %q schema: %w", rf.Name, err)
	}
	var sb strings.Builder
	if req.SystemPrompt != "" {
		sb.WriteString(req.SystemPrompt)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Respond with a single JSON object named %q that conforms to this JSON Schema. ", rf.Name)
	sb.WriteString("Do not wrap it in markdown fences and do not add commentary.\n")
	sb.Write(schema)
	return sb.String(), nil
}
