package llm

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStructuredOutput indicates the backend honours a JSON schema
	// response format natively.
	SupportsStructuredOutput bool
}

// ClampMaxTokens returns want limited to the model's output ceiling. Zero
// ceilings are treated as unknown and leave want unchanged.
func (c ModelCapabilities) ClampMaxTokens(want int) int {
	if c.MaxOutputTokens > 0 && want > c.MaxOutputTokens {
		return c.MaxOutputTokens
	}
	return want
}
