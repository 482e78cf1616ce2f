package mcpserver

import "github.com/modelcontextprotocol/go-sdk/mcp"

// ErrorResult creates a tool error result. A non-empty hint is appended as
// "{msg}. {hint}". The result has IsError set so the calling model sees the
// error and can correct itself.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// TextResult creates a success result with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
