package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/notestream/internal/notestore"
	"github.com/MrWong99/notestream/internal/observe"
	"github.com/MrWong99/notestream/internal/session"
	"github.com/MrWong99/notestream/pkg/note"
)

// ListNotesInput takes no arguments.
type ListNotesInput struct{}

// CreateNoteInput defines the parameters for create_note.
type CreateNoteInput struct {
	Title string `json:"title,omitempty" jsonschema:"Note title (a dated default is used if omitted)"`
	Color string `json:"color,omitempty" jsonschema:"Accent colour, e.g. blue or emerald"`
}

// GetNoteInput defines the parameters for get_note.
type GetNoteInput struct {
	ID string `json:"id" jsonschema:"required,Note ID"`
}

// SubmitTranscriptInput defines the parameters for submit_transcript.
type SubmitTranscriptInput struct {
	ID    string `json:"id" jsonschema:"required,Note ID"`
	Text  string `json:"text" jsonschema:"required,The full transcript so far, not just the newest words"`
	Final bool   `json:"final,omitempty" jsonschema:"Flush remaining words and wait until every batch is processed"`
}

// NoteSummary is one entry of the list_notes result.
type NoteSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Color     string    `json:"color"`
	Blocks    int       `json:"blocks"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RegisterTools registers every notestream tool on server.
func RegisterTools(server *mcp.Server, deps Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_notes",
		Description: "List all notes, most recently updated first.",
	}, instrument("list_notes", deps.Metrics, newListNotesHandler(deps)))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_note",
		Description: "Create an empty note and return it.",
	}, instrument("create_note", deps.Metrics, newCreateNoteHandler(deps)))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_note",
		Description: "Get a note with its content blocks and a plain-text rendering of them.",
	}, instrument("get_note", deps.Metrics, newGetNoteHandler(deps)))

	mcp.AddTool(server, &mcp.Tool{
		Name: "submit_transcript",
		Description: "Feed the current transcript of a meeting into a note. " +
			"New content is generated in batches as enough words accumulate. " +
			"Set final to process the remaining words and return the finished note.",
	}, instrument("submit_transcript", deps.Metrics, newSubmitTranscriptHandler(deps)))
}

func newListNotesHandler(deps Deps) mcp.ToolHandlerFor[ListNotesInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ListNotesInput) (*mcp.CallToolResult, any, error) {
		notes, err := deps.Store.List(ctx)
		if err != nil {
			return ErrorResult(fmt.Sprintf("list notes: %v", err), ""), nil, nil
		}
		out := make([]NoteSummary, 0, len(notes))
		for _, n := range notes {
			out = append(out, NoteSummary{
				ID:        n.ID,
				Title:     n.Title,
				Color:     n.Color,
				Blocks:    len(n.Content),
				UpdatedAt: n.UpdatedAt,
			})
		}
		return jsonResult(out)
	}
}

func newCreateNoteHandler(deps Deps) mcp.ToolHandlerFor[CreateNoteInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateNoteInput) (*mcp.CallToolResult, any, error) {
		if input.Color != "" && !note.ValidColor(input.Color) {
			return ErrorResult(fmt.Sprintf("unknown color %q", input.Color),
				"Use one of: "+strings.Join(note.Colors, ", ")), nil, nil
		}
		n := &note.Note{Title: strings.TrimSpace(input.Title), Color: input.Color}
		if err := deps.Store.Create(ctx, n); err != nil {
			return ErrorResult(fmt.Sprintf("create note: %v", err), ""), nil, nil
		}
		return jsonResult(n)
	}
}

// noteView is get_note's result: the note plus its plain text.
type noteView struct {
	*note.Note
	Text string `json:"text"`
}

func newGetNoteHandler(deps Deps) mcp.ToolHandlerFor[GetNoteInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetNoteInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("id is required", ""), nil, nil
		}
		n, err := deps.Store.Get(ctx, input.ID)
		if err != nil {
			return storeErrorResult(input.ID, err), nil, nil
		}
		return jsonResult(noteView{Note: n, Text: note.PlainText(n.Content)})
	}
}

// submitView is submit_transcript's result for a non-final call.
type submitView struct {
	Batched bool   `json:"batched"`
	Seq     uint64 `json:"seq,omitempty"`
	Pending int    `json:"pending"`
}

func newSubmitTranscriptHandler(deps Deps) mcp.ToolHandlerFor[SubmitTranscriptInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SubmitTranscriptInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("id is required", ""), nil, nil
		}
		sess, err := deps.Sessions.Get(ctx, input.ID)
		if err != nil {
			if errors.Is(err, session.ErrClosed) {
				return ErrorResult("server is shutting down", ""), nil, nil
			}
			return storeErrorResult(input.ID, err), nil, nil
		}

		ticket, batched := sess.Update(ctx, input.Text)
		if !input.Final {
			v := submitView{Batched: batched, Pending: sess.Pending()}
			if ticket != nil {
				v.Seq = ticket.Seq()
			}
			return jsonResult(v)
		}

		if err := sess.Stop(ctx); err != nil {
			return ErrorResult(fmt.Sprintf("waiting for batches: %v", err), ""), nil, nil
		}
		n, err := deps.Store.Get(ctx, input.ID)
		if err != nil {
			return storeErrorResult(input.ID, err), nil, nil
		}
		return jsonResult(noteView{Note: n, Text: note.PlainText(n.Content)})
	}
}

// instrument wraps h so every call is counted and timed.
func instrument[In any](name string, m *observe.Metrics, h mcp.ToolHandlerFor[In, any]) mcp.ToolHandlerFor[In, any] {
	if m == nil {
		return h
	}
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		res, out, err := h(ctx, req, input)
		status := "ok"
		if err != nil || (res != nil && res.IsError) {
			status = "error"
		}
		m.RecordToolCall(ctx, name, status, time.Since(start).Seconds())
		return res, out, err
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(fmt.Sprintf("encode result: %v", err), ""), nil, nil
	}
	return TextResult(string(data)), nil, nil
}

func storeErrorResult(id string, err error) *mcp.CallToolResult {
	if errors.Is(err, notestore.ErrNotFound) {
		return ErrorResult(fmt.Sprintf("note %q not found", id), "Use list_notes to see existing notes")
	}
	return ErrorResult(err.Error(), "")
}
