package notegen

import (
	"strings"

	"github.com/MrWong99/notestream/internal/contextwin"
)

const systemPrompt = "You are an expert AI assistant that converts meeting transcripts into structured content blocks for a note-taking application. Always respond with valid JSON."

const instructions = `You are an AI assistant that converts meeting transcripts into structured content blocks for a note-taking application.

Given the following transcript, create meaningful content blocks that summarize, analyze, or present the information in different formats:

1. **Text blocks** (kind "text") - Use markdown format for summaries, key points, action items, etc.
2. **Chart blocks** (kind "chart") - When data, numbers, or trends are mentioned, create chart configurations
3. **Marquee blocks** (kind "marquee") - For important announcements, key phrases, or highlights

Guidelines:
- Create multiple content blocks to organize information logically
- Use appropriate background shades (0, 1, 3-9 or 9.5; never 2) to create visual hierarchy
- Vary block widths (1/1, 1/2, 1/3, 1/4, 2/3, 3/4) for better layout
- For charts, create realistic chart configurations with proper data structure
- Keep marquee content concise and impactful
- If the transcript contains nothing worth noting, return an empty contentBlocks list`

const (
	transcriptContextHeader = "Earlier in this meeting (already processed, for continuity only):"
	noteContextHeader       = "Notes already written (do not repeat this information):"
)

// userPrompt builds the user message for one batch. Context sections are
// included only when non-empty.
func userPrompt(batch string, ctx contextwin.Snapshot) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\n")

	if t := strings.TrimSpace(ctx.Transcript); t != "" {
		sb.WriteString(transcriptContextHeader)
		sb.WriteString("\n")
		sb.WriteString(t)
		sb.WriteString("\n\n")
	}
	if n := strings.TrimSpace(ctx.Notes); n != "" {
		sb.WriteString(noteContextHeader)
		sb.WriteString("\n")
		sb.WriteString(n)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Transcript:\n")
	sb.WriteString(strings.TrimSpace(batch))
	sb.WriteString("\n\nPlease return the content blocks in the specified JSON format.")
	return sb.String()
}
