package note

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// PlainText returns the words a list of blocks contributes to a reader's view
// of the note: the rendered text of every markdown body followed by every
// marquee phrase, in block order, separated by single spaces. Chart items
// contribute nothing.
func PlainText(blocks []Block) string {
	var parts []string
	for _, b := range blocks {
		switch b.Kind {
		case KindText:
			for _, it := range b.Text {
				if s := MarkdownText(it.Content); s != "" {
					parts = append(parts, s)
				}
			}
		case KindMarquee:
			for _, it := range b.Marquees {
				for _, phrase := range it.Content {
					if s := strings.TrimSpace(phrase); s != "" {
						parts = append(parts, s)
					}
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// MarkdownText strips markdown syntax from src and returns the remaining text
// with whitespace collapsed.
func MarkdownText(src string) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				sb.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.AutoLink:
			sb.Write(node.URL(source))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(source))
				sb.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}
