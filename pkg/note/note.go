// Package note defines the content model produced by the notestream pipeline.
//
// A [Note] is an ordered list of content [Block] values. Each block is one row
// of a note and holds items of a single [Kind]: markdown text, charts, or
// marquee highlights. Blocks are produced by a language model, validated
// against the shape rules in this package, and then appended to a note. Once
// appended a block is never mutated by the pipeline.
//
// The JSON form of a block is
//
//	{"kind": "text", "content": [{"content": "...", "width": "1/2"}]}
//
// and is shared by the model response schema (see [ResponseSchema]), the HTTP
// API and every note store backend.
package note

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the type of items a [Block] carries.
type Kind string

const (
	// KindText blocks hold markdown [TextItem] values.
	KindText Kind = "text"

	// KindChart blocks hold [ChartItem] values.
	KindChart Kind = "chart"

	// KindMarquee blocks hold [MarqueeItem] values.
	KindMarquee Kind = "marquee"
)

// legacyKinds maps older kind names still emitted by some prompts to their
// current equivalents.
var legacyKinds = map[Kind]Kind{
	"markdown": KindText,
	"graph":    KindChart,
}

// Normalize returns k with legacy aliases resolved and surrounding whitespace
// and case removed.
func (k Kind) Normalize() Kind {
	n := Kind(strings.ToLower(strings.TrimSpace(string(k))))
	if alias, ok := legacyKinds[n]; ok {
		return alias
	}
	return n
}

// IsValid reports whether k is one of the known kinds. Legacy aliases are not
// valid until normalised.
func (k Kind) IsValid() bool {
	switch k {
	case KindText, KindChart, KindMarquee:
		return true
	}
	return false
}

// Width is the fraction of a row a text or chart item occupies.
type Width string

// Widths lists every accepted [Width] in layout order.
var Widths = []Width{"1/1", "1/2", "1/3", "1/4", "2/3", "3/4"}

// IsValid reports whether w is one of [Widths].
func (w Width) IsValid() bool {
	for _, v := range Widths {
		if w == v {
			return true
		}
	}
	return false
}

// Background is the shade level of an item's background.
//
// Level 2 is reserved for the note's background grid and is never a valid
// item background.
type Background float64

// Backgrounds lists every accepted [Background] level.
var Backgrounds = []Background{0, 1, 3, 4, 5, 6, 7, 8, 9, 9.5}

// IsValid reports whether b is one of [Backgrounds].
func (b Background) IsValid() bool {
	for _, v := range Backgrounds {
		if b == v {
			return true
		}
	}
	return false
}

// BG is a convenience constructor for optional background fields.
func BG(v float64) *Background {
	b := Background(v)
	return &b
}

// ChartType selects how a [ChartItem] is drawn.
type ChartType string

const (
	ChartArea ChartType = "area"
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
	ChartPie  ChartType = "pie"
)

// IsValid reports whether c is a supported chart type.
func (c ChartType) IsValid() bool {
	switch c {
	case ChartArea, ChartBar, ChartLine, ChartPie:
		return true
	}
	return false
}

// TextItem is a markdown body laid out at a given width.
type TextItem struct {
	// Content is the markdown source. Required.
	Content string `json:"content" jsonschema:"required,description=Markdown body of the item"`

	// Background is optional; when set it must not be 2.
	Background *Background `json:"background,omitempty"`

	// Width is required.
	Width Width `json:"width" jsonschema:"required"`
}

// ChartItem describes a chart with its data rows and renderer configuration.
type ChartItem struct {
	ChartType ChartType `json:"chartType" jsonschema:"required"`

	// ChartData holds one record per data point. Values are strings or numbers.
	ChartData []map[string]any `json:"chartData" jsonschema:"required,description=One record per data point; values are strings or numbers"`

	// ChartConfig is passed verbatim to the chart renderer.
	ChartConfig map[string]any `json:"chartConfig" jsonschema:"required,description=Series configuration keyed by data field"`

	Heading     string      `json:"heading" jsonschema:"required"`
	Subheading  string      `json:"subheading,omitempty"`
	Description string      `json:"description,omitempty"`
	Background  *Background `json:"background,omitempty"`
	Width       Width       `json:"width,omitempty"`
}

// MarqueeItem is a list of short highlight phrases.
type MarqueeItem struct {
	Content    []string    `json:"content" jsonschema:"required,description=Short highlight phrases"`
	Background *Background `json:"background,omitempty"`
}

// Block is one row of a note. Exactly one of Text, Charts or Marquees is
// populated, selected by Kind.
type Block struct {
	Kind     Kind
	Text     []TextItem
	Charts   []ChartItem
	Marquees []MarqueeItem
}

// Len returns the number of items in b.
func (b Block) Len() int {
	switch b.Kind {
	case KindText:
		return len(b.Text)
	case KindChart:
		return len(b.Charts)
	case KindMarquee:
		return len(b.Marquees)
	}
	return 0
}

// wireBlock is the JSON shape of a Block. Type is accepted as a legacy
// spelling of Kind when decoding.
type wireBlock struct {
	Kind    Kind              `json:"kind"`
	Type    Kind              `json:"type,omitempty"`
	Content []json.RawMessage `json:"content"`
}

// MarshalJSON implements [json.Marshaler].
func (b Block) MarshalJSON() ([]byte, error) {
	var items any
	switch b.Kind {
	case KindText:
		items = nonNil(b.Text)
	case KindChart:
		items = nonNil(b.Charts)
	case KindMarquee:
		items = nonNil(b.Marquees)
	default:
		items = []struct{}{}
	}
	return json.Marshal(struct {
		Kind    Kind `json:"kind"`
		Content any  `json:"content"`
	}{b.Kind, items})
}

// UnmarshalJSON implements [json.Unmarshaler]. Item decoding is strict about
// field types: a text item whose content is not a string is an error.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind := w.Kind
	if kind == "" {
		kind = w.Type
	}
	out := Block{Kind: kind.Normalize()}

	for i, raw := range w.Content {
		var err error
		switch out.Kind {
		case KindText:
			var it TextItem
			err = decodeItem(raw, &it)
			out.Text = append(out.Text, it)
		case KindChart:
			var it ChartItem
			err = decodeItem(raw, &it)
			out.Charts = append(out.Charts, it)
		case KindMarquee:
			var it MarqueeItem
			err = decodeItem(raw, &it)
			out.Marquees = append(out.Marquees, it)
		default:
			return fmt.Errorf("note: unknown block kind %q", kind)
		}
		if err != nil {
			return fmt.Errorf("note: %s item %d: %w", out.Kind, i, err)
		}
	}
	*b = out
	return nil
}

func decodeItem(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Colors lists the accent colours a note may carry.
var Colors = []string{
	"neutral", "stone", "zinc", "slate", "gray", "red", "orange", "amber",
	"yellow", "lime", "green", "emerald", "teal", "cyan", "sky", "blue",
	"indigo", "violet", "purple", "fuchsia", "pink", "rose",
}

// DefaultColor is the colour assigned to new notes.
const DefaultColor = "blue"

// ValidColor reports whether c is one of [Colors].
func ValidColor(c string) bool {
	for _, v := range Colors {
		if c == v {
			return true
		}
	}
	return false
}

// Note is a titled, ordered list of content blocks.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Color     string    `json:"color"`
	Content   []Block   `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultTitle returns the title given to a note created at t without an
// explicit title.
func DefaultTitle(t time.Time) string {
	return "Meeting Note - " + t.Format("Jan 2, 2006 3:04 PM")
}
