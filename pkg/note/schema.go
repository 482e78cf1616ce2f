package note

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// ResponseName is the name under which [ResponseSchema] is sent to the model.
const ResponseName = "content_blocks"

// Response is the envelope a model returns: a list of content blocks.
type Response struct {
	ContentBlocks []Block `json:"contentBlocks" jsonschema:"required"`
}

// JSONSchema implements the invopop/jsonschema custom schema hook.
func (Width) JSONSchema() *jsonschema.Schema {
	enum := make([]any, len(Widths))
	for i, w := range Widths {
		enum[i] = string(w)
	}
	return &jsonschema.Schema{Type: "string", Enum: enum}
}

// JSONSchema implements the invopop/jsonschema custom schema hook.
func (Background) JSONSchema() *jsonschema.Schema {
	enum := make([]any, len(Backgrounds))
	for i, b := range Backgrounds {
		enum[i] = float64(b)
	}
	return &jsonschema.Schema{
		Type:        "number",
		Enum:        enum,
		Description: "Background shade level; 2 is reserved",
	}
}

// JSONSchema implements the invopop/jsonschema custom schema hook.
func (ChartType) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "string",
		Enum: []any{string(ChartArea), string(ChartBar), string(ChartLine), string(ChartPie)},
	}
}

// JSONSchema implements the invopop/jsonschema custom schema hook. The
// content list accepts any of the three item shapes; the kind decides which
// one applies when decoding.
func (Block) JSONSchema() *jsonschema.Schema {
	r := newReflector()
	items := make([]*jsonschema.Schema, 0, 3)
	for _, v := range []any{&TextItem{}, &ChartItem{}, &MarqueeItem{}} {
		s := r.Reflect(v)
		s.Version = ""
		items = append(items, s)
	}

	props := jsonschema.NewProperties()
	props.Set("kind", &jsonschema.Schema{
		Type: "string",
		Enum: []any{string(KindText), string(KindChart), string(KindMarquee)},
	})
	props.Set("content", &jsonschema.Schema{
		Type:  "array",
		Items: &jsonschema.Schema{AnyOf: items},
	})
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             []string{"kind", "content"},
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
}

var responseSchema = sync.OnceValue(func() map[string]any {
	s := newReflector().Reflect(&Response{})
	s.Version = ""
	b, err := s.MarshalJSON()
	if err != nil {
		panic("note: marshal response schema: " + err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic("note: decode response schema: " + err.Error())
	}
	return m
})

// ResponseSchema returns the JSON schema of [Response] as a generic map,
// ready to embed in a model request. The same Go types decode and validate
// the reply, so the request constraint and the response checks cannot drift.
//
// Callers must not mutate the returned map.
func ResponseSchema() map[string]any {
	return responseSchema()
}

// ResponseSchemaJSON returns [ResponseSchema] serialised as indented JSON, for
// providers that only accept the schema as prompt text.
func ResponseSchemaJSON() string {
	b, _ := json.MarshalIndent(ResponseSchema(), "", "  ")
	return string(b)
}
