package notegen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/notestream/internal/contextwin"
	"github.com/MrWong99/notestream/internal/models"
	"github.com/MrWong99/notestream/internal/queue"
	"github.com/MrWong99/notestream/pkg/note"
	"github.com/MrWong99/notestream/pkg/provider/llm"
	"github.com/MrWong99/notestream/pkg/provider/llm/mock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// staticSource hands out the same provider for every model and counts
// lookups.
type staticSource struct {
	p       llm.Provider
	err     error
	lookups int
}

func (s *staticSource) For(models.Model) (llm.Provider, error) {
	s.lookups++
	return s.p, s.err
}

var gpt4o = models.Model{Name: "GPT-4o", ID: "gpt-4o", IsOpenAI: true, APIKey: "sk-test"}

const validReply = `{"contentBlocks":[
  {"kind":"text","content":[{"content":"## Decisions\n- ship **v2**","width":"2/3","background":1}]},
  {"kind":"marquee","content":[{"content":["Launch Friday"]}]},
  {"kind":"chart","content":[{"chartType":"bar","chartData":[{"q":"Q1","rev":10},{"q":"Q2","rev":14}],"chartConfig":{"rev":{"label":"Revenue"}},"heading":"Revenue","width":"1/3"}]}
]}`

func reply(body string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: body, FinishReason: "stop"}
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{
		CompleteResponse:  reply(validReply),
		ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 16384, SupportsStructuredOutput: true},
	}
	g := New(&staticSource{p: p})

	blocks, err := g.Generate(context.Background(), queue.Job{ID: "b1", Text: "we will ship v2 on friday", Model: gpt4o})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	if blocks[0].Kind != note.KindText || blocks[1].Kind != note.KindMarquee || blocks[2].Kind != note.KindChart {
		t.Errorf("kinds = %s,%s,%s", blocks[0].Kind, blocks[1].Kind, blocks[2].Kind)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Temperature != DefaultTemperature || req.MaxTokens != DefaultMaxTokens {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Name != "content_blocks" {
		t.Fatalf("response format = %+v", req.ResponseFormat)
	}
	if req.ResponseFormat.Strict {
		t.Error("strict schema should be off by default")
	}
	if req.SystemPrompt != systemPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
}

// recordSpans installs an in-memory tracer provider for the test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestGenerate_Span(t *testing.T) {
	exp := recordSpans(t)
	p := &mock.Provider{Script: []mock.Step{
		{Response: reply(validReply)},
		{Response: reply("not json")},
	}}
	g := New(&staticSource{p: p})
	job := queue.Job{ID: "b1", NoteID: "n1", Text: "hello there", Model: gpt4o}

	if _, err := g.Generate(context.Background(), job); err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if _, err := g.Generate(context.Background(), job); err == nil {
		t.Fatal("second Generate should fail")
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name != "notegen.Generate" {
			t.Errorf("span name = %q", s.Name)
		}
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful generation recorded an error status")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != string(KindParse) {
		t.Errorf("failed span status = %+v, want error %q", spans[1].Status, KindParse)
	}
	if len(spans[1].Events) == 0 {
		t.Error("failed span has no recorded error event")
	}
}

func TestGenerate_LegacyKindsAccepted(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: reply(`{"contentBlocks":[{"type":"markdown","content":[{"content":"hi","width":"1/1"}]}]}`)}
	blocks, err := New(&staticSource{p: p}).Generate(context.Background(), queue.Job{Text: "hi", Model: gpt4o})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Kind != note.KindText {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestGenerate_EmptyBlocksIsSuccess(t *testing.T) {
	t.Parallel()
	for _, body := range []string{`{"contentBlocks":[]}`, `{}`, `{"contentBlocks":null}`} {
		p := &mock.Provider{CompleteResponse: reply(body)}
		blocks, err := New(&staticSource{p: p}).Generate(context.Background(), queue.Job{Text: "um", Model: gpt4o})
		if err != nil {
			t.Errorf("%s: unexpected error: %v", body, err)
			continue
		}
		if blocks == nil || len(blocks) != 0 {
			t.Errorf("%s: blocks = %#v, want empty non-nil", body, blocks)
		}
	}
}

func TestGenerate_NoModelIsConfigurationError(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: reply(validReply)}
	src := &staticSource{p: p}
	g := New(src)

	for _, m := range []models.Model{{}, {Name: "GPT-4o", ID: "gpt-4o", IsOpenAI: true, APIKey: "  "}} {
		_, err := g.Generate(context.Background(), queue.Job{Text: "x", Model: m})
		if KindOf(err) != KindConfiguration {
			t.Errorf("model %+v: kind = %q, want configuration", m, KindOf(err))
		}
		if !errors.Is(err, models.ErrNoModel) {
			t.Errorf("error should wrap ErrNoModel, got %v", err)
		}
		var ge *Error
		if !errors.As(err, &ge) || ge.Retryable() {
			t.Error("configuration errors must not be retryable")
		}
	}
	if len(p.Calls()) != 0 || src.lookups != 0 {
		t.Errorf("no provider may be contacted, got %d calls, %d lookups", len(p.Calls()), src.lookups)
	}
}

func TestGenerate_ProviderBuildError(t *testing.T) {
	t.Parallel()
	g := New(&staticSource{err: errors.New(`unsupported provider "nope"`)})
	_, err := g.Generate(context.Background(), queue.Job{Text: "x", Model: gpt4o})
	if KindOf(err) != KindConfiguration {
		t.Errorf("kind = %q, want configuration", KindOf(err))
	}
}

func TestGenerate_ErrorKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		resp *llm.CompletionResponse
		err  error
		want Kind
	}{
		{name: "transport error", err: errors.New("connection reset"), want: KindTransient},
		{name: "nil response", want: KindTransient},
		{name: "empty body", resp: reply("   "), want: KindTransient},
		{name: "not json", resp: reply("Sure! Here are your notes:"), want: KindParse},
		{name: "truncated json", resp: reply(`{"contentBlocks":[{"kind":"text"`), want: KindParse},
		{name: "json array", resp: reply(`[1,2]`), want: KindValidation},
		{name: "json null", resp: reply(`null`), want: KindValidation},
		{name: "json scalar", resp: reply(`"notes"`), want: KindValidation},
		{name: "chart missing data", resp: reply(`{"contentBlocks":[{"kind":"chart","content":[{"chartType":"pie","chartConfig":{},"heading":"Split"}]}]}`), want: KindValidation},
		{name: "reserved background", resp: reply(`{"contentBlocks":[{"kind":"text","content":[{"content":"x","width":"1/1","background":2}]}]}`), want: KindValidation},
		{name: "text without width", resp: reply(`{"contentBlocks":[{"kind":"text","content":[{"content":"x"}]}]}`), want: KindValidation},
		{name: "unknown kind", resp: reply(`{"contentBlocks":[{"kind":"video","content":[{"url":"x"}]}]}`), want: KindValidation},
		{name: "empty content list", resp: reply(`{"contentBlocks":[{"kind":"marquee","content":[]}]}`), want: KindValidation},
		{name: "marquee content not strings", resp: reply(`{"contentBlocks":[{"kind":"marquee","content":[{"content":[1,2]}]}]}`), want: KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{CompleteResponse: tt.resp, CompleteErr: tt.err}
			_, err := New(&staticSource{p: p}).Generate(context.Background(), queue.Job{Text: "x", Model: gpt4o})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("kind = %q, want %q (err: %v)", got, tt.want, err)
			}
			var ge *Error
			if errors.As(err, &ge) && !ge.Retryable() {
				t.Errorf("%s errors must be retryable", tt.want)
			}
		})
	}
}

func TestGenerate_TruncatedReplyMentionsLength(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"contentBlocks":[`, FinishReason: "length"}}
	_, err := New(&staticSource{p: p}, WithMaxTokens(100)).Generate(context.Background(), queue.Job{Text: "x", Model: gpt4o})
	if KindOf(err) != KindParse {
		t.Fatalf("kind = %q, want parse", KindOf(err))
	}
	if !strings.Contains(err.Error(), "truncated at 100 tokens") {
		t.Errorf("error should mention truncation, got %v", err)
	}
}

func TestGenerate_ClampsMaxTokens(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{
		CompleteResponse:  reply(`{"contentBlocks":[]}`),
		ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 2048},
	}
	if _, err := New(&staticSource{p: p}).Generate(context.Background(), queue.Job{Text: "x", Model: gpt4o}); err != nil {
		t.Fatal(err)
	}
	if got := p.Calls()[0].Req.MaxTokens; got != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", got)
	}
}

func TestGenerate_FencedReply(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: reply("```json\n" + `{"contentBlocks":[{"kind":"marquee","content":[{"content":["ok"]}]}]}` + "\n```")}
	blocks, err := New(&staticSource{p: p}).Generate(context.Background(), queue.Job{Text: "x", Model: gpt4o})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 1 {
		t.Errorf("got %d blocks", len(blocks))
	}
}

func TestGenerate_QueueRetriesValidationFailure(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Script: []mock.Step{
		{Response: reply(`{"contentBlocks":[{"kind":"chart","content":[{"chartType":"line","chartConfig":{},"heading":"Trend"}]}]}`)},
		{Response: reply(validReply)},
	}}
	q := queue.New(New(&staticSource{p: p}))

	res, err := q.Submit(queue.Job{Text: "numbers went up", Model: gpt4o}).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() || res.Attempts != 2 {
		t.Errorf("result = %+v, want success after one validation failure", res)
	}
}

func TestGenerate_QueueDoesNotRetryConfiguration(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: reply(validReply)}
	q := queue.New(New(&staticSource{p: p}))

	res, err := q.Submit(queue.Job{Text: "x"}).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() || res.Attempts != 1 || KindOf(res.Err) != KindConfiguration {
		t.Errorf("result = %+v", res)
	}
}

// ─── prompt ──────────────────────────────────────────────────────────────────

func TestUserPrompt_ContextSections(t *testing.T) {
	t.Parallel()
	got := userPrompt("the new batch", contextwin.Snapshot{})
	if strings.Contains(got, transcriptContextHeader) || strings.Contains(got, noteContextHeader) {
		t.Error("empty context must not add sections")
	}
	if !strings.HasSuffix(got, "Transcript:\nthe new batch\n\nPlease return the content blocks in the specified JSON format.") {
		t.Errorf("prompt tail = %q", got[len(got)-120:])
	}

	got = userPrompt("the new batch", contextwin.Snapshot{Transcript: "earlier words", Notes: "Budget approved"})
	ti := strings.Index(got, transcriptContextHeader+"\nearlier words")
	ni := strings.Index(got, noteContextHeader+"\nBudget approved")
	bi := strings.Index(got, "Transcript:\nthe new batch")
	if ti < 0 || ni < 0 || bi < 0 {
		t.Fatalf("missing section in prompt:\n%s", got)
	}
	if !(ti < ni && ni < bi) {
		t.Error("context sections must precede the batch")
	}
}

func TestRequest_EmbedsSchema(t *testing.T) {
	t.Parallel()
	g := New(nil, WithTemperature(0.2), WithStrictSchema(true))
	req := g.Request(queue.Job{Text: "x"}, llm.ModelCapabilities{})
	if req.Temperature != 0.2 || !req.ResponseFormat.Strict {
		t.Errorf("options not applied: %+v", req)
	}
	if req.ResponseFormat.Schema["type"] != "object" {
		t.Errorf("schema root type = %v", req.ResponseFormat.Schema["type"])
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()
	err := newError(KindParse, "decode reply", errors.New("bad"))
	if got := err.Error(); got != "notegen: decode reply (parse): bad" {
		t.Errorf("Error() = %q", got)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf of a foreign error should be empty")
	}
}
