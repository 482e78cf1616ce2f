// Package notegen turns one transcript batch into note content blocks by
// asking a language model for a schema-constrained JSON reply.
//
// A [Generator] makes exactly one model call per [Generator.Generate] and
// never retries; retry policy belongs to the caller (see package queue).
// Every failure is returned as an [*Error] whose [Kind] tells the caller
// whether another attempt could help.
package notegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/notestream/internal/models"
	"github.com/MrWong99/notestream/internal/observe"
	"github.com/MrWong99/notestream/internal/queue"
	"github.com/MrWong99/notestream/pkg/note"
	"github.com/MrWong99/notestream/pkg/provider/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTemperature is the sampling temperature of every request.
	DefaultTemperature = 0.7

	// DefaultMaxTokens caps the reply length. It is clamped further to the
	// model's own output ceiling.
	DefaultMaxTokens = 4000
)

// Compile-time interface assertion.
var _ queue.Processor = (*Generator)(nil)

// ProviderSource returns the provider to use for a model.
// [*models.Providers] satisfies it.
type ProviderSource interface {
	For(m models.Model) (llm.Provider, error)
}

// Option configures a [Generator].
type Option func(*Generator)

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens overrides [DefaultMaxTokens].
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithStrictSchema asks backends that support it to enforce the response
// schema themselves. Off by default: chart records have free-form keys,
// which strict mode does not allow.
func WithStrictSchema(strict bool) Option {
	return func(g *Generator) { g.strict = strict }
}

// WithMetrics records generation errors to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// Generator implements [queue.Processor] on top of an [llm.Provider].
// It is safe for concurrent use.
type Generator struct {
	providers   ProviderSource
	temperature float64
	maxTokens   int
	strict      bool
	metrics     *observe.Metrics
	log         *slog.Logger
}

// New returns a Generator that looks up providers through src.
func New(src ProviderSource, opts ...Option) *Generator {
	g := &Generator{
		providers:   src,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate converts job.Text into content blocks using job.Model. The job's
// context snapshot is embedded in the prompt so the model can avoid
// repeating itself. An empty block list is a valid result.
func (g *Generator) Generate(ctx context.Context, job queue.Job) ([]note.Block, error) {
	ctx, span := observe.StartSpan(ctx, "notegen.Generate", trace.WithAttributes(
		attribute.String("note_id", job.NoteID),
		attribute.String("batch_id", job.ID),
		attribute.String("model", job.Model.Name),
	))
	defer span.End()

	log := observe.Logger(ctx, g.log).With("batch_id", job.ID, "model", job.Model.Name)

	if job.Model.Name == "" || !job.Model.HasKey() {
		return nil, g.fail(ctx, log, job, newError(KindConfiguration, "resolve model", models.ErrNoModel))
	}
	p, err := g.providers.For(job.Model)
	if err != nil {
		return nil, g.fail(ctx, log, job, newError(KindConfiguration, "build provider", err))
	}

	req := g.Request(job, p.Capabilities())

	start := time.Now()
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, g.fail(ctx, log, job, newError(KindTransient, "complete", err))
	}
	if resp == nil {
		return nil, g.fail(ctx, log, job, newError(KindTransient, "complete", errors.New("no response from model")))
	}
	log.Debug("model replied",
		"duration", time.Since(start),
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	blocks, err := ParseResponse(resp.Content)
	if err != nil {
		if resp.FinishReason == "length" {
			err = fmt.Errorf("%w (reply truncated at %d tokens)", err, req.MaxTokens)
		}
		return nil, g.fail(ctx, log, job, err)
	}
	span.SetAttributes(attribute.Int("blocks", len(blocks)))
	return blocks, nil
}

// Request builds the completion request for job.
func (g *Generator) Request(job queue.Job, caps llm.ModelCapabilities) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: userPrompt(job.Text, job.Context)},
		},
		Temperature: g.temperature,
		MaxTokens:   caps.ClampMaxTokens(g.maxTokens),
		ResponseFormat: &llm.ResponseFormat{
			Name:   note.ResponseName,
			Schema: note.ResponseSchema(),
			Strict: g.strict,
		},
	}
}

func (g *Generator) fail(ctx context.Context, log *slog.Logger, job queue.Job, err error) error {
	kind := KindOf(err)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	if g.metrics != nil {
		g.metrics.RecordGenerateError(ctx, job.Model.ID, string(kind))
	}
	// Validation and parse failures are logged apart from transport errors so
	// prompt problems are easy to spot.
	switch kind {
	case KindValidation, KindParse:
		log.Warn("model reply rejected", "kind", kind, "err", err)
	default:
		log.Debug("generation failed", "kind", kind, "err", err)
	}
	return err
}

// ParseResponse decodes and validates a model reply. The reply must be a
// JSON object; one without a contentBlocks member yields no blocks.
func ParseResponse(body string) ([]note.Block, error) {
	body = stripFences(strings.TrimSpace(body))
	if body == "" {
		return nil, newError(KindTransient, "read reply", errors.New("empty response from model"))
	}
	if !json.Valid([]byte(body)) {
		return nil, newError(KindParse, "decode reply", fmt.Errorf("invalid JSON response from model: %s", excerpt(body)))
	}

	// null, scalars and arrays are valid JSON but not a reply.
	if body[0] != '{' {
		return nil, newError(KindValidation, "decode reply", fmt.Errorf("reply must be a JSON object, got %s", excerpt(body)))
	}

	var env struct {
		ContentBlocks json.RawMessage `json:"contentBlocks"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, newError(KindValidation, "decode reply", fmt.Errorf("reply must be a JSON object: %w", err))
	}
	if len(env.ContentBlocks) == 0 || string(env.ContentBlocks) == "null" {
		return []note.Block{}, nil
	}

	var blocks []note.Block
	if err := json.Unmarshal(env.ContentBlocks, &blocks); err != nil {
		return nil, newError(KindValidation, "decode blocks", err)
	}
	if err := note.ValidateBlocks(blocks); err != nil {
		return nil, newError(KindValidation, "validate blocks", err)
	}
	if blocks == nil {
		blocks = []note.Block{}
	}
	return blocks, nil
}

// stripFences removes a surrounding markdown code fence, which models in
// plain JSON mode add now and then.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func excerpt(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
