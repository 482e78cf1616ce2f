// Package app wires all notestream subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the store and builds the
// model registry, note generator, session manager and the HTTP and MCP
// surfaces; Run serves them; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithProviderFactory, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/notestream/internal/config"
	"github.com/MrWong99/notestream/internal/health"
	"github.com/MrWong99/notestream/internal/mcpserver"
	"github.com/MrWong99/notestream/internal/models"
	"github.com/MrWong99/notestream/internal/notegen"
	"github.com/MrWong99/notestream/internal/notestore"
	"github.com/MrWong99/notestream/internal/observe"
	"github.com/MrWong99/notestream/internal/resilience"
	"github.com/MrWong99/notestream/internal/server"
	"github.com/MrWong99/notestream/internal/session"
	"github.com/MrWong99/notestream/pkg/note"
	"github.com/MrWong99/notestream/pkg/provider/llm"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string
	log     *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics
	factory models.Factory

	store     notestore.Store
	registry  *models.Registry
	providers *models.Providers
	generator *notegen.Generator
	sessions  *session.Manager
	http      *server.Server
	mcp       *mcpserver.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a note store instead of opening the configured one. The
// caller keeps ownership; Shutdown does not close it.
func WithStore(s notestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithProviderFactory replaces the function that builds a provider for a
// configured model.
func WithProviderFactory(f models.Factory) Option {
	return func(a *App) { a.factory = f }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel hands New the level variable behind the logger so log level
// changes can be hot-reloaded.
func WithLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// New creates an App by wiring all subsystems together. version is reported
// to MCP clients.
func New(ctx context.Context, cfg *config.Config, version string, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, version: version}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.store == nil {
		st, err := notestore.Open(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}
	a.log.Info("note store ready", "backend", cfg.Store.Backend)

	a.registry = models.NewRegistry(models.FromConfig(cfg.Models))
	a.providers = models.NewProviders(a.guardedFactory())
	if m, err := a.registry.Available(); err != nil {
		a.log.Warn("no model has an API key; batches will fail until one is configured")
	} else {
		a.log.Info("model selected", "name", m.Name, "model", m.ID)
	}

	a.generator = notegen.New(a.providers,
		notegen.WithMetrics(a.metrics),
		notegen.WithLogger(a.log),
	)

	a.sessions = session.NewManager(cfg.Pipeline, session.Deps{
		Store:     a.store,
		Models:    a.registry,
		Processor: a.generator,
		Metrics:   a.metrics,
		Logger:    a.log,
	})

	a.http = server.New(server.Options{
		Store:    a.store,
		Sessions: a.sessions,
		Health: health.New(
			health.Ping("store", a.store),
			health.ModelConfigured(a.registry),
		),
		Metrics: a.metrics,
		Logger:  a.log,
	})

	if cfg.MCP.Stdio {
		a.mcp = mcpserver.New(version, mcpserver.Deps{
			Store:    a.store,
			Sessions: a.sessions,
			Metrics:  a.metrics,
		}, a.log)
	}
	return a, nil
}

// guardedFactory wraps every provider the configured factory builds in its
// own circuit breaker.
func (a *App) guardedFactory() models.Factory {
	build := a.factory
	if build == nil {
		build = models.NewProvider
	}
	return func(m models.Model) (llm.Provider, error) {
		p, err := build(m)
		if err != nil {
			return nil, err
		}
		return resilience.Guard(p, resilience.Config{Name: m.Name, Logger: a.log}), nil
	}
}

// Run serves HTTP, and MCP over stdio when enabled, until ctx ends or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.http.Run(gctx, a.cfg.Server.ListenAddr)
	})
	if a.mcp != nil {
		g.Go(func() error {
			err := a.mcp.Run(gctx)
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("app: mcp: %w", err)
			}
			return nil
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ApplyConfig hot-reloads the settings that changed between old and new.
// It is meant as the [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Slog())
			a.log.Info("log level changed", "level", d.NewLogLevel)
		} else {
			d.RestartRequired = append(d.RestartRequired, "server.log_level")
		}
	}
	if d.PipelineChanged {
		a.sessions.ApplyPipeline(d.NewPipeline)
		a.log.Info("pipeline settings applied",
			"batch_size", d.NewPipeline.BatchSize,
			"sliding_window_size", d.NewPipeline.SlidingWindowSize,
		)
	}
	if d.ModelsChanged {
		ms := models.FromConfig(new.Models)
		a.registry.Replace(ms)
		a.providers.Prune(ms)
		for _, c := range d.ModelChanges {
			a.log.Info("model changed", "name", c.Name,
				"added", c.Added, "removed", c.Removed,
				"credential_changed", c.CredentialChanged, "endpoint_changed", c.EndpointChanged)
		}
	}
	for _, name := range d.RestartRequired {
		a.log.Warn("config change needs a restart to take effect", "setting", name)
	}
	a.cfg = new
}

// Process runs a finished transcript through the pipeline as if it had been
// spoken line by line, and returns the resulting note. Batches that failed
// are reported in the returned error alongside the note.
func (a *App) Process(ctx context.Context, title string, lines []string) (*note.Note, error) {
	n := &note.Note{Title: title}
	if err := a.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("app: create note: %w", err)
	}
	sess, err := a.sessions.Get(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.sessions.Remove(context.Background(), n.ID) }()

	events, unsubscribe := sess.Subscribe()
	var (
		failures []error
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type == session.EventFailed {
				failures = append(failures, fmt.Errorf("batch %d: %s", ev.Seq, ev.Error))
			}
		}
	}()

	var transcript strings.Builder
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if transcript.Len() > 0 {
			transcript.WriteByte(' ')
		}
		transcript.WriteString(line)
		sess.Update(ctx, transcript.String())
	}
	stopErr := sess.Stop(ctx)
	unsubscribe()
	<-done
	if stopErr != nil {
		return nil, stopErr
	}

	out, err := a.store.Get(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	return out, errors.Join(failures...)
}

// Shutdown drains the sessions and closes the store. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))
		// Sessions drain before the store closes.
		if err := a.sessions.Close(ctx); err != nil {
			a.log.Warn("sessions did not drain", "err", err)
			if ctx.Err() != nil {
				shutdownErr = ctx.Err()
				return
			}
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// Store returns the note store.
func (a *App) Store() notestore.Store { return a.store }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Registry returns the model registry.
func (a *App) Registry() *models.Registry { return a.registry }

// HTTP returns the HTTP surface.
func (a *App) HTTP() *server.Server { return a.http }

// MCP returns the MCP surface, or nil if it is disabled.
func (a *App) MCP() *mcpserver.Server { return a.mcp }
