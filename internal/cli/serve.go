package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notestream/internal/app"
	"github.com/MrWong99/notestream/internal/config"
	"github.com/MrWong99/notestream/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(e *env) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, and the MCP tools over stdio if enabled",
		Long: `Run the notestream server.

The HTTP API accepts transcripts over REST and WebSocket and streams note
updates back. With mcp.stdio enabled in the config, the same operations are
served as MCP tools on stdin/stdout; logs always go to stderr.

Examples:
  notestream serve
  notestream serve --config /etc/notestream.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, e, watch)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", true, "reload the config file when it changes")
	return cmd
}

func runServe(cmd *cobra.Command, e *env, watch bool) error {
	cfg, err := e.loadConfig(cmd)
	if err != nil {
		return err
	}

	var level slog.LevelVar
	level.Set(e.level(cfg))
	logger, closeLog := config.SetupLogger(cfg.Server.LogFile, &level)
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	logger.Info("notestream starting",
		"version", Version,
		"config", e.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"store", cfg.Store.Backend,
		"models", len(cfg.Models),
		"mcp_stdio", cfg.MCP.Stdio,
	)

	opts := append([]app.Option{app.WithLogger(logger), app.WithLevel(&level)}, e.appOptions...)
	a, err := app.New(ctx, cfg, Version, opts...)
	if err != nil {
		return err
	}

	if watch && fileExists(e.configPath) {
		w, err := config.NewWatcher(e.configPath, a.ApplyConfig)
		if err != nil {
			logger.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	runErr := a.Run(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	return runErr
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
