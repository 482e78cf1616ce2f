package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notestream/internal/app"
	"github.com/MrWong99/notestream/internal/config"
	"github.com/MrWong99/notestream/pkg/note"
)

func newProcessCmd(e *env) *cobra.Command {
	var (
		title  string
		format string
	)
	cmd := &cobra.Command{
		Use:   "process [transcript-file]",
		Short: "Turn a finished transcript into a note",
		Long: `Run a transcript file through the pipeline and print the resulting note.

Each line of the file is fed to the pipeline as if it had just been spoken, so
batches and their context form exactly as they would live. Use "-" or no
argument to read from stdin. The note is saved to the configured store.

Examples:
  notestream process standup.txt
  notestream process --title "Sprint review" --format text review.txt
  cat call.txt | notestream process -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "text" {
				return fmt.Errorf("unknown format %q (want json or text)", format)
			}
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runProcess(cmd, e, path, title, format)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "note title (default: dated)")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or text")
	return cmd
}

func runProcess(cmd *cobra.Command, e *env, path, title, format string) error {
	cfg, err := e.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog := config.SetupLogger(cfg.Server.LogFile, e.level(cfg))
	defer closeLog()

	lines, err := readLines(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	opts := append([]app.Option{app.WithLogger(logger)}, e.appOptions...)
	a, err := app.New(ctx, cfg, Version, opts...)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	n, procErr := a.Process(ctx, title, lines)
	if n == nil {
		return procErr
	}
	if procErr != nil {
		logger.Warn("some batches failed", "err", procErr)
	}
	if err := writeNote(cmd.OutOrStdout(), n, format); err != nil {
		return err
	}
	return procErr
}

func readLines(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	slog.Debug("transcript read", "path", path, "lines", len(lines))
	return lines, nil
}

func writeNote(w io.Writer, n *note.Note, format string) error {
	if format == "text" {
		_, err := fmt.Fprintf(w, "%s\n\n%s\n", n.Title, note.PlainText(n.Content))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(n)
}
