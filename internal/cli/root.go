// Package cli provides the command-line interface for notestream.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notestream/internal/app"
	"github.com/MrWong99/notestream/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// defaultConfigPath is read when --config is not given. A missing file at
// this path means "use the defaults".
const defaultConfigPath = "notestream.yaml"

// env carries the state shared by all subcommands.
type env struct {
	configPath string
	verbose    bool

	// appOptions are passed to every [app.New] call. Tests use them to
	// inject doubles.
	appOptions []app.Option
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. opts are handed to the application the
// serve and process commands build.
func NewRootCmd(opts ...app.Option) *cobra.Command {
	e := &env{appOptions: opts}

	root := &cobra.Command{
		Use:   "notestream",
		Short: "Turn live meeting transcripts into structured notes",
		Long: `notestream turns a growing meeting transcript into structured notes.

The transcript is cut into batches of new words. Each batch is sent to a
language model together with a sliding window of earlier transcript and note
text, and the returned content blocks are appended to the note in the order
the batches were spoken.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newServeCmd(e))
	root.AddCommand(newProcessCmd(e))
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads the configuration. When the default path does not exist
// the built-in defaults are used; a missing explicit path is an error.
func (e *env) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(e.configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		slog.Debug("no config file, using defaults", "path", e.configPath)
		return config.LoadFromReader(strings.NewReader(""))
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found", e.configPath)
	}
	return nil, err
}

// level returns the effective log level for cfg.
func (e *env) level(cfg *config.Config) slog.Level {
	if e.verbose {
		return slog.LevelDebug
	}
	return cfg.Server.LogLevel.Slog()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "notestream %s\n", Version)
		},
	}
}
