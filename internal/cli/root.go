package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// logLevel is raised to Debug by --verbose; otherwise commands that load
	// a config file apply its log_level.
	logLevel slog.LevelVar
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tracedb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tracedb",
		Short: "tracedb - persistent differential dataflow traces",
		Long:  "Drive persistent traces stored in pebble or sqlite: run scripted scenarios, load test data, and check store configuration.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.setupLogging(cmd)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// setupLogging installs the default slog logger writing text to stderr.
func (o *RootOptions) setupLogging(cmd *cobra.Command) {
	if o.Verbose {
		o.logLevel.Set(slog.LevelDebug)
	} else {
		o.logLevel.Set(slog.LevelWarn)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: &o.logLevel,
	})))
}

// applyLogLevel adopts a configured level unless --verbose is set.
func (o *RootOptions) applyLogLevel(level slog.Level) {
	if !o.Verbose {
		o.logLevel.Set(level)
	}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
