package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/tracestore/internal/config"
)

// NewConfigCommand groups the config subcommands.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate store configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newConfigDefaultsCommand(rootOpts))
	return cmd
}

// ConfigValidation is the JSON payload of config validate.
type ConfigValidation struct {
	File   string         `json:"file"`
	Valid  bool           `json:"valid"`
	Issues []config.Issue `json:"issues,omitempty"`
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a config file against the schema",
		Long: `Validate a config file against the embedded schema.

Every violation is reported with its line.

Exit codes:
  0 - Config is valid
  1 - Config has violations
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(rootOpts.formatter(cmd), args[0])
		},
	}
}

func runConfigValidate(out *OutputFormatter, path string) error {
	_, err := config.Load(path)
	if err == nil {
		if out.JSON() {
			return out.Success(ConfigValidation{File: path, Valid: true})
		}
		return out.Success(fmt.Sprintf("✓ %s is valid", path))
	}

	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		if out.JSON() {
			if err := out.Failure(ErrCodeInvalidConfig, "config has violations", ConfigValidation{File: path, Issues: verr.Issues}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out.Writer, "✗ %s\n", path)
			for _, issue := range verr.Issues {
				fmt.Fprintf(out.Writer, "  %s\n", issue)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d violation(s) in %s", len(verr.Issues), path))

	case errors.Is(err, fs.ErrNotExist):
		_ = out.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "config not found", err)

	default:
		_ = out.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot read config", err)
	}
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration a command would use: the defaults, overlaid with
--config and --engine.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(rootOpts)
			if err != nil {
				return err
			}
			return printConfig(rootOpts.formatter(cmd), cfg)
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func newConfigDefaultsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "defaults",
		Short:         "Print the default configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfig(rootOpts.formatter(cmd), config.Default())
		},
	}
}

// configView is the JSON shape of a config: durations as strings, as in
// the YAML file.
type configView struct {
	Engine             string `json:"engine"`
	Dir                string `json:"dir,omitempty"`
	InMemory           bool   `json:"in_memory"`
	CacheSize          int64  `json:"cache_size"`
	MaxStoreSize       int64  `json:"max_store_size"`
	MaxKeySize         int    `json:"max_key_size"`
	MaxValueSize       int    `json:"max_value_size"`
	CompactionInterval string `json:"compaction_interval"`
	SyncWrites         bool   `json:"sync_writes"`
	LogLevel           string `json:"log_level"`
}

func printConfig(out *OutputFormatter, cfg config.Config) error {
	if out.JSON() {
		return out.Success(configView{
			Engine:             cfg.Engine,
			Dir:                cfg.Dir,
			InMemory:           cfg.InMemory,
			CacheSize:          cfg.CacheSize,
			MaxStoreSize:       cfg.MaxStoreSize,
			MaxKeySize:         cfg.MaxKeySize,
			MaxValueSize:       cfg.MaxValueSize,
			CompactionInterval: cfg.CompactionInterval.String(),
			SyncWrites:         cfg.SyncWrites,
			LogLevel:           cfg.LogLevel,
		})
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot render config", err)
	}
	_, err = out.Writer.Write(data)
	return err
}
