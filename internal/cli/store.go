package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tracestore/internal/config"
	"github.com/roach88/tracestore/internal/kv"
)

// StoreOptions are the flags shared by commands that open a store.
type StoreOptions struct {
	ConfigPath string
	Engine     string
}

func (o *StoreOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "", "store config file (YAML)")
	cmd.Flags().StringVar(&o.Engine, "engine", "", "override the configured engine (pebble|sqlite)")
}

// load returns the config file's contents, or the defaults when no file was
// given, with the engine override applied.
func (o *StoreOptions) load(root *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			var verr *config.ValidationError
			if errors.As(err, &verr) {
				return cfg, WrapExitError(ExitFailure, "invalid config", err)
			}
			return cfg, WrapExitError(ExitCommandError, "cannot read config", err)
		}
		cfg = loaded
	}

	switch kv.Engine(o.Engine) {
	case "":
	case kv.EnginePebble, kv.EngineSQLite:
		cfg.Engine = o.Engine
	default:
		return cfg, NewExitError(ExitCommandError, fmt.Sprintf("unknown engine %q: must be pebble or sqlite", o.Engine))
	}

	root.applyLogLevel(cfg.Level())
	return cfg, nil
}
