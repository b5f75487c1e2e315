package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tracestore/internal/harness"
	"github.com/roach88/tracestore/internal/kv"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store StoreOptions
}

// RunOutput is the JSON payload of run.
type RunOutput struct {
	Scenario  string              `json:"scenario"`
	Engine    string              `json:"engine"`
	Pass      bool                `json:"pass"`
	Steps     []harness.StepEvent `json:"steps"`
	Snapshots []harness.Snapshot  `json:"snapshots,omitempty"`
	Final     []string            `json:"final"`
	Errors    []string            `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print the trace",
		Long: `Run one scenario against a fresh in-memory store and print every step,
each snapshot, and the final trace contents.

The store limits and engine come from --config and --engine; the store
itself always lives in memory.

Exit codes:
  0 - Scenario passed
  1 - Scenario assertions failed
  2 - Command error (scenario not found or invalid, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCommand(opts, args[0], cmd)
		},
	}
	opts.Store.addFlags(cmd)
	return cmd
}

func runScenarioCommand(opts *RunOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	cfg, err := opts.Store.load(opts.RootOptions)
	if err != nil {
		return err
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = out.Error(ErrCodeScenarioLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot load scenario", err)
	}

	out.VerboseLog("running %s on %s", scenario.Name, cfg.Engine)
	result, err := runHarness(scenario, cfg.StoreConfig())
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scenario aborted", err)
	}

	output := RunOutput{
		Scenario:  scenario.Name,
		Engine:    result.Engine,
		Pass:      result.Pass,
		Steps:     result.Steps,
		Snapshots: result.Snapshots,
		Final:     result.Final,
		Errors:    result.Errors,
	}
	if out.JSON() {
		if result.Pass {
			err = out.Success(output)
		} else {
			err = out.Failure(ErrCodeScenarioFailed, "scenario failed", output)
		}
		if err != nil {
			return err
		}
	} else {
		writeRunText(out.Writer, output)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func runHarness(scenario *harness.Scenario, cfg kv.Config) (*harness.Result, error) {
	return harness.Run(scenario,
		harness.WithStoreConfig(cfg),
		harness.WithLogger(slog.Default()),
	)
}

func writeRunText(w io.Writer, out RunOutput) {
	fmt.Fprintf(w, "%s (%s)\n", out.Scenario, out.Engine)
	for _, step := range out.Steps {
		fmt.Fprintf(w, "  [%d] %s", step.Seq, step.Op)
		if step.Detail != "" {
			fmt.Fprintf(w, " %s", step.Detail)
		}
		if step.Error != "" {
			fmt.Fprintf(w, " (error: %s)", step.Error)
		}
		fmt.Fprintln(w)
	}
	for _, snap := range out.Snapshots {
		fmt.Fprintf(w, "\nsnapshot %s:\n", snap.Label)
		writeLines(w, snap.Dump)
	}
	fmt.Fprintln(w, "\nfinal:")
	writeLines(w, out.Final)

	if out.Pass {
		fmt.Fprintln(w, "\n✓ passed")
		return
	}
	fmt.Fprintln(w, "\n✗ failed")
	for _, e := range out.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func writeLines(w io.Writer, lines []string) {
	if len(lines) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	for _, line := range lines {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
