package cli

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/tracestore/internal/kv"
	"github.com/roach88/tracestore/internal/persistent"
	"github.com/roach88/tracestore/internal/testutil"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Store     StoreOptions
	Name      string
	Batches   int
	BatchSize int
	Seed      uint64
	Compact   bool
	Metrics   bool
}

// LoadSummary is the JSON payload of load.
type LoadSummary struct {
	Partition    string `json:"partition"`
	Engine       string `json:"engine"`
	Batches      int    `json:"batches"`
	Inserted     int    `json:"inserted"`
	Keys         int    `json:"keys"`
	Consolidated int    `json:"consolidated"`
	DiskUsage    uint64 `json:"disk_usage"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Write random batches into a store",
		Long: `Write seeded random batches into a persistent trace and report what the
store holds afterwards.

With an on-disk config and --name, repeated runs accumulate into the same
partition.

Examples:
  tracedb load --batches 100 --batch-size 500
  tracedb load --config store.yaml --name bench --compact --metrics`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, cmd)
		},
	}

	opts.Store.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Name, "name", "", "partition name (default: generated)")
	cmd.Flags().IntVar(&opts.Batches, "batches", 10, "number of batches")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 100, "updates per batch")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&opts.Compact, "compact", false, "compact the partition before reporting")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print store metrics (text mode only)")

	return cmd
}

func runLoad(opts *LoadOptions, cmd *cobra.Command) error {
	if opts.Batches < 0 || opts.BatchSize < 0 {
		return NewExitError(ExitCommandError, "--batches and --batch-size must not be negative")
	}
	out := opts.formatter(cmd)
	cfg, err := opts.Store.load(opts.RootOptions)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	storeCfg := cfg.StoreConfig()
	storeCfg.Registerer = registry

	summary, err := loadStore(cmd, opts, storeCfg)
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load failed", err)
	}

	if out.JSON() {
		return out.Success(summary)
	}
	w := out.Writer
	fmt.Fprintf(w, "partition %s (%s)\n", summary.Partition, summary.Engine)
	fmt.Fprintf(w, "  batches:      %d\n", summary.Batches)
	fmt.Fprintf(w, "  inserted:     %d\n", summary.Inserted)
	fmt.Fprintf(w, "  keys:         %d\n", summary.Keys)
	fmt.Fprintf(w, "  consolidated: %d\n", summary.Consolidated)
	fmt.Fprintf(w, "  disk usage:   %d bytes\n", summary.DiskUsage)
	if opts.Metrics {
		fmt.Fprintln(w)
		return writeMetrics(w, registry)
	}
	return nil
}

func loadStore(cmd *cobra.Command, opts *LoadOptions, cfg kv.Config) (summary LoadSummary, err error) {
	store, err := kv.Open(cfg)
	if err != nil {
		return summary, err
	}
	defer func() {
		if cerr := store.Close(); err == nil {
			err = cerr
		}
	}()

	tr, err := persistent.New(store, testutil.Schema(), persistent.WithName(opts.Name))
	if err != nil {
		return summary, err
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	for i := range opts.Batches {
		batch := testutil.BuildBatch(testutil.T(0, 0), testutil.T(4, 0), testutil.RandomUpdates(rng, opts.BatchSize)...)
		if err := tr.Insert(batch); err != nil {
			return summary, fmt.Errorf("batch %d: %w", i, err)
		}
		slog.Debug("batch inserted", "batch", i, "updates", batch.Len())
	}
	if opts.Compact {
		if err := tr.Compact(cmd.Context()); err != nil {
			return summary, err
		}
	}

	consolidated, err := tr.Consolidate()
	if err != nil {
		return summary, err
	}
	usage, err := tr.DiskUsage()
	if err != nil {
		return summary, err
	}
	return LoadSummary{
		Partition:    tr.Name(),
		Engine:       string(cfg.Engine),
		Batches:      opts.Batches,
		Inserted:     tr.Len(),
		Keys:         consolidated.KeyCount(),
		Consolidated: consolidated.Len(),
		DiskUsage:    usage,
	}, nil
}

func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
