package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/tracestore/internal/kv"
	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/persistent"
	"github.com/roach88/tracestore/internal/testutil"
	"github.com/roach88/tracestore/internal/trace"
)

type scenarioTrace = persistent.Trace[int64, string, lattice.Product, int64]

// Options configures Run.
type Options struct {
	// Store is the base store configuration. Scenarios always run in memory;
	// Dir and InMemory are overridden.
	Store kv.Config

	// Logger receives step logs. Nil discards them.
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithEngine selects the storage engine.
func WithEngine(engine kv.Engine) Option {
	return func(o *Options) { o.Store.Engine = engine }
}

// WithStoreConfig replaces the base store configuration.
func WithStoreConfig(cfg kv.Config) Option {
	return func(o *Options) { o.Store = cfg }
}

// WithLogger routes step logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Harness executes one scenario.
type Harness struct {
	store  *kv.Store
	trace  *scenarioTrace
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store. An error is returned
// only when the run itself could not proceed; failed expectations are
// reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := Options{Store: kv.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg := o.Store
	cfg.InMemory = true
	cfg.Dir = ""
	if l := scenario.Limits; l != nil {
		if l.MaxKeySize > 0 {
			cfg.MaxKeySize = l.MaxKeySize
		}
		if l.MaxValueSize > 0 {
			cfg.MaxValueSize = l.MaxValueSize
		}
	}

	st, err := kv.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	names := testutil.NewSequentialNames(scenario.Name)
	tr, err := persistent.New(st, testutil.Schema(), persistent.WithName(names.Next()))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace: %w", err)
	}
	defer tr.Close()

	h := &Harness{store: st, trace: tr, logger: o.Logger}
	result := NewResult(string(cfg.Engine))
	ctx := context.Background()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	final, err := h.dump()
	if err != nil {
		return nil, err
	}
	result.Final = final

	for _, msg := range EvaluateAssertions(tr, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	op := step.op()
	h.logger.Debug("executing step", "op", op, "seq", len(result.Steps)+1)

	switch op {
	case OpInsert:
		return h.insert(step.Insert, result)

	case OpRecedeTo:
		t := step.RecedeTo.Product()
		result.addStep(op, t.String())
		return h.trace.RecedeTo(t)

	case OpTruncateKeys:
		result.addStep(op, strconv.FormatInt(*step.TruncateKeysBelow, 10))
		h.trace.TruncateKeysBelow(*step.TruncateKeysBelow)
		return nil

	case OpTruncateValues:
		result.addStep(op, strconv.Quote(*step.TruncateValuesBelow))
		h.trace.TruncateValuesBelow(*step.TruncateValuesBelow)
		return nil

	case OpCompact:
		result.addStep(op, "")
		return h.trace.Compact(ctx)

	case OpSnapshot:
		result.addStep(op, step.Snapshot)
		lines, err := h.dump()
		if err != nil {
			return err
		}
		result.Snapshots = append(result.Snapshots, Snapshot{Label: step.Snapshot, Dump: lines})
		return nil
	}
	return fmt.Errorf("no operation")
}

func (h *Harness) insert(ins *InsertStep, result *Result) error {
	lower := lattice.Minimum[lattice.Product]()
	if ins.Lower != nil {
		lower = ins.Lower.Product()
	}
	batch := testutil.BuildBatch(lower, ins.Upper.Product(), toUpdates(ins.Updates)...)
	event := result.addStep(OpInsert, fmt.Sprintf("%d updates over [%v, %v)", batch.Len(), batch.Lower(), batch.Upper()))

	err := h.trace.Insert(batch)
	switch {
	case err == nil && ins.ExpectError == "":
		return nil
	case err == nil:
		event.Error = "none"
		result.AddError(fmt.Sprintf("step %d: insert succeeded, expected %s error", event.Seq, ins.ExpectError))
		return nil
	case kv.IsCapacityError(err):
		event.Error = ErrorCapacity
		if ins.ExpectError != ErrorCapacity {
			result.AddError(fmt.Sprintf("step %d: unexpected error: %v", event.Seq, err))
		}
		return nil
	default:
		return fmt.Errorf("insert: %w", err)
	}
}

func (h *Harness) dump() ([]string, error) {
	var buf bytes.Buffer
	if err := h.trace.Dump(&buf); err != nil {
		return nil, fmt.Errorf("dump trace: %w", err)
	}
	return splitLines(buf.String()), nil
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

// collectUpdates reads the whole trace through a fresh cursor.
func collectUpdates(tr *scenarioTrace) ([]testutil.Update, error) {
	c, err := tr.Cursor()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return trace.Collect(c), nil
}
