package kv

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks store activity. Merge callbacks never touch it.
type Metrics struct {
	writes     *prometheus.CounterVec
	operands   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	compaction *prometheus.HistogramVec
	folded     prometheus.Counter
	partitions prometheus.Gauge
}

// NewMetrics creates the store metrics and registers them on reg. A nil reg
// leaves them unregistered. Collectors already registered by another store
// are shared.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracestore_kv_writes_total",
			Help: "Committed write batches",
		}, []string{"engine"}),
		operands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracestore_kv_merge_operands_total",
			Help: "Merge operands written",
		}, []string{"engine"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracestore_kv_rejected_writes_total",
			Help: "Writes rejected by a capacity limit",
		}, []string{"limit"}),
		compaction: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracestore_kv_compaction_seconds",
			Help:    "Partition compaction latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"engine"}),
		folded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracestore_kv_sqlite_folded_operands_total",
			Help: "Pending sqlite operands folded into records",
		}),
		partitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracestore_kv_open_partitions",
			Help: "Partitions currently open",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.writes, err = register(reg, m.writes); err != nil {
		return nil, err
	}
	if m.operands, err = register(reg, m.operands); err != nil {
		return nil, err
	}
	if m.rejected, err = register(reg, m.rejected); err != nil {
		return nil, err
	}
	if m.compaction, err = register(reg, m.compaction); err != nil {
		return nil, err
	}
	if m.folded, err = register(reg, m.folded); err != nil {
		return nil, err
	}
	if m.partitions, err = register(reg, m.partitions); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}
