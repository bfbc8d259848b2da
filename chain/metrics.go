package chain

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "chain"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Height of the chain head.
	Height metrics.Gauge
	// Last irreversible block height.
	IrreversibleHeight metrics.Gauge
	// Highest block finalized by PBFT.
	BFTIrreversibleHeight metrics.Gauge
	// Number of transactions in the latest applied block.
	NumTxs metrics.Gauge
	// Number of fork switches.
	ForkSwitches metrics.Counter
	// Slots a producer failed to fill.
	MissedBlocks metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Height: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "height",
			Help:      "Height of the chain head.",
		}, labels).With(labelsAndValues...),
		IrreversibleHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "irreversible_height",
			Help:      "Last irreversible block height.",
		}, labels).With(labelsAndValues...),
		BFTIrreversibleHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bft_irreversible_height",
			Help:      "Highest block finalized by PBFT commits.",
		}, labels).With(labelsAndValues...),
		NumTxs: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "num_txs",
			Help:      "Number of transactions in the latest block.",
		}, labels).With(labelsAndValues...),
		ForkSwitches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "fork_switches",
			Help:      "Number of fork switches.",
		}, labels).With(labelsAndValues...),
		MissedBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "missed_blocks",
			Help:      "Slots a producer failed to fill.",
		}, append(labels, "producer")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Height:                discard.NewGauge(),
		IrreversibleHeight:    discard.NewGauge(),
		BFTIrreversibleHeight: discard.NewGauge(),
		NumTxs:                discard.NewGauge(),
		ForkSwitches:          discard.NewCounter(),
		MissedBlocks:          discard.NewCounter(),
	}
}
