package pbft

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "pbft"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Current view.
	View metrics.Gauge
	// Height of the last stable checkpoint.
	StableCheckpoint metrics.Gauge
	// Height of the last prepared block.
	PreparedHeight metrics.Gauge
	// Height of the last locally committed block.
	CommittedHeight metrics.Gauge
	// Accepted messages, labeled by type.
	VotesAccepted metrics.Counter
	// Rejected messages, labeled by type.
	VotesRejected metrics.Counter
	// View changes sent.
	ViewChanges metrics.Counter
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
		View: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "view",
			Help:      "Current PBFT view.",
		}, labels).With(labelsAndValues...),
		StableCheckpoint: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "stable_checkpoint",
			Help:      "Height of the last stable checkpoint.",
		}, labels).With(labelsAndValues...),
		PreparedHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "prepared_height",
			Help:      "Height of the last prepared block.",
		}, labels).With(labelsAndValues...),
		CommittedHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "committed_height",
			Help:      "Height of the last locally committed block.",
		}, labels).With(labelsAndValues...),
		VotesAccepted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_accepted",
			Help:      "Number of accepted PBFT messages.",
		}, append(labels, "type")).With(labelsAndValues...),
		VotesRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_rejected",
			Help:      "Number of rejected PBFT messages.",
		}, append(labels, "type")).With(labelsAndValues...),
		ViewChanges: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "view_changes",
			Help:      "Number of view changes sent.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		View:             discard.NewGauge(),
		StableCheckpoint: discard.NewGauge(),
		PreparedHeight:   discard.NewGauge(),
		CommittedHeight:  discard.NewGauge(),
		VotesAccepted:    discard.NewCounter(),
		VotesRejected:    discard.NewCounter(),
		ViewChanges:      discard.NewCounter(),
	}
}
