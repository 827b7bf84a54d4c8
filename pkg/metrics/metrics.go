// Package metrics exposes Prometheus collectors for the dataflow engine.
//
// Counters:
//   - ddflow_epochs_total: epochs processed, summed over workers.
//   - ddflow_rounds_total: iteration rounds executed per scope.
//   - ddflow_updates_total: updates emitted per operator kind.
//   - ddflow_messages_total: exchange messages sent per message kind.
//   - ddflow_aborts_total: workers aborted by an error.
//
// Histograms:
//   - ddflow_epoch_duration_seconds: wall time a worker spends on one epoch.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ddflow"

// Metrics is the set of engine collectors.
type Metrics struct {
	Epochs        prometheus.Counter
	Rounds        *prometheus.CounterVec
	Updates       *prometheus.CounterVec
	Messages      *prometheus.CounterVec
	Aborts        prometheus.Counter
	EpochDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg, unless reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Number of epochs processed, summed over workers.",
		}),
		Rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Number of iteration rounds executed.",
		}, []string{"scope"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Number of updates emitted by operators.",
		}, []string{"kind"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Number of messages sent through the exchange fabric.",
		}, []string{"kind"}),
		Aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Number of workers aborted by an error.",
		}),
		EpochDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "epoch_duration_seconds",
			Help:      "Time a worker spends processing one epoch.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Epochs, m.Rounds, m.Updates, m.Messages, m.Aborts, m.EpochDuration)
	}

	return m
}

// ObserveEpoch records a processed epoch and its duration.
func (m *Metrics) ObserveEpoch(d time.Duration) {
	if m == nil {
		return
	}
	m.Epochs.Inc()
	m.EpochDuration.Observe(d.Seconds())
}

// ObserveRound records an executed iteration round.
func (m *Metrics) ObserveRound(scope string) {
	if m == nil {
		return
	}
	m.Rounds.WithLabelValues(scope).Inc()
}

// ObserveUpdates records n updates emitted by an operator of the given kind.
func (m *Metrics) ObserveUpdates(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Updates.WithLabelValues(kind).Add(float64(n))
}

// ObserveMessage records a message sent through the exchange.
func (m *Metrics) ObserveMessage(kind string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(kind).Inc()
}

// ObserveAbort records an aborted worker.
func (m *Metrics) ObserveAbort() {
	if m == nil {
		return
	}
	m.Aborts.Inc()
}
