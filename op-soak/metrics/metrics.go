package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	opmetrics "github.com/yhl125/op-soak/op-service/metrics"
)

const Namespace = "op_soak"

var _ opmetrics.RegistryMetricer = (*Metrics)(nil)

type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	RecordSubmission(op string, success bool, d time.Duration)
	RecordNonceRollback(strict bool)
	RecordInFlight(delta int)
	RecordBatch(size int, d time.Duration, tps float64)
	RecordRunResult(success, failure uint64, tps float64)
}

type Metrics struct {
	ns       string
	registry *prometheus.Registry
	factory  opmetrics.Factory

	info prometheus.GaugeVec
	up   prometheus.Gauge

	submissions       prometheus.CounterVec
	submissionLatency prometheus.HistogramVec
	rollbacks         prometheus.CounterVec
	inFlight          prometheus.Gauge

	batches       prometheus.Counter
	batchSize     prometheus.Gauge
	batchDuration prometheus.Histogram
	batchTPS      prometheus.Gauge

	runJobs prometheus.GaugeVec
	runTPS  prometheus.Gauge
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics(procName string) *Metrics {
	if procName == "" {
		procName = "default"
	}
	ns := Namespace + "_" + procName

	registry := opmetrics.NewRegistry()
	factory := opmetrics.With(registry)

	return &Metrics{
		ns:       ns,
		registry: registry,
		factory:  factory,

		info: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "info",
			Help:      "Pseudo-metric tracking version and config info",
		}, []string{
			"version",
		}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "up",
			Help:      "1 if the soak run has finished bootstrapping",
		}),
		submissions: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "submissions_total",
			Help:      "Number of submissions by operation and outcome",
		}, []string{
			"op",
			"status",
		}),
		submissionLatency: *factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "submission_latency_seconds",
			Help:      "Time until the endpoint accepted or rejected a submission",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{
			"op",
		}),
		rollbacks: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "nonce_rollbacks_total",
			Help:      "Number of nonce rollbacks after rejected submissions",
		}, []string{
			"mode",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "in_flight_submissions",
			Help:      "Number of submissions waiting for the endpoint",
		}),
		batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batches_total",
			Help:      "Number of completed batches",
		}),
		batchSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "batch_size",
			Help:      "Number of jobs in the last batch",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of a batch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		batchTPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "batch_tps",
			Help:      "Submissions per second of the last batch",
		}),
		runJobs: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "run_jobs",
			Help:      "Jobs of the last completed run by outcome",
		}, []string{
			"status",
		}),
		runTPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "run_tps",
			Help:      "Overall submissions per second of the last completed run",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordSubmission(op string, success bool, d time.Duration) {
	m.submissions.WithLabelValues(op, statusLabel(success)).Inc()
	m.submissionLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) RecordNonceRollback(strict bool) {
	mode := "decrement"
	if strict {
		mode = "release"
	}
	m.rollbacks.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordInFlight(delta int) {
	m.inFlight.Add(float64(delta))
}

func (m *Metrics) RecordBatch(size int, d time.Duration, tps float64) {
	m.batches.Inc()
	m.batchSize.Set(float64(size))
	m.batchDuration.Observe(d.Seconds())
	m.batchTPS.Set(tps)
}

func (m *Metrics) RecordRunResult(success, failure uint64, tps float64) {
	m.runJobs.WithLabelValues("success").Set(float64(success))
	m.runJobs.WithLabelValues("failure").Set(float64(failure))
	m.runTPS.Set(tps)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
