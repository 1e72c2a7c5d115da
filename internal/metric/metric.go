package metric

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	replicaNamespace   = "go_pq_replica"
	bootstrapSubsystem = "bootstrap"
)

type Metric interface {
	SetPhase(phase float64)
	TableCopied()
	AddCopiedBytes(count int64)
	SetStartLSN(lsn float64)

	PrometheusCollectors() []prometheus.Collector
}

type metric struct {
	phase        prometheus.Gauge
	startLSN     prometheus.Gauge
	tablesCopied prometheus.Counter
	copiedBytes  prometheus.Counter
}

func NewMetric(nodeName string) Metric {
	hostname, _ := os.Hostname()
	labels := prometheus.Labels{
		"node": nodeName,
		"host": hostname,
	}

	return &metric{
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   replicaNamespace,
			Subsystem:   bootstrapSubsystem,
			Name:        "phase",
			Help:        "current bootstrap phase ordinal (0=init .. 5=ready)",
			ConstLabels: labels,
		}),
		startLSN: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   replicaNamespace,
			Subsystem:   bootstrapSubsystem,
			Name:        "start_lsn",
			Help:        "start lsn of the replication slot created for this attempt",
			ConstLabels: labels,
		}),
		tablesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   replicaNamespace,
			Subsystem:   bootstrapSubsystem,
			Name:        "tables_copied_total",
			Help:        "total number of tables copied to the target node",
			ConstLabels: labels,
		}),
		copiedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   replicaNamespace,
			Subsystem:   bootstrapSubsystem,
			Name:        "copied_bytes_total",
			Help:        "total copy-stream bytes moved from origin to target",
			ConstLabels: labels,
		}),
	}
}

func (m *metric) SetPhase(phase float64) {
	m.phase.Set(phase)
}

func (m *metric) TableCopied() {
	m.tablesCopied.Inc()
}

func (m *metric) AddCopiedBytes(count int64) {
	m.copiedBytes.Add(float64(count))
}

func (m *metric) SetStartLSN(lsn float64) {
	m.startLSN.Set(lsn)
}

func (m *metric) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.phase,
		m.startLSN,
		m.tablesCopied,
		m.copiedBytes,
	}
}
