// Package metrics holds the Prometheus instruments for placement and
// retrieval. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shardmedia"

// Retrieval paths and results used as label values.
const (
	PathFast    = "fast"
	PathSharded = "sharded"

	ResultOK          = "ok"
	ResultAbsent      = "absent"
	ResultFetchFailed = "fetch_failed"
	ResultError       = "error"
)

// Metrics holds Prometheus metrics for the pipeline and gateway
type Metrics struct {
	// Placement
	objectsPlaced *prometheus.CounterVec
	bytesPlaced   prometheus.Counter

	// Transfer
	transfers *prometheus.CounterVec

	// Retrieval
	retrievals        *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg. A nil reg
// creates unregistered instruments.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		objectsPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "placement",
				Name:      "objects_total",
				Help:      "Total number of objects encrypted into account staging",
			},
			[]string{"account", "kind"},
		),
		bytesPlaced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "placement",
				Name:      "bytes_total",
				Help:      "Total plaintext bytes encrypted into account staging",
			},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "uploads_total",
				Help:      "Total account staging uploads by result",
			},
			[]string{"account", "result"},
		),
		retrievals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "retrievals_total",
				Help:      "Total retrieval requests by path and result",
			},
			[]string{"path", "result"},
		),
		retrievalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "open_duration_seconds",
				Help:      "Time to open a retrieval stream",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.objectsPlaced, m.bytesPlaced, m.transfers, m.retrievals, m.retrievalDuration)
	}
	return m
}

// ObjectPlaced records one placed object of kind ("image", "video", "other").
func (m *Metrics) ObjectPlaced(account, kind string, size int64) {
	if m == nil {
		return
	}
	m.objectsPlaced.WithLabelValues(account, kind).Inc()
	m.bytesPlaced.Add(float64(size))
}

// AccountTransferred records one staging upload.
func (m *Metrics) AccountTransferred(account string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.transfers.WithLabelValues(account, result).Inc()
}

// Retrieval records one gateway Open.
func (m *Metrics) Retrieval(path, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(path, result).Inc()
	m.retrievalDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}
