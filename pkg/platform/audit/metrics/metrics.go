package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Flush outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeEmpty   = "empty"
)

// Metrics holds Prometheus metrics for audit log buffering and upload.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	RecordsAppended prometheus.Counter
	RecordsFlushed  prometheus.Counter
	RecordsRequeued prometheus.Counter
	RecordsDropped  prometheus.Counter
	Buffered        prometheus.Gauge
	Flushes         *prometheus.CounterVec
	UploadDuration  prometheus.Histogram
	BatchBytes      prometheus.Histogram
}

// New creates the audit log metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_records_appended_total",
			Help: "Total number of audit records accepted from producers",
		}),
		RecordsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_records_flushed_total",
			Help: "Total number of audit records persisted to blob storage",
		}),
		RecordsRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_records_requeued_total",
			Help: "Total number of audit records returned to the buffer after a failed upload",
		}),
		RecordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "auditlog_records_dropped_total",
			Help: "Total number of audit records offered while the subsystem was inactive",
		}),
		Buffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "auditlog_records_buffered",
			Help: "Current number of audit records waiting for the next flush",
		}),
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auditlog_flushes_total",
			Help: "Total number of flush cycles by outcome",
		}, []string{"outcome"}), // outcome: "success", "failure", "empty"
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditlog_upload_duration_seconds",
			Help:    "Duration of batch uploads to blob storage",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		BatchBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditlog_batch_bytes",
			Help:    "Size of uploaded audit batches in bytes",
			Buckets: prometheus.ExponentialBuckets(512, 4, 8),
		}),
	}
}

// AddAppended counts records accepted into the buffer.
func (m *Metrics) AddAppended(n int) {
	if m != nil {
		m.RecordsAppended.Add(float64(n))
	}
}

// AddDropped counts records offered while inactive.
func (m *Metrics) AddDropped(n int) {
	if m != nil {
		m.RecordsDropped.Add(float64(n))
	}
}

// SetBuffered sets the buffered records gauge.
func (m *Metrics) SetBuffered(n int) {
	if m != nil {
		m.Buffered.Set(float64(n))
	}
}

// ObserveFlush records the outcome of one flush cycle.
func (m *Metrics) ObserveFlush(outcome string, records int) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomeSuccess:
		m.RecordsFlushed.Add(float64(records))
	case OutcomeFailure:
		m.RecordsRequeued.Add(float64(records))
	}
}

// ObserveUpload records the duration and size of one upload attempt.
func (m *Metrics) ObserveUpload(d time.Duration, bytes int) {
	if m != nil {
		m.UploadDuration.Observe(d.Seconds())
		m.BatchBytes.Observe(float64(bytes))
	}
}
