package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// PromObs logs through slog and keeps a fixed set of Prometheus series,
// addressed by metric name. Unknown names are ignored.
type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

func NewPromObs(reg prometheus.Registerer, log *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if log == nil {
		log = slog.Default()
	}

	counters := map[string]prometheus.Counter{
		"filetobmon_lines_completed_total":    counter("filetobmon_lines_completed_total", "Data lines parsed and routed successfully."),
		"filetobmon_lines_error_total":        counter("filetobmon_lines_error_total", "Data lines written to the error archive."),
		"filetobmon_files_processed_total":    counter("filetobmon_files_processed_total", "Source files fully classified."),
		"filetobmon_files_failed_total":       counter("filetobmon_files_failed_total", "Source files retained after a file-level failure."),
		"filetobmon_readings_routed_total":    counter("filetobmon_readings_routed_total", "Readings appended to a destination buffer."),
		"filetobmon_batches_flushed_total":    counter("filetobmon_batches_flushed_total", "Buffers handed to the delivery queue."),
		"filetobmon_retention_deleted_total":  counter("filetobmon_retention_deleted_total", "Archive files removed by retention cleanup."),
		"filetobmon_readings_delivered_total": counter("filetobmon_readings_delivered_total", "Readings accepted by a destination."),
		"filetobmon_delivery_failures_total":  counter("filetobmon_delivery_failures_total", "Failed delivery attempts."),
		"filetobmon_batches_dropped_total":    counter("filetobmon_batches_dropped_total", "Batches lost to WAL policy or WAL write failures."),
		"filetobmon_dlq_total":                counter("filetobmon_dlq_total", "Batches permanently rejected by a destination."),
	}
	walGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "filetobmon_wal_size_bytes",
		Help: "Size of the delivery WAL on disk.",
	})
	queueGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "filetobmon_queue_length",
		Help: "Batches buffered in memory awaiting delivery.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "filetobmon_delivery_latency_seconds",
		Help:    "Time taken by a destination to accept a batch.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	collectors := []prometheus.Collector{walGauge, queueGauge, latency}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	reg.MustRegister(collectors...)

	return &PromObs{
		log:      log,
		counters: counters,
		gauges: map[string]prometheus.Gauge{
			"filetobmon_wal_size_bytes": walGauge,
			"filetobmon_queue_length":   queueGauge,
		},
		histos: map[string]prometheus.Observer{
			"filetobmon_delivery_latency_seconds": latency,
		},
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Warn(msg, append(attrs(fields), "error", errString(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), "error", errString(err))...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, b *domain.Batch, err error) {
	p.IncCounter("filetobmon_dlq_total", 1)
	if b == nil {
		return
	}
	p.log.Error("batch_rejected",
		"wal_id", uint64(id),
		"batch", b.ID,
		"destination", string(b.Destination),
		"readings", len(b.Readings),
		"error", errString(err),
	)
}

var _ ports.Observability = (*PromObs)(nil)
