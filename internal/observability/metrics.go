package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "f1_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	LinesRead          prometheus.Counter
	ParseErrors        prometheus.Counter
	DecodeErrors       prometheus.Counter
	TimestampFallbacks prometheus.Counter
	PipelineRunning    prometheus.Gauge
	ExtractorRunning   prometheus.Gauge
	TailOffset         prometheus.Gauge

	// Load metrics.
	RecordsTransformed *prometheus.CounterVec // labels: kind
	RecordsLoaded      *prometheus.CounterVec // labels: kind
	TableErrors        *prometheus.CounterVec // labels: kind
	LoadErrors         prometheus.Counter
	PublishErrors      prometheus.Counter

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
	LagWarnings             prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Total complete lines read from the event log.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Total lines that could not be parsed.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total event payloads that could not be decoded.",
		}),
		TimestampFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timestamp_fallbacks_total",
			Help:      "Total records stamped with processing time because the event timestamp was unparsable.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		ExtractorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extractor_running",
			Help:      "1 while the live-timing client subprocess is running.",
		}),
		TailOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tail_offset_bytes",
			Help:      "Byte offset of the next unread line in the event log.",
		}),
		RecordsTransformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_transformed_total",
			Help:      "Records produced by the transformer by entity kind.",
		}, []string{"kind"}),
		RecordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_loaded_total",
			Help:      "Records committed to the store by entity kind.",
		}, []string{"kind"}),
		TableErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_errors_total",
			Help:      "Collections rolled back to their savepoint by entity kind.",
		}, []string{"kind"}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_errors_total",
			Help:      "Total batches whose transaction was rolled back.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total batches that failed to publish to the record sink.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_lines",
			Help:      "Number of lines per batch read from the event log.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete read-transform-load iteration.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		LagWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lag_warnings_total",
			Help:      "Iterations that took more than five poll intervals.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.LinesRead,
		m.ParseErrors,
		m.DecodeErrors,
		m.TimestampFallbacks,
		m.PipelineRunning,
		m.ExtractorRunning,
		m.TailOffset,
		m.RecordsTransformed,
		m.RecordsLoaded,
		m.TableErrors,
		m.LoadErrors,
		m.PublishErrors,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.LagWarnings,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
