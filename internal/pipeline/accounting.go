package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	durationWindow = 1000
	recentWindow   = 100

	activityInterval = 5 * time.Second
	reportInterval   = 60 * time.Second
)

// Iteration is what one read-transform-load pass produced.
type Iteration struct {
	Lines   int
	Stats   TransformStats
	Batch   domain.Batch
	Result  domain.LoadResult
	LoadErr error
	Elapsed time.Duration
}

// Snapshot is a point-in-time view of the pipeline totals.
type Snapshot struct {
	Uptime           time.Duration `json:"uptime"`
	Lines            int64         `json:"lines"`
	Records          int64         `json:"records"`
	Batches          int64         `json:"batches"`
	ParseErrors      int64         `json:"parse_errors"`
	DecodeErrors     int64         `json:"decode_errors"`
	LoadErrors       int64         `json:"load_errors"`
	TableErrors      int64         `json:"table_errors"`
	AvgBatchTime     time.Duration `json:"avg_batch_time"`
	MaxBatchTime     time.Duration `json:"max_batch_time"`
	BatchesPerSecond float64       `json:"batches_per_second"`
	LastBatchAt      time.Time     `json:"last_batch_at,omitzero"`
}

// Accounting keeps running totals for the pipeline, emits the periodic
// activity and performance log lines, and mirrors every count into the
// Prometheus metrics.
type Accounting struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu           sync.Mutex
	started      time.Time
	lines        int64
	records      int64
	batches      int64
	parseErrors  int64
	decodeErrors int64
	loadErrors   int64
	tableErrors  int64
	lastBatchAt  time.Time

	durations [durationWindow]time.Duration
	next      int
	filled    int

	lastActivity    time.Time
	activityLines   int64
	activityRecords int64
	lastReport      time.Time
}

// NewAccounting starts the uptime clock.
func NewAccounting(clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Accounting {
	now := clock.Now()
	return &Accounting{
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		started:      now,
		lastActivity: now,
		lastReport:   now,
	}
}

// Record adds one iteration to the totals. Iterations that read no lines
// are not batches and are ignored.
func (a *Accounting) Record(it Iteration) {
	if it.Lines == 0 {
		return
	}

	a.metrics.LinesRead.Add(float64(it.Lines))
	a.metrics.BatchSize.Observe(float64(it.Lines))
	a.metrics.ParseErrors.Add(float64(it.Stats.ParseErrors))
	a.metrics.DecodeErrors.Add(float64(it.Stats.DecodeErrors))
	a.metrics.TimestampFallbacks.Add(float64(it.Stats.TimestampFallbacks))
	for _, k := range domain.Kinds {
		if n := it.Batch.Count(k); n > 0 {
			a.metrics.RecordsTransformed.WithLabelValues(string(k)).Add(float64(n))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.lines += int64(it.Lines)
	a.activityLines += int64(it.Lines)
	a.parseErrors += int64(it.Stats.ParseErrors)
	a.decodeErrors += int64(it.Stats.DecodeErrors)

	if it.LoadErr != nil {
		a.loadErrors++
		a.metrics.LoadErrors.Inc()
		return
	}

	for k, n := range it.Result.Written {
		a.metrics.RecordsLoaded.WithLabelValues(string(k)).Add(float64(n))
	}
	for k := range it.Result.Failed {
		a.metrics.TableErrors.WithLabelValues(string(k)).Inc()
	}
	a.metrics.BatchProcessingDuration.Observe(it.Elapsed.Seconds())

	written := int64(it.Result.Records())
	a.records += written
	a.activityRecords += written
	a.tableErrors += int64(len(it.Result.Failed))
	a.batches++
	a.lastBatchAt = a.clock.Now()

	a.durations[a.next] = it.Elapsed
	a.next = (a.next + 1) % durationWindow
	if a.filled < durationWindow {
		a.filled++
	}
}

// Tick emits the activity summary every five seconds when lines arrived,
// and the performance report every minute.
func (a *Accounting) Tick() {
	now := a.clock.Now()

	a.mu.Lock()
	var activity bool
	var lines, records int64
	if now.Sub(a.lastActivity) >= activityInterval {
		activity = a.activityLines > 0
		lines, records = a.activityLines, a.activityRecords
		a.activityLines, a.activityRecords = 0, 0
		a.lastActivity = now
	}
	report := now.Sub(a.lastReport) >= reportInterval
	a.mu.Unlock()

	if activity {
		a.logger.Info("processing activity", "lines", lines, "records", records, "window", activityInterval)
	}
	if report {
		a.Report()
	}
}

// Report logs the performance summary now.
func (a *Accounting) Report() {
	s := a.Snapshot()

	a.mu.Lock()
	a.lastReport = a.clock.Now()
	a.mu.Unlock()

	a.logger.Info("performance report",
		"uptime", s.Uptime.Round(time.Second),
		"lines", s.Lines,
		"records", s.Records,
		"batches", s.Batches,
		"parse_errors", s.ParseErrors,
		"decode_errors", s.DecodeErrors,
		"load_errors", s.LoadErrors,
		"table_errors", s.TableErrors,
		"avg_batch_ms", s.AvgBatchTime.Milliseconds(),
		"max_batch_ms", s.MaxBatchTime.Milliseconds(),
		"batches_per_sec", s.BatchesPerSecond,
	)
}

// Snapshot returns the current totals.
func (a *Accounting) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Uptime:       a.clock.Since(a.started),
		Lines:        a.lines,
		Records:      a.records,
		Batches:      a.batches,
		ParseErrors:  a.parseErrors,
		DecodeErrors: a.decodeErrors,
		LoadErrors:   a.loadErrors,
		TableErrors:  a.tableErrors,
		LastBatchAt:  a.lastBatchAt,
	}

	n := min(a.filled, recentWindow)
	if n > 0 {
		var total time.Duration
		for i := 1; i <= n; i++ {
			d := a.durations[(a.next-i+durationWindow)%durationWindow]
			total += d
			s.MaxBatchTime = max(s.MaxBatchTime, d)
		}
		s.AvgBatchTime = total / time.Duration(n)
	}
	if secs := s.Uptime.Seconds(); secs > 0 {
		s.BatchesPerSecond = float64(a.batches) / secs
	}
	return s
}
