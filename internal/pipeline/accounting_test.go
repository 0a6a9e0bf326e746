package pipeline_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/observability"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func weatherIteration(lines int, elapsed time.Duration) pipeline.Iteration {
	return pipeline.Iteration{
		Lines:   lines,
		Stats:   pipeline.TransformStats{Lines: lines, Events: lines},
		Batch:   domain.Batch{Weather: make([]domain.Weather, lines)},
		Result:  domain.LoadResult{Written: map[domain.Kind]int{domain.KindWeather: lines}},
		Elapsed: elapsed,
	}
}

func TestAccounting_SnapshotWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	acc := pipeline.NewAccounting(clock, discardLogger(), observability.NewMetricsForTesting())

	for i := 1; i <= 150; i++ {
		acc.Record(weatherIteration(1, time.Duration(i)*time.Millisecond))
	}
	clock.Advance(10 * time.Second)

	s := acc.Snapshot()
	assert.Equal(t, int64(150), s.Batches)
	assert.Equal(t, int64(150), s.Lines)
	assert.Equal(t, int64(150), s.Records)
	assert.Equal(t, 150*time.Millisecond, s.MaxBatchTime)
	assert.Equal(t, 100500*time.Microsecond, s.AvgBatchTime)
	assert.InDelta(t, 15.0, s.BatchesPerSecond, 1e-9)
	assert.Equal(t, 10*time.Second, s.Uptime)
}

func TestAccounting_RingWraps(t *testing.T) {
	acc := pipeline.NewAccounting(clockwork.NewFakeClock(), discardLogger(), observability.NewMetricsForTesting())

	for i := 0; i < 1100; i++ {
		acc.Record(weatherIteration(1, time.Second))
	}
	acc.Record(weatherIteration(1, 3*time.Second))

	s := acc.Snapshot()
	assert.Equal(t, int64(1101), s.Batches)
	assert.Equal(t, 3*time.Second, s.MaxBatchTime)
}

func TestAccounting_IgnoresEmptyPolls(t *testing.T) {
	acc := pipeline.NewAccounting(clockwork.NewFakeClock(), discardLogger(), observability.NewMetricsForTesting())
	acc.Record(pipeline.Iteration{})

	s := acc.Snapshot()
	assert.Zero(t, s.Batches)
	assert.Zero(t, s.AvgBatchTime)
	assert.Zero(t, s.BatchesPerSecond)
}

func TestAccounting_LoadFailureAndMetrics(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	acc := pipeline.NewAccounting(clockwork.NewFakeClock(), discardLogger(), metrics)

	failed := weatherIteration(3, 0)
	failed.Stats.ParseErrors = 2
	failed.LoadErr = errors.New("connection refused")
	acc.Record(failed)

	partial := weatherIteration(2, 10*time.Millisecond)
	partial.Result.Failed = map[domain.Kind]error{domain.KindLap: errors.New("bad lap")}
	partial.Stats.TimestampFallbacks = 1
	acc.Record(partial)

	s := acc.Snapshot()
	assert.Equal(t, int64(5), s.Lines)
	assert.Equal(t, int64(2), s.Records)
	assert.Equal(t, int64(1), s.Batches)
	assert.Equal(t, int64(1), s.LoadErrors)
	assert.Equal(t, int64(1), s.TableErrors)
	assert.Equal(t, int64(2), s.ParseErrors)

	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.LinesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LoadErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ParseErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TimestampFallbacks))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.RecordsTransformed.WithLabelValues("weather")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RecordsLoaded.WithLabelValues("weather")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TableErrors.WithLabelValues("lap_data")))
}

func TestAccounting_TickLogsActivityAndReport(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logs := &lockedBuffer{}
	acc := pipeline.NewAccounting(clock, slog.New(slog.NewTextHandler(logs, nil)), observability.NewMetricsForTesting())

	acc.Record(weatherIteration(4, time.Millisecond))
	acc.Tick()
	assert.Empty(t, logs.String())

	clock.Advance(5 * time.Second)
	acc.Tick()
	assert.Contains(t, logs.String(), "processing activity")
	assert.Contains(t, logs.String(), "lines=4")
	assert.NotContains(t, logs.String(), "performance report")

	clock.Advance(55 * time.Second)
	acc.Tick()
	assert.Contains(t, logs.String(), "performance report")
	assert.Contains(t, logs.String(), "batches=1")
}
