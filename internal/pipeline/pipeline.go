package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// LineSource returns the complete lines appended to the event log since the last call.
type LineSource interface {
	ReadNew(ctx context.Context) ([]string, error)
}

// BatchTransformer converts raw log lines into a batch of records.
type BatchTransformer interface {
	ProcessBatch(lines []string) (domain.Batch, TransformStats)
}

// BatchLoader writes a batch to the store in one transaction.
type BatchLoader interface {
	LoadBatch(ctx context.Context, b domain.Batch) (domain.LoadResult, error)
}

// RecordPublisher fans committed records out to a secondary sink.
type RecordPublisher interface {
	Publish(ctx context.Context, batchID string, b domain.Batch) error
}

// Extractor is the subprocess that appends live-timing events to the log.
type Extractor interface {
	Start(ctx context.Context) error
	Done() <-chan struct{}
	Stop(timeout time.Duration) (killed bool, err error)
}

type offsetReporter interface {
	Offset() int64
}

// State is the lifecycle stage of a Pipeline.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options tunes the loop. Zero values take the defaults below.
type Options struct {
	Interval          time.Duration
	HeartbeatInterval time.Duration
	StopTimeout       time.Duration
	LoadTimeout       time.Duration

	// Extractor and Publisher are optional.
	Extractor Extractor
	Publisher RecordPublisher
	Clock     clockwork.Clock
}

const (
	defaultInterval          = 100 * time.Millisecond
	defaultHeartbeatInterval = 30 * time.Second
	defaultStopTimeout       = 10 * time.Second
	defaultLoadTimeout       = 30 * time.Second

	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second

	// An iteration slower than lagFactor intervals is reported as lag.
	lagFactor = 5
)

// Status is the pipeline state plus its accounting snapshot.
type Status struct {
	State string `json:"state"`
	Snapshot
}

// Pipeline orchestrates the tail-transform-load loop.
type Pipeline struct {
	source      LineSource
	transformer BatchTransformer
	loader      BatchLoader
	opts        Options
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	accounting  *Accounting

	state atomic.Int32
	ready atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(opts Options, src LineSource, t BatchTransformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		source:      src,
		transformer: t,
		loader:      l,
		opts:        opts,
		clock:       opts.Clock,
		logger:      logger,
		metrics:     metrics,
		accounting:  NewAccounting(opts.Clock, logger, metrics),
	}
}

// State returns the current lifecycle stage.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State) { p.state.Store(int32(s)) }

// Status returns the state and running totals.
func (p *Pipeline) Status() Status {
	return Status{State: p.State().String(), Snapshot: p.accounting.Snapshot()}
}

// CheckReadiness returns nil once the pipeline has polled the event log at
// least once without a load failure.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a poll yet")
	}
	if s := p.State(); s != StatePolling {
		return fmt.Errorf("pipeline is %s", s)
	}
	return nil
}

// Run executes the polling loop until the context is cancelled or the
// extractor exits. Only a failure to start the extractor is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "interval", p.opts.Interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	var extractorDone <-chan struct{}
	if p.opts.Extractor != nil {
		if err := p.opts.Extractor.Start(ctx); err != nil {
			p.setState(StateStopped)
			return fmt.Errorf("start extractor: %w", err)
		}
		p.metrics.ExtractorRunning.Set(1)
		extractorDone = p.opts.Extractor.Done()
	}

	p.setState(StatePolling)
	backoff := initialBackoff
	lastHeartbeat := p.clock.Now()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			p.shutdown(ctx)
			return nil
		case <-extractorDone:
			p.metrics.ExtractorRunning.Set(0)
			p.logger.Info("extractor exited, draining remaining lines")
			p.setState(StateDraining)
			p.iterate(ctx)
			p.finish()
			return nil
		default:
		}

		start := p.clock.Now()
		failed := p.iterate(ctx)
		elapsed := p.clock.Since(start)

		p.accounting.Tick()
		if p.clock.Since(lastHeartbeat) >= p.opts.HeartbeatInterval {
			p.heartbeat()
			lastHeartbeat = p.clock.Now()
		}

		if failed {
			if !sleepWithContext(ctx, p.clock, backoff) {
				continue
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = initialBackoff

		if elapsed > lagFactor*p.opts.Interval {
			p.metrics.LagWarnings.Inc()
			p.logger.Warn("pipeline falling behind", "elapsed", elapsed, "interval", p.opts.Interval)
		}
		sleepWithContext(ctx, p.clock, p.opts.Interval-elapsed)
	}
}

// iterate runs one read-transform-load pass. It returns true when the pass
// failed and the loop should back off.
func (p *Pipeline) iterate(ctx context.Context) bool {
	start := p.clock.Now()

	lines, err := p.source.ReadNew(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("read event log failed", "error", err)
		return true
	}
	if r, ok := p.source.(offsetReporter); ok {
		p.metrics.TailOffset.Set(float64(r.Offset()))
	}
	if len(lines) == 0 {
		p.ready.Store(true)
		return false
	}

	batch, stats := p.transformer.ProcessBatch(lines)
	it := Iteration{Lines: len(lines), Stats: stats, Batch: batch}
	batchID := uuid.NewString()

	if !batch.Empty() {
		// A load that has started is allowed to finish during shutdown.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.LoadTimeout)
		res, err := p.loader.LoadBatch(loadCtx, batch)
		cancel()
		if err != nil {
			p.logger.Error("load batch failed",
				"batch_id", batchID,
				"error", err,
				"lines", len(lines),
				"records", batch.Len(),
			)
			it.LoadErr = err
			p.accounting.Record(it)
			return true
		}
		it.Result = res
		p.publish(ctx, batchID, committed(batch, res))
	}

	it.Elapsed = p.clock.Since(start)
	p.accounting.Record(it)
	p.ready.Store(true)
	p.logger.Debug("batch processed",
		"batch_id", batchID,
		"lines", len(lines),
		"records", it.Result.Records(),
		"elapsed", it.Elapsed,
	)
	return false
}

func (p *Pipeline) publish(ctx context.Context, batchID string, b domain.Batch) {
	if p.opts.Publisher == nil || b.Empty() {
		return
	}
	if err := p.opts.Publisher.Publish(ctx, batchID, b); err != nil {
		p.metrics.PublishErrors.Inc()
		p.logger.Warn("publish batch failed", "batch_id", batchID, "records", b.Len(), "error", err)
	}
}

// shutdown stops the extractor, drains whatever it flushed on the way out,
// and emits the final report.
func (p *Pipeline) shutdown(ctx context.Context) {
	p.setState(StateDraining)
	if p.opts.Extractor != nil {
		killed, err := p.opts.Extractor.Stop(p.opts.StopTimeout)
		if err != nil {
			p.logger.Warn("stop extractor failed", "error", err)
		} else if killed {
			p.logger.Warn("extractor did not exit in time, killed", "timeout", p.opts.StopTimeout)
		}
		p.metrics.ExtractorRunning.Set(0)
		p.iterate(context.WithoutCancel(ctx))
	}
	p.finish()
}

func (p *Pipeline) finish() {
	p.accounting.Report()
	p.setState(StateStopped)
	p.logger.Info("pipeline stopped")
}

func (p *Pipeline) heartbeat() {
	s := p.accounting.Snapshot()
	args := []any{"state", p.State().String(), "lines", s.Lines, "records", s.Records}
	if r, ok := p.source.(offsetReporter); ok {
		args = append(args, "offset", r.Offset())
	}
	p.logger.Info("heartbeat", args...)
}

// committed drops the collections that were rolled back.
func committed(b domain.Batch, res domain.LoadResult) domain.Batch {
	for k := range res.Failed {
		switch k {
		case domain.KindSession:
			b.Sessions = nil
		case domain.KindDriver:
			b.Drivers = nil
		case domain.KindLap:
			b.Laps = nil
		case domain.KindPosition:
			b.Positions = nil
		case domain.KindTelemetry:
			b.Telemetry = nil
		case domain.KindRaceControl:
			b.RaceControl = nil
		case domain.KindWeather:
			b.Weather = nil
		}
	}
	return b
}

// sleepWithContext is retry.SleepWithContext on the pipeline clock.
func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
