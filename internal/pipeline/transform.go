package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/adapter/livetiming"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
)

// TransformStats counts what happened to the lines of one batch.
type TransformStats struct {
	Lines              int
	Events             int
	ParseErrors        int
	DecodeErrors       int
	Ignored            int
	TimestampFallbacks int
	Skipped            int
}

// TopicTransformer implements BatchTransformer by parsing log lines, decoding
// their payloads, and dispatching them to the domain topic handlers.
//
// The driver and session caches live across batches so that a partial
// DriverList update never blanks fields learned earlier, and so that
// time-series records are stamped with the current session key.
type TopicTransformer struct {
	parse  livetiming.LineParser
	topics map[string]bool
	logger *slog.Logger

	drivers map[int]domain.Driver
	session *domain.Session
}

// NewTopicTransformer creates a transformer for the given line format. An
// empty topic list accepts every topic with a registered handler.
func NewTopicTransformer(format livetiming.LineFormat, topics []string, logger *slog.Logger) (*TopicTransformer, error) {
	parse, err := livetiming.ParserFor(format)
	if err != nil {
		return nil, err
	}
	var allow map[string]bool
	if len(topics) > 0 {
		allow = make(map[string]bool, len(topics))
		for _, topic := range topics {
			allow[topic] = true
		}
	}
	return &TopicTransformer{
		parse:   parse,
		topics:  allow,
		logger:  logger,
		drivers: make(map[int]domain.Driver),
	}, nil
}

type lapKey struct {
	driver, lap int
}

// batchBuilder accumulates one batch. Drivers and sessions are deduplicated
// by key with the last occurrence winning and first-appearance order kept;
// laps are merged per (driver, lap).
type batchBuilder struct {
	batch      domain.Batch
	driverIdx  map[int]int
	sessionIdx map[int]int
	lapIdx     map[lapKey]int
}

func newBatchBuilder() *batchBuilder {
	return &batchBuilder{
		driverIdx:  make(map[int]int),
		sessionIdx: make(map[int]int),
		lapIdx:     make(map[lapKey]int),
	}
}

func (b *batchBuilder) addDriver(d domain.Driver) {
	if i, ok := b.driverIdx[d.DriverNumber]; ok {
		b.batch.Drivers[i] = d
		return
	}
	b.driverIdx[d.DriverNumber] = len(b.batch.Drivers)
	b.batch.Drivers = append(b.batch.Drivers, d)
}

func (b *batchBuilder) addSession(s domain.Session) {
	if i, ok := b.sessionIdx[s.SessionKey]; ok {
		b.batch.Sessions[i] = s
		return
	}
	b.sessionIdx[s.SessionKey] = len(b.batch.Sessions)
	b.batch.Sessions = append(b.batch.Sessions, s)
}

func (b *batchBuilder) addLap(l domain.LapData) {
	k := lapKey{driver: l.DriverNumber, lap: l.LapNumber}
	if i, ok := b.lapIdx[k]; ok {
		b.batch.Laps[i] = domain.MergeLap(b.batch.Laps[i], l)
		return
	}
	b.lapIdx[k] = len(b.batch.Laps)
	b.batch.Laps = append(b.batch.Laps, l)
}

// ProcessBatch turns raw log lines into one batch of records. Malformed
// lines, undecodable payloads, and unknown topics are logged and skipped;
// they never fail the batch.
func (t *TopicTransformer) ProcessBatch(lines []string) (domain.Batch, TransformStats) {
	var stats TransformStats
	b := newBatchBuilder()

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++

		ev, err := t.parse(line)
		if err != nil {
			stats.ParseErrors++
			t.logger.Warn("skipping malformed line", "error", err, "line", livetiming.Snippet(line))
			continue
		}

		if t.topics != nil && !t.topics[ev.Topic] {
			stats.Ignored++
			continue
		}
		handler, ok := domain.LookupTopic(ev.Topic)
		if !ok {
			stats.Ignored++
			t.logger.Debug("no handler for topic", "topic", ev.Topic)
			continue
		}

		data, err := livetiming.Decode(ev.Data)
		if err != nil {
			stats.DecodeErrors++
			t.logger.Error("decode payload failed", "topic", ev.Topic, "timestamp", ev.Timestamp, "error", err)
			continue
		}

		ts, ok := domain.ParseTimestamp(ev.Timestamp)
		if !ok {
			stats.TimestampFallbacks++
			t.logger.Warn("unparsable event timestamp, using processing time",
				"topic", ev.Topic, "timestamp", ev.Timestamp)
		}

		out, err := runHandler(handler, data, ts)
		if err != nil {
			stats.DecodeErrors++
			t.logger.Error("topic handler failed", "topic", ev.Topic, "timestamp", ev.Timestamp, "error", err)
			continue
		}
		stats.Events++
		stats.TimestampFallbacks += out.TimestampFallbacks
		stats.Skipped += len(out.Skipped)
		for _, s := range out.Skipped {
			t.logger.Debug("skipped entry", "topic", ev.Topic, "field", s.Field, "value", s.Value, "reason", s.Reason)
		}

		t.apply(b, out)
	}

	return b.batch, stats
}

// apply folds one handler output into the batch and the cross-batch caches.
func (t *TopicTransformer) apply(b *batchBuilder, out domain.Output) {
	if out.Session != nil {
		s := *out.Session
		if t.session != nil {
			s = domain.MergeSession(*t.session, s)
		}
		t.session = &s
		b.addSession(s)
	}
	key := t.sessionKey()

	for _, d := range out.Drivers {
		merged := domain.MergeDriver(t.drivers[d.DriverNumber], d)
		if key != nil {
			merged.SessionKey = key
		}
		t.drivers[d.DriverNumber] = merged
		b.addDriver(merged)
	}
	for _, l := range out.Laps {
		if l.SessionKey == nil {
			l.SessionKey = key
		}
		b.addLap(l)
	}
	for _, p := range out.Positions {
		if p.SessionKey == nil {
			p.SessionKey = key
		}
		b.batch.Positions = append(b.batch.Positions, p)
	}
	for _, s := range out.Telemetry {
		if s.SessionKey == nil {
			s.SessionKey = key
		}
		b.batch.Telemetry = append(b.batch.Telemetry, s)
	}
	for _, m := range out.RaceControl {
		if m.SessionKey == nil {
			m.SessionKey = key
		}
		b.batch.RaceControl = append(b.batch.RaceControl, m)
	}
	for _, w := range out.Weather {
		if w.SessionKey == nil {
			w.SessionKey = key
		}
		b.batch.Weather = append(b.batch.Weather, w)
	}
}

func (t *TopicTransformer) sessionKey() *int {
	if t.session == nil {
		return nil
	}
	k := t.session.SessionKey
	return &k
}

// runHandler shields the batch from a handler panicking on an unexpected
// payload shape.
func runHandler(h domain.TopicHandler, data any, ts time.Time) (out domain.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(data, ts), nil
}
