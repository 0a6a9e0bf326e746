package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/config"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer used by Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes committed records to a Kafka topic as JSON, one message
// per record. It implements pipeline.RecordPublisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes every record of b and writes them in one WriteMessages
// call. Messages are keyed by kind and natural key so that one entity's
// updates land on one partition in order.
func (w *Writer) Publish(ctx context.Context, batchID string, b domain.Batch) error {
	msgs, err := batchMessages(batchID, b)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish batch %s: %w", batchID, err)
	}
	w.logger.Debug("batch published", "batch_id", batchID, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func batchMessages(batchID string, b domain.Batch) ([]kafkago.Message, error) {
	msgs := make([]kafkago.Message, 0, b.Len())
	add := func(kind domain.Kind, key string, record any) error {
		msg, err := serializeToMessage(batchID, kind, key, record)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		return nil
	}

	for _, r := range b.Sessions {
		if err := add(domain.KindSession, strconv.Itoa(r.SessionKey), r); err != nil {
			return nil, err
		}
	}
	for _, r := range b.Drivers {
		if err := add(domain.KindDriver, strconv.Itoa(r.DriverNumber), r); err != nil {
			return nil, err
		}
	}
	for _, r := range b.Laps {
		if err := add(domain.KindLap, fmt.Sprintf("%d:%d", r.DriverNumber, r.LapNumber), r); err != nil {
			return nil, err
		}
	}
	for _, r := range b.Positions {
		if err := add(domain.KindPosition, strconv.Itoa(r.DriverNumber), r); err != nil {
			return nil, err
		}
	}
	for _, r := range b.Telemetry {
		if err := add(domain.KindTelemetry, strconv.Itoa(r.DriverNumber), r); err != nil {
			return nil, err
		}
	}
	for _, r := range b.RaceControl {
		if err := add(domain.KindRaceControl, "", r); err != nil {
			return nil, err
		}
	}
	for _, r := range b.Weather {
		if err := add(domain.KindWeather, "", r); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// serializeToMessage marshals one record into a Kafka message keyed
// "<kind>:<key>".
func serializeToMessage(batchID string, kind domain.Kind, key string, record any) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s record: %w", kind, err)
	}
	return kafkago.Message{
		Key:   []byte(string(kind) + ":" + key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "batch_id", Value: []byte(batchID)},
		},
	}, nil
}
