package livetiming

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
)

// LineFormat selects how each log line is encoded.
type LineFormat string

const (
	// FormatLiteral is a Python-literal list: ['Topic', payload, 'timestamp'].
	FormatLiteral LineFormat = "literal"
	// FormatJSON is an object: {"topic": ..., "data": ..., "timestamp": ...}.
	FormatJSON LineFormat = "json"
)

// LineParser turns one log line into an Event.
type LineParser func(line string) (domain.Event, error)

// ParserFor returns the parser for a line format.
func ParserFor(format LineFormat) (LineParser, error) {
	switch format {
	case FormatLiteral:
		return ParseLiteralLine, nil
	case FormatJSON:
		return ParseJSONLine, nil
	}
	return nil, fmt.Errorf("unknown line format %q", format)
}

// LineError reports a line that could not be parsed.
type LineError struct {
	Line string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("parse line %q: %v", Snippet(e.Line), e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Snippet truncates a line for logging.
func Snippet(line string) string {
	const maxLen = 120
	if len(line) <= maxLen {
		return line
	}
	return line[:maxLen] + "..."
}

// ParseLiteralLine parses a ['Topic', payload, 'timestamp'] line.
func ParseLiteralLine(line string) (domain.Event, error) {
	v, err := ParseLiteral(strings.TrimSpace(line))
	if err != nil {
		return domain.Event{}, &LineError{Line: line, Err: err}
	}
	items, ok := v.([]any)
	if !ok || len(items) < 2 {
		return domain.Event{}, &LineError{Line: line, Err: fmt.Errorf("expected [topic, data, timestamp], got %T", v)}
	}
	topic, ok := items[0].(string)
	if !ok || topic == "" {
		return domain.Event{}, &LineError{Line: line, Err: fmt.Errorf("topic is not a string")}
	}
	ev := domain.Event{Topic: topic, Data: items[1]}
	if len(items) > 2 {
		ev.Timestamp, _ = items[2].(string)
	}
	return ev, nil
}

type jsonLine struct {
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp any             `json:"timestamp"`
}

// ParseJSONLine parses a {"topic", "data", "timestamp"} line.
func ParseJSONLine(line string) (domain.Event, error) {
	var raw jsonLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return domain.Event{}, &LineError{Line: line, Err: err}
	}
	if raw.Topic == "" {
		return domain.Event{}, &LineError{Line: line, Err: fmt.Errorf("missing topic")}
	}
	ev := domain.Event{Topic: raw.Topic}
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &ev.Data); err != nil {
			return domain.Event{}, &LineError{Line: line, Err: fmt.Errorf("data: %w", err)}
		}
	}
	ev.Timestamp, _ = raw.Timestamp.(string)
	return ev, nil
}

// FormatLine renders one event in the given line format. The timestamp is
// written in UTC with nanosecond precision.
func FormatLine(format LineFormat, topic string, data any, ts time.Time) (string, error) {
	stamp := ts.UTC().Format(time.RFC3339Nano)
	switch format {
	case FormatLiteral:
		payload, err := MarshalLiteral(data)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		b.WriteByte('[')
		quoteLiteral(&b, topic)
		b.WriteString(", ")
		b.WriteString(payload)
		b.WriteString(", ")
		quoteLiteral(&b, stamp)
		b.WriteByte(']')
		return b.String(), nil
	case FormatJSON:
		out, err := json.Marshal(struct {
			Topic     string `json:"topic"`
			Data      any    `json:"data"`
			Timestamp string `json:"timestamp"`
		}{topic, data, stamp})
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return "", fmt.Errorf("unknown line format %q", format)
}
