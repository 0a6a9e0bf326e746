package livetiming

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// ErrNoData is returned when a payload cannot be turned into structured data.
var ErrNoData = errors.New("livetiming: payload has no decodable data")

// maxInflatedSize bounds the decompressed size of a single payload.
const maxInflatedSize = 32 << 20

// Decode turns an event payload into structured data. Mappings and sequences
// pass through. Strings are either JSON text or base64-encoded raw DEFLATE
// wrapping JSON, the encoding the feed uses for its high-rate topics.
func Decode(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, ErrNoData
	case string:
		return decodeString(t)
	default:
		return t, nil
	}
}

func decodeString(s string) (any, error) {
	s = stripQuotes(strings.TrimSpace(s))
	if s == "" {
		return nil, ErrNoData
	}

	if s[0] == '{' || s[0] == '[' {
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrNoData, err)
		}
		return out, nil
	}

	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		compressed, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrNoData, err)
		}
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	inflated, err := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrNoData, err)
	}
	if len(inflated) > maxInflatedSize {
		return nil, fmt.Errorf("%w: inflated payload exceeds %d bytes", ErrNoData, maxInflatedSize)
	}

	var out any
	if err := json.Unmarshal(inflated, &out); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrNoData, err)
	}
	return out, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Encode is the inverse of Decode for compressed payloads: JSON, raw
// DEFLATE, then standard base64.
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create deflate writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("deflate payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("flush deflate writer: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
