package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// Tailer reads newly appended complete lines from a growing file. It
// implements pipeline.LineSource.
type Tailer struct {
	path   string
	logger *slog.Logger

	mu            sync.Mutex
	offset        int64
	missingLogged bool
}

// NewTailer creates a Tailer positioned at the start of path.
func NewTailer(path string, logger *slog.Logger) *Tailer {
	return &Tailer{path: path, logger: logger}
}

// Offset returns the byte position of the next unread line.
func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// ReadNew returns the complete lines appended since the last call, without
// their newline terminators. A trailing partial line is left for a later call.
// A missing file yields no lines and no error.
func (t *Tailer) ReadNew(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if !t.missingLogged {
				t.logger.Warn("data file not found, waiting for it to appear", "path", t.path)
				t.missingLogged = true
			}
			return nil, nil
		}
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	if t.missingLogged {
		t.logger.Info("data file appeared", "path", t.path)
		t.missingLogged = false
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat data file: %w", err)
	}
	size := info.Size()
	if size < t.offset {
		t.logger.Warn("data file shrank, rereading from start",
			"path", t.path, "offset", t.offset, "size", size)
		t.offset = 0
	}
	if size == t.offset {
		return nil, nil
	}

	buf := make([]byte, size-t.offset)
	n, err := f.ReadAt(buf, t.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	buf = buf[:n]

	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return nil, nil
	}
	complete := buf[:end]
	t.offset += int64(end + 1)

	lines := make([]string, 0, bytes.Count(complete, []byte{'\n'})+1)
	for _, line := range bytes.Split(complete, []byte{'\n'}) {
		lines = append(lines, string(bytes.TrimSuffix(line, []byte{'\r'})))
	}
	return lines, nil
}
