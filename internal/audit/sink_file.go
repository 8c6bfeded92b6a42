package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends events to a JSON Lines file readable only by its owner.
type FileSink struct {
	path string

	mu     sync.Mutex
	f      *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
}

// NewFileSink creates path (and its directory) if needed and opens it for
// appending.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("audit file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &FileSink{path: path, f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *FileSink) Name() string { return "file_jsonl:" + s.path }

// Deliver appends ev as one line. The line is flushed before returning so a
// crash loses at most the event being written.
func (s *FileSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit file %s is closed", s.path)
	}
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return s.buf.Flush()
}

// Close flushes and syncs before closing. Later calls return nil.
func (s *FileSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.buf.Flush(), s.f.Sync(), s.f.Close())
}
