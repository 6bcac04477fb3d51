package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"confload/pkg/errors"
)

// JSONLSink streams one JSON record per line to a file. Opening the
// file happens at construction so an unwritable output path fails the
// run before any user starts.
type JSONLSink struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
}

// NewJSONLSink creates or truncates the output file.
func NewJSONLSink(path string) (*JSONLSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.NewStatsSinkError(
			fmt.Sprintf("cannot open stats output %s", path), err)
	}

	buf := bufio.NewWriter(file)
	return &JSONLSink{
		file: file,
		buf:  buf,
		enc:  json.NewEncoder(buf),
	}, nil
}

// Write appends one record as a JSON line.
func (s *JSONLSink) Write(record interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStatsSinkError("write to closed sink", nil)
	}
	if err := s.enc.Encode(record); err != nil {
		return errors.NewStatsSinkError("encode stats record", err)
	}
	return nil
}

// Close flushes the buffer and releases the file. Idempotent.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return errors.NewStatsSinkError("flush stats output", flushErr)
	}
	if closeErr != nil {
		return errors.NewStatsSinkError("close stats output", closeErr)
	}
	return nil
}
