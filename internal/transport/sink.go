package transport

import (
	"fmt"
	"io"
)

// BoundedSink wraps a destination writer and accepts up to length bytes,
// writing them through in order. Once length bytes are accepted it
// reports done=true so the Adapter can cancel the upstream transfer; any
// bytes offered in that same call beyond length are discarded.
type BoundedSink struct {
	w       io.Writer
	length  int64
	written int64
}

// NewBoundedSink creates a Sink that accepts exactly length bytes into w.
func NewBoundedSink(w io.Writer, length int64) *BoundedSink {
	return &BoundedSink{w: w, length: length}
}

// Written returns the number of bytes accepted so far.
func (s *BoundedSink) Written() int64 {
	return s.written
}

// Write accepts up to length-written bytes of p. The returned n reports
// how much of p was consumed by this sink, which may be less than len(p)
// once the bound is reached — the caller must not retry the remainder,
// it signals the Adapter to stop the transfer instead.
func (s *BoundedSink) Write(p []byte) (int, bool, error) {
	remaining := s.length - s.written
	if remaining <= 0 {
		return 0, true, nil
	}

	chunk := p
	if int64(len(chunk)) > remaining {
		chunk = chunk[:remaining]
	}

	n, err := s.w.Write(chunk)
	s.written += int64(n)
	if err != nil {
		return n, false, fmt.Errorf("transport: bounded sink write: %w", err)
	}

	return n, s.written >= s.length, nil
}
