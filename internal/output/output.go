// ABOUTME: Output sinks consuming mixed PCM blocks
// ABOUTME: Null and writer sinks for headless runs and tests
package output

import (
	"fmt"
	"io"
	"sync"
)

// NullSink discards blocks and counts them, for headless operation
type NullSink struct {
	mu     sync.Mutex
	blocks uint64
}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) WriteBlock(block []byte) error {
	n.mu.Lock()
	n.blocks++
	n.mu.Unlock()
	return nil
}

// Blocks returns the number of blocks discarded
func (n *NullSink) Blocks() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blocks
}

// WriterSink streams raw PCM blocks to an io.Writer (file, pipe, test
// buffer). Writes are serialized.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteBlock(block []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(block); err != nil {
		return fmt.Errorf("pcm write failed: %w", err)
	}
	return nil
}
