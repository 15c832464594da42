// ABOUTME: Bounded per-slot PCM queue between decoder and mix loop
// ABOUTME: Written only by the slot's decoder, read only by the mix cycle
package mixer

import (
	"context"
	"time"
)

// pcmQueue is the single communication channel between one decoder and
// the mix loop. Fullness is backpressure, emptiness is silence; neither
// is an error.
type pcmQueue struct {
	chunks chan []byte

	// leftover holds the unread tail of a partially consumed chunk.
	// Touched only by the reader (the mix cycle).
	leftover []byte
}

// newPCMQueue creates a queue holding up to capChunks pending chunks
func newPCMQueue(capChunks int) *pcmQueue {
	return &pcmQueue{
		chunks: make(chan []byte, capChunks),
	}
}

// push enqueues one chunk, waiting up to timeout when the queue is
// full. Returns false if the context was cancelled or the wait timed
// out; the caller decides whether to retry.
func (q *pcmQueue) push(ctx context.Context, chunk []byte, timeout time.Duration) bool {
	if len(chunk) == 0 {
		return true
	}

	select {
	case q.chunks <- chunk:
		return true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case q.chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	case <-t.C:
		return false
	}
}

// read fills dst with pending PCM without blocking and returns the
// number of bytes written. An empty queue yields 0 (silence).
func (q *pcmQueue) read(dst []byte) int {
	n := 0

	if len(q.leftover) > 0 {
		n = copy(dst, q.leftover)
		q.leftover = q.leftover[n:]
	}

	for n < len(dst) {
		select {
		case chunk := <-q.chunks:
			c := copy(dst[n:], chunk)
			n += c
			if c < len(chunk) {
				q.leftover = chunk[c:]
			}
		default:
			return n
		}
	}

	return n
}

// empty reports whether no PCM is pending
func (q *pcmQueue) empty() bool {
	return len(q.leftover) == 0 && len(q.chunks) == 0
}
