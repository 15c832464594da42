// ABOUTME: Audio source slot: one arena entry in the mixer engine
// ABOUTME: Owns the decode session lifecycle and protocol metadata
package mixer

import (
	"context"
	"sync/atomic"
)

// SlotState is the lifecycle state of one source slot
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotPlaying
	SlotPaused
	SlotStopping
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotPlaying:
		return "playing"
	case SlotPaused:
		return "paused"
	case SlotStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// decodeSession is the decoder side of one playback: the PCM queue and
// the decoder → mixer signal flags. The decoder goroutine holds its own
// reference, so slot teardown and arena reuse can never pull the queue
// out from under a decode in progress; a stale decoder only ever
// touches its own, orphaned session.
type decodeSession struct {
	queue *pcmQueue

	// Set by the decoder goroutine, polled by the mix cycle. No other
	// state crosses that boundary.
	eof       atomic.Bool
	decodeErr atomic.Bool
}

func newDecodeSession() *decodeSession {
	return &decodeSession{queue: newPCMQueue(queueChunks)}
}

// slot is one entry in the engine's fixed source arena. The arena index
// is an internal handle reused immediately on teardown; the queue id is
// the external, reuse-delayed handle. They are never interchangeable.
type slot struct {
	index  int
	active bool
	state  SlotState
	volume int // 0-100
	loop   bool

	// Protocol metadata, fixed at create time
	queueID    uint8
	soundIndex uint16

	session *decodeSession
	cancel  context.CancelFunc
}

// reset returns the slot to Idle for immediate arena reuse. The decode
// session is dropped, not cleared: its decoder may still be running.
func (s *slot) reset() {
	s.active = false
	s.state = SlotIdle
	s.volume = 0
	s.loop = false
	s.queueID = 0
	s.soundIndex = 0
	s.session = nil
	s.cancel = nil
}
