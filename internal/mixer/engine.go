// ABOUTME: Mixer engine owning the fixed source-slot arena and mix loop
// ABOUTME: Pulls PCM from every active slot, sums, clips once, emits blocks
package mixer

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gametable/soundmodule-go/internal/audio"
	"github.com/gametable/soundmodule-go/internal/protocol"
)

const (
	// DefaultSlots is the default source arena size
	DefaultSlots = 4

	// One mix block is 20ms of output
	BlockFrames   = audio.MixSampleRate / 50
	BlockBytes    = BlockFrames * audio.BytesPerFrame
	BlockDuration = 20 * time.Millisecond

	// queueChunks bounds each slot's pending decoded chunks
	queueChunks = 16

	// finishedBacklog bounds undelivered teardown events
	finishedBacklog = 64
)

// ErrMixerFull is returned by CreateSource when every slot is occupied.
// It is a normal operating condition, not a fault.
var ErrMixerFull = errors.New("all mixer slots occupied")

// Sink receives one fixed-size output block per mix cycle
type Sink interface {
	WriteBlock(block []byte) error
}

// Finished reports a slot teardown to the bridge
type Finished struct {
	SlotIndex  int
	QueueID    uint8
	SoundIndex uint16
	Reason     protocol.FinishReason
}

// SlotInfo is a point-in-time snapshot of one slot for status display
type SlotInfo struct {
	Index      int
	State      SlotState
	Volume     int
	Loop       bool
	QueueID    uint8
	SoundIndex uint16
}

// Engine mixes up to N concurrent sources into one output stream. The
// slot arena is exclusively owned by the engine; decoders communicate
// with the mix cycle only through their own bounded queue.
type Engine struct {
	mu    sync.Mutex
	slots []*slot

	sink         Sink
	masterVolume int
	muted        bool

	finished chan Finished

	stopChan chan struct{}
	stopOnce sync.Once

	// Reused mix-cycle buffers
	accum   []int32
	block   []byte
	readBuf []byte

	// Stats
	blocksMixed uint64
	sinkErrors  uint64
}

// Config holds engine configuration
type Config struct {
	Slots        int
	MasterVolume int
	Sink         Sink
}

// New creates a mixer engine with an idle slot arena
func New(cfg Config) *Engine {
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.MasterVolume <= 0 || cfg.MasterVolume > 100 {
		cfg.MasterVolume = 100
	}

	slots := make([]*slot, cfg.Slots)
	for i := range slots {
		slots[i] = &slot{index: i}
	}

	return &Engine{
		slots:        slots,
		sink:         cfg.Sink,
		masterVolume: cfg.MasterVolume,
		finished:     make(chan Finished, finishedBacklog),
		stopChan:     make(chan struct{}),
		accum:        make([]int32, BlockFrames*audio.MixChannels),
		block:        make([]byte, BlockBytes),
		readBuf:      make([]byte, BlockBytes),
	}
}

// CreateSource claims a free slot with its protocol identity already
// bound and starts its decoder. The slot carries queueID/soundIndex
// from birth so a teardown racing the create still reports the real id.
// Returns the slot index, or ErrMixerFull when all slots are occupied —
// fullness is caller-visible and never resolved by evicting another
// source. Engine-level callers with no bus identity pass queue id 0.
func (e *Engine) CreateSource(desc audio.SourceDescriptor, volume int, loop bool, queueID uint8, soundIndex uint16) (int, error) {
	volume = clampVolume(volume)

	e.mu.Lock()
	defer e.mu.Unlock()

	var s *slot
	for _, cand := range e.slots {
		if !cand.active {
			s = cand
			break
		}
	}
	if s == nil {
		return 0, ErrMixerFull
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := newDecodeSession()

	s.active = true
	s.state = SlotPlaying
	s.volume = volume
	s.loop = loop
	s.queueID = queueID
	s.soundIndex = soundIndex
	s.session = sess
	s.cancel = cancel

	go runDecoder(ctx, desc, loop, sess)

	log.Printf("Mixer: created source %d (%s) vol=%d loop=%v", s.index, desc.Name, volume, loop)

	return s.index, nil
}

// Stop requests teardown of one slot. Idempotent: stopping an unknown
// or already-stopped slot is a no-op success.
func (e *Engine) Stop(slotIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked(slotIndex)
}

func (e *Engine) stopLocked(slotIndex int) bool {
	if slotIndex < 0 || slotIndex >= len(e.slots) {
		return false
	}
	s := e.slots[slotIndex]
	if !s.active || s.state == SlotStopping {
		return false
	}

	s.state = SlotStopping
	s.cancel()
	return true
}

// StopByQueueID stops the slot currently bound to the given queue id.
// Returns false when no active slot carries that id.
func (e *Engine) StopByQueueID(queueID uint8) bool {
	if queueID == protocol.QueueIDInvalid {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.slots {
		if s.active && s.queueID == queueID {
			return e.stopLocked(s.index)
		}
	}
	return false
}

// StopAll stops every active slot and returns the count stopped
func (e *Engine) StopAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, s := range e.slots {
		if e.stopLocked(s.index) {
			count++
		}
	}
	return count
}

// Pause suspends mixing for a playing slot. The slot keeps its queue
// id and decode position. Pausing an inactive slot is a no-op.
func (e *Engine) Pause(slotIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if slotIndex < 0 || slotIndex >= len(e.slots) {
		return
	}
	s := e.slots[slotIndex]
	if s.active && s.state == SlotPlaying {
		s.state = SlotPaused
	}
}

// Resume continues a paused slot from the same decode position
func (e *Engine) Resume(slotIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if slotIndex < 0 || slotIndex >= len(e.slots) {
		return
	}
	s := e.slots[slotIndex]
	if s.active && s.state == SlotPaused {
		s.state = SlotPlaying
	}
}

// PauseByQueueID pauses the slot bound to the given queue id
func (e *Engine) PauseByQueueID(queueID uint8) bool {
	if queueID == protocol.QueueIDInvalid {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.slots {
		if s.active && s.queueID == queueID && s.state == SlotPlaying {
			s.state = SlotPaused
			return true
		}
	}
	return false
}

// ResumeByQueueID resumes the paused slot bound to the given queue id
func (e *Engine) ResumeByQueueID(queueID uint8) bool {
	if queueID == protocol.QueueIDInvalid {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.slots {
		if s.active && s.queueID == queueID && s.state == SlotPaused {
			s.state = SlotPlaying
			return true
		}
	}
	return false
}

// SetVolumeByQueueID changes the volume of the slot bound to the given
// queue id; out-of-range values clamp
func (e *Engine) SetVolumeByQueueID(queueID uint8, volume int) bool {
	if queueID == protocol.QueueIDInvalid {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.slots {
		if s.active && s.queueID == queueID {
			s.volume = clampVolume(volume)
			return true
		}
	}
	return false
}

// SetVolume changes one slot's volume; out-of-range values clamp
func (e *Engine) SetVolume(slotIndex int, volume int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if slotIndex < 0 || slotIndex >= len(e.slots) {
		return
	}
	s := e.slots[slotIndex]
	if s.active {
		s.volume = clampVolume(volume)
	}
}

// ActiveCount returns the number of occupied slots
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, s := range e.slots {
		if s.active {
			count++
		}
	}
	return count
}

// Snapshot returns slot states for status display
func (e *Engine) Snapshot() []SlotInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SlotInfo, 0, len(e.slots))
	for _, s := range e.slots {
		if !s.active {
			continue
		}
		out = append(out, SlotInfo{
			Index:      s.index,
			State:      s.state,
			Volume:     s.volume,
			Loop:       s.loop,
			QueueID:    s.queueID,
			SoundIndex: s.soundIndex,
		})
	}
	return out
}

// SetMasterVolume sets the master volume, clamped to 0-100
func (e *Engine) SetMasterVolume(volume int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.masterVolume = clampVolume(volume)
}

// MasterVolume returns the current master volume
func (e *Engine) MasterVolume() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.masterVolume
}

// SetMuted silences output without touching slot state
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

// Muted reports the mute state
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// Finished returns the teardown event channel consumed by the bridge
func (e *Engine) Finished() <-chan Finished {
	return e.finished
}

// Run drives MixCycle at the fixed block cadence until the context is
// cancelled or Shutdown is called. The cycle always runs on schedule; a
// stalled decoder renders as silence for its source, never as a stall.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(BlockDuration)
	defer ticker.Stop()

	log.Printf("Mixer: engine running (%d slots, %v blocks)", len(e.slots), BlockDuration)

	for {
		select {
		case <-ticker.C:
			e.MixCycle()
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		}
	}
}

// Shutdown stops the mix loop and tears down every slot
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	e.StopAll()
}

// MixCycle runs one mix pass: drain up to one block from every active,
// non-paused slot, scale, sum, clip once after summation, and hand the
// block to the sink. Exported so tests can drive cycles deterministically.
func (e *Engine) MixCycle() {
	e.mu.Lock()

	for i := range e.accum {
		e.accum[i] = 0
	}

	for _, s := range e.slots {
		if !s.active {
			continue
		}

		if s.state == SlotStopping {
			e.teardownLocked(s, protocol.ReasonStoppedByUser)
			continue
		}
		if s.state == SlotPaused {
			continue
		}

		sess := s.session
		n := sess.queue.read(e.readBuf)

		// Scale by slot volume x master volume, accumulate
		gain := s.volume * e.masterVolume
		for j := 0; j+1 < n; j += 2 {
			sample := int32(int16(binary.LittleEndian.Uint16(e.readBuf[j:])))
			e.accum[j/2] += sample * int32(gain) / 10000
		}

		if sess.decodeErr.Load() {
			e.teardownLocked(s, protocol.ReasonError)
			continue
		}
		if sess.eof.Load() && sess.queue.empty() {
			e.teardownLocked(s, protocol.ReasonCompleted)
		}
	}

	// Clip exactly once, after summation
	muted := e.muted
	for i, v := range e.accum {
		if muted {
			v = 0
		} else if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(e.block[i*2:], uint16(int16(v)))
	}

	sink := e.sink
	e.blocksMixed++
	e.mu.Unlock()

	// The block is always written, silence included, so the output
	// transport sees a continuous stream
	if sink != nil {
		if err := sink.WriteBlock(e.block); err != nil {
			e.mu.Lock()
			e.sinkErrors++
			e.mu.Unlock()
			log.Printf("Mixer: sink write failed: %v", err)
		}
	}
}

// teardownLocked releases a slot and reports the death to the bridge
func (e *Engine) teardownLocked(s *slot, reason protocol.FinishReason) {
	s.cancel()

	ev := Finished{
		SlotIndex:  s.index,
		QueueID:    s.queueID,
		SoundIndex: s.soundIndex,
		Reason:     reason,
	}

	log.Printf("Mixer: source %d finished (%s)", s.index, reason)
	s.reset()

	// Never let a slow bridge stall the mix cycle. A full backlog
	// hands delivery to a goroutine instead of dropping the event:
	// a lost event would strand the queue id forever.
	select {
	case e.finished <- ev:
	default:
		log.Printf("Mixer: finished backlog full, deferring event for queue id %d", ev.QueueID)
		go func() {
			select {
			case e.finished <- ev:
			case <-time.After(30 * time.Second):
				log.Printf("Mixer: finished event for queue id %d undeliverable, dropped", ev.QueueID)
			}
		}()
	}
}

// Stats returns blocks mixed and sink errors since start
func (e *Engine) Stats() (blocks, sinkErrors uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocksMixed, e.sinkErrors
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
