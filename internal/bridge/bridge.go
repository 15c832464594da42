// ABOUTME: Bridge translating bus commands into mixer operations
// ABOUTME: Owns queue ids, acknowledgments and finish notifications
package bridge

import (
	"context"
	"log"
	"sync"

	"github.com/gametable/soundmodule-go/internal/mixer"
	"github.com/gametable/soundmodule-go/internal/protocol"
	"github.com/gametable/soundmodule-go/internal/registry"
)

// Emitter delivers outbound protocol messages. The bus link implements
// it over websocket; tests implement it with a recorder.
type Emitter interface {
	EmitPlayAck(protocol.PlayAck)
	EmitStopAck(protocol.StopAck)
	EmitFinished(protocol.SoundFinished)
}

// liveSound tracks one playing instance keyed by queue id
type liveSound struct {
	soundIndex uint16
	// explicitStop suppresses the SoundFinished that follows a
	// targeted stop: the StopAck already told the controller.
	explicitStop bool
}

// Bridge maps the command protocol onto the mixer engine. Handlers
// never block on decode or storage I/O: a Play is acknowledged as soon
// as the slot is claimed, and faults discovered later arrive as
// SoundFinished events.
type Bridge struct {
	engine  *mixer.Engine
	reg     *registry.Registry
	ids     *QueueIDAllocator
	emitter Emitter

	mu        sync.Mutex
	live      map[uint8]*liveSound
	lastError protocol.ErrorCode
}

// New creates a bridge over the given engine and registry. A nil
// emitter runs the bridge silently; AttachEmitter wires one in later.
func New(engine *mixer.Engine, reg *registry.Registry, emitter Emitter) *Bridge {
	return &Bridge{
		engine:  engine,
		reg:     reg,
		ids:     NewQueueIDAllocator(DefaultReuseDelay),
		emitter: emitter,
		live:    make(map[uint8]*liveSound),
	}
}

// AttachEmitter sets the outbound message sink. Must be called before
// command handling starts; the bus link is constructed after the
// bridge, so wiring happens in two steps.
func (b *Bridge) AttachEmitter(e Emitter) {
	b.emitter = e
}

// HandlePlay processes a PlaySound request and emits (and returns) the
// acknowledgment. On success the returned ack carries the issued queue id.
func (b *Bridge) HandlePlay(req protocol.PlaySound) protocol.PlayAck {
	ack := protocol.PlayAck{
		SoundIndex:    req.SoundIndex,
		QueueID:       protocol.QueueIDInvalid,
		CorrelationID: req.CorrelationID,
	}

	if req.SoundIndex == protocol.SoundIndexNone {
		ack.ErrorCode = protocol.ErrInvalidIndex
		return b.finishPlay(ack)
	}

	entry, err := b.reg.Lookup(req.SoundIndex)
	if err != nil {
		ack.ErrorCode = protocol.ErrNotFound
		return b.finishPlay(ack)
	}

	volume := int(req.Volume)
	if req.Volume == protocol.VolumeUseDefault {
		volume = entry.DefaultVolume
	}

	if req.Interrupt() {
		b.stopAllMarked()
	}

	// The queue id is issued and registered before the slot exists, so
	// the instance is addressable from its very first mix cycle: even a
	// source that hits EOF immediately tears down under its real id and
	// gets reported and released like any other.
	queueID, ok := b.ids.Allocate()
	if !ok {
		// Id space exhausted; treat like fullness.
		ack.ErrorCode = protocol.ErrMixerFull
		return b.finishPlay(ack)
	}

	b.mu.Lock()
	b.live[queueID] = &liveSound{soundIndex: req.SoundIndex}
	b.mu.Unlock()

	if _, err := b.engine.CreateSource(entry.Descriptor(), volume, req.Loop(), queueID, req.SoundIndex); err != nil {
		b.mu.Lock()
		delete(b.live, queueID)
		b.mu.Unlock()
		b.ids.Release(queueID)
		ack.ErrorCode = protocol.ErrMixerFull
		return b.finishPlay(ack)
	}

	ack.OK = true
	ack.QueueID = queueID
	ack.ErrorCode = protocol.ErrNone
	return b.finishPlay(ack)
}

func (b *Bridge) finishPlay(ack protocol.PlayAck) protocol.PlayAck {
	if !ack.OK {
		b.mu.Lock()
		b.lastError = ack.ErrorCode
		b.mu.Unlock()
		log.Printf("Bridge: play sound %d rejected: %s", ack.SoundIndex, ack.ErrorCode)
	}
	if b.emitter != nil {
		b.emitter.EmitPlayAck(ack)
	}
	return ack
}

// HandleStop processes a StopSound request. A live queue id gets a
// positive ack and its eventual teardown is silent; an unknown or stale
// id gets a negative ack and nothing else.
func (b *Bridge) HandleStop(req protocol.StopSound) protocol.StopAck {
	ack := protocol.StopAck{QueueID: req.QueueID}

	b.mu.Lock()
	ls, known := b.live[req.QueueID]
	if known {
		ls.explicitStop = true
	} else {
		b.lastError = protocol.ErrUnknownQueueID
	}
	b.mu.Unlock()

	if known {
		b.engine.StopByQueueID(req.QueueID)
		ack.OK = true
	} else {
		log.Printf("Bridge: stop for unknown queue id %d", req.QueueID)
	}

	if b.emitter != nil {
		b.emitter.EmitStopAck(ack)
	}
	return ack
}

// HandleStopAll stops every active sound and returns the count stopped.
// Each stopped instance still reports its own SoundFinished; StopAll
// itself is not acknowledged.
func (b *Bridge) HandleStopAll() int {
	count := b.engine.StopAll()
	log.Printf("Bridge: stop-all stopped %d sources", count)
	return count
}

// stopAllMarked is stopAll on behalf of an interrupting play. The
// displaced sounds report SoundFinished(stopped) like any StopAll.
func (b *Bridge) stopAllMarked() {
	if n := b.engine.StopAll(); n > 0 {
		log.Printf("Bridge: interrupt displaced %d sources", n)
	}
}

// PauseByQueueID pauses one live sound (console operation)
func (b *Bridge) PauseByQueueID(queueID uint8) bool {
	return b.engine.PauseByQueueID(queueID)
}

// ResumeByQueueID resumes one paused sound (console operation)
func (b *Bridge) ResumeByQueueID(queueID uint8) bool {
	return b.engine.ResumeByQueueID(queueID)
}

// SetVolumeByQueueID changes one live sound's volume (console operation)
func (b *Bridge) SetVolumeByQueueID(queueID uint8, volume int) bool {
	return b.engine.SetVolumeByQueueID(queueID, volume)
}

// Status composes the periodic module state report
func (b *Bridge) Status() protocol.Status {
	snapshot := b.engine.Snapshot()

	b.mu.Lock()
	lastError := b.lastError
	b.mu.Unlock()

	var bits uint8 = protocol.StatusReady
	if b.reg.Mounted() {
		bits |= protocol.StatusMounted
	}
	if len(snapshot) > 0 {
		bits |= protocol.StatusPlaying
	}
	if b.engine.Muted() {
		bits |= protocol.StatusMuted
	}
	if lastError != protocol.ErrNone {
		bits |= protocol.StatusError
	}

	current := uint16(protocol.SoundIndexNone)
	if len(snapshot) > 0 {
		current = snapshot[0].SoundIndex
	}

	return protocol.Status{
		StateBits:         bits,
		CurrentSoundIndex: current,
		ErrorCode:         lastError,
		Volume:            uint8(b.engine.MasterVolume()),
		ActiveSourceCount: len(snapshot),
	}
}

// Run pumps engine teardown events: releases queue ids and emits
// SoundFinished, except for instances ended by a targeted stop.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.engine.Finished():
			if !ok {
				return
			}
			b.handleFinished(ev)
		}
	}
}

func (b *Bridge) handleFinished(ev mixer.Finished) {
	b.mu.Lock()
	ls, known := b.live[ev.QueueID]
	delete(b.live, ev.QueueID)
	if ev.Reason == protocol.ReasonError {
		b.lastError = protocol.ErrStorage
	}
	b.mu.Unlock()

	b.ids.Release(ev.QueueID)

	if !known {
		// Slot never got a queue id (engine-level callers) or the id
		// was already reaped; nothing to report upstream.
		return
	}

	if ev.Reason == protocol.ReasonStoppedByUser && ls.explicitStop {
		return
	}

	if b.emitter != nil {
		b.emitter.EmitFinished(protocol.SoundFinished{
			QueueID:    ev.QueueID,
			SoundIndex: ls.soundIndex,
			Reason:     ev.Reason,
		})
	}
}

// LiveCount returns how many queue ids are currently bound
func (b *Bridge) LiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}
