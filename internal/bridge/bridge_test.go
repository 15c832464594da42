// ABOUTME: Tests for the command bridge
// ABOUTME: Covers acknowledgments, queue id lifecycle and finish notifications
package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gametable/soundmodule-go/internal/mixer"
	"github.com/gametable/soundmodule-go/internal/protocol"
	"github.com/gametable/soundmodule-go/internal/registry"
)

// recorder captures emitted messages for assertions
type recorder struct {
	mu       sync.Mutex
	playAcks []protocol.PlayAck
	stopAcks []protocol.StopAck
	finished []protocol.SoundFinished
}

func (r *recorder) EmitPlayAck(a protocol.PlayAck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playAcks = append(r.playAcks, a)
}

func (r *recorder) EmitStopAck(a protocol.StopAck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAcks = append(r.stopAcks, a)
}

func (r *recorder) EmitFinished(f protocol.SoundFinished) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, f)
}

func (r *recorder) findFinished(queueID uint8) (protocol.SoundFinished, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.finished {
		if f.QueueID == queueID {
			return f, true
		}
	}
	return protocol.SoundFinished{}, false
}

func (r *recorder) finishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finished)
}

type nullSink struct{}

func (nullSink) WriteBlock([]byte) error { return nil }

// newTestBridge wires an engine on builtin tones with a recorder and
// starts the finished-event pump
func newTestBridge(t *testing.T, slots int) (*Bridge, *mixer.Engine, *recorder) {
	t.Helper()

	engine := mixer.New(mixer.Config{Slots: slots, Sink: nullSink{}})
	rec := &recorder{}
	br := New(engine, registry.Load(""), rec)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go br.Run(ctx)

	return br, engine, rec
}

// cycleUntil drives mix cycles until cond holds or the deadline passes
func cycleUntil(t *testing.T, e *mixer.Engine, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		e.MixCycle()
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPlayAcceptedAndAcknowledged(t *testing.T) {
	br, engine, _ := newTestBridge(t, 2)

	ack := br.HandlePlay(protocol.PlaySound{
		SoundIndex:    registry.ToneIndex440,
		Volume:        protocol.VolumeUseDefault,
		CorrelationID: 321,
	})

	if !ack.OK {
		t.Fatalf("play rejected: %s", ack.ErrorCode)
	}
	if ack.QueueID == protocol.QueueIDInvalid {
		t.Error("successful play must carry a non-zero queue id")
	}
	if ack.CorrelationID != 321 {
		t.Errorf("correlation id = %d, want 321", ack.CorrelationID)
	}
	if ack.SoundIndex != registry.ToneIndex440 {
		t.Errorf("ack sound index = %d, want %d", ack.SoundIndex, registry.ToneIndex440)
	}
	if engine.ActiveCount() != 1 {
		t.Errorf("active count = %d after accepted play, want 1", engine.ActiveCount())
	}
	if br.LiveCount() != 1 {
		t.Errorf("live count = %d, want 1", br.LiveCount())
	}
}

func TestCompletionEmitsFinishedAndReleasesID(t *testing.T) {
	br, engine, rec := newTestBridge(t, 2)

	ack := br.HandlePlay(protocol.PlaySound{SoundIndex: registry.ToneIndex440, Volume: 50})
	if !ack.OK {
		t.Fatalf("play rejected: %s", ack.ErrorCode)
	}

	cycleUntil(t, engine, "completion notification", func() bool {
		_, ok := rec.findFinished(ack.QueueID)
		return ok
	})

	fin, _ := rec.findFinished(ack.QueueID)
	if fin.Reason != protocol.ReasonCompleted {
		t.Errorf("finish reason = %s, want completed", fin.Reason)
	}
	if fin.SoundIndex != registry.ToneIndex440 {
		t.Errorf("finish sound index = %d, want %d", fin.SoundIndex, registry.ToneIndex440)
	}
	if br.LiveCount() != 0 {
		t.Errorf("live count = %d after completion, want 0", br.LiveCount())
	}
	if br.ids.InUse(ack.QueueID) {
		t.Error("queue id still marked in use after completion")
	}
}

func TestUnknownSoundIndexRejected(t *testing.T) {
	br, engine, _ := newTestBridge(t, 2)

	ack := br.HandlePlay(protocol.PlaySound{SoundIndex: 500, Volume: 80})

	if ack.OK {
		t.Fatal("play of an unregistered index should be rejected")
	}
	if ack.ErrorCode != protocol.ErrNotFound {
		t.Errorf("error code = %s, want not-found", ack.ErrorCode)
	}
	if ack.QueueID != protocol.QueueIDInvalid {
		t.Errorf("rejected play carries queue id %d, want 0", ack.QueueID)
	}
	if engine.ActiveCount() != 0 {
		t.Error("rejected play must not claim a slot")
	}
}

func TestReservedIndexRejected(t *testing.T) {
	br, _, _ := newTestBridge(t, 2)

	ack := br.HandlePlay(protocol.PlaySound{SoundIndex: protocol.SoundIndexNone})
	if ack.OK || ack.ErrorCode != protocol.ErrInvalidIndex {
		t.Errorf("ack = %+v, want invalid-index rejection", ack)
	}
}

func TestMixerFullRejectionKeepsPlaying(t *testing.T) {
	br, engine, _ := newTestBridge(t, 1)

	first := br.HandlePlay(protocol.PlaySound{
		SoundIndex: registry.ToneIndex220,
		Flags:      protocol.FlagLoop,
		Volume:     80,
	})
	if !first.OK {
		t.Fatalf("first play rejected: %s", first.ErrorCode)
	}

	second := br.HandlePlay(protocol.PlaySound{SoundIndex: registry.ToneIndex440, Volume: 80})
	if second.OK {
		t.Fatal("play into a full mixer should be rejected")
	}
	if second.ErrorCode != protocol.ErrMixerFull {
		t.Errorf("error code = %s, want mixer-full", second.ErrorCode)
	}
	if second.QueueID != protocol.QueueIDInvalid {
		t.Errorf("rejected play carries queue id %d, want 0", second.QueueID)
	}
	if engine.ActiveCount() != 1 {
		t.Error("fullness must never evict the playing source")
	}
	if br.LiveCount() != 1 {
		t.Errorf("live count = %d after rejection, want 1", br.LiveCount())
	}
}

func TestPlayIdentityBoundBeforePlayback(t *testing.T) {
	br, engine, rec := newTestBridge(t, 2)

	// Cycle continuously so completion can race each play call. Even a
	// sound that finishes immediately must be reported under the queue
	// id its ack carried, and the id must come back to the pool.
	stop := make(chan struct{})
	cycleDone := make(chan struct{})
	go func() {
		defer close(cycleDone)
		for {
			select {
			case <-stop:
				return
			default:
				engine.MixCycle()
			}
		}
	}()
	defer func() {
		close(stop)
		<-cycleDone
	}()

	for i := 0; i < 5; i++ {
		ack := br.HandlePlay(protocol.PlaySound{SoundIndex: registry.ToneIndex440, Volume: 50})
		if !ack.OK {
			t.Fatalf("play %d rejected: %s", i, ack.ErrorCode)
		}

		deadline := time.After(3 * time.Second)
		for {
			if fin, ok := rec.findFinished(ack.QueueID); ok {
				if fin.Reason != protocol.ReasonCompleted {
					t.Fatalf("finish reason = %s, want completed", fin.Reason)
				}
				break
			}
			select {
			case <-deadline:
				t.Fatalf("no SoundFinished under queue id %d", ack.QueueID)
			case <-time.After(time.Millisecond):
			}
		}

		if br.ids.InUse(ack.QueueID) {
			t.Errorf("queue id %d still marked in use after completion", ack.QueueID)
		}
	}

	if br.LiveCount() != 0 {
		t.Errorf("live count = %d after all completions, want 0", br.LiveCount())
	}
}

func TestDefaultVolumeResolved(t *testing.T) {
	br, engine, _ := newTestBridge(t, 2)

	ack := br.HandlePlay(protocol.PlaySound{
		SoundIndex: registry.ToneIndex440,
		Flags:      protocol.FlagLoop,
		Volume:     protocol.VolumeUseDefault,
	})
	if !ack.OK {
		t.Fatalf("play rejected: %s", ack.ErrorCode)
	}

	snap := engine.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d slots, want 1", len(snap))
	}
	if snap[0].Volume != registry.DefaultVolume {
		t.Errorf("slot volume = %d, want registry default %d", snap[0].Volume, registry.DefaultVolume)
	}
}

func TestExplicitStopAckedButNotNotified(t *testing.T) {
	br, engine, rec := newTestBridge(t, 2)

	ack := br.HandlePlay(protocol.PlaySound{
		SoundIndex: registry.ToneIndex880,
		Flags:      protocol.FlagLoop,
		Volume:     80,
	})
	if !ack.OK {
		t.Fatalf("play rejected: %s", ack.ErrorCode)
	}

	stopAck := br.HandleStop(protocol.StopSound{QueueID: ack.QueueID})
	if !stopAck.OK {
		t.Fatal("stop of a live queue id should be acknowledged positively")
	}

	cycleUntil(t, engine, "slot teardown", func() bool {
		return engine.ActiveCount() == 0
	})

	// Give the pump time to mishandle the event if it were going to
	time.Sleep(50 * time.Millisecond)

	if _, found := rec.findFinished(ack.QueueID); found {
		t.Error("explicitly stopped sound must not also report SoundFinished")
	}
	if br.LiveCount() != 0 {
		t.Errorf("live count = %d after stop, want 0", br.LiveCount())
	}
}

func TestStopUnknownQueueIDNacked(t *testing.T) {
	br, engine, _ := newTestBridge(t, 2)

	playing := br.HandlePlay(protocol.PlaySound{
		SoundIndex: registry.ToneIndex220,
		Flags:      protocol.FlagLoop,
		Volume:     80,
	})
	if !playing.OK {
		t.Fatalf("play rejected: %s", playing.ErrorCode)
	}

	stopAck := br.HandleStop(protocol.StopSound{QueueID: 200})
	if stopAck.OK {
		t.Error("stop of an unknown queue id must be nacked")
	}
	if stopAck.QueueID != 200 {
		t.Errorf("nack echoes queue id %d, want 200", stopAck.QueueID)
	}

	engine.MixCycle()
	if engine.ActiveCount() != 1 {
		t.Error("unknown-id stop must not disturb playing sources")
	}
}

func TestStopAllNotifiesEachInstance(t *testing.T) {
	br, engine, rec := newTestBridge(t, 4)

	var ids []uint8
	for i := 0; i < 3; i++ {
		ack := br.HandlePlay(protocol.PlaySound{
			SoundIndex: registry.ToneIndex220,
			Flags:      protocol.FlagLoop,
			Volume:     80,
		})
		if !ack.OK {
			t.Fatalf("play %d rejected: %s", i, ack.ErrorCode)
		}
		ids = append(ids, ack.QueueID)
	}

	if n := br.HandleStopAll(); n != 3 {
		t.Errorf("stop-all stopped %d, want 3", n)
	}

	cycleUntil(t, engine, "stop-all notifications", func() bool {
		return rec.finishedCount() >= 3
	})

	for _, id := range ids {
		fin, found := rec.findFinished(id)
		if !found {
			t.Errorf("no SoundFinished for queue id %d", id)
			continue
		}
		if fin.Reason != protocol.ReasonStoppedByUser {
			t.Errorf("queue id %d finish reason = %s, want stopped", id, fin.Reason)
		}
	}
}

func TestInterruptDisplacesCurrentSounds(t *testing.T) {
	br, engine, rec := newTestBridge(t, 2)

	old := br.HandlePlay(protocol.PlaySound{
		SoundIndex: registry.ToneIndex220,
		Flags:      protocol.FlagLoop,
		Volume:     80,
	})
	if !old.OK {
		t.Fatalf("play rejected: %s", old.ErrorCode)
	}

	urgent := br.HandlePlay(protocol.PlaySound{
		SoundIndex: registry.ToneIndex440,
		Flags:      protocol.FlagInterrupt | protocol.FlagLoop,
		Volume:     80,
	})
	if !urgent.OK {
		t.Fatalf("interrupt play rejected: %s", urgent.ErrorCode)
	}

	cycleUntil(t, engine, "displacement notification", func() bool {
		_, ok := rec.findFinished(old.QueueID)
		return ok
	})

	fin, _ := rec.findFinished(old.QueueID)
	if fin.Reason != protocol.ReasonStoppedByUser {
		t.Errorf("displaced finish reason = %s, want stopped", fin.Reason)
	}

	found := false
	for _, s := range engine.Snapshot() {
		if s.QueueID == urgent.QueueID {
			found = true
		}
	}
	if !found {
		t.Error("interrupting sound should be playing")
	}
}

func TestStatusComposition(t *testing.T) {
	br, engine, _ := newTestBridge(t, 2)

	st := br.Status()
	if st.StateBits&protocol.StatusReady == 0 {
		t.Error("ready bit should always be set")
	}
	if st.StateBits&protocol.StatusMounted != 0 {
		t.Error("mounted bit set without an asset directory")
	}
	if st.CurrentSoundIndex != protocol.SoundIndexNone {
		t.Errorf("idle current index = %d, want 0x%X", st.CurrentSoundIndex, protocol.SoundIndexNone)
	}
	if st.ActiveSourceCount != 0 {
		t.Errorf("idle active count = %d", st.ActiveSourceCount)
	}

	ack := br.HandlePlay(protocol.PlaySound{
		SoundIndex: registry.ToneIndex880,
		Flags:      protocol.FlagLoop,
		Volume:     80,
	})
	if !ack.OK {
		t.Fatalf("play rejected: %s", ack.ErrorCode)
	}

	st = br.Status()
	if st.StateBits&protocol.StatusPlaying == 0 {
		t.Error("playing bit should be set with an active source")
	}
	if st.CurrentSoundIndex != registry.ToneIndex880 {
		t.Errorf("current index = %d, want %d", st.CurrentSoundIndex, registry.ToneIndex880)
	}
	if st.ActiveSourceCount != 1 {
		t.Errorf("active count = %d, want 1", st.ActiveSourceCount)
	}

	engine.SetMuted(true)
	if st := br.Status(); st.StateBits&protocol.StatusMuted == 0 {
		t.Error("muted bit should follow engine mute state")
	}

	br.HandlePlay(protocol.PlaySound{SoundIndex: 500})
	st = br.Status()
	if st.StateBits&protocol.StatusError == 0 {
		t.Error("error bit should be set after a rejection")
	}
	if st.ErrorCode != protocol.ErrNotFound {
		t.Errorf("status error code = %s, want not-found", st.ErrorCode)
	}
}

func TestPauseAndResumeByQueueID(t *testing.T) {
	br, engine, _ := newTestBridge(t, 2)

	ack := br.HandlePlay(protocol.PlaySound{
		SoundIndex: registry.ToneIndex220,
		Flags:      protocol.FlagLoop,
		Volume:     80,
	})
	if !ack.OK {
		t.Fatalf("play rejected: %s", ack.ErrorCode)
	}

	if !br.PauseByQueueID(ack.QueueID) {
		t.Fatal("pause of a playing queue id should succeed")
	}
	if br.PauseByQueueID(ack.QueueID) {
		t.Error("pausing twice should report false")
	}

	snap := engine.Snapshot()
	if len(snap) != 1 || snap[0].State != mixer.SlotPaused {
		t.Fatalf("snapshot = %+v, want one paused slot", snap)
	}

	if !br.ResumeByQueueID(ack.QueueID) {
		t.Fatal("resume of a paused queue id should succeed")
	}
	if br.ResumeByQueueID(ack.QueueID) {
		t.Error("resuming twice should report false")
	}
}
