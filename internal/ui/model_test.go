// ABOUTME: Tests for the console model
// ABOUTME: Covers command parsing and rendering against a stub commander
package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gametable/soundmodule-go/internal/mixer"
	"github.com/gametable/soundmodule-go/internal/protocol"
	"github.com/gametable/soundmodule-go/internal/registry"
)

type stubCommander struct {
	lastPlay protocol.PlaySound
	lastStop uint8
	stopAlls int
	volume   int
	muted    bool
	playOK   bool
	stopOK   bool
}

func (s *stubCommander) Play(index uint16, volume uint8, loop bool) protocol.PlayAck {
	s.lastPlay = protocol.PlaySound{SoundIndex: index, Volume: volume}
	if loop {
		s.lastPlay.Flags |= protocol.FlagLoop
	}
	if !s.playOK {
		return protocol.PlayAck{ErrorCode: protocol.ErrNotFound, SoundIndex: index}
	}
	return protocol.PlayAck{OK: true, SoundIndex: index, QueueID: 3}
}

func (s *stubCommander) Stop(queueID uint8) protocol.StopAck {
	s.lastStop = queueID
	return protocol.StopAck{QueueID: queueID, OK: s.stopOK}
}

func (s *stubCommander) StopAll() int {
	s.stopAlls++
	return 2
}

func (s *stubCommander) Pause(uint8) bool  { return true }
func (s *stubCommander) Resume(uint8) bool { return true }

func (s *stubCommander) SetVolume(queueID uint8, v int) bool {
	s.lastStop = queueID
	s.volume = v
	return true
}

func (s *stubCommander) SetMasterVolume(v int) { s.volume = v }

func (s *stubCommander) ToggleMute() bool {
	s.muted = !s.muted
	return s.muted
}

func (s *stubCommander) Status() protocol.Status {
	return protocol.Status{
		StateBits:         protocol.StatusReady,
		CurrentSoundIndex: protocol.SoundIndexNone,
		Volume:            uint8(s.volume),
	}
}

func (s *stubCommander) Slots() []mixer.SlotInfo { return nil }

func (s *stubCommander) Sounds() []*registry.Entry {
	return []*registry.Entry{{Index: 1, Name: "click"}}
}

func TestExecutePlay(t *testing.T) {
	c := &stubCommander{playOK: true}
	m := NewModel("test", c)

	out := m.execute("play 42 70 loop")
	if !strings.Contains(out, "queue id 3") {
		t.Errorf("play output = %q", out)
	}
	if c.lastPlay.SoundIndex != 42 || c.lastPlay.Volume != 70 || !c.lastPlay.Loop() {
		t.Errorf("dispatched play = %+v", c.lastPlay)
	}
}

func TestExecutePlayDefaultsVolume(t *testing.T) {
	c := &stubCommander{playOK: true}
	m := NewModel("test", c)

	m.execute("play 5")
	if c.lastPlay.Volume != protocol.VolumeUseDefault {
		t.Errorf("volume = %d, want the use-default marker", c.lastPlay.Volume)
	}
}

func TestExecutePlayRejection(t *testing.T) {
	c := &stubCommander{playOK: false}
	m := NewModel("test", c)

	out := m.execute("play 42")
	if !strings.Contains(out, "rejected") || !strings.Contains(out, "not-found") {
		t.Errorf("rejection output = %q", out)
	}
}

func TestExecuteStopAndStopAll(t *testing.T) {
	c := &stubCommander{stopOK: true}
	m := NewModel("test", c)

	out := m.execute("stop 9")
	if c.lastStop != 9 || !strings.Contains(out, "stopped") {
		t.Errorf("stop output = %q, dispatched id %d", out, c.lastStop)
	}

	out = m.execute("stopall")
	if c.stopAlls != 1 || !strings.Contains(out, "2") {
		t.Errorf("stopall output = %q", out)
	}
}

func TestExecuteVolumeAndMute(t *testing.T) {
	c := &stubCommander{}
	m := NewModel("test", c)

	m.execute("vol 35")
	if c.volume != 35 {
		t.Errorf("volume = %d, want 35", c.volume)
	}

	m.execute("svol 4 60")
	if c.lastStop != 4 || c.volume != 60 {
		t.Errorf("per-source volume: qid=%d vol=%d, want 4/60", c.lastStop, c.volume)
	}

	if out := m.execute("mute"); out != "muted" {
		t.Errorf("mute output = %q", out)
	}
	if out := m.execute("mute"); out != "unmuted" {
		t.Errorf("second mute output = %q", out)
	}
}

func TestExecuteBadInput(t *testing.T) {
	c := &stubCommander{}
	m := NewModel("test", c)

	for _, line := range []string{"play", "play x", "stop", "stop x", "vol", "vol x", "frobnicate"} {
		if out := m.execute(line); out == "" {
			t.Errorf("execute(%q) produced no feedback", line)
		}
	}
}

func TestViewRendersAfterResize(t *testing.T) {
	c := &stubCommander{}
	m := NewModel("test", c)

	if v := m.View(); v != "Loading..." {
		t.Errorf("pre-resize view = %q", v)
	}

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = updated.(Model)

	v := m.View()
	if !strings.Contains(v, "test") {
		t.Errorf("view missing module name:\n%s", v)
	}
	if !strings.Contains(v, "No active sources") {
		t.Errorf("idle view missing empty-slot line:\n%s", v)
	}
}
