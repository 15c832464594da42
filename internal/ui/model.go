// ABOUTME: Bubbletea model for the sound module console
// ABOUTME: Renders mixer status and executes typed commands
package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gametable/soundmodule-go/internal/mixer"
	"github.com/gametable/soundmodule-go/internal/protocol"
	"github.com/gametable/soundmodule-go/internal/registry"
)

// Commander is the control surface the console drives. The daemon
// wires it to the bridge and engine.
type Commander interface {
	Play(index uint16, volume uint8, loop bool) protocol.PlayAck
	Stop(queueID uint8) protocol.StopAck
	StopAll() int
	Pause(queueID uint8) bool
	Resume(queueID uint8) bool
	SetVolume(queueID uint8, volume int) bool
	SetMasterVolume(volume int)
	ToggleMute() bool
	Status() protocol.Status
	Slots() []mixer.SlotInfo
	Sounds() []*registry.Entry
}

// tickMsg drives the periodic status refresh
type tickMsg time.Time

// Model represents the console state
type Model struct {
	commander Commander
	name      string

	status protocol.Status
	slots  []mixer.SlotInfo

	input   string
	lastOut string

	width  int
	height int
}

// NewModel creates a console model
func NewModel(name string, commander Commander) Model {
	return Model{
		commander: commander,
		name:      name,
		lastOut:   "type 'help' for commands",
	}
}

// Init starts the refresh ticker
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.status = m.commander.Status()
		m.slots = m.commander.Slots()
		return m, tick()
	}

	return m, nil
}

// handleKey handles keyboard input for the command line
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEnter:
		line := strings.TrimSpace(m.input)
		m.input = ""
		if line == "" {
			return m, nil
		}
		if line == "quit" || line == "exit" {
			return m, tea.Quit
		}
		m.lastOut = m.execute(line)
		m.status = m.commander.Status()
		m.slots = m.commander.Slots()
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	case tea.KeySpace:
		m.input += " "
	}

	return m, nil
}

// execute runs one console command and returns the result line
func (m Model) execute(line string) string {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		return "play <index> [vol] [loop] | stop <qid> | stopall | pause <qid> | resume <qid> | svol <qid> <0-100> | vol <0-100> | mute | list | quit"

	case "play":
		if len(args) < 1 {
			return "usage: play <index> [vol] [loop]"
		}
		index, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return fmt.Sprintf("bad sound index: %v", err)
		}
		volume := uint8(protocol.VolumeUseDefault)
		if len(args) >= 2 {
			v, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return fmt.Sprintf("bad volume: %v", err)
			}
			volume = uint8(v)
		}
		loop := len(args) >= 3 && args[2] == "loop"

		ack := m.commander.Play(uint16(index), volume, loop)
		if !ack.OK {
			return fmt.Sprintf("play %d rejected: %s", index, ack.ErrorCode)
		}
		return fmt.Sprintf("playing %d as queue id %d", index, ack.QueueID)

	case "stop":
		if len(args) < 1 {
			return "usage: stop <qid>"
		}
		qid, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Sprintf("bad queue id: %v", err)
		}
		ack := m.commander.Stop(uint8(qid))
		if !ack.OK {
			return fmt.Sprintf("queue id %d not playing", qid)
		}
		return fmt.Sprintf("stopped queue id %d", qid)

	case "stopall":
		return fmt.Sprintf("stopped %d sources", m.commander.StopAll())

	case "pause":
		if len(args) < 1 {
			return "usage: pause <qid>"
		}
		qid, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Sprintf("bad queue id: %v", err)
		}
		if !m.commander.Pause(uint8(qid)) {
			return fmt.Sprintf("queue id %d not playing", qid)
		}
		return fmt.Sprintf("paused queue id %d", qid)

	case "resume":
		if len(args) < 1 {
			return "usage: resume <qid>"
		}
		qid, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Sprintf("bad queue id: %v", err)
		}
		if !m.commander.Resume(uint8(qid)) {
			return fmt.Sprintf("queue id %d not paused", qid)
		}
		return fmt.Sprintf("resumed queue id %d", qid)

	case "svol":
		if len(args) < 2 {
			return "usage: svol <qid> <0-100>"
		}
		qid, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Sprintf("bad queue id: %v", err)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Sprintf("bad volume: %v", err)
		}
		if !m.commander.SetVolume(uint8(qid), v) {
			return fmt.Sprintf("queue id %d not playing", qid)
		}
		return fmt.Sprintf("queue id %d volume %d", qid, v)

	case "vol":
		if len(args) < 1 {
			return "usage: vol <0-100>"
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Sprintf("bad volume: %v", err)
		}
		m.commander.SetMasterVolume(v)
		return fmt.Sprintf("master volume %d", v)

	case "mute":
		if m.commander.ToggleMute() {
			return "muted"
		}
		return "unmuted"

	case "list":
		sounds := m.commander.Sounds()
		names := make([]string, 0, len(sounds))
		for _, e := range sounds {
			names = append(names, fmt.Sprintf("%d:%s", e.Index, e.Name))
		}
		return strings.Join(names, "  ")

	default:
		return fmt.Sprintf("unknown command: %s", cmd)
	}
}

// View renders the console
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderSlots()
	s += m.renderPrompt()
	return s
}

func (m Model) renderHeader() string {
	bits := m.status.StateBits
	flags := []string{}
	if bits&protocol.StatusMounted != 0 {
		flags = append(flags, "mounted")
	}
	if bits&protocol.StatusPlaying != 0 {
		flags = append(flags, "playing")
	}
	if bits&protocol.StatusMuted != 0 {
		flags = append(flags, "muted")
	}
	if bits&protocol.StatusError != 0 {
		flags = append(flags, fmt.Sprintf("error:%s", m.status.ErrorCode))
	}
	state := strings.Join(flags, " ")
	if state == "" {
		state = "idle"
	}

	return fmt.Sprintf(`┌─ %s ─────────────────────────────────────────┐
│ State:  %-44s │
│ Volume: [%s] %-3d  Active: %d%-16s │
├──────────────────────────────────────────────────────┤
`, m.name, state, renderBar(int(m.status.Volume), 100, 10), m.status.Volume, m.status.ActiveSourceCount, "")
}

func (m Model) renderSlots() string {
	if len(m.slots) == 0 {
		return "│ No active sources                                    │\n"
	}

	s := ""
	for _, sl := range m.slots {
		line := fmt.Sprintf("slot %d  sound %-5d  qid %-3d  vol %-3d  %s",
			sl.Index, sl.SoundIndex, sl.QueueID, sl.Volume, sl.State)
		if sl.Loop {
			line += " loop"
		}
		s += fmt.Sprintf("│ %-52s │\n", truncate(line, 52))
	}
	return s
}

func (m Model) renderPrompt() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ %-52s │
│ > %-50s │
└──────────────────────────────────────────────────────┘
`, truncate(m.lastOut, 52), truncate(m.input, 50))
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
