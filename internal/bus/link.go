// ABOUTME: WebSocket bus link for the sound module side
// ABOUTME: Handles connection, hello handshake, command dispatch and emission
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gametable/soundmodule-go/internal/protocol"
)

// StatusInterval is how often the link publishes a module status report
const StatusInterval = 5 * time.Second

// Commands is the inbound command surface the link dispatches to.
// Acknowledgments travel back through the link's emitter methods.
type Commands interface {
	HandlePlay(protocol.PlaySound) protocol.PlayAck
	HandleStop(protocol.StopSound) protocol.StopAck
	HandleStopAll() int
	Status() protocol.Status
}

// LinkConfig holds link configuration
type LinkConfig struct {
	HubAddr         string // host:port or full ws:// URL
	Name            string
	FirmwareVersion string
	CapabilityBits  uint32
	IDBlock         uint16
}

// Link is the module's connection to the control bus. All outbound
// frames funnel through one writer goroutine; inbound commands are
// dispatched inline from the read loop.
type Link struct {
	config   LinkConfig
	moduleID string
	commands Commands

	conn *websocket.Conn
	mu   sync.RWMutex

	sendChan chan protocol.Message

	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewLink creates a bus link for the given command surface
func NewLink(config LinkConfig, commands Commands) *Link {
	ctx, cancel := context.WithCancel(context.Background())

	return &Link{
		config:   config,
		moduleID: uuid.New().String(),
		commands: commands,
		sendChan: make(chan protocol.Message, 32),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ModuleID returns the session identity announced in the hello
func (l *Link) ModuleID() string {
	return l.moduleID
}

// Connect dials the hub, performs the hello handshake and starts the
// read, write and status goroutines.
func (l *Link) Connect() error {
	target := l.config.HubAddr
	if !strings.Contains(target, "://") {
		u := url.URL{Scheme: "ws", Host: target, Path: "/bus"}
		target = u.String()
	}
	log.Printf("Bus: connecting to %s", target)

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.connected = true
	l.mu.Unlock()

	if err := l.hello(); err != nil {
		l.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go l.readMessages()
	go l.writeMessages()
	go l.statusLoop()

	return nil
}

// hello announces this module on the bus
func (l *Link) hello() error {
	msg, err := protocol.Encode(protocol.TypeModuleHello, protocol.ModuleHello{
		ModuleID:        l.moduleID,
		ModuleType:      "audio",
		Name:            l.config.Name,
		FirmwareVersion: l.config.FirmwareVersion,
		CapabilityBits:  l.config.CapabilityBits,
		IDBlock:         l.config.IDBlock,
	})
	if err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	log.Printf("Bus: hello sent as %q (%s)", l.config.Name, l.moduleID)
	return nil
}

// readMessages reads and dispatches inbound command frames
func (l *Link) readMessages() {
	defer l.Close()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		_, data, err := l.conn.ReadMessage()
		if err != nil {
			log.Printf("Bus: read error: %v", err)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Bus: dropping malformed frame: %v", err)
			continue
		}

		l.dispatch(msg)
	}
}

// dispatch routes one command to the handler. Acks come back through
// the emitter methods, so returns are discarded here.
func (l *Link) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePlaySound:
		var req protocol.PlaySound
		if err := protocol.DecodePayload(msg, &req); err != nil {
			log.Printf("Bus: %v", err)
			return
		}
		l.commands.HandlePlay(req)

	case protocol.TypeStopSound:
		var req protocol.StopSound
		if err := protocol.DecodePayload(msg, &req); err != nil {
			log.Printf("Bus: %v", err)
			return
		}
		l.commands.HandleStop(req)

	case protocol.TypeStopAll:
		l.commands.HandleStopAll()

	case protocol.TypeModuleHello, protocol.TypeStatus:
		// Other participants' announcements; nothing to do

	default:
		log.Printf("Bus: unknown message type: %s", msg.Type)
	}
}

// writeMessages serializes all outbound frames
func (l *Link) writeMessages() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg := <-l.sendChan:
			l.mu.RLock()
			conn, connected := l.conn, l.connected
			l.mu.RUnlock()
			if !connected {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("Bus: write failed: %v", err)
				l.Close()
				return
			}
		}
	}
}

// statusLoop publishes the periodic module status report
func (l *Link) statusLoop() {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.send(protocol.TypeStatus, l.commands.Status())
		}
	}
}

// send encodes and enqueues one outbound frame, dropping on backlog
func (l *Link) send(msgType string, payload interface{}) {
	msg, err := protocol.Encode(msgType, payload)
	if err != nil {
		log.Printf("Bus: %v", err)
		return
	}

	select {
	case l.sendChan <- msg:
	default:
		log.Printf("Bus: send queue full, dropping %s", msgType)
	}
}

// EmitPlayAck sends a play acknowledgment
func (l *Link) EmitPlayAck(ack protocol.PlayAck) {
	l.send(protocol.TypePlayAck, ack)
}

// EmitStopAck sends a stop acknowledgment
func (l *Link) EmitStopAck(ack protocol.StopAck) {
	l.send(protocol.TypeStopAck, ack)
}

// EmitFinished sends a sound-finished notification
func (l *Link) EmitFinished(fin protocol.SoundFinished) {
	l.send(protocol.TypeSoundFinished, fin)
}

// EmitStatus sends an immediate status report, outside the ticker
func (l *Link) EmitStatus(st protocol.Status) {
	l.send(protocol.TypeStatus, st)
}

// Close tears the connection down
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		l.connected = false
		l.cancel()
		l.conn.Close()
		log.Printf("Bus: connection closed")
	}
}

// IsConnected reports connection status
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}
