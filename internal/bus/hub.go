// ABOUTME: WebSocket control-bus hub relaying messages between participants
// ABOUTME: Manages connections, hello registration and broadcast fan-out
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gametable/soundmodule-go/internal/protocol"
)

// HubConfig holds hub configuration
type HubConfig struct {
	Port int
	Name string
}

// Hub is the central control-bus relay. Every frame a participant
// sends is forwarded to every other participant; the hub itself does
// not interpret command semantics beyond the hello handshake.
type Hub struct {
	config HubConfig
	hubID  string

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	participants map[string]*participant
	partsMu      sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// participant is one connected bus member
type participant struct {
	ID         string
	Name       string
	ModuleType string
	Conn       *websocket.Conn

	sendChan chan protocol.Message
}

// NewHub creates a hub instance
func NewHub(config HubConfig) *Hub {
	mux := http.NewServeMux()

	h := &Hub{
		config: config,
		hubID:  uuid.New().String(),
		mux:    mux,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Trusted local-network bus, no origin policy
				return true
			},
		},
		participants: make(map[string]*participant),
		stopChan:     make(chan struct{}),
	}
	h.mux.HandleFunc("/bus", h.handleWebSocket)
	return h
}

// Start begins serving the bus endpoint
func (h *Hub) Start() error {
	addr := fmt.Sprintf(":%d", h.config.Port)
	log.Printf("Hub: %s listening on %s (ID: %s)", h.config.Name, addr, h.hubID)

	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: h.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := h.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("hub listen failed: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Handler exposes the bus mux for tests running under httptest
func (h *Hub) Handler() http.Handler {
	return h.mux
}

// Stop shuts the hub down and disconnects all participants
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})

	h.partsMu.Lock()
	for _, p := range h.participants {
		p.Conn.Close()
	}
	h.participants = make(map[string]*participant)
	h.partsMu.Unlock()

	if h.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.httpServer.Shutdown(ctx)
	}

	h.wg.Wait()
}

// handleWebSocket upgrades a connection and runs its read loop
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Hub: upgrade failed: %v", err)
		return
	}

	p, err := h.register(conn)
	if err != nil {
		log.Printf("Hub: registration failed: %v", err)
		conn.Close()
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writeLoop(p)
	}()

	h.readLoop(p)
}

// register performs the hello handshake
func (h *Hub) register(conn *websocket.Conn) (*participant, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed hello frame: %w", err)
	}
	if msg.Type != protocol.TypeModuleHello {
		return nil, fmt.Errorf("expected %s, got %s", protocol.TypeModuleHello, msg.Type)
	}

	var hello protocol.ModuleHello
	if err := protocol.DecodePayload(msg, &hello); err != nil {
		return nil, err
	}
	if hello.ModuleID == "" {
		hello.ModuleID = uuid.New().String()
	}

	p := &participant{
		ID:         hello.ModuleID,
		Name:       hello.Name,
		ModuleType: hello.ModuleType,
		Conn:       conn,
		sendChan:   make(chan protocol.Message, 32),
	}

	h.partsMu.Lock()
	h.participants[p.ID] = p
	count := len(h.participants)
	h.partsMu.Unlock()

	log.Printf("Hub: %s %q joined (%d participants)", p.ModuleType, p.Name, count)
	return p, nil
}

// readLoop relays each inbound frame to the other participants
func (h *Hub) readLoop(p *participant) {
	defer h.unregister(p)

	for {
		select {
		case <-h.stopChan:
			return
		default:
		}

		_, data, err := p.Conn.ReadMessage()
		if err != nil {
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Hub: dropping malformed frame from %s: %v", p.Name, err)
			continue
		}

		h.relay(p.ID, msg)
	}
}

// relay forwards a message to every participant except its sender
func (h *Hub) relay(senderID string, msg protocol.Message) {
	h.partsMu.RLock()
	defer h.partsMu.RUnlock()

	for id, p := range h.participants {
		if id == senderID {
			continue
		}
		select {
		case p.sendChan <- msg:
		default:
			log.Printf("Hub: send queue full for %s, dropping %s", p.Name, msg.Type)
		}
	}
}

// writeLoop serializes all writes for one participant
func (h *Hub) writeLoop(p *participant) {
	for {
		select {
		case <-h.stopChan:
			return
		case msg, ok := <-p.sendChan:
			if !ok {
				return
			}
			if err := p.Conn.WriteJSON(msg); err != nil {
				log.Printf("Hub: write to %s failed: %v", p.Name, err)
				return
			}
		}
	}
}

func (h *Hub) unregister(p *participant) {
	h.partsMu.Lock()
	if _, ok := h.participants[p.ID]; ok {
		delete(h.participants, p.ID)
		close(p.sendChan)
	}
	count := len(h.participants)
	h.partsMu.Unlock()

	p.Conn.Close()
	log.Printf("Hub: %q left (%d participants)", p.Name, count)
}

// ParticipantCount returns the number of connected participants
func (h *Hub) ParticipantCount() int {
	h.partsMu.RLock()
	defer h.partsMu.RUnlock()
	return len(h.participants)
}
