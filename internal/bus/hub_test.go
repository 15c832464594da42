// ABOUTME: Tests for the control-bus hub
// ABOUTME: Covers hello registration and frame relay between participants
package bus

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gametable/soundmodule-go/internal/protocol"
)

// dialTestHub connects a raw participant to a hub under httptest
func dialTestHub(t *testing.T, server *httptest.Server, id, moduleType, name string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(server.URL, "http://", "ws://", 1) + "/bus"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	hello, err := protocol.Encode(protocol.TypeModuleHello, protocol.ModuleHello{
		ModuleID:   id,
		ModuleType: moduleType,
		Name:       name,
	})
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	return conn
}

func waitParticipants(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for hub.ParticipantCount() != want {
		select {
		case <-deadline:
			t.Fatalf("participant count = %d, want %d", hub.ParticipantCount(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubRelaysFramesToOtherParticipants(t *testing.T) {
	hub := NewHub(HubConfig{Name: "test-hub"})
	server := httptest.NewServer(hub.Handler())
	defer server.Close()
	defer hub.Stop()

	controller := dialTestHub(t, server, "ctl-1", "controller", "controller")
	module := dialTestHub(t, server, "mod-1", "audio", "module")
	waitParticipants(t, hub, 2)

	play, err := protocol.Encode(protocol.TypePlaySound, protocol.PlaySound{
		SoundIndex:    7,
		Volume:        80,
		CorrelationID: 99,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := controller.WriteJSON(play); err != nil {
		t.Fatalf("send: %v", err)
	}

	module.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got protocol.Message
	if err := module.ReadJSON(&got); err != nil {
		t.Fatalf("module read: %v", err)
	}
	if got.Type != protocol.TypePlaySound {
		t.Fatalf("relayed type = %s, want %s", got.Type, protocol.TypePlaySound)
	}

	var req protocol.PlaySound
	if err := protocol.DecodePayload(got, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.SoundIndex != 7 || req.CorrelationID != 99 {
		t.Errorf("relayed payload = %+v", req)
	}

	// The sender must not hear its own frame
	controller.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if err := controller.ReadJSON(&got); err == nil {
		t.Errorf("sender received its own frame back: %+v", got)
	}
}

func TestHubRejectsConnectionWithoutHello(t *testing.T) {
	hub := NewHub(HubConfig{Name: "test-hub"})
	server := httptest.NewServer(hub.Handler())
	defer server.Close()
	defer hub.Stop()

	wsURL := strings.Replace(server.URL, "http://", "ws://", 1) + "/bus"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// First frame is not a hello; the hub should drop the connection
	bogus, _ := protocol.Encode(protocol.TypePlaySound, protocol.PlaySound{SoundIndex: 1})
	if err := conn.WriteJSON(bogus); err != nil {
		t.Fatalf("send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the hub to close a connection that skips the hello")
	}
	if hub.ParticipantCount() != 0 {
		t.Errorf("participant count = %d, want 0", hub.ParticipantCount())
	}
}

func TestHubDropsDepartedParticipant(t *testing.T) {
	hub := NewHub(HubConfig{Name: "test-hub"})
	server := httptest.NewServer(hub.Handler())
	defer server.Close()
	defer hub.Stop()

	conn := dialTestHub(t, server, "mod-1", "audio", "module")
	waitParticipants(t, hub, 1)

	conn.Close()
	waitParticipants(t, hub, 0)
}
