// ABOUTME: Controller CLI for the sound module bus
// ABOUTME: Sends play/stop/stop-all commands and waits for the acknowledgment
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gametable/soundmodule-go/internal/protocol"
	"github.com/gametable/soundmodule-go/internal/version"
)

var (
	hubAddr = flag.String("hub", "localhost:8930", "Hub address (host:port)")
	volume  = flag.Int("volume", int(protocol.VolumeUseDefault), "Playback volume 0-100 (default: sound's own)")
	loop    = flag.Bool("loop", false, "Loop the sound")
	intr    = flag.Bool("interrupt", false, "Stop everything else first")
	timeout = flag.Duration("timeout", 5*time.Second, "Acknowledgment wait timeout")
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: soundctl [flags] <command>

commands:
  play <index>    play a sound by index
  stop <qid>      stop one sound by queue id
  stopall         stop everything
  status          wait for and print one module status report

flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	conn, err := connect(*hubAddr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ok, err := run(conn, args)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if !ok {
		os.Exit(1)
	}
}

// connect dials the hub and announces this controller
func connect(addr string) (*websocket.Conn, error) {
	target := addr
	if !strings.Contains(target, "://") {
		u := url.URL{Scheme: "ws", Host: target, Path: "/bus"}
		target = u.String()
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	hello, err := protocol.Encode(protocol.TypeModuleHello, protocol.ModuleHello{
		ModuleID:        uuid.New().String(),
		ModuleType:      "controller",
		Name:            "soundctl",
		FirmwareVersion: version.Version,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}

	return conn, nil
}

// run executes one command and reports whether the module accepted it
func run(conn *websocket.Conn, args []string) (bool, error) {
	switch args[0] {
	case "play":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: play <index>")
		}
		index, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return false, fmt.Errorf("bad sound index: %w", err)
		}

		var flags uint8
		if *loop {
			flags |= protocol.FlagLoop
		}
		if *intr {
			flags |= protocol.FlagInterrupt
		}

		corr := uint16(time.Now().UnixNano() & 0xFFFF)
		req := protocol.PlaySound{
			SoundIndex:    uint16(index),
			Flags:         flags,
			Volume:        uint8(*volume),
			CorrelationID: corr,
		}
		if err := send(conn, protocol.TypePlaySound, req); err != nil {
			return false, err
		}

		var ack protocol.PlayAck
		if err := await(conn, protocol.TypePlayAck, func(msg protocol.Message) (bool, error) {
			if err := protocol.DecodePayload(msg, &ack); err != nil {
				return false, err
			}
			return ack.CorrelationID == corr, nil
		}); err != nil {
			return false, err
		}

		if !ack.OK {
			fmt.Printf("play %d rejected: %s\n", index, ack.ErrorCode)
			return false, nil
		}
		fmt.Printf("playing %d as queue id %d\n", index, ack.QueueID)
		return true, nil

	case "stop":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: stop <qid>")
		}
		qid, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return false, fmt.Errorf("bad queue id: %w", err)
		}

		if err := send(conn, protocol.TypeStopSound, protocol.StopSound{QueueID: uint8(qid)}); err != nil {
			return false, err
		}

		var ack protocol.StopAck
		if err := await(conn, protocol.TypeStopAck, func(msg protocol.Message) (bool, error) {
			if err := protocol.DecodePayload(msg, &ack); err != nil {
				return false, err
			}
			return ack.QueueID == uint8(qid), nil
		}); err != nil {
			return false, err
		}

		if !ack.OK {
			fmt.Printf("queue id %d not playing\n", qid)
			return false, nil
		}
		fmt.Printf("stopped queue id %d\n", qid)
		return true, nil

	case "stopall":
		// StopAll carries no acknowledgment; fire and exit
		if err := send(conn, protocol.TypeStopAll, protocol.StopAll{}); err != nil {
			return false, err
		}
		fmt.Println("stop-all sent")
		return true, nil

	case "status":
		var st protocol.Status
		if err := await(conn, protocol.TypeStatus, func(msg protocol.Message) (bool, error) {
			return true, protocol.DecodePayload(msg, &st)
		}); err != nil {
			return false, err
		}
		fmt.Printf("state=0x%02X current=%d error=%s volume=%d active=%d\n",
			st.StateBits, st.CurrentSoundIndex, st.ErrorCode, st.Volume, st.ActiveSourceCount)
		return true, nil

	default:
		return false, fmt.Errorf("unknown command: %s", args[0])
	}
}

func send(conn *websocket.Conn, msgType string, payload interface{}) error {
	msg, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// await reads frames until match accepts one of the wanted type
func await(conn *websocket.Conn, wantType string, match func(protocol.Message) (bool, error)) error {
	deadline := time.Now().Add(*timeout)
	conn.SetReadDeadline(deadline)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("timed out waiting for %s: %w", wantType, err)
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != wantType {
			continue
		}

		ok, err := match(msg)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}
