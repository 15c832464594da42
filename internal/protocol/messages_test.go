// ABOUTME: Tests for bus message types
// ABOUTME: Covers flag accessors, code strings and envelope encoding
package protocol

import (
	"encoding/json"
	"testing"
)

func TestPlaySoundFlags(t *testing.T) {
	p := PlaySound{Flags: FlagLoop | FlagHighPriority}
	if !p.Loop() {
		t.Error("loop flag not detected")
	}
	if p.Interrupt() {
		t.Error("interrupt flag falsely detected")
	}
	if !p.HighPriority() {
		t.Error("high-priority flag not detected")
	}

	if (PlaySound{}).Loop() {
		t.Error("zero flags should mean no loop")
	}
}

func TestErrorCodeStrings(t *testing.T) {
	cases := map[ErrorCode]string{
		ErrNone:           "none",
		ErrNotFound:       "not-found",
		ErrStorage:        "storage-error",
		ErrInvalidIndex:   "invalid-index",
		ErrMixerFull:      "mixer-full",
		ErrUnknownQueueID: "unknown-queue-id",
		ErrorCode(0xAB):   "error(0xAB)",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("ErrorCode(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestFinishReasonStrings(t *testing.T) {
	cases := map[FinishReason]string{
		ReasonCompleted:     "completed",
		ReasonStoppedByUser: "stopped",
		ReasonError:         "error",
	}
	for reason, want := range cases {
		if got := reason.String(); got != want {
			t.Errorf("FinishReason(%d).String() = %q, want %q", reason, got, want)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	msg, err := Encode(TypePlaySound, PlaySound{
		SoundIndex:    42,
		Flags:         FlagLoop,
		Volume:        VolumeUseDefault,
		CorrelationID: 777,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if msg.Type != TypePlaySound {
		t.Errorf("envelope type = %s", msg.Type)
	}

	// Over the wire and back
	wire, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Message
	if err := json.Unmarshal(wire, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var req PlaySound
	if err := DecodePayload(back, &req); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if req.SoundIndex != 42 || !req.Loop() || req.Volume != VolumeUseDefault || req.CorrelationID != 777 {
		t.Errorf("round trip produced %+v", req)
	}
}

func TestDecodePayloadRejectsMalformed(t *testing.T) {
	msg := Message{Type: TypePlaySound, Payload: json.RawMessage(`{"sound_index":`)}
	var req PlaySound
	if err := DecodePayload(msg, &req); err == nil {
		t.Error("malformed payload should fail to decode")
	}
}

func TestReservedValues(t *testing.T) {
	if QueueIDInvalid != 0 {
		t.Error("queue id 0 is the reserved invalid value")
	}
	if SoundIndexNone != 0xFFFF {
		t.Error("sound index 0xFFFF is the reserved idle value")
	}
	if VolumeUseDefault != 0xFF {
		t.Error("volume 0xFF selects the registered default")
	}
}
