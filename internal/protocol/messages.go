// ABOUTME: Sound module bus message type definitions
// ABOUTME: Defines structs, flags and codes for all logical bus messages
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the top-level envelope for all bus messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type strings
const (
	TypeModuleHello   = "module/hello"
	TypePlaySound     = "sound/play"
	TypeStopSound     = "sound/stop"
	TypeStopAll       = "sound/stop-all"
	TypePlayAck       = "sound/play-ack"
	TypeStopAck       = "sound/stop-ack"
	TypeSoundFinished = "sound/finished"
	TypeStatus        = "module/status"
)

// PlaySound flags
const (
	FlagLoop         = 1 << 0
	FlagInterrupt    = 1 << 1
	FlagHighPriority = 1 << 2
)

// Special values
const (
	VolumeUseDefault = 0xFF   // use the registry entry's default volume
	SoundIndexNone   = 0xFFFF // status: nothing playing
	QueueIDInvalid   = 0x00   // reserved, never issued
)

// ErrorCode identifies why a request was rejected
type ErrorCode uint8

const (
	ErrNone           ErrorCode = 0x00
	ErrNotFound       ErrorCode = 0x01 // sound index has no available source
	ErrStorage        ErrorCode = 0x02 // asset storage read fault
	ErrInvalidIndex   ErrorCode = 0x04 // index outside the valid range
	ErrMixerFull      ErrorCode = 0x05 // all mixer slots occupied
	ErrUnknownQueueID ErrorCode = 0x06 // stop referenced an unknown queue id
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrNotFound:
		return "not-found"
	case ErrStorage:
		return "storage-error"
	case ErrInvalidIndex:
		return "invalid-index"
	case ErrMixerFull:
		return "mixer-full"
	case ErrUnknownQueueID:
		return "unknown-queue-id"
	default:
		return fmt.Sprintf("error(0x%02X)", uint8(e))
	}
}

// FinishReason explains why a sound instance ended
type FinishReason uint8

const (
	ReasonCompleted     FinishReason = 0x00 // played to the end (non-loop)
	ReasonStoppedByUser FinishReason = 0x01 // stopped by command
	ReasonError         FinishReason = 0x02 // decode or storage error mid-play
)

func (r FinishReason) String() string {
	switch r {
	case ReasonCompleted:
		return "completed"
	case ReasonStoppedByUser:
		return "stopped"
	case ReasonError:
		return "error"
	default:
		return fmt.Sprintf("reason(0x%02X)", uint8(r))
	}
}

// Status state bits
const (
	StatusReady   = 1 << 0
	StatusMounted = 1 << 1
	StatusPlaying = 1 << 2
	StatusMuted   = 1 << 3
	StatusError   = 1 << 4
)

// Capability bits announced in the module hello and the mDNS TXT
// record, so controllers can gate features before sending commands
const (
	CapPlayback     uint32 = 1 << 0 // can play registered sounds
	CapLoop         uint32 = 1 << 1 // honors the loop flag
	CapVolume       uint32 = 1 << 2 // per-sound and master volume
	CapMultiSource  uint32 = 1 << 3 // mixes concurrent sources
	CapStatusReport uint32 = 1 << 4 // emits periodic module/status
)

// AudioCapabilities is the full capability set of this module
const AudioCapabilities = CapPlayback | CapLoop | CapVolume | CapMultiSource | CapStatusReport

// ModuleHello announces a bus participant after connecting
type ModuleHello struct {
	ModuleID        string `json:"module_id"`
	ModuleType      string `json:"module_type"` // "audio" or "controller"
	Name            string `json:"name"`
	FirmwareVersion string `json:"firmware_version"`
	CapabilityBits  uint32 `json:"capability_bits"`
	IDBlock         uint16 `json:"id_block"` // assigned message-id block
}

// PlaySound requests playback of a registered sound
type PlaySound struct {
	SoundIndex    uint16 `json:"sound_index"`
	Flags         uint8  `json:"flags"`
	Volume        uint8  `json:"volume"` // 0-100, 0xFF = use default
	CorrelationID uint16 `json:"correlation_id"`
}

func (p PlaySound) Loop() bool         { return p.Flags&FlagLoop != 0 }
func (p PlaySound) Interrupt() bool    { return p.Flags&FlagInterrupt != 0 }
func (p PlaySound) HighPriority() bool { return p.Flags&FlagHighPriority != 0 }

// StopSound requests that one in-flight sound be stopped
type StopSound struct {
	QueueID uint8 `json:"queue_id"`
}

// StopAll requests that every active sound be stopped. No fields; the
// bus protocol does not acknowledge StopAll.
type StopAll struct{}

// PlayAck acknowledges a PlaySound request
type PlayAck struct {
	OK            bool      `json:"ok"`
	SoundIndex    uint16    `json:"sound_index"`
	QueueID       uint8     `json:"queue_id"` // 0 on failure
	ErrorCode     ErrorCode `json:"error_code"`
	CorrelationID uint16    `json:"correlation_id"`
}

// StopAck acknowledges a StopSound request
type StopAck struct {
	QueueID uint8 `json:"queue_id"`
	OK      bool  `json:"ok"`
}

// SoundFinished reports the asynchronous end of a sound instance
type SoundFinished struct {
	QueueID    uint8        `json:"queue_id"`
	SoundIndex uint16       `json:"sound_index"`
	Reason     FinishReason `json:"reason"`
}

// Status is the periodic module state report
type Status struct {
	StateBits         uint8     `json:"state_bits"`
	CurrentSoundIndex uint16    `json:"current_sound_index"` // 0xFFFF when idle
	ErrorCode         ErrorCode `json:"error_code"`
	Volume            uint8     `json:"volume"` // master volume 0-100
	ActiveSourceCount int       `json:"active_source_count"`
}

// Encode wraps a payload in a Message envelope
func Encode(msgType string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// DecodePayload unmarshals an envelope payload into dst
func DecodePayload(msg Message, dst interface{}) error {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", msg.Type, err)
	}
	return nil
}
