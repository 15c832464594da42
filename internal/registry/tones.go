// ABOUTME: Builtin synthesized tone sounds
// ABOUTME: Always registered so the module is testable without assets
package registry

import (
	"encoding/binary"
	"math"

	"github.com/gametable/soundmodule-go/internal/audio"
)

// Builtin tones are generated at 22050Hz mono so playback exercises
// the full normalization path, like the original asset set.
const toneRate = 22050

// Builtin tone indices
const (
	ToneIndex440 = 10000 // 440Hz, 1s
	ToneIndex880 = 10001 // 880Hz, 2s
	ToneIndex220 = 10002 // 220Hz, 5s
)

// builtinTones returns freshly generated tone entries
func builtinTones() []*Entry {
	return []*Entry{
		toneEntry(ToneIndex440, "tone-440hz-1s", 440.0, 1),
		toneEntry(ToneIndex880, "tone-880hz-2s", 880.0, 2),
		toneEntry(ToneIndex220, "tone-220hz-5s", 220.0, 5),
	}
}

func toneEntry(index uint16, name string, freq float64, seconds int) *Entry {
	return &Entry{
		Index:         index,
		Name:          name,
		DefaultVolume: DefaultVolume,
		Loopable:      true,
		pcm:           sinePCM(freq, seconds),
		fmt_:          audio.Format{SampleRate: toneRate, Channels: 1, BitDepth: 16},
	}
}

// sinePCM renders a sine tone as 16-bit mono LE bytes at 50% amplitude
func sinePCM(freq float64, seconds int) []byte {
	samples := toneRate * seconds
	out := make([]byte, samples*2)

	for i := 0; i < samples; i++ {
		t := float64(i) / float64(toneRate)
		v := int16(math.Sin(2*math.Pi*freq*t) * 32767.0 * 0.5)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}

	return out
}
