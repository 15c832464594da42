// ABOUTME: Format normalizer converting source PCM to the fixed mix format
// ABOUTME: Handles bit depth, channel count and linear-interpolation resampling
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned for PCM the normalizer cannot convert
var ErrUnsupportedFormat = errors.New("unsupported PCM format")

// Normalizer converts arbitrary source PCM into 16-bit/44.1kHz/stereo.
// Resampling position carries across calls, so one Normalizer serves
// exactly one decode session.
type Normalizer struct {
	format Format
	ratio  float64 // source frames consumed per output frame

	// Resampler state: the last input frame of the previous chunk and
	// the fractional read position relative to it.
	prev     []int16
	havePrev bool
	pos      float64
}

// NewNormalizer creates a normalizer for one decode session
func NewNormalizer(format Format) (*Normalizer, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	return &Normalizer{
		format: format,
		ratio:  float64(format.SampleRate) / float64(MixSampleRate),
		prev:   make([]int16, format.Channels),
	}, nil
}

// Normalize converts one chunk of raw source bytes to mix-format bytes.
// Only whole output frames are produced. Input must hold whole source
// frames; a trailing partial frame is a format error.
func (n *Normalizer) Normalize(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw)%n.format.BytesPerSourceFrame() != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames",
			ErrUnsupportedFormat, len(raw), n.format.BytesPerSourceFrame())
	}

	frames := n.decodeSamples(raw)

	if n.format.SampleRate != MixSampleRate {
		frames = n.resample(frames)
	}

	return encodeStereo(frames, n.format.Channels), nil
}

// Flush emits the interpolation tail at end of stream. The resampler
// always keeps one frame in reserve; Flush plays it out by holding the
// final value, so total output length matches the rate ratio exactly.
func (n *Normalizer) Flush() []byte {
	if n.format.SampleRate == MixSampleRate || !n.havePrev {
		return nil
	}

	var tail []int16
	for n.pos < 1.0 {
		tail = append(tail, n.prev...)
		n.pos += n.ratio
	}
	n.havePrev = false

	return encodeStereo(tail, n.format.Channels)
}

// decodeSamples converts raw bytes to int16 samples at the source layout
func (n *Normalizer) decodeSamples(raw []byte) []int16 {
	if n.format.BitDepth == 8 {
		// 8-bit PCM is unsigned [0,255]
		out := make([]int16, len(raw))
		for i, b := range raw {
			out[i] = int16(int(b)<<8 - 32768)
		}
		return out
	}

	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

// resample converts samples to 44.1kHz with linear interpolation,
// carrying the fractional position and last frame across chunks
func (n *Normalizer) resample(in []int16) []int16 {
	ch := n.format.Channels
	inFrames := len(in) / ch

	// Work on prev + in so interpolation spans the chunk seam
	ext := in
	extFrames := inFrames
	if n.havePrev {
		ext = make([]int16, 0, ch+len(in))
		ext = append(ext, n.prev...)
		ext = append(ext, in...)
		extFrames = inFrames + 1
	}

	out := make([]int16, 0, (extFrames*MixSampleRate/n.format.SampleRate+2)*ch)

	idx := n.pos
	for int(idx)+1 < extFrames {
		i := int(idx)
		frac := idx - float64(i)
		for c := 0; c < ch; c++ {
			s1 := float64(ext[i*ch+c])
			s2 := float64(ext[(i+1)*ch+c])
			out = append(out, int16(s1*(1.0-frac)+s2*frac))
		}
		idx += n.ratio
	}

	// Keep the last input frame; next chunk interpolates from it
	copy(n.prev, ext[(extFrames-1)*ch:])
	n.havePrev = true
	n.pos = idx - float64(extFrames-1)

	return out
}

// encodeStereo converts int16 samples to interleaved stereo LE bytes,
// duplicating mono to both channels
func encodeStereo(samples []int16, channels int) []byte {
	if len(samples) == 0 {
		return nil
	}

	if channels == 2 {
		out := make([]byte, len(samples)*2)
		for i, s := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
		}
		return out
	}

	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*4:], uint16(s))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(s))
	}
	return out
}
