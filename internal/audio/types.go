// ABOUTME: Audio format types and the fixed internal mix format
// ABOUTME: Everything downstream of the normalizer is 16-bit 44.1kHz stereo
package audio

import "fmt"

const (
	// Fixed internal mix format
	MixSampleRate = 44100
	MixChannels   = 2
	MixBitDepth   = 16

	// BytesPerFrame is one stereo frame of 16-bit samples
	BytesPerFrame = MixChannels * (MixBitDepth / 8)
)

// Format describes source PCM before normalization
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Validate reports whether the format is one the normalizer accepts
func (f Format) Validate() error {
	if f.BitDepth != 8 && f.BitDepth != 16 {
		return fmt.Errorf("%w: bit depth %d (want 8 or 16)", ErrUnsupportedFormat, f.BitDepth)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: %d channels (want 1 or 2)", ErrUnsupportedFormat, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	return nil
}

// BytesPerSourceFrame returns the size of one frame at the source format
func (f Format) BytesPerSourceFrame() int {
	return f.Channels * (f.BitDepth / 8)
}
