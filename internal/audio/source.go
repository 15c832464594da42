// ABOUTME: Source descriptor contract between the registry and the mixer
// ABOUTME: A descriptor opens a fresh raw-PCM stream per decode pass
package audio

import "io"

// SourceDescriptor describes one playable sound. Open returns a fresh
// raw PCM byte stream and its format; looping playback re-opens the
// descriptor, so Open must be repeatable.
type SourceDescriptor struct {
	Name string
	Open func() (io.ReadCloser, Format, error)
}
