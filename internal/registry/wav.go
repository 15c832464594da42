// ABOUTME: WAV asset access via go-audio, streamed as raw PCM bytes
// ABOUTME: Bridges go-audio's IntBuffer decoding to the mixer's byte pipeline
package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gametable/soundmodule-go/internal/audio"
)

// openWAV opens an asset file and returns its raw PCM stream and format
func openWAV(path string) (io.ReadCloser, audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("failed to open asset: %w", err)
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		f.Close()
		return nil, audio.Format{}, fmt.Errorf("%w: %s is not a valid WAV file", audio.ErrUnsupportedFormat, path)
	}

	format := audio.Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, audio.Format{}, fmt.Errorf("asset %s: %w", path, err)
	}

	return &wavStream{
		file:     f,
		dec:      dec,
		bitDepth: format.BitDepth,
		buf: &gaudio.IntBuffer{
			Data:   make([]int, 2048),
			Format: &gaudio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
		},
	}, format, nil
}

// wavStream reads decoded samples and re-emits them as raw PCM bytes
// at the source bit depth, which is what the normalizer consumes
type wavStream struct {
	file     *os.File
	dec      *wav.Decoder
	bitDepth int
	buf      *gaudio.IntBuffer
	pending  []byte
}

func (w *wavStream) Read(p []byte) (int, error) {
	for len(w.pending) == 0 {
		n, err := w.dec.PCMBuffer(w.buf)
		if err != nil {
			return 0, fmt.Errorf("wav decode failed: %w", err)
		}
		if n == 0 {
			return 0, io.EOF
		}
		w.pending = encodeSamples(w.buf.Data[:n], w.bitDepth)
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *wavStream) Close() error {
	return w.file.Close()
}

// encodeSamples packs decoded ints back into raw little-endian PCM
func encodeSamples(data []int, bitDepth int) []byte {
	if bitDepth == 8 {
		out := make([]byte, len(data))
		for i, s := range data {
			out[i] = byte(s) // 8-bit WAV samples are unsigned [0,255]
		}
		return out
	}

	out := make([]byte, len(data)*2)
	for i, s := range data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// byteSource serves builtin PCM from memory
type byteSource struct {
	*bytes.Reader
}

func newByteSource(pcm []byte) io.ReadCloser {
	return byteSource{bytes.NewReader(pcm)}
}

func (byteSource) Close() error { return nil }
