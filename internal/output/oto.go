// ABOUTME: Speaker output using the oto library
// ABOUTME: Feeds mixed blocks to a persistent oto player through a pipe
package output

import (
	"fmt"
	"io"
	"log"

	"github.com/ebitengine/oto/v3"

	"github.com/gametable/soundmodule-go/internal/audio"
)

// OtoSink plays mixed PCM on the local audio device. The mix loop's
// fixed cadence drives the pipe; oto pulls from the other end.
type OtoSink struct {
	otoCtx *oto.Context
	player *oto.Player
	pw     *io.PipeWriter
}

// NewOtoSink initializes the audio device at the mix output format
func NewOtoSink() (*OtoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   audio.MixSampleRate,
		ChannelCount: audio.MixChannels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()

	log.Printf("Output: speaker initialized: %dHz, %d channels",
		audio.MixSampleRate, audio.MixChannels)

	return &OtoSink{otoCtx: ctx, player: player, pw: pw}, nil
}

func (o *OtoSink) WriteBlock(block []byte) error {
	if _, err := o.pw.Write(block); err != nil {
		return fmt.Errorf("speaker write failed: %w", err)
	}
	return nil
}

// Close stops playback and releases the device
func (o *OtoSink) Close() {
	o.pw.Close()
	if o.player != nil {
		o.player.Close()
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
	}
}
