// ABOUTME: Per-source decoder goroutine
// ABOUTME: Streams normalized PCM from a source descriptor into its session queue
package mixer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gametable/soundmodule-go/internal/audio"
)

const (
	// decodeChunkBytes is how much raw source data one decode pass reads
	decodeChunkBytes = 4096

	// pushTimeout bounds a single wait on a full queue. A full queue
	// means the mixer is behind, not that decoding failed; the decoder
	// re-checks for cancellation and retries.
	pushTimeout = 50 * time.Millisecond
)

// runDecoder streams a source into its session queue until EOF, error or
// cancellation. The decoder owns the session for its whole lifetime and
// never reads slot state: teardown can reuse the slot immediately while
// a cancelled decoder is still unwinding.
func runDecoder(ctx context.Context, desc audio.SourceDescriptor, loop bool, sess *decodeSession) {
	for {
		done, err := decodePass(ctx, desc, sess)
		if err != nil {
			log.Printf("Decoder: source %s failed: %v", desc.Name, err)
			sess.decodeErr.Store(true)
			return
		}
		if done {
			// Cancelled; push nothing further
			return
		}
		if !loop {
			sess.eof.Store(true)
			return
		}
		// loop=true: start over from the beginning
		if ctx.Err() != nil {
			return
		}
	}
}

// decodePass plays the source once from the start. Returns done=true if
// the context was cancelled mid-pass.
func decodePass(ctx context.Context, desc audio.SourceDescriptor, sess *decodeSession) (bool, error) {
	rc, format, err := desc.Open()
	if err != nil {
		return false, err
	}
	defer rc.Close()

	norm, err := audio.NewNormalizer(format)
	if err != nil {
		return false, err
	}

	// Read whole source frames only
	frameBytes := format.BytesPerSourceFrame()
	chunkSize := (decodeChunkBytes / frameBytes) * frameBytes
	raw := make([]byte, chunkSize)

	for {
		if ctx.Err() != nil {
			return true, nil
		}

		n, readErr := io.ReadFull(rc, raw)
		if whole := n - n%frameBytes; whole > 0 {
			pcm, normErr := norm.Normalize(raw[:whole])
			if normErr != nil {
				return false, normErr
			}
			if cancelled := pushAll(ctx, sess.queue, pcm); cancelled {
				return true, nil
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				// Natural end of data; a zero-length payload lands
				// here immediately with nothing pushed. A payload that
				// ends mid-frame is malformed, not short.
				if rem := n % frameBytes; rem != 0 {
					return false, fmt.Errorf("%w: %s ends mid-frame (%d trailing bytes)",
						audio.ErrUnsupportedFormat, desc.Name, rem)
				}
				if cancelled := pushAll(ctx, sess.queue, norm.Flush()); cancelled {
					return true, nil
				}
				return false, nil
			}
			return false, readErr
		}
	}
}

// pushAll pushes one normalized chunk, backing off while the queue is
// full. Returns true if cancelled while waiting.
func pushAll(ctx context.Context, q *pcmQueue, pcm []byte) bool {
	if len(pcm) == 0 {
		return false
	}

	for !q.push(ctx, pcm, pushTimeout) {
		if ctx.Err() != nil {
			return true
		}
	}
	return false
}
