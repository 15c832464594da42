// ABOUTME: Sound registry mapping bus sound indices to playable assets
// ABOUTME: Scans a WAV asset directory and falls back to builtin tones
package registry

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gametable/soundmodule-go/internal/audio"
)

// DefaultVolume applies when an asset carries no explicit default
const DefaultVolume = 80

// ErrNotFound is returned when a sound index has no available source
var ErrNotFound = errors.New("sound index not registered")

// Entry is one registered sound
type Entry struct {
	Index         uint16
	Name          string
	DefaultVolume int
	Loopable      bool

	// Exactly one of these backs the entry
	path string // WAV file in the asset directory
	pcm  []byte // builtin raw PCM
	fmt_ audio.Format
}

// Descriptor returns a repeatable open handle for the mixer
func (e *Entry) Descriptor() audio.SourceDescriptor {
	if e.path != "" {
		path := e.path
		return audio.SourceDescriptor{
			Name: e.Name,
			Open: func() (io.ReadCloser, audio.Format, error) {
				return openWAV(path)
			},
		}
	}

	pcm, format := e.pcm, e.fmt_
	return audio.SourceDescriptor{
		Name: e.Name,
		Open: func() (io.ReadCloser, audio.Format, error) {
			return newByteSource(pcm), format, nil
		},
	}
}

// Registry resolves sound indices to descriptors. Entries are fixed
// after Load; reads need no locking.
type Registry struct {
	dir     string
	mounted bool
	entries map[uint16]*Entry
}

// Load builds a registry from an asset directory (may be empty) plus
// the builtin tone set. A missing or unreadable directory is not an
// error: the module runs unmounted on builtins alone.
func Load(dir string) *Registry {
	r := &Registry{
		dir:     dir,
		entries: make(map[uint16]*Entry),
	}

	for _, t := range builtinTones() {
		r.entries[t.Index] = t
	}

	if dir == "" {
		return r
	}

	names, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("Registry: asset directory %s unavailable: %v", dir, err)
		return r
	}
	r.mounted = true

	loaded := 0
	for _, de := range names {
		if de.IsDir() {
			continue
		}
		entry, err := entryFromFilename(dir, de.Name())
		if err != nil {
			continue // not a sound asset
		}
		r.entries[entry.Index] = entry
		loaded++
	}

	log.Printf("Registry: %d assets from %s, %d builtin tones", loaded, dir, len(builtinTones()))

	return r
}

// entryFromFilename parses "NNNN.wav" or "NNNN_name.wav"
func entryFromFilename(dir, name string) (*Entry, error) {
	if strings.ToLower(filepath.Ext(name)) != ".wav" {
		return nil, fmt.Errorf("not a wav file: %s", name)
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	numPart := base
	title := base
	if i := strings.IndexByte(base, '_'); i > 0 {
		numPart = base[:i]
		title = base[i+1:]
	}

	index, err := strconv.ParseUint(numPart, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("no sound index in filename %s: %w", name, err)
	}

	return &Entry{
		Index:         uint16(index),
		Name:          title,
		DefaultVolume: DefaultVolume,
		Loopable:      true,
		path:          filepath.Join(dir, name),
	}, nil
}

// Mounted reports whether the asset directory was readable at load time
func (r *Registry) Mounted() bool {
	return r.mounted
}

// Lookup finds an entry by sound index
func (r *Registry) Lookup(index uint16) (*Entry, error) {
	e, ok := r.entries[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, index)
	}
	return e, nil
}

// List returns all entries ordered by index, for console display
func (r *Registry) List() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Count returns the number of registered sounds
func (r *Registry) Count() int {
	return len(r.entries)
}
