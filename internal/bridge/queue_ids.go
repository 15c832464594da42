// ABOUTME: Queue id allocator for externally-visible sound handles
// ABOUTME: Issues ids in [1,255] with a reuse delay after release
package bridge

import "sync"

// DefaultReuseDelay is how many ids must be issued after a release
// before the released id may be reissued. Keeps delayed acknowledgments
// from colliding with a freshly issued id.
const DefaultReuseDelay = 16

// QueueIDAllocator hands out small-integer handles for in-flight
// sounds. Id 0 is reserved as invalid and never issued. The allocator
// is an owned object injected into the bridge, never a global.
type QueueIDAllocator struct {
	mu         sync.Mutex
	next       uint8
	issued     uint64
	inUse      map[uint8]bool
	releasedAt map[uint8]uint64
	reuseDelay uint64
}

// NewQueueIDAllocator creates an allocator with the given reuse delay
func NewQueueIDAllocator(reuseDelay int) *QueueIDAllocator {
	if reuseDelay <= 0 {
		reuseDelay = DefaultReuseDelay
	}
	return &QueueIDAllocator{
		next:       1,
		inUse:      make(map[uint8]bool),
		releasedAt: make(map[uint8]uint64),
		reuseDelay: uint64(reuseDelay),
	}
}

// Allocate issues the next free id. Returns 0,false only when every
// candidate is in use or still inside its reuse-delay window.
func (a *QueueIDAllocator) Allocate() (uint8, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < 255; i++ {
		id := a.next
		a.next++
		if a.next == 0 {
			a.next = 1 // 0 is reserved, wrap to 1
		}

		if a.inUse[id] {
			continue
		}
		if rel, ok := a.releasedAt[id]; ok && a.issued-rel < a.reuseDelay {
			continue
		}

		a.inUse[id] = true
		delete(a.releasedAt, id)
		a.issued++
		return id, true
	}

	return 0, false
}

// Release returns an id to the pool; it stays unavailable until the
// reuse delay has elapsed. Releasing an unknown id is a no-op.
func (a *QueueIDAllocator) Release(id uint8) {
	if id == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.inUse[id] {
		return
	}
	delete(a.inUse, id)
	a.releasedAt[id] = a.issued
}

// InUse reports whether an id is currently issued
func (a *QueueIDAllocator) InUse(id uint8) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse[id]
}
