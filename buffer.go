package bgzf2

import "sync"

// buffer is a growable byte region reused across operations, per §3's
// Buffer entity: {bytes, alloc, sz, pos, next}. sz is the logical length in
// use (the target block size while writing, the decompressed length while
// reading); pos is the cursor (buffered-bytes-awaiting-flush while writing,
// the consumer's read cursor while reading). next links pooled buffers into
// a free list.
type buffer struct {
	bytes []byte // len(bytes) == alloc
	sz    int    // sz <= alloc
	pos   int    // pos <= sz

	next *buffer
}

func newBuffer(alloc int) *buffer {
	return &buffer{bytes: make([]byte, alloc)}
}

// grow ensures alloc >= n, preserving existing content up to sz.
func (b *buffer) grow(n int) {
	if cap(b.bytes) >= n {
		b.bytes = b.bytes[:n]
		return
	}
	grown := make([]byte, n)
	copy(grown, b.bytes[:b.sz])
	b.bytes = grown
}

// reset clears sz/pos without releasing the underlying allocation, so the
// buffer can be reused for the next block.
func (b *buffer) reset() {
	b.sz = 0
	b.pos = 0
}

func (b *buffer) remaining() int { return b.sz - b.pos }

// bufferFreeList is a singly-linked intrusive free list guarded by a mutex,
// per §9's "Job free list": allocate from the slab on exhaustion, recycle
// otherwise. Buffer growth is amortized per slot because bytes already
// grown to a given size are reused as-is.
type bufferFreeList struct {
	mu   sync.Mutex
	head *buffer
}

func (fl *bufferFreeList) get(minAlloc int) *buffer {
	fl.mu.Lock()
	b := fl.head
	if b != nil {
		fl.head = b.next
	}
	fl.mu.Unlock()

	if b == nil {
		return newBuffer(minAlloc)
	}
	b.next = nil
	b.reset()
	if cap(b.bytes) < minAlloc {
		b.bytes = make([]byte, minAlloc)
	}
	return b
}

func (fl *bufferFreeList) put(b *buffer) {
	if b == nil {
		return
	}
	b.reset()
	fl.mu.Lock()
	b.next = fl.head
	fl.head = b
	fl.mu.Unlock()
}
