package bgzf2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferGrowPreservesContent(t *testing.T) {
	b := newBuffer(4)
	copy(b.bytes, []byte("ab"))
	b.sz = 2
	b.grow(8)
	assert.Equal(t, byte('a'), b.bytes[0])
	assert.Equal(t, byte('b'), b.bytes[1])
	assert.Len(t, b.bytes, 8)
}

func TestBufferResetKeepsAllocation(t *testing.T) {
	b := newBuffer(16)
	b.sz, b.pos = 10, 5
	b.reset()
	assert.Equal(t, 0, b.sz)
	assert.Equal(t, 0, b.pos)
	assert.Len(t, b.bytes, 16)
}

func TestBufferFreeListReusesAndGrows(t *testing.T) {
	var fl bufferFreeList
	b1 := fl.get(8)
	assert.Len(t, b1.bytes, 8)
	fl.put(b1)

	b2 := fl.get(4)
	assert.Same(t, b1, b2) // reused off the free list
	assert.GreaterOrEqual(t, cap(b2.bytes), 4)

	fl.put(b2)
	b3 := fl.get(64)
	assert.Same(t, b1, b3)
	assert.Len(t, b3.bytes, 64)
}
