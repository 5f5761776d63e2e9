package bgzf2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleJobFreeListReuse(t *testing.T) {
	h := &Handle{}

	j1 := h.getJob()
	require.NotNil(t, j1)
	assert.Equal(t, 1, h.jobsPending)

	j1.uncomp = newBuffer(16)
	j1.comp = newBuffer(8)
	h.putJob(j1)
	assert.Equal(t, 0, h.jobsPending)

	j2 := h.getJob()
	assert.Same(t, j1, j2)
	assert.Nil(t, j2.uncomp)
	assert.Nil(t, j2.comp)
}
