package bgzf2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenomicIndexAddMergesWithinSameFrame(t *testing.T) {
	gi := newGenomicIndex()
	require.NoError(t, gi.add(0, 100, 200, 0, 1))
	require.NoError(t, gi.add(0, 150, 300, 0, 1)) // same frame generation, same ref: merges
	require.NoError(t, gi.add(0, 400, 500, 4096, 2))

	ref := gi.byTID[1] // tid 0 is stored shifted by +1
	require.Len(t, ref.entries, 2)
	assert.EqualValues(t, 100, ref.entries[0].Begin)
	assert.EqualValues(t, 300, ref.entries[0].End)
	assert.EqualValues(t, 400, ref.entries[1].Begin)
}

func TestGenomicIndexUnmappedShift(t *testing.T) {
	gi := newGenomicIndex()
	require.NoError(t, gi.add(-1, 0, 10, 0, 1))
	_, ok := gi.byTID[0]
	assert.True(t, ok)

	_, err := gi.query(-1, 0, 5)
	require.NoError(t, err)
}

func TestGenomicIndexQueryFallsForwardToNextReference(t *testing.T) {
	gi := newGenomicIndex()
	require.NoError(t, gi.add(2, 1000, 2000, 8192, 1))

	offset, err := gi.query(0, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 8192, offset)
}

func TestGenomicIndexQueryNoMatch(t *testing.T) {
	gi := newGenomicIndex()
	require.NoError(t, gi.add(0, 0, 10, 0, 1))

	_, err := gi.query(5, 0, 10)
	require.Error(t, err)
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindRange, bErr.Kind)
}

func TestGenomicIndexRejectsOutOfRange(t *testing.T) {
	gi := newGenomicIndex()
	err := gi.add(0, 0, int64(1)<<40, 0, 1)
	require.Error(t, err)
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindLimits, bErr.Kind)
}

func TestGenomicIndexMarshalLoadRoundTrip(t *testing.T) {
	gi := newGenomicIndex()
	require.NoError(t, gi.add(0, 100, 200, 0, 1))
	require.NoError(t, gi.add(1, 50, 60, 4096, 2))

	frame := gi.marshalFrame()

	var buf bytes.Buffer
	buf.WriteString("data frames would go here")
	buf.Write(frame)
	seekableStart := buf.Len() // the seekable index frame would start here

	loaded, err := loadGenomicIndex(bytes.NewReader(buf.Bytes()), int64(seekableStart))
	require.NoError(t, err)
	require.NotNil(t, loaded)

	ref0 := loaded.byTID[1]
	require.Len(t, ref0.entries, 1)
	assert.EqualValues(t, 100, ref0.entries[0].Begin)
	assert.EqualValues(t, 200, ref0.entries[0].End)

	ref1 := loaded.byTID[2]
	require.Len(t, ref1.entries, 1)
	assert.EqualValues(t, 4096, ref1.entries[0].FrameOffset)
}

func TestLoadGenomicIndexAbsentReturnsNil(t *testing.T) {
	loaded, err := loadGenomicIndex(bytes.NewReader([]byte("no genomic index, just 8 junk bytes")), 8)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
