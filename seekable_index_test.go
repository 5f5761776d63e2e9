package bgzf2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleIndex(hasChecksum bool) *seekableIndex {
	si := newSeekableIndex(hasChecksum)
	si.append(40, 0, 0)     // header frame
	si.append(12, 0, 0)     // preface
	si.append(100, 1000, 7) // data frame 0: [0, 1000)
	si.append(12, 0, 0)     // preface
	si.append(90, 500, 9)   // data frame 1: [1000, 1500)
	return si
}

func TestSeekableIndexQueryByUncompOffset(t *testing.T) {
	si := buildSampleIndex(true)

	e, err := si.queryByUncompOffset(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, e.UncompPos)
	assert.EqualValues(t, 1000, e.UncompSize)

	e, err = si.queryByUncompOffset(999)
	require.NoError(t, err)
	assert.EqualValues(t, 0, e.UncompPos)

	e, err = si.queryByUncompOffset(1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, e.UncompPos)
	assert.EqualValues(t, 500, e.UncompSize)

	e, err = si.queryByUncompOffset(1499)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, e.UncompPos)

	_, err = si.queryByUncompOffset(1500)
	assert.Error(t, err)
}

func TestSeekableIndexTotals(t *testing.T) {
	si := buildSampleIndex(false)
	assert.EqualValues(t, 1500, si.totalUncompressed())
	assert.EqualValues(t, 40+12+100+12+90, si.totalCompressed())
}

func TestSeekableIndexMarshalLoadRoundTrip(t *testing.T) {
	for _, hasChecksum := range []bool{true, false} {
		si := buildSampleIndex(hasChecksum)
		frame := si.marshalFrame()

		var buf bytes.Buffer
		buf.WriteString("leading junk that stands in for the rest of the stream")
		start := buf.Len()
		buf.Write(frame)

		r := bytes.NewReader(buf.Bytes())
		loaded, offset, err := loadSeekableIndex(r)
		require.NoError(t, err)
		assert.EqualValues(t, start, offset)
		assert.Equal(t, si.len(), loaded.len())
		assert.Equal(t, si.hasChecksum, loaded.hasChecksum)
		for i := range si.entries {
			assert.Equal(t, si.entries[i].CompSize, loaded.entries[i].CompSize)
			assert.Equal(t, si.entries[i].UncompSize, loaded.entries[i].UncompSize)
			assert.Equal(t, si.entries[i].Checksum, loaded.entries[i].Checksum)
		}
	}
}

func TestLoadSeekableIndexRejectsBadMagic(t *testing.T) {
	si := buildSampleIndex(true)
	frame := si.marshalFrame()
	frame[len(frame)-1] ^= 0xFF // corrupt the footer magic

	_, _, err := loadSeekableIndex(bytes.NewReader(frame))
	require.Error(t, err)
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindNoIndex, bErr.Kind)
}
