package bgzf2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	dst := make([]byte, frameHeaderSize)
	encodeFrameHeader(dst, magicZstdData, 1234)
	magic, length, err := decodeFrameHeader(dst)
	require.NoError(t, err)
	assert.Equal(t, magicZstdData, magic)
	assert.EqualValues(t, 1234, length)
}

func TestDecodeFrameHeaderTruncated(t *testing.T) {
	_, _, err := decodeFrameHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestIsSkippableMagic(t *testing.T) {
	assert.True(t, isSkippableMagic(magicPreface))
	assert.True(t, isSkippableMagic(magicHeaderOrGenomic))
	assert.True(t, isSkippableMagic(magicSeekableIndex))
	assert.False(t, isSkippableMagic(magicZstdData))
}

func TestBuildHeaderFrame(t *testing.T) {
	preview := []byte("hello world, this is a long preview")
	frame := buildHeaderFrame(preview)
	magic, length, err := decodeFrameHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, magicHeaderOrGenomic, magic)
	assert.EqualValues(t, len(frame)-frameHeaderSize, length)

	payload := frame[frameHeaderSize:]
	assert.Equal(t, headerMagicPayload[:], payload[:4])
	assert.LessOrEqual(t, len(payload)-4, headerPreviewMax)
	assert.Equal(t, preview[:headerPreviewMax], payload[4:])
}

func TestBuildAndParsePreface(t *testing.T) {
	frame := buildPrefaceFrame(4096)
	require.Len(t, frame, prefaceFrameSize)

	magic, length, err := decodeFrameHeader(frame)
	require.NoError(t, err)

	compSz, ok := parsePreface(magic, length, frame[frameHeaderSize:])
	require.True(t, ok)
	assert.EqualValues(t, 4096, compSz)
}

func TestParsePrefaceRejectsLengthMismatch(t *testing.T) {
	// Same magic, but a length that doesn't match the preface's fixed
	// 4-byte payload: must be treated as an unrelated skippable frame, not
	// a parse error.
	_, ok := parsePreface(magicPreface, 8, make([]byte, 8))
	assert.False(t, ok)
}
