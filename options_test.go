package bgzf2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSetDefault(t *testing.T) {
	var c config
	c.setDefault()
	assert.Equal(t, defaultCompressionLevel, c.level)
	assert.Equal(t, defaultBlockSize, c.blockSize)
	assert.True(t, c.checksums)
	assert.False(t, c.genomic)
	assert.NotNil(t, c.logger)
}

func TestWithBlockSizeValidatesRange(t *testing.T) {
	var c config
	c.setDefault()

	require.NoError(t, WithBlockSize(1024)(&c))
	assert.Equal(t, 1024, c.blockSize)

	err := WithBlockSize(0)(&c)
	require.Error(t, err)
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindLimits, bErr.Kind)

	err = WithBlockSize(MaxBlockSize + 1)(&c)
	require.Error(t, err)
}

func TestWithChecksumsAndGenomic(t *testing.T) {
	var c config
	c.setDefault()
	require.NoError(t, WithChecksums(false)(&c))
	assert.False(t, c.checksums)
	require.NoError(t, WithGenomicIndex(true)(&c))
	assert.True(t, c.genomic)
}

func TestParseMode(t *testing.T) {
	m, level, err := parseMode("r")
	require.NoError(t, err)
	assert.Equal(t, modeRead, m)
	assert.Equal(t, 0, level)

	m, level, err = parseMode("w")
	require.NoError(t, err)
	assert.Equal(t, modeWrite, m)
	assert.Equal(t, defaultCompressionLevel, level)

	m, level, err = parseMode("w19")
	require.NoError(t, err)
	assert.Equal(t, modeWrite, m)
	assert.Equal(t, 19, level)

	_, _, err = parseMode("x")
	assert.Error(t, err)

	_, _, err = parseMode("wabc")
	assert.Error(t, err)
}
