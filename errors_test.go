package bgzf2

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	err := newErr(KindRange, "Seek", errors.New("offset out of bounds"))
	assert.True(t, errors.Is(err, ErrRange))
	assert.False(t, errors.Is(err, ErrFormat))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk is on fire")
	err := newErr(KindIO, "Write", cause)
	assert.ErrorIs(t, err, cause)
}

func TestErrorAsExtractsKindAndOp(t *testing.T) {
	err := newErr(KindCodec, "Read", errors.New("bad frame"))
	var bErr *Error
	require := assert.New(t)
	require.True(errors.As(err, &bErr))
	require.Equal(KindCodec, bErr.Kind)
	require.Equal("Read", bErr.Op)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "range", KindRange.String())
	assert.Equal(t, "unknown", Kind(999).String())
}
