package shortvec

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 255, 16383, 16384, math.MaxUint16} {
		var buf bytes.Buffer
		_, err := EncodeLen(&buf, n)
		require.NoError(t, err)

		got, err := DecodeLen(&buf)
		require.NoError(t, err)
		assert.Equal(t, n, got)
		assert.Zero(t, buf.Len())
	}
}

func TestKnownEncodings(t *testing.T) {
	cases := map[int][]byte{
		0:      {0x00},
		0x7f:   {0x7f},
		0x80:   {0x80, 0x01},
		0x3fff: {0xff, 0x7f},
		0x4000: {0x80, 0x80, 0x01},
	}
	for n, want := range cases {
		var buf bytes.Buffer
		_, err := EncodeLen(&buf, n)
		require.NoError(t, err)
		assert.Equal(t, want, buf.Bytes(), "n=%d", n)
	}
}

func TestInvalid(t *testing.T) {
	_, err := EncodeLen(&bytes.Buffer{}, math.MaxUint16+1)
	assert.Error(t, err)

	_, err = DecodeLen(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x01}))
	assert.ErrorIs(t, err, ErrTooLong)

	_, err = DecodeLen(bytes.NewReader([]byte{0x80}))
	assert.Error(t, err)
}
