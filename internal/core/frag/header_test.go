package frag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/core"
)

func TestHeaderEncoding(t *testing.T) {
	tests := []struct {
		name string
		h    Header
		want []byte
	}{
		{"first", Header{First: true, Size: 200, Tag: 0x1234}, []byte{0xc0, 0xc8, 0x12, 0x34}},
		{"first max size", Header{First: true, Size: 2047, Tag: 1}, []byte{0xc7, 0xff, 0x00, 0x01}},
		{"continuation", Header{Size: 200, Tag: 0x1234, Offset: 9}, []byte{0xe0, 0xc8, 0x12, 0x34, 0x09}},
		{"continuation high size", Header{Size: 1280, Tag: 0xffff, Offset: 159}, []byte{0xe5, 0x00, 0xff, 0xff, 0x9f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.h.Append(nil)
			assert.Equal(t, tt.want, b)
			assert.Len(t, b, tt.h.Len())
			assert.True(t, IsFragment(b[0]))

			got, err := ParseHeader(append(b, 0xaa))
			require.NoError(t, err)
			assert.Equal(t, tt.h, got)
		})
	}
}

func TestHeaderByteOffset(t *testing.T) {
	assert.Equal(t, 0, Header{First: true, Offset: 3}.ByteOffset())
	assert.Equal(t, 144, Header{Offset: 18}.ByteOffset())
}

func TestParseHeaderErrors(t *testing.T) {
	_, err := ParseHeader(nil)
	assert.True(t, errors.Is(err, core.ErrTruncated))

	_, err = ParseHeader([]byte{0xc0, 0xc8, 0x12})
	assert.True(t, errors.Is(err, core.ErrTruncated))

	_, err = ParseHeader([]byte{0xe0, 0xc8, 0x12, 0x34})
	assert.True(t, errors.Is(err, core.ErrTruncated))

	_, err = ParseHeader([]byte{0x60, 0x00, 0x00, 0x00, 0x00})
	assert.True(t, errors.Is(err, core.ErrMalformedInput))

	assert.False(t, IsFragment(0x41))
	assert.False(t, IsFragment(0x7f))
	assert.False(t, IsFragment(0xd0))
}
