package frag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/core"
)

func rawDatagram(n int) core.Datagram {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return core.Datagram{Payload: p}
}

// payloads strips fragmentation headers and returns offsets in bytes.
func payloads(t *testing.T, frames [][]byte) (offsets []int, data [][]byte) {
	t.Helper()
	for _, f := range frames {
		h, err := ParseHeader(f)
		require.NoError(t, err)
		offsets = append(offsets, h.ByteOffset())
		data = append(data, f[h.Len():])
	}
	return offsets, data
}

func TestFragmentThreeFragments(t *testing.T) {
	d := rawDatagram(200)
	frames, err := NewFragmenter(7).Fragment(d, 80, 0)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	offsets, data := payloads(t, frames)
	assert.Equal(t, []int{0, 72, 144}, offsets)
	assert.Equal(t, []int{72, 72, 56}, []int{len(data[0]), len(data[1]), len(data[2])})

	var joined []byte
	for _, p := range data {
		joined = append(joined, p...)
	}
	assert.Equal(t, d.Payload, joined)

	for _, f := range frames {
		h, _ := ParseHeader(f)
		assert.Equal(t, uint16(200), h.Size)
		assert.Equal(t, uint16(7), h.Tag)
		assert.LessOrEqual(t, len(f), 80)
	}
}

func TestFragmentBoundary(t *testing.T) {
	f := NewFragmenter(0)

	fits := rawDatagram(102)
	frames, err := f.Fragment(fits, 127, 25)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, fits.Payload, frames[0], "unfragmented datagram carries no fragmentation header")

	over := rawDatagram(103)
	frames, err = f.Fragment(over, 127, 25)
	require.NoError(t, err)
	assert.Len(t, frames, 2)
	assert.True(t, IsFragment(frames[0][0]))
}

func TestFragmentTagSequence(t *testing.T) {
	f := NewFragmenter(0xfffe)
	d := rawDatagram(300)

	var tags []uint16
	for i := 0; i < 3; i++ {
		frames, err := f.Fragment(d, 100, 0)
		require.NoError(t, err)
		h, _ := ParseHeader(frames[0])
		tags = append(tags, h.Tag)
	}
	assert.Equal(t, []uint16{0xfffe, 0xffff, 0x0000}, tags)

	// unfragmented sends do not consume a tag
	_, err := f.Fragment(rawDatagram(10), 100, 0)
	require.NoError(t, err)
	frames, _ := f.Fragment(d, 100, 0)
	h, _ := ParseHeader(frames[0])
	assert.Equal(t, uint16(1), h.Tag)
}

func TestFragmentMultipleOfEight(t *testing.T) {
	for _, size := range []int{81, 200, 640, 1280, 2047} {
		for mtu := 30; mtu <= 127; mtu += 7 {
			if size <= mtu {
				continue
			}
			d := rawDatagram(size)
			frames, err := NewFragmenter(1).Fragment(d, mtu, 0)
			require.NoError(t, err, "size=%d mtu=%d", size, mtu)

			offsets, data := payloads(t, frames)
			var joined []byte
			for i, p := range data {
				if i < len(data)-1 {
					assert.Zero(t, len(p)%8, "size=%d mtu=%d fragment %d", size, mtu, i)
				}
				assert.Equal(t, len(joined), offsets[i])
				joined = append(joined, p...)
			}
			assert.Equal(t, d.Payload, joined, "size=%d mtu=%d", size, mtu)
		}
	}
}

func TestFragmentCompressedHeader(t *testing.T) {
	// 3-byte compressed header standing for 48 uncompressed bytes
	d := core.Datagram{Header: []byte{0x7e, 0x33, 0xf3}, Payload: make([]byte, 150), HeaderLen: 48}
	frames, err := NewFragmenter(0).Fragment(d, 60, 0)
	require.NoError(t, err)

	h, err := ParseHeader(frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint16(198), h.Size)
	// 48 + payload must land on a multiple of 8: 48+48 = 96
	assert.Len(t, frames[0], FirstHeaderLen+3+48)

	h2, err := ParseHeader(frames[1])
	require.NoError(t, err)
	assert.Equal(t, 96, h2.ByteOffset())
}

func TestFragmentErrors(t *testing.T) {
	_, err := NewFragmenter(0).Fragment(rawDatagram(MaxDatagramSize+1), 127, 0)
	assert.True(t, errors.Is(err, core.ErrDatagramTooLarge))

	_, err = NewFragmenter(0).Fragment(rawDatagram(100), 12, 0)
	assert.True(t, errors.Is(err, core.ErrLinkMTU))
}
