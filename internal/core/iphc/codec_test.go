package iphc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/core"
)

func TestBasePackUnpack(t *testing.T) {
	tests := []struct {
		name string
		base Base
		want [2]byte
	}{
		{"all inline", Base{}, [2]byte{0x60, 0x00}},
		{"all elided", Base{TF: 3, NH: true, HLIM: 3, SAM: 3, DAM: 3}, [2]byte{0x7f, 0x33}},
		{"multicast dest", Base{TF: 3, HLIM: 3, SAM: 1, M: true, DAM: 3}, [2]byte{0x7b, 0x1b}},
		{"context flags", Base{CID: true, SAC: true, DAC: true}, [2]byte{0x60, 0xc4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.base.Pack()
			assert.Equal(t, tt.want, got)
			back, err := UnpackBase(got[:])
			require.NoError(t, err)
			assert.Equal(t, tt.base, back)
		})
	}
}

func TestUnpackBaseErrors(t *testing.T) {
	_, err := UnpackBase([]byte{0x7f})
	assert.True(t, errors.Is(err, core.ErrTruncated))

	_, err = UnpackBase([]byte{DispatchIPv6, 0x00})
	assert.True(t, errors.Is(err, core.ErrMalformedInput))
}

func TestUDPNHC(t *testing.T) {
	assert.Equal(t, byte(0xf0), UDPNHC{}.Pack())
	assert.Equal(t, byte(0xf3), UDPNHC{Ports: ports4}.Pack())
	assert.Equal(t, byte(0xf7), UDPNHC{ChecksumElided: true, Ports: ports4}.Pack())

	n, err := UnpackUDPNHC(0xf6)
	require.NoError(t, err)
	assert.True(t, n.ChecksumElided)
	assert.Equal(t, uint8(portsSrc8), n.Ports)

	_, err = UnpackUDPNHC(0xe1)
	assert.True(t, errors.Is(err, core.ErrUnsupportedFeature))
	_, err = UnpackUDPNHC(0x12)
	assert.True(t, errors.Is(err, core.ErrUnsupportedFeature))
}
