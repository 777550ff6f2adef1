package sim

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/netip"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/adapter"
	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/link/channel"
)

func TestBuildUDP(t *testing.T) {
	d, err := BuildUDP(UDPSpec{
		Src:          netip.MustParseAddr("fe80::1"),
		Dst:          netip.MustParseAddr("ff02::1"),
		SrcPort:      DefaultPort,
		DstPort:      DefaultPort + 1,
		HopLimit:     255,
		TrafficClass: 0xb8,
		FlowLabel:    0x12345,
		Payload:      []byte("hello"),
	})
	require.NoError(t, err)
	assert.Len(t, d, core.IPv6HeaderLen+core.UDPHeaderLen+5)
	assert.Equal(t, byte(0x6b), d[0])
	assert.Equal(t, byte(255), d[7])

	p, err := UDPPayload(d)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), p)

	_, err = BuildUDP(UDPSpec{Src: netip.MustParseAddr("10.0.0.1"), Dst: netip.MustParseAddr("fe80::1")})
	assert.True(t, errors.Is(err, core.ErrMalformedInput))

	_, err = UDPPayload([]byte{0x60, 0, 0, 0})
	assert.Error(t, err)
}

func TestRunLossless(t *testing.T) {
	tests := []struct {
		name string
		iphc bool
	}{
		{"iphc", true},
		{"ipv6", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pcap bytes.Buffer
			res, err := Run(context.Background(), Config{
				Datagrams:  20,
				MaxPayload: 600,
				Multicast:  true,
				Seed:       1,
				Reserve:    25,
				Adapter:    adapter.Config{Name: "lossless-" + tt.name, IPHC: tt.iphc},
				Pcap:       &pcap,
			})
			require.NoError(t, err)
			assert.Equal(t, 20, res.Sent)
			assert.Equal(t, 20, res.Delivered)
			assert.Zero(t, res.Lost())
			assert.Zero(t, res.Corrupted)
			assert.NotZero(t, res.Sender.DatagramsFragmented)
			assert.Equal(t, res.Sender.DatagramsFragmented, res.Receiver.DatagramsReassembled)
			assert.Zero(t, res.Receiver.Dropped())

			r, err := pcapgo.NewReader(&pcap)
			require.NoError(t, err)
			assert.Equal(t, layers.LinkTypeRaw, r.LinkType())
			n := 0
			for {
				_, _, err := r.ReadPacketData()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				n++
			}
			assert.Equal(t, 20, n)
		})
	}
}

func TestRunShuffled(t *testing.T) {
	res, err := Run(context.Background(), Config{
		Datagrams:  16,
		MinPayload: 100,
		MaxPayload: 900,
		Seed:       2,
		Reserve:    25,
		Link:       channel.Options{Shuffle: true, Seed: 9},
		Adapter:    adapter.Config{Name: "shuffled", IPHC: true, Slots: 16},
	})
	require.NoError(t, err)
	assert.Equal(t, 16, res.Delivered)
	assert.Zero(t, res.Corrupted)
}

func TestRunLossy(t *testing.T) {
	res, err := Run(context.Background(), Config{
		Datagrams:  40,
		MaxPayload: 400,
		Seed:       3,
		Reserve:    25,
		Link:       channel.Options{Loss: 0.2, Seed: 4},
		Adapter:    adapter.Config{Name: "lossy", IPHC: true, Slots: 40},
	})
	require.NoError(t, err)
	assert.Equal(t, 40, res.Sent)
	assert.NotZero(t, res.LinkDropped)
	assert.Less(t, res.Delivered, res.Sent)
	assert.Equal(t, res.Sent, res.Delivered+res.Lost())
	assert.Zero(t, res.Corrupted)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Config{Datagrams: 4, Adapter: adapter.Config{Name: "cancelled"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBadLinkAddress(t *testing.T) {
	_, err := Run(context.Background(), Config{SenderAddr: core.LinkAddress{1, 2, 3}})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
