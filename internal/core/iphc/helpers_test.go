package iphc

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/core"
)

// buildDatagram serializes an IPv6 datagram with consistent length fields.
func buildDatagram(h core.IPv6Header, udp *core.UDPHeader, payload []byte) []byte {
	hdrLen := core.IPv6HeaderLen
	if udp != nil {
		hdrLen += core.UDPHeaderLen
		h.NextHeader = core.ProtocolUDP
	}
	b := make([]byte, hdrLen+len(payload))
	h.PayloadLength = uint16(len(b) - core.IPv6HeaderLen)
	PutIPv6Header(b, &h)
	if udp != nil {
		u := *udp
		u.Length = uint16(core.UDPHeaderLen + len(payload))
		PutUDPHeader(b[core.IPv6HeaderLen:], &u)
	}
	copy(b[hdrLen:], payload)
	return b
}

// buildUDP serializes an IPv6/UDP datagram with gopacket, checksum included.
func buildUDP(t *testing.T, src, dst string, sport, dport uint16, hopLimit uint8, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   hopLimit,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

// lastByteIID maps a link address to an identifier ending in its last byte.
func lastByteIID(a core.LinkAddress) ([8]byte, bool) {
	if len(a) == 0 {
		return [8]byte{}, false
	}
	return [8]byte{7: a[len(a)-1]}, true
}

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}
