// Package sim runs two adaptation layers against each other over an
// in-memory link and checks what comes out the far side.
package sim

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/lowpan/internal/core"
)

// UDPSpec describes an IPv6/UDP datagram to build.
type UDPSpec struct {
	Src          netip.Addr
	Dst          netip.Addr
	SrcPort      uint16
	DstPort      uint16
	HopLimit     uint8
	TrafficClass uint8
	FlowLabel    uint32
	Payload      []byte
}

// BuildUDP serializes s with correct lengths and UDP checksum.
func BuildUDP(s UDPSpec) ([]byte, error) {
	if !s.Src.Is6() || !s.Dst.Is6() {
		return nil, fmt.Errorf("%w: ipv6 addresses required", core.ErrMalformedInput)
	}
	ip := &layers.IPv6{
		Version:      6,
		TrafficClass: s.TrafficClass,
		FlowLabel:    s.FlowLabel & 0xfffff,
		NextHeader:   layers.IPProtocolUDP,
		HopLimit:     s.HopLimit,
		SrcIP:        net.IP(s.Src.AsSlice()),
		DstIP:        net.IP(s.Dst.AsSlice()),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(s.SrcPort), DstPort: layers.UDPPort(s.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(s.Payload)); err != nil {
		return nil, fmt.Errorf("serialize datagram: %w", err)
	}
	return buf.Bytes(), nil
}

// UDPPayload returns the UDP payload of an IPv6 datagram.
func UDPPayload(datagram []byte) ([]byte, error) {
	pkt := gopacket.NewPacket(datagram, layers.LayerTypeIPv6, gopacket.NoCopy)
	if el := pkt.ErrorLayer(); el != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, el.Error())
	}
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil, fmt.Errorf("%w: not a udp datagram", core.ErrMalformedInput)
	}
	return udp.Payload, nil
}
