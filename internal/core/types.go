// Package core defines core types with zero external dependencies.
package core

import (
	"encoding/hex"
	"net/netip"
	"strings"
)

// LinkAddress is a link-layer address: 2 bytes (short), 6 bytes (MAC/BLE)
// or 8 bytes (EUI-64).
type LinkAddress []byte

// String formats the address as colon separated hex octets.
func (a LinkAddress) String() string {
	if len(a) == 0 {
		return "none"
	}
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

// ParseLinkAddress parses "02:00:00:00:00:00:00:01" or a plain hex string.
func ParseLinkAddress(s string) (LinkAddress, error) {
	b, err := hex.DecodeString(strings.NewReplacer(":", "", "-", "").Replace(s))
	if err != nil {
		return nil, err
	}
	return LinkAddress(b), nil
}

// IIDFunc derives the 64-bit interface identifier a link address maps to.
// ok is false when the address length is not supported.
type IIDFunc func(addr LinkAddress) (iid [8]byte, ok bool)

// LinkContext carries the link-layer addresses of the frame being
// compressed or decompressed. Src is the frame's link source (the local
// node on TX, the peer on RX) and Dst its link destination.
type LinkContext struct {
	Src LinkAddress
	Dst LinkAddress
	IID IIDFunc
}

// SrcIID derives the interface identifier of the link source.
func (lc LinkContext) SrcIID() ([8]byte, bool) {
	return lc.derive(lc.Src)
}

// DstIID derives the interface identifier of the link destination.
func (lc LinkContext) DstIID() ([8]byte, bool) {
	return lc.derive(lc.Dst)
}

func (lc LinkContext) derive(a LinkAddress) ([8]byte, bool) {
	if lc.IID == nil || len(a) == 0 {
		return [8]byte{}, false
	}
	return lc.IID(a)
}

// IPv6Header is the fixed 40-byte IPv6 header.
type IPv6Header struct {
	TrafficClass  uint8
	FlowLabel     uint32 // 20 bits
	PayloadLength uint16
	NextHeader    uint8
	HopLimit      uint8
	Src           netip.Addr
	Dst           netip.Addr
}

// UDPHeader is the 8-byte UDP header.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Wire sizes and protocol numbers.
const (
	IPv6HeaderLen = 40
	UDPHeaderLen  = 8

	ProtocolUDP = 17
)
