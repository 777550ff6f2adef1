package iphc

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/lowpan/internal/core"
)

// Decoded is a parsed compressed header.
type Decoded struct {
	Base     Base
	IPv6     core.IPv6Header
	UDP      *core.UDPHeader // non-nil when UDP was compressed with NHC
	Consumed int             // compressed bytes, dispatch included
}

// HeaderLen is the size of the uncompressed header the decoded fields
// expand to.
func (d Decoded) HeaderLen() int {
	if d.UDP != nil {
		return core.IPv6HeaderLen + core.UDPHeaderLen
	}
	return core.IPv6HeaderLen
}

// checkUnsupported rejects context-based compression.
func checkUnsupported(b Base) error {
	switch {
	case b.CID:
		return fmt.Errorf("%w: context identifier extension", core.ErrUnsupportedFeature)
	case b.SAC && b.SAM != addrInline:
		return fmt.Errorf("%w: context-based source address (sam=%d)", core.ErrUnsupportedFeature, b.SAM)
	case b.DAC:
		return fmt.Errorf("%w: context-based destination address", core.ErrUnsupportedFeature)
	}
	return nil
}

// Parse decodes the compressed header at the start of b. Length fields are
// left zero; Decompress fills them from the frame size.
func Parse(b []byte, lc core.LinkContext) (Decoded, error) {
	var d Decoded
	base, err := UnpackBase(b)
	if err != nil {
		return d, err
	}
	if err := checkUnsupported(base); err != nil {
		return d, err
	}
	d.Base = base
	r := reader{b: b, off: 2}
	h := &d.IPv6

	switch base.TF {
	case tfInline:
		p, err := r.next(4, "traffic class/flow label")
		if err != nil {
			return d, err
		}
		h.TrafficClass = p[0]<<2 | p[0]>>6
		h.FlowLabel = uint32(p[1]&0x0f)<<16 | uint32(p[2])<<8 | uint32(p[3])
	case tfNoDSCP:
		p, err := r.next(3, "ecn/flow label")
		if err != nil {
			return d, err
		}
		h.TrafficClass = p[0] >> 6
		h.FlowLabel = uint32(p[0]&0x0f)<<16 | uint32(p[1])<<8 | uint32(p[2])
	case tfNoFlow:
		p, err := r.byte("traffic class")
		if err != nil {
			return d, err
		}
		h.TrafficClass = p<<2 | p>>6
	}

	if !base.NH {
		if h.NextHeader, err = r.byte("next header"); err != nil {
			return d, err
		}
	}

	switch base.HLIM {
	case hlim1:
		h.HopLimit = 1
	case hlim64:
		h.HopLimit = 64
	case hlim255:
		h.HopLimit = 255
	default:
		if h.HopLimit, err = r.byte("hop limit"); err != nil {
			return d, err
		}
	}

	var src, dst [16]byte
	if !base.SAC {
		if src, err = decompressUnicast(&r, base.SAM, lc.SrcIID, "source address"); err != nil {
			return d, err
		}
	}
	if base.M {
		dst, err = decompressMulticast(&r, base.DAM, "destination address")
	} else {
		dst, err = decompressUnicast(&r, base.DAM, lc.DstIID, "destination address")
	}
	if err != nil {
		return d, err
	}
	h.Src = netip.AddrFrom16(src)
	h.Dst = netip.AddrFrom16(dst)

	if base.NH {
		u, err := decompressUDP(&r)
		if err != nil {
			return d, err
		}
		h.NextHeader = core.ProtocolUDP
		d.UDP = &u
	}
	d.Consumed = r.off
	return d, nil
}

func decompressUDP(r *reader) (core.UDPHeader, error) {
	var u core.UDPHeader
	b, err := r.byte("nhc")
	if err != nil {
		return u, err
	}
	nhc, err := UnpackUDPNHC(b)
	if err != nil {
		return u, err
	}
	if nhc.ChecksumElided {
		return u, fmt.Errorf("%w: elided udp checksum", core.ErrUnsupportedFeature)
	}
	p, err := r.next(portsLen[nhc.Ports], "udp ports")
	if err != nil {
		return u, err
	}
	switch nhc.Ports {
	case ports4:
		u.SrcPort = port4Prefix | uint16(p[0]>>4)
		u.DstPort = port4Prefix | uint16(p[0]&0x0f)
	case portsDst8:
		u.SrcPort = binary.BigEndian.Uint16(p[0:2])
		u.DstPort = port8Prefix | uint16(p[2])
	case portsSrc8:
		u.SrcPort = port8Prefix | uint16(p[0])
		u.DstPort = binary.BigEndian.Uint16(p[1:3])
	default:
		u.SrcPort = binary.BigEndian.Uint16(p[0:2])
		u.DstPort = binary.BigEndian.Uint16(p[2:4])
	}
	if u.Checksum, err = r.uint16("udp checksum"); err != nil {
		return u, err
	}
	return u, nil
}

// Decompress rebuilds the full datagram from a frame holding a compressed
// header followed by the payload, recomputing the IPv6 payload length and
// the UDP length from the frame size.
func Decompress(frame []byte, lc core.LinkContext) ([]byte, error) {
	d, err := Parse(frame, lc)
	if err != nil {
		return nil, err
	}
	payload := frame[d.Consumed:]
	hdrLen := d.HeaderLen()
	total := hdrLen + len(payload)
	if total-core.IPv6HeaderLen > 0xffff {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds ipv6 length field",
			core.ErrMalformedInput, total-core.IPv6HeaderLen)
	}
	out := make([]byte, total)
	d.IPv6.PayloadLength = uint16(total - core.IPv6HeaderLen)
	PutIPv6Header(out, &d.IPv6)
	if d.UDP != nil {
		d.UDP.Length = uint16(core.UDPHeaderLen + len(payload))
		PutUDPHeader(out[core.IPv6HeaderLen:], d.UDP)
	}
	copy(out[hdrLen:], payload)
	return out, nil
}

// HeaderSizes returns the compressed size of the header at the start of b,
// dispatch included, and the uncompressed size it expands to. It needs no
// link context and is used to place a first fragment in uncompressed
// coordinates.
func HeaderSizes(b []byte) (compressed, uncompressed int, err error) {
	if len(b) > 0 && b[0] == DispatchIPv6 {
		if len(b) < 1+core.IPv6HeaderLen {
			return 0, 0, fmt.Errorf("%w: ipv6 header needs %d bytes, have %d",
				core.ErrTruncated, core.IPv6HeaderLen, len(b)-1)
		}
		return 1 + core.IPv6HeaderLen, core.IPv6HeaderLen, nil
	}
	base, err := UnpackBase(b)
	if err != nil {
		return 0, 0, err
	}
	if err := checkUnsupported(base); err != nil {
		return 0, 0, err
	}
	n := 2 + tfLen[base.TF]
	if !base.NH {
		n++
	}
	if base.HLIM == hlimInline {
		n++
	}
	if !base.SAC {
		n += unicastLen[base.SAM]
	}
	if base.M {
		n += multicastLen[base.DAM]
	} else {
		n += unicastLen[base.DAM]
	}
	if !base.NH {
		if n > len(b) {
			return 0, 0, fmt.Errorf("%w: header needs %d bytes, have %d", core.ErrTruncated, n, len(b))
		}
		return n, core.IPv6HeaderLen, nil
	}
	if n >= len(b) {
		return 0, 0, fmt.Errorf("%w: nhc byte missing at offset %d", core.ErrTruncated, n)
	}
	nhc, err := UnpackUDPNHC(b[n])
	if err != nil {
		return 0, 0, err
	}
	n += 1 + portsLen[nhc.Ports] + 2
	if n > len(b) {
		return 0, 0, fmt.Errorf("%w: header needs %d bytes, have %d", core.ErrTruncated, n, len(b))
	}
	return n, core.IPv6HeaderLen + core.UDPHeaderLen, nil
}

// PutIPv6Header serializes h into the first 40 bytes of b.
func PutIPv6Header(b []byte, h *core.IPv6Header) {
	b[0] = 0x60 | h.TrafficClass>>4
	b[1] = h.TrafficClass<<4 | byte(h.FlowLabel>>16)&0x0f
	b[2] = byte(h.FlowLabel >> 8)
	b[3] = byte(h.FlowLabel)
	binary.BigEndian.PutUint16(b[4:6], h.PayloadLength)
	b[6] = h.NextHeader
	b[7] = h.HopLimit
	src, dst := h.Src.As16(), h.Dst.As16()
	copy(b[8:24], src[:])
	copy(b[24:40], dst[:])
}

// PutUDPHeader serializes u into the first 8 bytes of b.
func PutUDPHeader(b []byte, u *core.UDPHeader) {
	binary.BigEndian.PutUint16(b[0:2], u.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], u.DstPort)
	binary.BigEndian.PutUint16(b[4:6], u.Length)
	binary.BigEndian.PutUint16(b[6:8], u.Checksum)
}
