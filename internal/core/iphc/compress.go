package iphc

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/lowpan/internal/core"
)

// Compress encodes the IPv6 header (and UDP header when the next header is
// UDP) at the start of datagram. It returns the dispatch-prefixed
// compressed header and the number of uncompressed bytes it replaces; the
// payload is datagram[consumed:].
func Compress(datagram []byte, lc core.LinkContext) ([]byte, int, error) {
	if len(datagram) < core.IPv6HeaderLen {
		return nil, 0, fmt.Errorf("%w: ipv6 header needs %d bytes, have %d",
			core.ErrMalformedInput, core.IPv6HeaderLen, len(datagram))
	}
	if v := datagram[0] >> 4; v != 6 {
		return nil, 0, fmt.Errorf("%w: ip version %d", core.ErrMalformedInput, v)
	}
	plen := int(binary.BigEndian.Uint16(datagram[4:6]))
	if plen != len(datagram)-core.IPv6HeaderLen {
		return nil, 0, fmt.Errorf("%w: payload length %d, buffer carries %d",
			core.ErrMalformedInput, plen, len(datagram)-core.IPv6HeaderLen)
	}

	tc := datagram[0]<<4 | datagram[1]>>4
	flow := uint32(datagram[1]&0x0f)<<16 | uint32(datagram[2])<<8 | uint32(datagram[3])
	nh := datagram[6]
	hlim := datagram[7]
	src := [16]byte(datagram[8:24])
	dst := [16]byte(datagram[24:40])

	udp := nh == core.ProtocolUDP
	if udp && len(datagram) < core.IPv6HeaderLen+core.UDPHeaderLen {
		return nil, 0, fmt.Errorf("%w: udp header needs %d bytes, have %d",
			core.ErrMalformedInput, core.UDPHeaderLen, len(datagram)-core.IPv6HeaderLen)
	}

	var (
		w    writer
		base Base
	)
	w.n = 2 // base is written last

	// ECN goes before DSCP on the wire.
	ecn, dscp := tc&0x03, tc>>2
	inlineTC := ecn<<6 | dscp
	switch {
	case flow == 0 && tc == 0:
		base.TF = tfElided
	case flow == 0:
		base.TF = tfNoFlow
		w.byte(inlineTC)
	case dscp == 0:
		base.TF = tfNoDSCP
		w.byte(ecn<<6 | byte(flow>>16)&0x0f)
		w.byte(byte(flow >> 8))
		w.byte(byte(flow))
	default:
		base.TF = tfInline
		w.byte(inlineTC)
		w.byte(byte(flow>>16) & 0x0f)
		w.byte(byte(flow >> 8))
		w.byte(byte(flow))
	}

	if udp {
		base.NH = true
	} else {
		w.byte(nh)
	}

	switch hlim {
	case 1:
		base.HLIM = hlim1
	case 64:
		base.HLIM = hlim64
	case 255:
		base.HLIM = hlim255
	default:
		base.HLIM = hlimInline
		w.byte(hlim)
	}

	if src == ([16]byte{}) {
		// stateless unspecified address
		base.SAC = true
		base.SAM = addrInline
	} else {
		base.SAM = compressUnicast(&w, &src, lc.SrcIID)
	}

	if dst[0] == 0xff {
		base.M = true
		base.DAM = compressMulticast(&w, &dst)
	} else {
		base.DAM = compressUnicast(&w, &dst, lc.DstIID)
	}

	consumed := core.IPv6HeaderLen
	if udp {
		u := datagram[core.IPv6HeaderLen : core.IPv6HeaderLen+core.UDPHeaderLen]
		compressUDP(&w, binary.BigEndian.Uint16(u[0:2]), binary.BigEndian.Uint16(u[2:4]),
			binary.BigEndian.Uint16(u[6:8]))
		consumed += core.UDPHeaderLen
	}

	b := base.Pack()
	w.buf[0], w.buf[1] = b[0], b[1]
	return w.result(), consumed, nil
}

func compressUDP(w *writer, sport, dport, checksum uint16) {
	var nhc UDPNHC
	switch {
	case sport&port4Mask == port4Prefix && dport&port4Mask == port4Prefix:
		nhc.Ports = ports4
	case dport&port8Mask == port8Prefix:
		nhc.Ports = portsDst8
	case sport&port8Mask == port8Prefix:
		nhc.Ports = portsSrc8
	default:
		nhc.Ports = portsInline
	}
	w.byte(nhc.Pack())
	switch nhc.Ports {
	case ports4:
		w.byte(byte(sport&0x0f)<<4 | byte(dport&0x0f))
	case portsDst8:
		w.uint16(sport)
		w.byte(byte(dport))
	case portsSrc8:
		w.byte(byte(sport))
		w.uint16(dport)
	default:
		w.uint16(sport)
		w.uint16(dport)
	}
	w.uint16(checksum)
}
