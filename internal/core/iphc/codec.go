// Package iphc implements RFC 6282 IPv6 header compression (IPHC) with
// UDP next-header compression, for stateless (context-free) addressing.
package iphc

import (
	"fmt"

	"firestige.xyz/lowpan/internal/core"
)

// Dispatch values of the first byte of a 6LoWPAN unit.
const (
	DispatchIPv6     = 0x41 // 01000001
	DispatchIPHC     = 0x60 // 011xxxxx
	DispatchIPHCMask = 0xe0
)

// MaxHeaderLen bounds a compressed header: base, TF, NH, HLIM, two full
// addresses, NHC byte, both ports and checksum.
const MaxHeaderLen = 2 + 4 + 1 + 1 + 16 + 16 + 1 + 4 + 2

// Traffic class and flow label modes (TF).
const (
	tfInline    = 0 // ECN+DSCP+flow label, 4 bytes
	tfNoDSCP    = 1 // ECN+flow label, 3 bytes
	tfNoFlow    = 2 // ECN+DSCP, 1 byte
	tfElided    = 3
	hlimInline  = 0
	hlim1       = 1
	hlim64      = 2
	hlim255     = 3
	addrInline  = 0 // 128 bits
	addr64      = 1
	addr16      = 2
	addrElided  = 3
	mcastInline = 0 // 128 bits
	mcast48     = 1 // ffXX::00XX:XXXX:XXXX
	mcast32     = 2 // ffXX::00XX:XXXX
	mcast8      = 3 // ff02::00XX
)

// Base is the two-byte IPHC base encoding:
//
//	0   1   2   3   4   5   6   7   8   9  10  11  12  13  14  15
//	0 | 1 | 1 |  TF   |NH | HLIM  |CID|SAC|  SAM  | M |DAC|  DAM
type Base struct {
	TF   uint8
	NH   bool
	HLIM uint8
	CID  bool
	SAC  bool
	SAM  uint8
	M    bool
	DAC  bool
	DAM  uint8
}

// Pack encodes the base field MSB first.
func (b Base) Pack() [2]byte {
	var out [2]byte
	out[0] = DispatchIPHC | (b.TF&0x03)<<3 | bit(b.NH)<<2 | b.HLIM&0x03
	out[1] = bit(b.CID)<<7 | bit(b.SAC)<<6 | (b.SAM&0x03)<<4 | bit(b.M)<<3 | bit(b.DAC)<<2 | b.DAM&0x03
	return out
}

// UnpackBase decodes the base field from the first two bytes of p.
func UnpackBase(p []byte) (Base, error) {
	if len(p) < 2 {
		return Base{}, fmt.Errorf("%w: iphc base needs 2 bytes, have %d", core.ErrTruncated, len(p))
	}
	if p[0]&DispatchIPHCMask != DispatchIPHC {
		return Base{}, fmt.Errorf("%w: dispatch 0x%02x is not iphc", core.ErrMalformedInput, p[0])
	}
	return Base{
		TF:   (p[0] >> 3) & 0x03,
		NH:   p[0]&0x04 != 0,
		HLIM: p[0] & 0x03,
		CID:  p[1]&0x80 != 0,
		SAC:  p[1]&0x40 != 0,
		SAM:  (p[1] >> 4) & 0x03,
		M:    p[1]&0x08 != 0,
		DAC:  p[1]&0x04 != 0,
		DAM:  p[1] & 0x03,
	}, nil
}

// UDP next-header compression.
const (
	nhcUDP         = 0xf0 // 11110CPP
	nhcUDPMask     = 0xf8
	nhcChecksumBit = 0x04

	portsInline = 0 // 16+16 bits
	portsDst8   = 1 // src inline, dst 0xf0xx
	portsSrc8   = 2 // src 0xf0xx, dst inline
	ports4      = 3 // 0xf0bx both

	port8Prefix  = 0xf000
	port8Mask    = 0xff00
	port4Prefix  = 0xf0b0
	port4Mask    = 0xfff0
	nhcExtPrefix = 0xe0 // 1110xxxx, IPv6 extension header NHC
	nhcExtMask   = 0xf0
)

// UDPNHC is the decoded UDP NHC byte.
type UDPNHC struct {
	ChecksumElided bool
	Ports          uint8
}

// Pack encodes the NHC byte.
func (n UDPNHC) Pack() byte {
	return nhcUDP | bit(n.ChecksumElided)<<2 | n.Ports&0x03
}

// UnpackUDPNHC decodes a UDP NHC byte. Extension header NHC and unknown
// encodings are reported as unsupported.
func UnpackUDPNHC(b byte) (UDPNHC, error) {
	if b&nhcUDPMask != nhcUDP {
		if b&nhcExtMask == nhcExtPrefix {
			return UDPNHC{}, fmt.Errorf("%w: extension header nhc 0x%02x", core.ErrUnsupportedFeature, b)
		}
		return UDPNHC{}, fmt.Errorf("%w: nhc 0x%02x", core.ErrUnsupportedFeature, b)
	}
	return UDPNHC{ChecksumElided: b&nhcChecksumBit != 0, Ports: b & 0x03}, nil
}

func bit(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// writer appends to a fixed-capacity buffer.
type writer struct {
	buf [MaxHeaderLen]byte
	n   int
}

func (w *writer) byte(b byte) {
	w.buf[w.n] = b
	w.n++
}

func (w *writer) bytes(p []byte) {
	w.n += copy(w.buf[w.n:], p)
}

func (w *writer) uint16(v uint16) {
	w.byte(byte(v >> 8))
	w.byte(byte(v))
}

func (w *writer) result() []byte {
	out := make([]byte, w.n)
	copy(out, w.buf[:w.n])
	return out
}

// reader consumes a compressed header, checking length before every read.
type reader struct {
	b   []byte
	off int
}

func (r *reader) next(n int, field string) ([]byte, error) {
	if r.off+n > len(r.b) {
		return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
			core.ErrTruncated, field, n, r.off, len(r.b)-r.off)
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p, nil
}

func (r *reader) byte(field string) (byte, error) {
	p, err := r.next(1, field)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *reader) uint16(field string) (uint16, error) {
	p, err := r.next(2, field)
	if err != nil {
		return 0, err
	}
	return uint16(p[0])<<8 | uint16(p[1]), nil
}
