// Package frag implements RFC 4944 fragmentation and reassembly of
// 6LoWPAN datagrams.
package frag

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/lowpan/internal/core"
)

// Fragmentation header layout:
//
//	FRAG1: 11000 size(11) | tag(16)
//	FRAGN: 11100 size(11) | tag(16) | offset(8), in units of 8 bytes
const (
	DispatchFirst = 0xc0
	DispatchNext  = 0xe0
	dispatchMask  = 0xf8

	FirstHeaderLen = 4
	NextHeaderLen  = 5

	// MaxDatagramSize is the largest size the 11-bit field can declare.
	MaxDatagramSize = 0x07ff
)

// Header is a decoded fragmentation header.
type Header struct {
	First  bool
	Size   uint16 // uncompressed datagram size
	Tag    uint16
	Offset uint8 // continuation fragments only, 8-byte units
}

// Len is the encoded header length.
func (h Header) Len() int {
	if h.First {
		return FirstHeaderLen
	}
	return NextHeaderLen
}

// ByteOffset is the fragment position in bytes.
func (h Header) ByteOffset() int {
	if h.First {
		return 0
	}
	return int(h.Offset) * 8
}

// Append encodes h onto dst.
func (h Header) Append(dst []byte) []byte {
	dispatch := byte(DispatchNext)
	if h.First {
		dispatch = DispatchFirst
	}
	dst = append(dst, dispatch|byte(h.Size>>8)&0x07, byte(h.Size))
	dst = binary.BigEndian.AppendUint16(dst, h.Tag)
	if !h.First {
		dst = append(dst, h.Offset)
	}
	return dst
}

// IsFragment reports whether a dispatch byte starts a fragmentation header.
func IsFragment(dispatch byte) bool {
	d := dispatch & dispatchMask
	return d == DispatchFirst || d == DispatchNext
}

// ParseHeader decodes the fragmentation header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) == 0 {
		return Header{}, fmt.Errorf("%w: empty frame", core.ErrTruncated)
	}
	var h Header
	switch b[0] & dispatchMask {
	case DispatchFirst:
		h.First = true
	case DispatchNext:
	default:
		return Header{}, fmt.Errorf("%w: dispatch 0x%02x is not a fragment", core.ErrMalformedInput, b[0])
	}
	if len(b) < h.Len() {
		return Header{}, fmt.Errorf("%w: fragment header needs %d bytes, have %d", core.ErrTruncated, h.Len(), len(b))
	}
	h.Size = uint16(b[0]&0x07)<<8 | uint16(b[1])
	h.Tag = binary.BigEndian.Uint16(b[2:4])
	if !h.First {
		h.Offset = b[4]
	}
	return h, nil
}
