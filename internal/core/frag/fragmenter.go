package frag

import (
	"fmt"
	"sync/atomic"

	"firestige.xyz/lowpan/internal/core"
)

// Fragmenter splits datagrams into link frames. Each instance owns its
// datagram tag sequence.
type Fragmenter struct {
	tag atomic.Uint32
}

// NewFragmenter creates a fragmenter whose first tag is initialTag.
func NewFragmenter(initialTag uint16) *Fragmenter {
	f := &Fragmenter{}
	f.tag.Store(uint32(initialTag))
	return f
}

// nextTag returns the current tag and advances the counter, wrapping at 16 bits.
func (f *Fragmenter) nextTag() uint16 {
	return uint16(f.tag.Add(1) - 1)
}

func roundDown8(n int) int {
	return n &^ 7
}

// Fragment returns the frames carrying d over a link with the given MTU and
// link-layer header reserve, in transmission order. A datagram that fits is
// returned as one frame without a fragmentation header.
//
// Sizes and offsets are in uncompressed bytes: the first fragment carries
// the compressed header plus as much payload as keeps the next offset a
// multiple of 8.
func (f *Fragmenter) Fragment(d core.Datagram, mtu, reserve int) ([][]byte, error) {
	room := mtu - reserve
	if d.Len() <= room {
		return [][]byte{d.Bytes()}, nil
	}
	if d.Size() > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrDatagramTooLarge, d.Size(), MaxDatagramSize)
	}

	first := roundDown8(d.HeaderLen+room-FirstHeaderLen-len(d.Header)) - d.HeaderLen
	next := roundDown8(room - NextHeaderLen)
	if first <= 0 || next <= 0 {
		return nil, fmt.Errorf("%w: %d usable bytes cannot carry a %d byte header and 8 bytes of payload",
			core.ErrLinkMTU, room, FirstHeaderLen+len(d.Header))
	}
	first = min(first, len(d.Payload))

	h := Header{First: true, Size: uint16(d.Size()), Tag: f.nextTag()}
	frames := make([][]byte, 0, 1+(len(d.Payload)-first+next-1)/next)

	frame := make([]byte, 0, FirstHeaderLen+len(d.Header)+first)
	frame = h.Append(frame)
	frame = append(frame, d.Header...)
	frame = append(frame, d.Payload[:first]...)
	frames = append(frames, frame)

	h.First = false
	sent := d.HeaderLen + first
	for pos := first; pos < len(d.Payload); {
		n := min(next, len(d.Payload)-pos)
		h.Offset = uint8(sent / 8)
		frame := make([]byte, 0, NextHeaderLen+n)
		frame = h.Append(frame)
		frame = append(frame, d.Payload[pos:pos+n]...)
		frames = append(frames, frame)
		pos += n
		sent += n
	}
	return frames, nil
}
