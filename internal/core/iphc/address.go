package iphc

import (
	"fmt"

	"firestige.xyz/lowpan/internal/core"
)

// iid16Prefix is the 0000:00ff:fe00 prefix of a 16-bit-derived identifier.
var iid16Prefix = [6]byte{0x00, 0x00, 0x00, 0xff, 0xfe, 0x00}

func allZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// isLinkLocal64 reports fe80::/64 with bytes 2..7 zero.
func isLinkLocal64(a *[16]byte) bool {
	return a[0] == 0xfe && a[1] == 0x80 && allZero(a[2:8])
}

func isIID16(a *[16]byte) bool {
	return [6]byte(a[8:14]) == iid16Prefix
}

// compressUnicast writes the inline part of a unicast address and returns
// the SAM/DAM mode.
func compressUnicast(w *writer, a *[16]byte, derive func() ([8]byte, bool)) uint8 {
	if !isLinkLocal64(a) {
		w.bytes(a[:])
		return addrInline
	}
	if isIID16(a) {
		w.bytes(a[14:16])
		return addr16
	}
	if iid, ok := derive(); ok && iid == [8]byte(a[8:16]) {
		return addrElided
	}
	w.bytes(a[8:16])
	return addr64
}

// compressMulticast picks the shortest of the four multicast forms.
func compressMulticast(w *writer, a *[16]byte) uint8 {
	switch {
	case a[1] == 0x02 && allZero(a[2:15]):
		w.byte(a[15])
		return mcast8
	case allZero(a[2:13]):
		w.byte(a[1])
		w.bytes(a[13:16])
		return mcast32
	case allZero(a[2:11]):
		w.byte(a[1])
		w.bytes(a[11:16])
		return mcast48
	}
	w.bytes(a[:])
	return mcastInline
}

func linkLocal() [16]byte {
	return [16]byte{0: 0xfe, 1: 0x80}
}

func decompressUnicast(r *reader, mode uint8, derive func() ([8]byte, bool), field string) ([16]byte, error) {
	a := linkLocal()
	switch mode {
	case addrInline:
		p, err := r.next(16, field)
		if err != nil {
			return a, err
		}
		return [16]byte(p), nil
	case addr64:
		p, err := r.next(8, field)
		if err != nil {
			return a, err
		}
		copy(a[8:], p)
	case addr16:
		p, err := r.next(2, field)
		if err != nil {
			return a, err
		}
		copy(a[8:14], iid16Prefix[:])
		copy(a[14:], p)
	case addrElided:
		iid, ok := derive()
		if !ok {
			return a, fmt.Errorf("%w: %s elided but no interface identifier derivable from link address",
				core.ErrMalformedInput, field)
		}
		copy(a[8:], iid[:])
	}
	return a, nil
}

func decompressMulticast(r *reader, mode uint8, field string) ([16]byte, error) {
	a := [16]byte{0: 0xff}
	switch mode {
	case mcastInline:
		p, err := r.next(16, field)
		if err != nil {
			return a, err
		}
		return [16]byte(p), nil
	case mcast48:
		p, err := r.next(6, field)
		if err != nil {
			return a, err
		}
		a[1] = p[0]
		copy(a[11:], p[1:])
	case mcast32:
		p, err := r.next(4, field)
		if err != nil {
			return a, err
		}
		a[1] = p[0]
		copy(a[13:], p[1:])
	case mcast8:
		p, err := r.next(1, field)
		if err != nil {
			return a, err
		}
		a[1] = 0x02
		a[15] = p[0]
	}
	return a, nil
}

// inline byte counts per mode, indexed by SAM/DAM.
var (
	unicastLen   = [4]int{16, 8, 2, 0}
	multicastLen = [4]int{16, 6, 4, 1}
	tfLen        = [4]int{4, 3, 1, 0}
	portsLen     = [4]int{4, 3, 3, 1}
)
