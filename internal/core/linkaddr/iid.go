// Package linkaddr derives IPv6 interface identifiers from link-layer
// addresses. The functions satisfy core.IIDFunc and are injected into the
// header codec through core.LinkContext.
package linkaddr

import (
	"net/netip"

	"firestige.xyz/lowpan/internal/core"
)

// universalLocal is the U/L bit that EUI-64 based identifiers invert.
const universalLocal = 0x02

// Derive picks a derivation by address length: 8 bytes as EUI-64, 6 bytes
// as EUI-48 and 2 bytes as an IEEE 802.15.4 short address.
func Derive(addr core.LinkAddress) ([8]byte, bool) {
	switch len(addr) {
	case 8:
		return EUI64(addr)
	case 6:
		return EUI48(addr)
	case 2:
		return Short(addr)
	}
	return [8]byte{}, false
}

// EUI64 copies an 8-byte extended address and flips the U/L bit.
func EUI64(addr core.LinkAddress) ([8]byte, bool) {
	var iid [8]byte
	if len(addr) != 8 {
		return iid, false
	}
	copy(iid[:], addr)
	iid[0] ^= universalLocal
	return iid, true
}

// EUI48 expands a 48-bit MAC to a modified EUI-64 by inserting ff:fe.
func EUI48(addr core.LinkAddress) ([8]byte, bool) {
	var iid [8]byte
	if len(addr) != 6 {
		return iid, false
	}
	copy(iid[0:3], addr[0:3])
	iid[3], iid[4] = 0xff, 0xfe
	copy(iid[5:8], addr[3:6])
	iid[0] ^= universalLocal
	return iid, true
}

// Short maps a 16-bit short address to 0000:00ff:fe00:XXXX.
func Short(addr core.LinkAddress) ([8]byte, bool) {
	var iid [8]byte
	if len(addr) != 2 {
		return iid, false
	}
	iid[3], iid[4] = 0xff, 0xfe
	iid[6], iid[7] = addr[0], addr[1]
	return iid, true
}

// LinkLocal returns the fe80::/64 address of addr.
func LinkLocal(addr core.LinkAddress) (netip.Addr, bool) {
	iid, ok := Derive(addr)
	if !ok {
		return netip.Addr{}, false
	}
	var a [16]byte
	a[0], a[1] = 0xfe, 0x80
	copy(a[8:], iid[:])
	return netip.AddrFrom16(a), true
}
