// Package core defines core data structures with zero external dependencies.
package core

// Datagram is an outbound 6LoWPAN unit ready for fragmentation: a
// dispatch-prefixed header followed by the untouched payload.
type Datagram struct {
	Header    []byte // dispatch + (compressed) IPv6/UDP header
	Payload   []byte // bytes after the uncompressed header
	HeaderLen int    // uncompressed header bytes that Header stands for
}

// Len is the number of bytes the datagram occupies on the link.
func (d Datagram) Len() int {
	return len(d.Header) + len(d.Payload)
}

// Size is the uncompressed datagram size, as carried in fragment headers.
func (d Datagram) Size() int {
	return d.HeaderLen + len(d.Payload)
}

// Bytes returns the header and payload as one contiguous frame body.
func (d Datagram) Bytes() []byte {
	b := make([]byte, 0, d.Len())
	b = append(b, d.Header...)
	return append(b, d.Payload...)
}
