// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w", ...) and
// classify with errors.Is.
var (
	// Decoding errors
	ErrMalformedInput     = errors.New("lowpan: malformed input")
	ErrUnsupportedFeature = errors.New("lowpan: unsupported feature")
	ErrTruncated          = errors.New("lowpan: truncated frame")

	// Fragmentation errors
	ErrDatagramTooLarge = errors.New("lowpan: datagram too large to fragment")
	ErrLinkMTU          = errors.New("lowpan: link mtu too small")

	// Reassembly errors
	ErrCacheFull         = errors.New("lowpan: reassembly cache full")
	ErrReassemblyTimeout = errors.New("lowpan: fragment reassembly timeout")
	ErrOverlap           = errors.New("lowpan: overlapping fragment")
	ErrRateLimited       = errors.New("lowpan: fragment rate limit exceeded")

	// Configuration errors
	ErrConfigInvalid = errors.New("lowpan: invalid configuration")
)
