package adapter

import (
	"errors"
	"sync/atomic"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/metrics"
)

// Stats is a snapshot of adapter counters.
type Stats struct {
	FramesSent           uint64 `yaml:"frames_sent"`
	FramesReceived       uint64 `yaml:"frames_received"`
	DatagramsSent        uint64 `yaml:"datagrams_sent"`
	DatagramsFragmented  uint64 `yaml:"datagrams_fragmented"`
	DatagramsDelivered   uint64 `yaml:"datagrams_delivered"`
	DatagramsReassembled uint64 `yaml:"datagrams_reassembled"`

	Malformed   uint64 `yaml:"malformed"`
	Unsupported uint64 `yaml:"unsupported"`
	Truncated   uint64 `yaml:"truncated"`
	CacheFull   uint64 `yaml:"cache_full"`
	Overlap     uint64 `yaml:"overlap"`
	RateLimited uint64 `yaml:"rate_limited"`
	TooLarge    uint64 `yaml:"too_large"`
	Timeouts    uint64 `yaml:"timeouts"`
	LinkErrors  uint64 `yaml:"link_errors"`

	Pending int `yaml:"pending"` // datagrams under reassembly
}

// Dropped sums every drop counter.
func (s Stats) Dropped() uint64 {
	return s.Malformed + s.Unsupported + s.Truncated + s.CacheFull + s.Overlap +
		s.RateLimited + s.TooLarge + s.Timeouts + s.LinkErrors
}

type counters struct {
	framesSent           atomic.Uint64
	framesReceived       atomic.Uint64
	datagramsSent        atomic.Uint64
	datagramsFragmented  atomic.Uint64
	datagramsDelivered   atomic.Uint64
	datagramsReassembled atomic.Uint64

	malformed   atomic.Uint64
	unsupported atomic.Uint64
	truncated   atomic.Uint64
	cacheFull   atomic.Uint64
	overlap     atomic.Uint64
	rateLimited atomic.Uint64
	tooLarge    atomic.Uint64
	timeouts    atomic.Uint64
	linkErrors  atomic.Uint64
}

// record counts err and returns its metrics reason.
func (c *counters) record(err error) string {
	switch {
	case errors.Is(err, core.ErrTruncated):
		c.truncated.Add(1)
		return metrics.ReasonTruncated
	case errors.Is(err, core.ErrUnsupportedFeature):
		c.unsupported.Add(1)
		return metrics.ReasonUnsupported
	case errors.Is(err, core.ErrCacheFull):
		c.cacheFull.Add(1)
		return metrics.ReasonCacheFull
	case errors.Is(err, core.ErrOverlap):
		c.overlap.Add(1)
		return metrics.ReasonOverlap
	case errors.Is(err, core.ErrRateLimited):
		c.rateLimited.Add(1)
		return metrics.ReasonRateLimited
	case errors.Is(err, core.ErrDatagramTooLarge), errors.Is(err, core.ErrLinkMTU):
		c.tooLarge.Add(1)
		return metrics.ReasonTooLarge
	default:
		c.malformed.Add(1)
		return metrics.ReasonMalformed
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesSent:           c.framesSent.Load(),
		FramesReceived:       c.framesReceived.Load(),
		DatagramsSent:        c.datagramsSent.Load(),
		DatagramsFragmented:  c.datagramsFragmented.Load(),
		DatagramsDelivered:   c.datagramsDelivered.Load(),
		DatagramsReassembled: c.datagramsReassembled.Load(),
		Malformed:            c.malformed.Load(),
		Unsupported:          c.unsupported.Load(),
		Truncated:            c.truncated.Load(),
		CacheFull:            c.cacheFull.Load(),
		Overlap:              c.overlap.Load(),
		RateLimited:          c.rateLimited.Load(),
		TooLarge:             c.tooLarge.Load(),
		Timeouts:             c.timeouts.Load(),
		LinkErrors:           c.linkErrors.Load(),
	}
}
