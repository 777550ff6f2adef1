// Package adapter joins header compression and fragmentation into the
// per-interface 6LoWPAN adaptation layer: Send on the transmit path and
// Input on the receive path.
package adapter

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/frag"
	"firestige.xyz/lowpan/internal/core/iphc"
	"firestige.xyz/lowpan/internal/log"
	"firestige.xyz/lowpan/internal/metrics"
)

// Dispatch values recognised but not implemented.
const (
	dispatchHC1      = 0x42
	dispatchBC0      = 0x50
	dispatchMesh     = 0x80 // 10xxxxxx
	dispatchMeshMask = 0xc0
)

// LinkDriver is the link-layer endpoint the adapter transmits through.
type LinkDriver interface {
	MTU() int
	HeaderReserve() int
	LinkAddress() core.LinkAddress
	Send(frame []byte, dst core.LinkAddress) error
}

// DeliverFunc receives every datagram the adapter reconstructs, with the
// link addresses of the frame that completed it.
type DeliverFunc func(datagram []byte, src, dst core.LinkAddress)

// Config configures an Adapter.
type Config struct {
	Name       string       // interface label
	IPHC       bool         // compress headers on send; plain IPv6 dispatch otherwise
	InitialTag uint16       // first datagram tag
	IID        core.IIDFunc // link address to interface identifier
	Slots      int
	Timeout    time.Duration
	RateLimit  frag.RateLimiterConfig
	Clock      clock.WithDelayedExecution
	Logger     log.Logger
}

// Adapter is the 6LoWPAN adaptation layer of one interface.
type Adapter struct {
	name       string
	iphc       bool
	iid        core.IIDFunc
	link       LinkDriver
	deliver    DeliverFunc
	fragmenter *frag.Fragmenter
	cache      *frag.Cache
	logger     log.Logger
	stats      counters
}

// New creates an adapter sending through link and handing reconstructed
// datagrams to deliver.
func New(cfg Config, link LinkDriver, deliver DeliverFunc) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	logger = logger.WithField("interface", cfg.Name)
	a := &Adapter{
		name:       cfg.Name,
		iphc:       cfg.IPHC,
		iid:        cfg.IID,
		link:       link,
		deliver:    deliver,
		fragmenter: frag.NewFragmenter(cfg.InitialTag),
		logger:     logger,
	}
	a.cache = frag.NewCache(frag.CacheConfig{
		Name:      cfg.Name,
		Slots:     cfg.Slots,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Clock:     cfg.Clock,
		Sizer:     iphc.HeaderSizes,
		Logger:    logger,
		OnTimeout: func(size, tag uint16) { a.stats.timeouts.Add(1) },
	})
	return a
}

// Send transmits an uncompressed IPv6 datagram to the link destination
// dst, compressing and fragmenting as needed.
func (a *Adapter) Send(datagram []byte, dst core.LinkAddress) error {
	d, err := a.encode(datagram, dst)
	if err != nil {
		a.drop(err, "send", nil)
		return err
	}
	frames, err := a.fragmenter.Fragment(d, a.link.MTU(), a.link.HeaderReserve())
	if err != nil {
		a.drop(err, "send", nil)
		return err
	}
	for i, f := range frames {
		if err := a.link.Send(f, dst); err != nil {
			err = fmt.Errorf("frame %d/%d: %w", i+1, len(frames), err)
			a.stats.linkErrors.Add(1)
			metrics.DropsTotal.WithLabelValues(a.name, metrics.ReasonLink).Inc()
			a.logger.WithError(err).Debug("link send failed")
			return err
		}
		a.stats.framesSent.Add(1)
		metrics.FramesSentTotal.WithLabelValues(a.name).Inc()
	}
	a.stats.datagramsSent.Add(1)
	if len(frames) > 1 {
		a.stats.datagramsFragmented.Add(1)
		metrics.DatagramsFragmentedTotal.WithLabelValues(a.name).Inc()
	}
	return nil
}

// encode turns datagram into a dispatch-prefixed header and payload.
func (a *Adapter) encode(datagram []byte, dst core.LinkAddress) (core.Datagram, error) {
	if a.iphc {
		lc := core.LinkContext{Src: a.link.LinkAddress(), Dst: dst, IID: a.iid}
		hdr, consumed, err := iphc.Compress(datagram, lc)
		if err != nil {
			return core.Datagram{}, err
		}
		metrics.CompressedHeaderBytes.WithLabelValues(a.name).Observe(float64(len(hdr)))
		return core.Datagram{Header: hdr, Payload: datagram[consumed:], HeaderLen: consumed}, nil
	}
	if len(datagram) < core.IPv6HeaderLen {
		return core.Datagram{}, fmt.Errorf("%w: datagram of %d bytes is shorter than an ipv6 header",
			core.ErrMalformedInput, len(datagram))
	}
	hdr := make([]byte, 0, 1+core.IPv6HeaderLen)
	hdr = append(hdr, iphc.DispatchIPv6)
	hdr = append(hdr, datagram[:core.IPv6HeaderLen]...)
	return core.Datagram{Header: hdr, Payload: datagram[core.IPv6HeaderLen:], HeaderLen: core.IPv6HeaderLen}, nil
}

// Input processes one received link frame. Frames that cannot be turned
// into a datagram are dropped and counted.
func (a *Adapter) Input(frame []byte, src, dst core.LinkAddress) {
	_ = a.receive(frame, src, dst)
}

// receive is Input with the drop reason returned.
func (a *Adapter) receive(frame []byte, src, dst core.LinkAddress) error {
	a.stats.framesReceived.Add(1)
	if len(frame) == 0 {
		err := fmt.Errorf("%w: empty frame", core.ErrTruncated)
		metrics.FramesReceivedTotal.WithLabelValues(a.name, "none").Inc()
		a.drop(err, "receive", src)
		return err
	}

	lc := core.LinkContext{Src: src, Dst: dst, IID: a.iid}
	var (
		datagram []byte
		err      error
	)
	dispatch := frame[0]
	switch {
	case dispatch == iphc.DispatchIPv6:
		metrics.FramesReceivedTotal.WithLabelValues(a.name, "ipv6").Inc()
		datagram, err = a.decode(frame, lc)
	case dispatch&iphc.DispatchIPHCMask == iphc.DispatchIPHC:
		metrics.FramesReceivedTotal.WithLabelValues(a.name, "iphc").Inc()
		datagram, err = a.decode(frame, lc)
	case frag.IsFragment(dispatch):
		metrics.FramesReceivedTotal.WithLabelValues(a.name, "frag").Inc()
		var done bool
		datagram, done, err = a.reassemble(frame, lc)
		if err == nil && !done {
			return nil
		}
	default:
		metrics.FramesReceivedTotal.WithLabelValues(a.name, "other").Inc()
		err = classify(dispatch)
	}
	if err != nil {
		a.drop(err, "receive", src)
		return err
	}

	a.stats.datagramsDelivered.Add(1)
	metrics.DatagramsDeliveredTotal.WithLabelValues(a.name).Inc()
	if a.deliver != nil {
		a.deliver(datagram, src, dst)
	}
	return nil
}

// reassemble feeds a fragment to the cache and decodes the datagram once
// it is complete.
func (a *Adapter) reassemble(frame []byte, lc core.LinkContext) ([]byte, bool, error) {
	h, err := frag.ParseHeader(frame)
	if err != nil {
		return nil, false, err
	}
	body, done, err := a.cache.Insert(frag.Fragment{
		Header:  h,
		Payload: frame[h.Len():],
		Source:  lc.Src,
	})
	if err != nil || !done {
		return nil, false, err
	}
	a.stats.datagramsReassembled.Add(1)
	metrics.DatagramsReassembledTotal.WithLabelValues(a.name).Inc()

	datagram, err := a.decode(body, lc)
	if err != nil {
		return nil, false, err
	}
	if len(datagram) != int(h.Size) {
		return nil, false, fmt.Errorf("%w: reassembled datagram is %d bytes, fragments declared %d",
			core.ErrMalformedInput, len(datagram), h.Size)
	}
	return datagram, true, nil
}

// decode turns a dispatch-prefixed unit into an uncompressed datagram.
func (a *Adapter) decode(b []byte, lc core.LinkContext) ([]byte, error) {
	switch {
	case len(b) == 0:
		return nil, fmt.Errorf("%w: empty datagram", core.ErrTruncated)
	case b[0] == iphc.DispatchIPv6:
		if len(b)-1 < core.IPv6HeaderLen {
			return nil, fmt.Errorf("%w: ipv6 header needs %d bytes, have %d",
				core.ErrTruncated, core.IPv6HeaderLen, len(b)-1)
		}
		return append([]byte(nil), b[1:]...), nil
	case b[0]&iphc.DispatchIPHCMask == iphc.DispatchIPHC:
		return iphc.Decompress(b, lc)
	default:
		return nil, fmt.Errorf("%w: dispatch %#02x inside fragmented datagram", core.ErrMalformedInput, b[0])
	}
}

// classify rejects a dispatch the adapter does not process.
func classify(dispatch byte) error {
	switch {
	case dispatch == dispatchHC1:
		return fmt.Errorf("%w: HC1 compression", core.ErrUnsupportedFeature)
	case dispatch == dispatchBC0:
		return fmt.Errorf("%w: broadcast header", core.ErrUnsupportedFeature)
	case dispatch&dispatchMeshMask == dispatchMesh:
		return fmt.Errorf("%w: mesh addressing header", core.ErrUnsupportedFeature)
	default:
		return fmt.Errorf("%w: unknown dispatch %#02x", core.ErrMalformedInput, dispatch)
	}
}

// drop counts err under its reason and logs it.
func (a *Adapter) drop(err error, path string, src core.LinkAddress) {
	reason := a.stats.record(err)
	metrics.DropsTotal.WithLabelValues(a.name, reason).Inc()
	if a.logger.IsDebugEnabled() {
		fields := map[string]interface{}{"path": path, "reason": reason}
		if src != nil {
			fields["src"] = src.String()
		}
		a.logger.WithFields(fields).WithError(err).Debug("dropped")
	}
}

// Close discards every pending reassembly.
func (a *Adapter) Close() {
	a.cache.Clear()
}

// Pending returns the number of datagrams under reassembly.
func (a *Adapter) Pending() int {
	return a.cache.Len()
}

// Stats returns a snapshot of the adapter counters.
func (a *Adapter) Stats() Stats {
	s := a.stats.snapshot()
	s.Pending = a.cache.Len()
	return s
}
