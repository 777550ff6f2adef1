// Package channel provides an in-memory link endpoint. Outbound frames are
// queued on a channel and read back by the peer or by tests.
package channel

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/lowpan/internal/core"
)

// DefaultQueue is the frame queue length when Options.Queue is unset.
const DefaultQueue = 256

// Options tunes the endpoint. They are decoded from the free-form
// link.options configuration map.
type Options struct {
	Queue   int     `mapstructure:"queue"`   // frames buffered before Send drops
	Loss    float64 `mapstructure:"loss"`    // probability of dropping a frame on Drain
	Shuffle bool    `mapstructure:"shuffle"` // deliver drained frames in random order
	Seed    uint64  `mapstructure:"seed"`    // PRNG seed for loss and shuffle
}

// ParseOptions decodes an options map. Unknown keys are rejected.
func ParseOptions(m map[string]any) (Options, error) {
	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Options{}, err
	}
	if err := dec.Decode(m); err != nil {
		return Options{}, fmt.Errorf("%w: link options: %v", core.ErrConfigInvalid, err)
	}
	if opts.Queue < 0 {
		return Options{}, fmt.Errorf("%w: link options: negative queue %d", core.ErrConfigInvalid, opts.Queue)
	}
	if opts.Loss < 0 || opts.Loss >= 1 {
		return Options{}, fmt.Errorf("%w: link options: loss %v outside [0,1)", core.ErrConfigInvalid, opts.Loss)
	}
	return opts, nil
}

// Frame is one link frame in flight.
type Frame struct {
	Data []byte
	Src  core.LinkAddress
	Dst  core.LinkAddress
}

// Endpoint is an in-memory link endpoint.
type Endpoint struct {
	mtu      int
	reserve  int
	linkAddr core.LinkAddress
	C        chan Frame

	mu      sync.Mutex // guards rng
	rng     *rand.Rand
	opts    Options
	dropped int
}

// New creates an endpoint with the given link address, MTU and link-layer
// header reserve.
func New(linkAddr core.LinkAddress, mtu, reserve int, opts Options) *Endpoint {
	if opts.Queue == 0 {
		opts.Queue = DefaultQueue
	}
	return &Endpoint{
		mtu:      mtu,
		reserve:  reserve,
		linkAddr: linkAddr,
		C:        make(chan Frame, opts.Queue),
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		opts:     opts,
	}
}

func (e *Endpoint) MTU() int {
	return e.mtu
}

func (e *Endpoint) HeaderReserve() int {
	return e.reserve
}

func (e *Endpoint) LinkAddress() core.LinkAddress {
	return e.linkAddr
}

// Send queues a copy of frame. A full queue is reported as an error.
func (e *Endpoint) Send(frame []byte, dst core.LinkAddress) error {
	if len(frame) > e.mtu-e.reserve {
		return fmt.Errorf("frame of %d bytes exceeds link payload of %d", len(frame), e.mtu-e.reserve)
	}
	f := Frame{
		Data: append([]byte(nil), frame...),
		Src:  e.linkAddr,
		Dst:  dst,
	}
	select {
	case e.C <- f:
		return nil
	default:
		return fmt.Errorf("link queue full (%d frames)", cap(e.C))
	}
}

// Drain empties the queue and returns the frames that survived the
// configured loss, shuffled if requested.
func (e *Endpoint) Drain() []Frame {
	var frames []Frame
loop:
	for {
		select {
		case f := <-e.C:
			frames = append(frames, f)
		default:
			break loop
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	kept := frames[:0]
	for _, f := range frames {
		if e.opts.Loss > 0 && e.rng.Float64() < e.opts.Loss {
			e.dropped++
			continue
		}
		kept = append(kept, f)
	}
	if e.opts.Shuffle {
		e.rng.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })
	}
	return kept
}

// Dropped returns the number of frames discarded by simulated loss.
func (e *Endpoint) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}
