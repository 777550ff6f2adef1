package sim

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/lowpan/internal/adapter"
	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/frag"
	"firestige.xyz/lowpan/internal/core/linkaddr"
	"firestige.xyz/lowpan/internal/link/channel"
	"firestige.xyz/lowpan/internal/log"
)

// Simulation defaults.
const (
	DefaultDatagrams = 32
	DefaultPort      = 0xf0b1

	seqLen       = 4
	pollInterval = time.Millisecond
)

// Config describes a simulation run.
type Config struct {
	Datagrams  int
	MinPayload int // at least 4, the sequence number
	MaxPayload int
	Multicast  bool // send every other datagram to ff02::1
	Seed       uint64

	SenderAddr   core.LinkAddress
	ReceiverAddr core.LinkAddress
	MTU          int
	Reserve      int
	Link         channel.Options

	// Adapter is the template for both nodes; Name gets a per-node suffix.
	Adapter adapter.Config

	Pcap   io.Writer // delivered datagrams in pcap format, optional
	Logger log.Logger
}

// Result summarises a run.
type Result struct {
	Sent        int
	SendErrors  int
	Delivered   int
	Corrupted   int
	Duplicated  int
	LinkDropped int
	Sender      adapter.Stats
	Receiver    adapter.Stats
}

// Lost is the number of datagrams sent but never delivered.
func (r Result) Lost() int {
	return r.Sent - r.Delivered + r.Duplicated
}

func (c *Config) applyDefaults() {
	if c.Datagrams <= 0 {
		c.Datagrams = DefaultDatagrams
	}
	if c.MinPayload < seqLen {
		c.MinPayload = seqLen
	}
	if c.MaxPayload < c.MinPayload {
		c.MaxPayload = c.MinPayload
	}
	if c.SenderAddr == nil {
		c.SenderAddr = core.LinkAddress{0x02, 0, 0, 0, 0, 0, 0, 0x01}
	}
	if c.ReceiverAddr == nil {
		c.ReceiverAddr = core.LinkAddress{0x02, 0, 0, 0, 0, 0, 0, 0x02}
	}
	if c.MTU <= 0 {
		c.MTU = 127
	}
	if c.Adapter.Name == "" {
		c.Adapter.Name = "sim"
	}
	if c.Adapter.IID == nil {
		c.Adapter.IID = linkaddr.Derive
	}
	if c.Logger == nil {
		c.Logger = log.GetLogger()
	}
	if c.Link.Queue == 0 {
		// room for every frame of the run
		size := core.IPv6HeaderLen + core.UDPHeaderLen + c.MaxPayload
		perDatagram := size/max(c.MTU-c.Reserve-frag.NextHeaderLen, 8) + 2
		c.Link.Queue = c.Datagrams * perDatagram
	}
}

// Run sends cfg.Datagrams datagrams from a sender node to a receiver node
// and verifies every delivered datagram byte for byte.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.applyDefaults()
	logger := cfg.Logger.WithField("component", "sim")

	datagrams, err := generate(cfg)
	if err != nil {
		return Result{}, err
	}

	var pw *pcapgo.Writer
	if cfg.Pcap != nil {
		pw = pcapgo.NewWriter(cfg.Pcap)
		if err := pw.WriteFileHeader(65535, layers.LinkTypeRaw); err != nil {
			return Result{}, fmt.Errorf("write pcap header: %w", err)
		}
	}

	var (
		res  Result
		mu   sync.Mutex
		seen = make(map[uint32]bool, len(datagrams))
		werr error
	)
	deliver := func(d []byte, src, dst core.LinkAddress) {
		mu.Lock()
		defer mu.Unlock()
		if pw != nil && werr == nil {
			ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(d), Length: len(d)}
			werr = pw.WritePacket(ci, d)
		}
		seq, ok := sequence(d)
		if !ok || int(seq) >= len(datagrams) || !bytes.Equal(d, datagrams[seq]) {
			res.Corrupted++
			logger.WithField("len", len(d)).Warn("delivered datagram does not match any sent datagram")
			return
		}
		if seen[seq] {
			res.Duplicated++
		}
		seen[seq] = true
		res.Delivered++
	}

	senderLink := channel.New(cfg.SenderAddr, cfg.MTU, cfg.Reserve, cfg.Link)
	receiverLink := channel.New(cfg.ReceiverAddr, cfg.MTU, cfg.Reserve, channel.Options{})

	scfg, rcfg := cfg.Adapter, cfg.Adapter
	scfg.Name = cfg.Adapter.Name + "-tx"
	rcfg.Name = cfg.Adapter.Name + "-rx"
	sender := adapter.New(scfg, senderLink, nil)
	receiver := adapter.New(rcfg, receiverLink, deliver)
	defer sender.Close()
	defer receiver.Close()

	sent := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(sent)
		for _, d := range datagrams {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := sender.Send(d, cfg.ReceiverAddr); err != nil {
				res.SendErrors++
				logger.WithError(err).Debug("send failed")
				continue
			}
			res.Sent++
		}
		return nil
	})
	g.Go(func() error {
		pump := func() {
			for _, f := range senderLink.Drain() {
				receiver.Input(f.Data, f.Src, f.Dst)
			}
		}
		tick := time.NewTicker(pollInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-sent:
				pump()
				return nil
			case <-tick.C:
				pump()
			}
		}
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.LinkDropped = senderLink.Dropped()
	res.Sender = sender.Stats()
	res.Receiver = receiver.Stats()
	if werr != nil {
		return res, fmt.Errorf("write pcap: %w", werr)
	}
	logger.WithFields(map[string]interface{}{
		"sent": res.Sent, "delivered": res.Delivered, "corrupted": res.Corrupted,
		"frames": res.Sender.FramesSent, "link_dropped": res.LinkDropped,
	}).Info("simulation finished")
	if res.Corrupted > 0 {
		return res, errors.New("simulation delivered corrupted datagrams")
	}
	return res, nil
}

// generate builds the datagrams of a run. The first four payload bytes
// carry the sequence number.
func generate(cfg Config) ([][]byte, error) {
	src, ok := linkaddr.LinkLocal(cfg.SenderAddr)
	if !ok {
		return nil, fmt.Errorf("%w: sender link address %s", core.ErrConfigInvalid, cfg.SenderAddr)
	}
	dst, ok := linkaddr.LinkLocal(cfg.ReceiverAddr)
	if !ok {
		return nil, fmt.Errorf("%w: receiver link address %s", core.ErrConfigInvalid, cfg.ReceiverAddr)
	}
	allNodes := netip.MustParseAddr("ff02::1")

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	out := make([][]byte, cfg.Datagrams)
	for i := range out {
		n := cfg.MinPayload
		if cfg.MaxPayload > cfg.MinPayload {
			n += rng.IntN(cfg.MaxPayload - cfg.MinPayload + 1)
		}
		payload := make([]byte, n)
		binary.BigEndian.PutUint32(payload, uint32(i))
		for j := seqLen; j < n; j++ {
			payload[j] = byte(rng.Uint32())
		}
		u := UDPSpec{
			Src:      src,
			Dst:      dst,
			SrcPort:  DefaultPort,
			DstPort:  DefaultPort + 1,
			HopLimit: 64,
			Payload:  payload,
		}
		if cfg.Multicast && i%2 == 1 {
			u.Dst = allNodes
			u.HopLimit = 255
		}
		d, err := BuildUDP(u)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func sequence(datagram []byte) (uint32, bool) {
	p, err := UDPPayload(datagram)
	if err != nil || len(p) < seqLen {
		return 0, false
	}
	return binary.BigEndian.Uint32(p), true
}
