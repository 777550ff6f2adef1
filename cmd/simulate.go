package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/lowpan/internal/adapter"
	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/link/channel"
	"firestige.xyz/lowpan/internal/log"
	"firestige.xyz/lowpan/internal/metrics"
	"firestige.xyz/lowpan/internal/sim"
)

type simulateOptions struct {
	datagrams  int
	minPayload int
	maxPayload int
	multicast  bool
	seed       uint64
	pcap       string
	hold       time.Duration
}

type simulateReport struct {
	Sent        int           `yaml:"sent"`
	Delivered   int           `yaml:"delivered"`
	Lost        int           `yaml:"lost"`
	Corrupted   int           `yaml:"corrupted"`
	SendErrors  int           `yaml:"send_errors"`
	LinkDropped int           `yaml:"link_dropped"`
	Sender      adapter.Stats `yaml:"sender"`
	Receiver    adapter.Stats `yaml:"receiver"`
}

func newSimulateCmd(a *app) *cobra.Command {
	var o simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run two adapters against each other over an in-memory link",
		Long: `Send generated IPv6/UDP datagrams from one adapter to another over the
channel link. Loss, reordering and queue size come from link.options
(loss, shuffle, queue, seed). Every delivered datagram is checked byte for
byte against what was sent.

When metrics.enabled is set the Prometheus endpoint is served during the run
and for --hold afterwards.

Examples:
  lowpan simulate --datagrams 100 --max-payload 1200
  lowpan simulate -c lossy.yaml --pcap delivered.pcap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			report, err := a.simulate(ctx, o)
			if report != nil {
				if werr := yaml.NewEncoder(cmd.OutOrStdout()).Encode(report); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&o.datagrams, "datagrams", "n", sim.DefaultDatagrams, "number of datagrams to send")
	cmd.Flags().IntVar(&o.minPayload, "min-payload", 4, "smallest UDP payload in bytes")
	cmd.Flags().IntVar(&o.maxPayload, "max-payload", 600, "largest UDP payload in bytes")
	cmd.Flags().BoolVar(&o.multicast, "multicast", false, "send every other datagram to ff02::1")
	cmd.Flags().Uint64Var(&o.seed, "seed", 1, "payload generator seed")
	cmd.Flags().StringVar(&o.pcap, "pcap", "", "write delivered datagrams to this pcap file")
	cmd.Flags().DurationVar(&o.hold, "hold", 0, "keep the metrics endpoint up this long after the run")
	return cmd
}

func (a *app) simulate(ctx context.Context, o simulateOptions) (*simulateReport, error) {
	opts, err := channel.ParseOptions(a.cfg.Link.Options)
	if err != nil {
		return nil, err
	}
	src, err := a.cfg.LocalLinkAddress()
	if err != nil {
		return nil, err
	}
	logger := log.GetLogger()

	if a.cfg.Metrics.Enabled {
		srv := metrics.NewServer(a.cfg.Metrics.Listen, a.cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if o.hold > 0 {
				logger.WithField("hold", o.hold).Info("holding metrics endpoint")
				select {
				case <-ctx.Done():
				case <-time.After(o.hold):
				}
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				logger.WithError(err).Warn("metrics server shutdown")
			}
		}()
	}

	cfg := sim.Config{
		Datagrams:  o.datagrams,
		MinPayload: o.minPayload,
		MaxPayload: o.maxPayload,
		Multicast:  o.multicast,
		Seed:       o.seed,
		SenderAddr: src,
		MTU:        a.cfg.Link.MTU,
		Reserve:    a.cfg.Link.HeaderReserve,
		Link:       opts,
		Adapter:    a.adapterConfig(),
		Logger:     logger,
	}
	// the receiver needs an address of the same kind as the sender
	cfg.ReceiverAddr = append(core.LinkAddress(nil), src...)
	cfg.ReceiverAddr[len(src)-1] ^= 0x03

	if o.pcap != "" {
		f, err := os.Create(o.pcap)
		if err != nil {
			return nil, fmt.Errorf("create pcap: %w", err)
		}
		defer f.Close()
		cfg.Pcap = f
	}

	res, err := sim.Run(ctx, cfg)
	report := &simulateReport{
		Sent:        res.Sent,
		Delivered:   res.Delivered,
		Lost:        res.Lost(),
		Corrupted:   res.Corrupted,
		SendErrors:  res.SendErrors,
		LinkDropped: res.LinkDropped,
		Sender:      res.Sender,
		Receiver:    res.Receiver,
	}
	return report, err
}
