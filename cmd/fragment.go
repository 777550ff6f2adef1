package cmd

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/lowpan/internal/adapter"
	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/frag"
)

// recorder is a link driver that keeps every frame sent through it.
type recorder struct {
	mtu     int
	reserve int
	addr    core.LinkAddress
	frames  [][]byte
}

func (r *recorder) MTU() int                      { return r.mtu }
func (r *recorder) HeaderReserve() int            { return r.reserve }
func (r *recorder) LinkAddress() core.LinkAddress { return r.addr }

func (r *recorder) Send(frame []byte, dst core.LinkAddress) error {
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

type frameReport struct {
	Kind   string `yaml:"kind"` // whole | first | next
	Size   uint16 `yaml:"size"`
	Tag    uint16 `yaml:"tag"`
	Offset int    `yaml:"offset"`
	Bytes  int    `yaml:"bytes"`
	Hex    string `yaml:"hex"`
}

type fragmentReport struct {
	Datagram    int           `yaml:"datagram_bytes"`
	LinkPayload int           `yaml:"link_payload"`
	Frames      []frameReport `yaml:"frames"`
	Reassembled *bool         `yaml:"reassembled,omitempty"`
}

func newFragmentCmd(a *app) *cobra.Command {
	var (
		dstLink      string
		mtu, reserve int
		verify       bool
		df           datagramFlags
	)
	cmd := &cobra.Command{
		Use:   "fragment [hex]",
		Short: "Show the link frames an IPv6 datagram is sent as",
		Long: `Run a datagram through the transmit path (header compression when
interface.dispatch is iphc, then fragmentation) and print every link frame.
With --verify the frames are fed to a receiving adapter and the reassembled
datagram is compared with the input.

Examples:
  lowpan fragment --src fe80::1 --dst fe80::2 --payload "$(head -c 300 /dev/zero | tr '\0' x)"
  lowpan fragment --mtu 80 --reserve 0 --verify 6000000001...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			datagram, err := df.datagram(cmd, args)
			if err != nil {
				return err
			}
			if mtu == 0 {
				mtu = a.cfg.Link.MTU
			}
			if reserve < 0 {
				reserve = a.cfg.Link.HeaderReserve
			}
			report, err := a.fragment(datagram, dstLink, mtu, reserve, verify)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(report)
		},
	}
	cmd.Flags().StringVar(&dstLink, "dst-link", defaultPeerLink, "link destination address")
	cmd.Flags().IntVar(&mtu, "mtu", 0, "link MTU (default: link.mtu)")
	cmd.Flags().IntVar(&reserve, "reserve", -1, "link header reserve (default: link.header_reserve)")
	cmd.Flags().BoolVar(&verify, "verify", false, "reassemble the frames and compare with the input")
	df.register(cmd)
	return cmd
}

func (a *app) fragment(datagram []byte, dstLink string, mtu, reserve int, verify bool) (*fragmentReport, error) {
	src, err := a.cfg.LocalLinkAddress()
	if err != nil {
		return nil, err
	}
	dst, err := a.linkAddress(dstLink)
	if err != nil {
		return nil, fmt.Errorf("destination link address: %w", err)
	}

	tx := &recorder{mtu: mtu, reserve: reserve, addr: src}
	if err := adapter.New(a.adapterConfig(), tx, nil).Send(datagram, dst); err != nil {
		return nil, err
	}

	report := &fragmentReport{Datagram: len(datagram), LinkPayload: mtu - reserve}
	for _, f := range tx.frames {
		fr := frameReport{Kind: "whole", Bytes: len(f), Hex: hex.EncodeToString(f)}
		if frag.IsFragment(f[0]) {
			h, err := frag.ParseHeader(f)
			if err != nil {
				return nil, err
			}
			fr.Kind = "next"
			if h.First {
				fr.Kind = "first"
			}
			fr.Size, fr.Tag, fr.Offset = h.Size, h.Tag, h.ByteOffset()
		}
		report.Frames = append(report.Frames, fr)
	}

	if verify {
		var got []byte
		rx := adapter.New(a.adapterConfig(), &recorder{mtu: mtu, reserve: reserve, addr: dst},
			func(d []byte, _, _ core.LinkAddress) { got = d })
		defer rx.Close()
		for _, f := range tx.frames {
			rx.Input(f, src, dst)
		}
		ok := bytes.Equal(got, datagram)
		report.Reassembled = &ok
	}
	return report, nil
}
