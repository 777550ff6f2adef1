package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"
	"golang.org/x/net/ipv6"
	"gopkg.in/yaml.v3"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/iphc"
	"firestige.xyz/lowpan/internal/sim"
)

const defaultPeerLink = "02:00:00:00:00:00:00:02"

// datagramFlags build a UDP datagram when no hex input is given.
type datagramFlags struct {
	src, dst     string
	sport, dport uint16
	hopLimit     uint8
	payload      string
}

func (f *datagramFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.src, "src", "", "build a UDP datagram from this IPv6 source instead of reading hex")
	cmd.Flags().StringVar(&f.dst, "dst", "ff02::1", "IPv6 destination of the built datagram")
	cmd.Flags().Uint16Var(&f.sport, "sport", sim.DefaultPort, "UDP source port of the built datagram")
	cmd.Flags().Uint16Var(&f.dport, "dport", sim.DefaultPort+1, "UDP destination port of the built datagram")
	cmd.Flags().Uint8Var(&f.hopLimit, "hop-limit", 64, "hop limit of the built datagram")
	cmd.Flags().StringVar(&f.payload, "payload", "", "UDP payload of the built datagram")
}

// datagram returns the built datagram, or the hex input when --src is unset.
func (f *datagramFlags) datagram(cmd *cobra.Command, args []string) ([]byte, error) {
	if f.src == "" {
		return readHex(args, cmd.InOrStdin())
	}
	src, err := netip.ParseAddr(f.src)
	if err != nil {
		return nil, fmt.Errorf("--src: %w", err)
	}
	dst, err := netip.ParseAddr(f.dst)
	if err != nil {
		return nil, fmt.Errorf("--dst: %w", err)
	}
	return sim.BuildUDP(sim.UDPSpec{
		Src:      src,
		Dst:      dst,
		SrcPort:  f.sport,
		DstPort:  f.dport,
		HopLimit: f.hopLimit,
		Payload:  []byte(f.payload),
	})
}

type compressReport struct {
	Datagram int    `yaml:"datagram_bytes"`
	Consumed int    `yaml:"consumed_bytes"`
	Header   int    `yaml:"header_bytes"`
	Frame    string `yaml:"frame"`
}

func newCompressCmd(a *app) *cobra.Command {
	var (
		srcLink, dstLink string
		df               datagramFlags
	)
	cmd := &cobra.Command{
		Use:   "compress [hex]",
		Short: "Compress an IPv6 datagram into an IPHC frame",
		Long: `Compress an uncompressed IPv6 datagram, given as hex (argument or stdin)
or built from --src/--dst/--payload, into a single IPHC frame.

Examples:
  lowpan compress --src fe80::1 --dst ff02::1 --payload hello
  lowpan compress --dst-link 02:00:00:00:00:00:00:02 6000000000...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			datagram, err := df.datagram(cmd, args)
			if err != nil {
				return err
			}
			lc, err := a.linkContext(srcLink, dstLink)
			if err != nil {
				return err
			}
			hdr, consumed, err := iphc.Compress(datagram, lc)
			if err != nil {
				return err
			}
			frame := append(hdr, datagram[consumed:]...)
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(compressReport{
				Datagram: len(datagram),
				Consumed: consumed,
				Header:   len(hdr),
				Frame:    hex.EncodeToString(frame),
			})
		},
	}
	cmd.Flags().StringVar(&srcLink, "src-link", "", "link source address (default: interface.link_address)")
	cmd.Flags().StringVar(&dstLink, "dst-link", defaultPeerLink, "link destination address")
	df.register(cmd)
	return cmd
}

type ipv6Report struct {
	Version      int    `yaml:"version"`
	TrafficClass int    `yaml:"traffic_class"`
	FlowLabel    int    `yaml:"flow_label"`
	PayloadLen   int    `yaml:"payload_length"`
	NextHeader   int    `yaml:"next_header"`
	HopLimit     int    `yaml:"hop_limit"`
	Src          string `yaml:"src"`
	Dst          string `yaml:"dst"`
}

type udpReport struct {
	SrcPort  uint16 `yaml:"src_port"`
	DstPort  uint16 `yaml:"dst_port"`
	Length   uint16 `yaml:"length"`
	Checksum string `yaml:"checksum"`
}

type decompressReport struct {
	Dispatch string     `yaml:"dispatch"`
	Frame    int        `yaml:"frame_bytes"`
	IPv6     ipv6Report `yaml:"ipv6"`
	UDP      *udpReport `yaml:"udp,omitempty"`
	Datagram string     `yaml:"datagram"`
}

func newDecompressCmd(a *app) *cobra.Command {
	var srcLink, dstLink string
	cmd := &cobra.Command{
		Use:   "decompress [hex]",
		Short: "Rebuild an IPv6 datagram from an IPHC or plain IPv6 frame",
		Long: `Decompress a single unfragmented 6LoWPAN frame, given as hex (argument or
stdin), and print the reconstructed IPv6 and UDP headers.

Examples:
  lowpan decompress 7e33f0b1...
  lowpan decompress --src-link 02:00:00:00:00:00:00:01 --dst-link 02:00:00:00:00:00:00:02 7a33...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := readHex(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			lc, err := a.linkContext(srcLink, dstLink)
			if err != nil {
				return err
			}
			report, err := decompressFrame(frame, lc)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(report)
		},
	}
	cmd.Flags().StringVar(&srcLink, "src-link", defaultPeerLink, "link source address of the frame")
	cmd.Flags().StringVar(&dstLink, "dst-link", "", "link destination address (default: interface.link_address)")
	return cmd
}

func decompressFrame(frame []byte, lc core.LinkContext) (*decompressReport, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", core.ErrTruncated)
	}
	report := &decompressReport{Frame: len(frame)}
	var (
		datagram []byte
		err      error
	)
	switch {
	case frame[0] == iphc.DispatchIPv6:
		report.Dispatch = "ipv6"
		datagram = frame[1:]
	case frame[0]&iphc.DispatchIPHCMask == iphc.DispatchIPHC:
		report.Dispatch = "iphc"
		datagram, err = iphc.Decompress(frame, lc)
	default:
		err = fmt.Errorf("%w: dispatch 0x%02x is not a single-frame datagram", core.ErrUnsupportedFeature, frame[0])
	}
	if err != nil {
		return nil, err
	}

	h, err := ipv6.ParseHeader(datagram)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
	}
	report.IPv6 = ipv6Report{
		Version:      h.Version,
		TrafficClass: h.TrafficClass,
		FlowLabel:    h.FlowLabel,
		PayloadLen:   h.PayloadLen,
		NextHeader:   h.NextHeader,
		HopLimit:     h.HopLimit,
		Src:          h.Src.String(),
		Dst:          h.Dst.String(),
	}
	if h.NextHeader == core.ProtocolUDP && len(datagram) >= core.IPv6HeaderLen+core.UDPHeaderLen {
		u := datagram[core.IPv6HeaderLen:]
		report.UDP = &udpReport{
			SrcPort:  binary.BigEndian.Uint16(u[0:2]),
			DstPort:  binary.BigEndian.Uint16(u[2:4]),
			Length:   binary.BigEndian.Uint16(u[4:6]),
			Checksum: fmt.Sprintf("0x%04x", binary.BigEndian.Uint16(u[6:8])),
		}
	}
	report.Datagram = hex.EncodeToString(datagram)
	return report, nil
}
