// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/lowpan/internal/adapter"
	"firestige.xyz/lowpan/internal/config"
	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/frag"
	"firestige.xyz/lowpan/internal/core/linkaddr"
	"firestige.xyz/lowpan/internal/log"
)

// app holds state shared by every subcommand.
type app struct {
	configFile string
	cfg        *config.GlobalConfig
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "lowpan",
		Short: "lowpan - 6LoWPAN header compression and fragmentation toolkit",
		Long: `lowpan implements the 6LoWPAN adaptation layer (RFC 4944, RFC 6282):
IPHC header compression of IPv6/UDP, fragmentation into link-sized frames and
timer-driven reassembly.

The subcommands encode and decode single datagrams from hex, show how a
datagram is fragmented for the configured link, and run a two-node simulation
over an in-memory link with optional loss and reordering.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "",
		"config file path (built-in defaults when empty)")

	root.AddCommand(
		newCompressCmd(a),
		newDecompressCmd(a),
		newFragmentCmd(a),
		newSimulateCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func (a *app) load() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// adapterConfig maps the configuration onto an adapter.
func (a *app) adapterConfig() adapter.Config {
	return adapter.Config{
		Name:       a.cfg.Interface.Name,
		IPHC:       a.cfg.UseIPHC(),
		InitialTag: a.cfg.Interface.InitialTag,
		IID:        linkaddr.Derive,
		Slots:      a.cfg.Reassembly.Slots,
		Timeout:    a.cfg.Reassembly.Timeout,
		RateLimit: frag.RateLimiterConfig{
			MaxFragsPerSource: a.cfg.Reassembly.RateLimit.MaxFragsPerSource,
			Window:            a.cfg.Reassembly.RateLimit.Window,
		},
	}
}

// linkContext resolves --src-link/--dst-link. An empty value stands for the
// configured interface address.
func (a *app) linkContext(src, dst string) (core.LinkContext, error) {
	lc := core.LinkContext{IID: linkaddr.Derive}
	var err error
	if lc.Src, err = a.linkAddress(src); err != nil {
		return lc, fmt.Errorf("source link address: %w", err)
	}
	if lc.Dst, err = a.linkAddress(dst); err != nil {
		return lc, fmt.Errorf("destination link address: %w", err)
	}
	return lc, nil
}

func (a *app) linkAddress(s string) (core.LinkAddress, error) {
	if s == "" {
		return a.cfg.LocalLinkAddress()
	}
	return core.ParseLinkAddress(s)
}

// readHex decodes hex from the first argument or, without one, from in.
// Whitespace, ':' and '-' separators are ignored.
func readHex(args []string, in io.Reader) ([]byte, error) {
	var s string
	if len(args) > 0 {
		s = strings.Join(args, "")
	} else {
		b, err := io.ReadAll(in)
		if err != nil {
			return nil, err
		}
		s = string(b)
	}
	s = strings.Join(strings.Fields(s), "")
	s = strings.NewReplacer(":", "", "-", "", "0x", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("no input")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return b, nil
}
