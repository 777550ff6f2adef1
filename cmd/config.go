package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/lowpan/internal/config"
	"firestige.xyz/lowpan/internal/link/channel"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or check configuration files",
	}
	cmd.AddCommand(newConfigInitCmd(a), newConfigValidateCmd(a))
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print the effective configuration as a config file",
		Long: `Print the effective configuration (built-in defaults, or the file given
with --config plus environment overrides) in YAML or TOML.

Examples:
  lowpan config init > lowpan.yaml
  lowpan config init --format toml -o lowpan.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := config.Render(a.cfg, format)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			if err := os.WriteFile(output, b, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml/toml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newConfigValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file given with --config",
		Long: `Load the configuration file given with --config, apply environment
overrides and defaults, and report whether it is valid. Loading already fails
on an invalid file, so reaching this command means the file is valid.

Examples:
  lowpan -c lowpan.yaml config validate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			source := a.configFile
			if source == "" {
				source = "built-in defaults"
			}
			c := a.cfg
			if _, err := channel.ParseOptions(c.Link.Options); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VALID: %s - interface %s (%s), link %s mtu %d reserve %d, %d reassembly slots, timeout %s\n",
				source, c.Interface.Name, c.Interface.Dispatch, c.Link.Type, c.Link.MTU, c.Link.HeaderReserve,
				c.Reassembly.Slots, c.Reassembly.Timeout)
			return nil
		},
	}
}
