package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/lowpan/internal/core"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yml", `
lowpan:
  interface:
    name: wpan1
    dispatch: IPHC
    link_address: "00:12:4b:00:01:02:03:04"
    initial_tag: 100
  reassembly:
    slots: 8
    timeout: 30s
    rate_limit:
      max_frags_per_source: 64
      window: 2s
  link:
    type: channel
    mtu: 127
    header_reserve: 23
    options:
      queue: 32
      loss: 0.1
  log:
    level: debug
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
`)
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Interface.Name != "wpan1" {
		t.Errorf("Expected interface wpan1, got %s", cfg.Interface.Name)
	}
	if !cfg.UseIPHC() {
		t.Errorf("Expected dispatch normalised to iphc, got %s", cfg.Interface.Dispatch)
	}
	if cfg.Interface.InitialTag != 100 {
		t.Errorf("Expected initial tag 100, got %d", cfg.Interface.InitialTag)
	}
	if cfg.Reassembly.Slots != 8 || cfg.Reassembly.Timeout != 30*time.Second {
		t.Errorf("Unexpected reassembly config %+v", cfg.Reassembly)
	}
	if cfg.Reassembly.RateLimit.MaxFragsPerSource != 64 || cfg.Reassembly.RateLimit.Window != 2*time.Second {
		t.Errorf("Unexpected rate limit config %+v", cfg.Reassembly.RateLimit)
	}
	if cfg.Link.HeaderReserve != 23 {
		t.Errorf("Expected header reserve 23, got %d", cfg.Link.HeaderReserve)
	}
	if cfg.Link.Options["queue"] == nil {
		t.Errorf("Expected link options to carry queue, got %v", cfg.Link.Options)
	}
	// defaults still apply to keys the file omits
	if cfg.Log.Pattern == "" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Expected defaults for omitted keys, got log=%+v metrics=%+v", cfg.Log, cfg.Metrics)
	}
	addr, err := cfg.LocalLinkAddress()
	if err != nil || len(addr) != 8 {
		t.Errorf("LocalLinkAddress() = %v, %v", addr, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Reassembly.Slots != 4 || cfg.Reassembly.Timeout != 5*time.Second {
		t.Errorf("Unexpected default reassembly %+v", cfg.Reassembly)
	}
	if cfg.Link.MTU != 127 || cfg.Link.HeaderReserve != 25 {
		t.Errorf("Unexpected default link %+v", cfg.Link)
	}
	if cfg.Interface.Dispatch != DispatchIPHC {
		t.Errorf("Expected default dispatch iphc, got %s", cfg.Interface.Dispatch)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LOWPAN_REASSEMBLY_TIMEOUT", "12s")
	t.Setenv("LOWPAN_INTERFACE_DISPATCH", "ipv6")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Reassembly.Timeout != 12*time.Second {
		t.Errorf("Expected env timeout 12s, got %s", cfg.Reassembly.Timeout)
	}
	if cfg.UseIPHC() {
		t.Errorf("Expected env dispatch ipv6")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"dispatch": `
lowpan:
  interface:
    dispatch: hc1
`,
		"timeout": `
lowpan:
  reassembly:
    timeout: 2m
`,
		"slots": `
lowpan:
  reassembly:
    slots: 0
`,
		"mtu": `
lowpan:
  link:
    mtu: 30
    header_reserve: 25
`,
		"link address": `
lowpan:
  interface:
    link_address: "01:02:03"
`,
		"log level": `
lowpan:
  log:
    level: verbose
`,
		"link type": `
lowpan:
  link:
    type: spi
`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yml", content))
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	for _, format := range []string{"yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			out, err := Render(Default(), format)
			if err != nil {
				t.Fatalf("Render(%s) failed: %v", format, err)
			}
			cfg, err := Load(writeConfig(t, "config."+format, string(out)))
			if err != nil {
				t.Fatalf("Load of rendered %s failed: %v\n%s", format, err, out)
			}
			if cfg.Reassembly.Timeout != 5*time.Second {
				t.Errorf("Expected timeout to survive rendering, got %s", cfg.Reassembly.Timeout)
			}
			if cfg.Interface.LinkAddress != Default().Interface.LinkAddress {
				t.Errorf("Expected link address to survive rendering, got %s", cfg.Interface.LinkAddress)
			}
		})
	}

	if _, err := Render(Default(), "ini"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
