// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/lowpan/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `lowpan:` root key in YAML.
type GlobalConfig struct {
	Interface  InterfaceConfig  `mapstructure:"interface" yaml:"interface" toml:"interface"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly" yaml:"reassembly" toml:"reassembly"`
	Link       LinkConfig       `mapstructure:"link" yaml:"link" toml:"link"`
	Log        LogConfig        `mapstructure:"log" yaml:"log" toml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics" toml:"metrics"`
}

// ─── Interface ───

// InterfaceConfig describes the 6LoWPAN interface.
type InterfaceConfig struct {
	Name        string `mapstructure:"name" yaml:"name" toml:"name"`
	Dispatch    string `mapstructure:"dispatch" yaml:"dispatch" toml:"dispatch"`             // iphc | ipv6
	LinkAddress string `mapstructure:"link_address" yaml:"link_address" toml:"link_address"` // 2, 6 or 8 hex octets
	InitialTag  uint16 `mapstructure:"initial_tag" yaml:"initial_tag" toml:"initial_tag"`
}

// Dispatch modes for transmission.
const (
	DispatchIPHC = "iphc"
	DispatchIPv6 = "ipv6"
)

// ─── Reassembly ───

// ReassemblyConfig configures the reassembly cache.
type ReassemblyConfig struct {
	Slots     int             `mapstructure:"slots" yaml:"slots" toml:"slots"`
	Timeout   time.Duration   `mapstructure:"timeout" yaml:"timeout" toml:"timeout"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig caps fragments per link source.
type RateLimitConfig struct {
	MaxFragsPerSource int           `mapstructure:"max_frags_per_source" yaml:"max_frags_per_source" toml:"max_frags_per_source"` // 0 = disabled
	Window            time.Duration `mapstructure:"window" yaml:"window" toml:"window"`
}

// ─── Link ───

// LinkConfig selects the link driver. Options are driver specific.
type LinkConfig struct {
	Type          string         `mapstructure:"type" yaml:"type" toml:"type"`
	MTU           int            `mapstructure:"mtu" yaml:"mtu" toml:"mtu"`
	HeaderReserve int            `mapstructure:"header_reserve" yaml:"header_reserve" toml:"header_reserve"`
	Options       map[string]any `mapstructure:"options" yaml:"options" toml:"options"`
}

// ─── Observability ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level" toml:"level"`
	Pattern string           `mapstructure:"pattern" yaml:"pattern" toml:"pattern"`
	Time    string           `mapstructure:"time" yaml:"time" toml:"time"`
	File    FileOutputConfig `mapstructure:"file" yaml:"file" toml:"file"`
}

// FileOutputConfig contains rotating file output settings.
type FileOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path" toml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" toml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress" toml:"compress"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" toml:"listen"`
	Path    string `mapstructure:"path" yaml:"path" toml:"path"`
}

// configRoot wraps GlobalConfig under the `lowpan:` key.
type configRoot struct {
	Lowpan GlobalConfig `mapstructure:"lowpan" yaml:"lowpan" toml:"lowpan"`
}

// Load loads configuration from file. An empty path yields the defaults.
// Environment variables override file values through the key replacer
// (key "lowpan.reassembly.timeout" → env "LOWPAN_REASSEMBLY_TIMEOUT").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

// Default returns the built-in configuration, ignoring files and environment.
func Default() *GlobalConfig {
	cfg, err := decode(viper.New())
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*GlobalConfig, error) {
	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Lowpan

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Interface defaults
	v.SetDefault("lowpan.interface.name", "lowpan0")
	v.SetDefault("lowpan.interface.dispatch", DispatchIPHC)
	v.SetDefault("lowpan.interface.link_address", "02:00:00:00:00:00:00:01")
	v.SetDefault("lowpan.interface.initial_tag", 0)

	// Reassembly defaults
	v.SetDefault("lowpan.reassembly.slots", 4)
	v.SetDefault("lowpan.reassembly.timeout", "5s")
	v.SetDefault("lowpan.reassembly.rate_limit.max_frags_per_source", 0)
	v.SetDefault("lowpan.reassembly.rate_limit.window", "10s")

	// Link defaults (IEEE 802.15.4: 127 byte PSDU, 25 byte MAC header + FCS)
	v.SetDefault("lowpan.link.type", "channel")
	v.SetDefault("lowpan.link.mtu", 127)
	v.SetDefault("lowpan.link.header_reserve", 25)
	v.SetDefault("lowpan.link.options", map[string]any{})

	// Log defaults
	v.SetDefault("lowpan.log.level", "info")
	v.SetDefault("lowpan.log.pattern", "%time [%level] %field %msg")
	v.SetDefault("lowpan.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("lowpan.log.file.enabled", false)
	v.SetDefault("lowpan.log.file.path", "/var/log/lowpan/lowpan.log")
	v.SetDefault("lowpan.log.file.max_size_mb", 100)
	v.SetDefault("lowpan.log.file.max_age_days", 30)
	v.SetDefault("lowpan.log.file.max_backups", 5)
	v.SetDefault("lowpan.log.file.compress", true)

	// Metrics defaults
	v.SetDefault("lowpan.metrics.enabled", false)
	v.SetDefault("lowpan.metrics.listen", ":9091")
	v.SetDefault("lowpan.metrics.path", "/metrics")
}

// RFC 4944 upper bound for a reassembly timeout.
const maxReassemblyTimeout = 60 * time.Second

// minLinkPayload is the smallest usable frame: a continuation header plus
// one 8-byte block.
const minLinkPayload = 5 + 8

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("%w: log.file.path is required when log.file.enabled=true", core.ErrConfigInvalid)
	}

	// ── Interface ──
	cfg.Interface.Dispatch = strings.ToLower(cfg.Interface.Dispatch)
	if cfg.Interface.Dispatch != DispatchIPHC && cfg.Interface.Dispatch != DispatchIPv6 {
		return fmt.Errorf("%w: interface.dispatch %q (must be iphc/ipv6)", core.ErrConfigInvalid, cfg.Interface.Dispatch)
	}
	if cfg.Interface.Name == "" {
		cfg.Interface.Name = "lowpan0"
	}
	if _, err := cfg.LocalLinkAddress(); err != nil {
		return err
	}

	// ── Reassembly ──
	if cfg.Reassembly.Slots <= 0 {
		return fmt.Errorf("%w: reassembly.slots must be positive, got %d", core.ErrConfigInvalid, cfg.Reassembly.Slots)
	}
	if cfg.Reassembly.Timeout <= 0 || cfg.Reassembly.Timeout > maxReassemblyTimeout {
		return fmt.Errorf("%w: reassembly.timeout %s (must be in (0, %s])",
			core.ErrConfigInvalid, cfg.Reassembly.Timeout, maxReassemblyTimeout)
	}
	if cfg.Reassembly.RateLimit.MaxFragsPerSource < 0 {
		return fmt.Errorf("%w: reassembly.rate_limit.max_frags_per_source must not be negative", core.ErrConfigInvalid)
	}

	// ── Link ──
	if cfg.Link.Type != "channel" {
		return fmt.Errorf("%w: unsupported link.type %q (only 'channel' supported)", core.ErrConfigInvalid, cfg.Link.Type)
	}
	if cfg.Link.HeaderReserve < 0 || cfg.Link.MTU-cfg.Link.HeaderReserve < minLinkPayload {
		return fmt.Errorf("%w: link.mtu %d with header_reserve %d leaves less than %d usable bytes",
			core.ErrConfigInvalid, cfg.Link.MTU, cfg.Link.HeaderReserve, minLinkPayload)
	}
	if cfg.Link.Options == nil {
		cfg.Link.Options = map[string]any{}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}
	return nil
}

// LocalLinkAddress parses interface.link_address.
func (cfg *GlobalConfig) LocalLinkAddress() (core.LinkAddress, error) {
	a, err := core.ParseLinkAddress(cfg.Interface.LinkAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: interface.link_address %q: %v", core.ErrConfigInvalid, cfg.Interface.LinkAddress, err)
	}
	switch len(a) {
	case 2, 6, 8:
		return a, nil
	}
	return nil, fmt.Errorf("%w: interface.link_address must be 2, 6 or 8 octets, got %d",
		core.ErrConfigInvalid, len(a))
}

// UseIPHC reports whether datagrams are sent header-compressed.
func (cfg *GlobalConfig) UseIPHC() bool {
	return cfg.Interface.Dispatch == DispatchIPHC
}
