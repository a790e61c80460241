// Package config loads and validates the transport's runtime configuration.
//
// Precedence, highest to lowest: environment variables (RTPSTCP_*) >
// config file (YAML/TOML/JSON, whatever viper's codecs support) > built-in
// defaults. No CLI flags are bound into Config. Values are decoded into Config via
// mapstructure and checked with go-playground/validator struct tags.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/rtps-tcp/transport/internal/bytesize"
)

// MinimumSocketBuffer is the floor applied to send/receive buffer sizes by
// EffectiveBufferSize; it is also the size used when 0 is requested.
const MinimumSocketBuffer = 64 * 1024

// MaxMessageSizeCeiling is the hard ceiling on MaxMessageSize.
const MaxMessageSizeCeiling = 65000

// Config holds the transport's runtime configuration.
type Config struct {
	// SendBufferSize and ReceiveBufferSize are socket buffer sizes in bytes.
	// The OS default is not probed: 0 and any value below
	// MinimumSocketBuffer both take effect as MinimumSocketBuffer.
	SendBufferSize    uint32 `mapstructure:"send_buffer_size"`
	ReceiveBufferSize uint32 `mapstructure:"receive_buffer_size"`

	// MaxMessageSize bounds total frame length (header + payload); must be
	// <= MaxMessageSizeCeiling and <= both buffer sizes.
	MaxMessageSize uint32 `mapstructure:"max_message_size" validate:"required,lte=65000"`

	// InterfaceWhitelist restricts which local IPv4 interfaces
	// NormalizeLocator expands into; empty means accept all. 0.0.0.0 is
	// always implicitly allowed. Acceptors do not consult it: they listen
	// on all interfaces.
	InterfaceWhitelist []string `mapstructure:"interface_whitelist"`

	// GUIDPrefix is the opaque 12-byte RTPS participant GUID prefix,
	// hex-encoded (24 hex characters).
	GUIDPrefix string `mapstructure:"guid_prefix" validate:"omitempty,len=24,hexadecimal"`

	// KeepAliveFrequencyMs and KeepAliveTimeoutMs are the keep-alive
	// timers. When both are 0, applyDefaults replaces them with the
	// defaults. The transport does not read them.
	KeepAliveFrequencyMs uint32 `mapstructure:"keep_alive_frequency_ms"`
	KeepAliveTimeoutMs   uint32 `mapstructure:"keep_alive_timeout_ms"`

	// ListenPhysicalPorts are the physical ports the daemon opens an
	// Acceptor on at startup.
	ListenPhysicalPorts []uint16 `mapstructure:"listen_physical_ports"`

	// DefaultLogicalPort is the logical port the daemon registers its
	// demo receiver on for every listening physical port.
	DefaultLogicalPort uint16 `mapstructure:"default_logical_port"`

	// MetricsAddress is the listen address for the Prometheus /metrics
	// endpoint; empty disables it.
	MetricsAddress string `mapstructure:"metrics_address"`
}

// DefaultConfig returns the built-in default configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:       16 * 1024,
		KeepAliveFrequencyMs: 10_000,
		KeepAliveTimeoutMs:   5_000,
		DefaultLogicalPort:   7410,
		MetricsAddress:       ":9100",
	}
}

// applyDefaults fills zero-valued fields with their defaults. Buffer sizes
// are left at 0 unless the caller set them; the floor is applied by
// EffectiveBufferSize, not here.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.KeepAliveFrequencyMs == 0 && c.KeepAliveTimeoutMs == 0 {
		c.KeepAliveFrequencyMs = def.KeepAliveFrequencyMs
		c.KeepAliveTimeoutMs = def.KeepAliveTimeoutMs
	}
	if c.DefaultLogicalPort == 0 {
		c.DefaultLogicalPort = def.DefaultLogicalPort
	}
	if c.MetricsAddress == "" {
		c.MetricsAddress = def.MetricsAddress
	}
}

// validate checks struct tags and the buffer-size relations
// require: max-message-size must not exceed either configured buffer size.
func (c *Config) validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.SendBufferSize != 0 && c.MaxMessageSize > c.SendBufferSize {
		return fmt.Errorf("config: max_message_size (%d) exceeds send_buffer_size (%d)", c.MaxMessageSize, c.SendBufferSize)
	}
	if c.ReceiveBufferSize != 0 && c.MaxMessageSize > c.ReceiveBufferSize {
		return fmt.Errorf("config: max_message_size (%d) exceeds receive_buffer_size (%d)", c.MaxMessageSize, c.ReceiveBufferSize)
	}
	return nil
}

// Load reads configuration from path (if non-empty) and from environment
// variables prefixed RTPSTCP_ over the built-in defaults; an environment
// variable overrides the same key in the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RTPSTCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"send_buffer_size", "receive_buffer_size", "max_message_size",
		"interface_whitelist", "guid_prefix", "keep_alive_frequency_ms",
		"keep_alive_timeout_ms", "listen_physical_ports",
		"default_logical_port", "metrics_address",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: binding env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
		bytesize.StringToByteSizeHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EffectiveBufferSize returns size raised to at least MinimumSocketBuffer;
// 0 also yields MinimumSocketBuffer, as the OS default is not probed.
func EffectiveBufferSize(size uint32) uint32 {
	if size == 0 {
		return MinimumSocketBuffer
	}
	if size < MinimumSocketBuffer {
		return MinimumSocketBuffer
	}
	return size
}
