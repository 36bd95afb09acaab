// Package config is the read-only preferences view consumed by the
// reflector core. Loading is the only place viper is visible; once
// Load returns, the rest of the program only ever sees the Config
// struct, matching the "explicitly constructed services" redesign
// note in spec.md §9.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the frozen set of preferences the reflector core reads.
// Field names mirror the option set enumerated in spec.md §6.
type Config struct {
	// ListenAddr is the TCP address the RTSP server accepts on.
	ListenAddr string

	// SendIntervalMS is the minimum gap between transmissions to one
	// subscriber.
	SendIntervalMS int

	// MaxSendAheadSec is how far into the future a scheduled packet may
	// be queued.
	MaxSendAheadSec int

	// OverbufferRate is a multiplier for burst allowance.
	OverbufferRate float64

	// RTSPTimeoutSec is the idle close for control connections.
	RTSPTimeoutSec int

	// DefaultBufferDelaySec is a subscriber's initial buffer delay.
	DefaultBufferDelaySec int

	// MaxFuturePacketSec is the ingress clamp on packet timestamps.
	MaxFuturePacketSec int

	// LogLevel is parsed by logrus.ParseLevel.
	LogLevel string
}

// Default returns the built-in defaults, matching the constants named
// throughout spec.md (§4.4, §5).
func Default() Config {
	return Config{
		ListenAddr:            ":5554",
		SendIntervalMS:        50,
		MaxSendAheadSec:       10,
		OverbufferRate:        1.5,
		RTSPTimeoutSec:        60,
		DefaultBufferDelaySec: 1,
		MaxFuturePacketSec:    60,
		LogLevel:              "info",
	}
}

// Load reads configuration from an optional YAML file, environment
// variables prefixed REFLECTOR_, and finally Default() for anything
// left unset.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REFLECTOR")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("send_interval_ms", def.SendIntervalMS)
	v.SetDefault("max_send_ahead_s", def.MaxSendAheadSec)
	v.SetDefault("overbuffer_rate", def.OverbufferRate)
	v.SetDefault("rtsp_timeout_s", def.RTSPTimeoutSec)
	v.SetDefault("default_buffer_delay_s", def.DefaultBufferDelaySec)
	v.SetDefault("max_future_packet_s", def.MaxFuturePacketSec)
	v.SetDefault("log_level", def.LogLevel)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		ListenAddr:            v.GetString("listen_addr"),
		SendIntervalMS:        v.GetInt("send_interval_ms"),
		MaxSendAheadSec:       v.GetInt("max_send_ahead_s"),
		OverbufferRate:        v.GetFloat64("overbuffer_rate"),
		RTSPTimeoutSec:        v.GetInt("rtsp_timeout_s"),
		DefaultBufferDelaySec: v.GetInt("default_buffer_delay_s"),
		MaxFuturePacketSec:    v.GetInt("max_future_packet_s"),
		LogLevel:              v.GetString("log_level"),
	}, nil
}

// SendInterval is SendIntervalMS as a time.Duration.
func (c Config) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMS) * time.Millisecond
}

// RTSPTimeout is RTSPTimeoutSec as a time.Duration.
func (c Config) RTSPTimeout() time.Duration {
	return time.Duration(c.RTSPTimeoutSec) * time.Second
}

// DefaultBufferDelay is DefaultBufferDelaySec as a time.Duration.
func (c Config) DefaultBufferDelay() time.Duration {
	return time.Duration(c.DefaultBufferDelaySec) * time.Second
}

// MaxSendAhead is MaxSendAheadSec as a time.Duration.
func (c Config) MaxSendAhead() time.Duration {
	return time.Duration(c.MaxSendAheadSec) * time.Second
}

// MaxFuturePacket is MaxFuturePacketSec as a time.Duration.
func (c Config) MaxFuturePacket() time.Duration {
	return time.Duration(c.MaxFuturePacketSec) * time.Second
}
