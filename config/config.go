// Package config loads node settings from TOML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jpillora/backoff"

	"github.com/TheSmallBoat/wirenet/frame"
)

type Config struct {
	Network      string `toml:"network"` // "tcp", "tcp4" or "tcp6"
	StreamAddr   string `toml:"stream_addr"`
	DatagramAddr string `toml:"datagram_addr"`
	Workers      int    `toml:"workers"`

	PrefixSize   int    `toml:"prefix_size"`
	MaxFrameSize uint64 `toml:"max_frame_size"` // 0 means no limit
	DatagramSize int    `toml:"datagram_size"`

	Dial DialConfig `toml:"dial"`
	Log  LogConfig  `toml:"log"`
}

type DialConfig struct {
	Attempts   int      `toml:"attempts"`
	MinBackoff Duration `toml:"min_backoff"`
	MaxBackoff Duration `toml:"max_backoff"`
	Factor     float64  `toml:"factor"`
	Jitter     bool     `toml:"jitter"`
}

type LogConfig struct {
	Level       string         `toml:"level"`
	Format      string         `toml:"format"` // "console" or "json"
	Outputs     []string       `toml:"outputs"`
	Development bool           `toml:"development"`
	Rotation    RotationConfig `toml:"rotation"`
}

type RotationConfig struct {
	Enable     bool   `toml:"enable"`
	Filename   string `toml:"filename"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func Default() Config {
	return Config{
		Network:      "tcp",
		StreamAddr:   "127.0.0.1:9000",
		DatagramAddr: "127.0.0.1:9001",
		PrefixSize:   4,
		MaxFrameSize: 1 << 20,
		DatagramSize: 65535,
		Dial: DialConfig{
			Attempts:   8,
			MinBackoff: Duration{500 * time.Millisecond},
			MaxBackoff: Duration{1 * time.Second},
			Factor:     1.25,
			Jitter:     true,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
	}
}

// Load reads path over the defaults. Keys the file does not set keep their default value;
// keys Config does not know are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown keys %v", undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Network {
	case "tcp", "tcp4", "tcp6":
	default:
		return fmt.Errorf("config: network must be tcp, tcp4 or tcp6, got %q", c.Network)
	}
	switch c.PrefixSize {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("config: prefix_size must be 1, 2, 4 or 8, got %d", c.PrefixSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	if c.DatagramSize < 0 {
		return fmt.Errorf("config: datagram_size must not be negative, got %d", c.DatagramSize)
	}
	if c.Dial.MinBackoff.Duration > c.Dial.MaxBackoff.Duration {
		return fmt.Errorf("config: dial.min_backoff %s exceeds dial.max_backoff %s", c.Dial.MinBackoff, c.Dial.MaxBackoff)
	}
	return nil
}

// Prefix is the framing prefix for streams and datagrams, rejecting frames above MaxFrameSize
// when one is set.
func (c Config) Prefix() frame.Prefix {
	p := frame.Prefix{Size: c.PrefixSize}
	if c.MaxFrameSize > 0 {
		p.In = frame.Limit(c.MaxFrameSize)
	}
	return p
}

func (c Config) Backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Factor: c.Dial.Factor,
		Jitter: c.Dial.Jitter,
		Min:    c.Dial.MinBackoff.Duration,
		Max:    c.Dial.MaxBackoff.Duration,
	}
}
