// Package config holds the probe settings read from a TOML file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrInvalid = errors.New("invalid config")

const (
	BackendReplay = "replay"

	DecoderAddr2line = "addr2line"
	DecoderDWARF     = "dwarf"
)

type Config struct {
	Backend BackendConfig `toml:"backend"`
	Decoder DecoderConfig `toml:"decoder"`
	Defmt   DefmtConfig   `toml:"defmt"`
}

type BackendConfig struct {
	Kind      string `toml:"kind"`
	Snapshot  string `toml:"snapshot"`
	HexOutput string `toml:"hex_output"`
}

type DecoderConfig struct {
	Kind    string `toml:"kind"`
	Command string `toml:"command"`
	Timeout string `toml:"timeout"`
}

type DefmtConfig struct {
	Enabled bool   `toml:"enabled"`
	Command string `toml:"command"`
}

func Default() *Config {
	return &Config{
		Backend: BackendConfig{Kind: BackendReplay},
		Decoder: DecoderConfig{Kind: DecoderAddr2line, Command: "addr2line", Timeout: "30s"},
		Defmt:   DefmtConfig{Enabled: true, Command: "defmt-print"},
	}
}

// Load reads configPath over the defaults. An empty path yields the
// defaults alone. The result is not validated so flags can still be
// applied on top; call Validate before use.
func Load(configPath string) (*Config, error) {
	config := Default()
	if configPath != "" {
		md, err := toml.DecodeFile(configPath, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), configPath)
		}
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendReplay:
		if c.Backend.Snapshot == "" {
			return fmt.Errorf("%w: backend %q needs a snapshot", ErrInvalid, c.Backend.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q (must be %s)", ErrInvalid, c.Backend.Kind, BackendReplay)
	}

	switch c.Decoder.Kind {
	case DecoderAddr2line:
		if c.Decoder.Command == "" {
			return fmt.Errorf("%w: decoder %q needs a command", ErrInvalid, c.Decoder.Kind)
		}
	case DecoderDWARF:
	default:
		return fmt.Errorf("%w: unknown decoder %q (must be %s or %s)", ErrInvalid, c.Decoder.Kind, DecoderAddr2line, DecoderDWARF)
	}

	if _, err := c.Decoder.TimeoutDuration(); err != nil {
		return err
	}

	if c.Defmt.Enabled && c.Defmt.Command == "" {
		return fmt.Errorf("%w: defmt is enabled without a command", ErrInvalid)
	}
	return nil
}

// TimeoutDuration parses the decoder timeout; zero means no deadline.
func (d DecoderConfig) TimeoutDuration() (time.Duration, error) {
	if d.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 0, fmt.Errorf("%w: decoder timeout: %v", ErrInvalid, err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("%w: negative decoder timeout %s", ErrInvalid, d.Timeout)
	}
	return timeout, nil
}
