package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probe.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	// arrange
	path := writeConfig(t, `
[backend]
snapshot = "halt.json"
hex_output = "out/fw.hex"

[decoder]
command = "tricore-elf-addr2line"
timeout = "5s"

[defmt]
enabled = false
`)

	// act
	cfg, err := Load(path)

	// assert
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &Config{
		Backend: BackendConfig{Kind: BackendReplay, Snapshot: "halt.json", HexOutput: "out/fw.hex"},
		Decoder: DecoderConfig{Kind: DecoderAddr2line, Command: "tricore-elf-addr2line", Timeout: "5s"},
		Defmt:   DefmtConfig{Enabled: false, Command: "defmt-print"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if timeout, _ := cfg.Decoder.TimeoutDuration(); timeout != 5*time.Second {
		t.Errorf("TimeoutDuration = %v, want 5s", timeout)
	}
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load(\"\") mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[backend]\nsnapshot = \"a.json\"\nbaudrate = 115200\n")

	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load error = %v, want %v", err, ErrInvalid)
	}
}

func TestLoad_BrokenToml(t *testing.T) {
	path := writeConfig(t, "[backend\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Backend.Snapshot = "halt.json"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"dwarf decoder without command", func(c *Config) { c.Decoder.Kind = DecoderDWARF; c.Decoder.Command = "" }, true},
		{"missing snapshot", func(c *Config) { c.Backend.Snapshot = "" }, false},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "docker" }, false},
		{"unknown decoder", func(c *Config) { c.Decoder.Kind = "llvm" }, false},
		{"addr2line without command", func(c *Config) { c.Decoder.Command = "" }, false},
		{"bad timeout", func(c *Config) { c.Decoder.Timeout = "soon" }, false},
		{"negative timeout", func(c *Config) { c.Decoder.Timeout = "-1s" }, false},
		{"defmt without command", func(c *Config) { c.Defmt.Command = "" }, false},
		{"defmt disabled without command", func(c *Config) { c.Defmt.Enabled = false; c.Defmt.Command = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate error = %v, want %v", err, ErrInvalid)
			}
		})
	}
}
