package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := Default()
	if cfg.Output.Backend != def.Output.Backend || cfg.Player.Volume != 1 || cfg.IPC.Socket != def.IPC.Socket {
		t.Fatalf("Load() = %+v, want defaults", cfg)
	}
	if cfg.HTTP.Addr != "" || cfg.NATS.URL != "" {
		t.Fatal("http and nats should be disabled by default")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("log_level: debug\noutput:\n  backend: \"null\"\nplayer:\n  volume: 0.5\nhttp:\n  addr: 127.0.0.1:8710\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Output.Backend != "null" || cfg.Player.Volume != 0.5 || cfg.HTTP.Addr != "127.0.0.1:8710" {
		t.Fatalf("Load() = %+v", cfg)
	}
	// untouched sections keep their defaults
	if cfg.Output.BufferMs != 100 || cfg.Player.PlaybackSpeed != 1 {
		t.Fatalf("defaults lost: buffer=%d speed=%v", cfg.Output.BufferMs, cfg.Player.PlaybackSpeed)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PODPLAYER_LOG_LEVEL", "warn")
	t.Setenv("PODPLAYER_DB", "/var/lib/podplayer/test.db")
	t.Setenv("PODPLAYER_SOCKET", "/run/podplayer.sock")
	t.Setenv("PODPLAYER_HTTP_ADDR", ":9000")
	t.Setenv("PODPLAYER_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("PODPLAYER_OUTPUT", "speaker")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Database.Path != "/var/lib/podplayer/test.db" || cfg.IPC.Socket != "/run/podplayer.sock" {
		t.Fatalf("Load() = %+v", cfg)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.NATS.URL != "nats://127.0.0.1:4222" || cfg.Output.Backend != "speaker" {
		t.Fatalf("Load() = %+v", cfg)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("output: [unterminated"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend": func(c *Config) { c.Output.Backend = "jack" },
		"buffer":  func(c *Config) { c.Output.BufferMs = -1 },
		"volume":  func(c *Config) { c.Player.Volume = 1.5 },
		"speed":   func(c *Config) { c.Player.PlaybackSpeed = 0 },
		"db":      func(c *Config) { c.Database.Path = "" },
		"socket":  func(c *Config) { c.IPC.Socket = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.NATS.URL = "nats://10.0.0.2:4222"
	cfg.MediaKeys.Enabled = false

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.NATS.URL != cfg.NATS.URL || loaded.MediaKeys.Enabled {
		t.Fatalf("Load() after Save = %+v", loaded)
	}
}
