package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"podplayer/internal/output"
)

// Config is the podplayer-server configuration file.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Database  DatabaseConfig  `yaml:"database"`
	Output    OutputConfig    `yaml:"output"`
	Player    PlayerConfig    `yaml:"player"`
	IPC       IPCConfig       `yaml:"ipc"`
	HTTP      HTTPConfig      `yaml:"http"`
	NATS      NATSConfig      `yaml:"nats"`
	MediaKeys MediaKeysConfig `yaml:"media_keys"`
	Artwork   ArtworkConfig   `yaml:"artwork"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
	// BusyTimeout in milliseconds.
	BusyTimeout int `yaml:"busy_timeout"`
}

type OutputConfig struct {
	Backend  string `yaml:"backend"`
	BufferMs int    `yaml:"buffer_ms"`
}

type PlayerConfig struct {
	Volume        float64 `yaml:"volume"`
	PlaybackSpeed float64 `yaml:"playback_speed"`
}

type IPCConfig struct {
	Socket string `yaml:"socket"`
}

// HTTPConfig: an empty Addr disables the REST API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig: an empty URL disables event mirroring.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type MediaKeysConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DBusName    string `yaml:"dbus_name"`
	DisplayName string `yaml:"display_name"`
}

type ArtworkConfig struct {
	CacheDir string `yaml:"cache_dir"`
}

// DefaultPath is $XDG_CONFIG_HOME/podplayer/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "podplayer.yaml"
	}
	return filepath.Join(dir, "podplayer", "config.yaml")
}

func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "podplayer")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "podplayer")
	}
	return "."
}

func Default() *Config {
	data := dataDir()
	cache := filepath.Join(os.TempDir(), "podplayer-artwork")
	if dir, err := os.UserCacheDir(); err == nil {
		cache = filepath.Join(dir, "podplayer", "artwork")
	}
	return &Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			Path:        filepath.Join(data, "podplayer.db"),
			BusyTimeout: 5000,
		},
		Output: OutputConfig{
			Backend:  output.BackendOto,
			BufferMs: 100,
		},
		Player: PlayerConfig{
			Volume:        1,
			PlaybackSpeed: 1,
		},
		IPC: IPCConfig{
			Socket: "/tmp/podplayer.sock",
		},
		NATS: NATSConfig{
			SubjectPrefix: "podplayer",
		},
		MediaKeys: MediaKeysConfig{
			Enabled:     true,
			DBusName:    "podplayer",
			DisplayName: "Podplayer",
		},
		Artwork: ArtworkConfig{
			CacheDir: cache,
		},
	}
}

// Load reads path over the defaults and applies PODPLAYER_* overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set("PODPLAYER_LOG_LEVEL", &c.LogLevel)
	set("PODPLAYER_DB", &c.Database.Path)
	set("PODPLAYER_SOCKET", &c.IPC.Socket)
	set("PODPLAYER_HTTP_ADDR", &c.HTTP.Addr)
	set("PODPLAYER_NATS_URL", &c.NATS.URL)
	set("PODPLAYER_OUTPUT", &c.Output.Backend)
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Output.Backend) {
	case "", output.BackendOto, output.BackendSpeaker, output.BackendNull:
	default:
		return fmt.Errorf("config: unknown output backend %q", c.Output.Backend)
	}
	if c.Output.BufferMs < 0 {
		return fmt.Errorf("config: output.buffer_ms must not be negative")
	}
	if c.Player.Volume < 0 || c.Player.Volume > 1 {
		return fmt.Errorf("config: player.volume %v outside 0..1", c.Player.Volume)
	}
	if c.Player.PlaybackSpeed <= 0 {
		return fmt.Errorf("config: player.playback_speed must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.IPC.Socket == "" {
		return fmt.Errorf("config: ipc.socket is required")
	}
	return nil
}
