// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the runtime configuration
type Config struct {
	// Display configuration
	Display DisplayConfig `mapstructure:"display"`

	// Initial output advertised at startup
	Output OutputConfig `mapstructure:"output"`

	Seat SeatConfig `mapstructure:"seat"`

	// Metrics and introspection endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DisplayConfig contains display-wide settings
type DisplayConfig struct {
	SocketName   string        `mapstructure:"socket_name"`   // Name of the socket under XDG_RUNTIME_DIR
	GraceWindow  time.Duration `mapstructure:"grace_window"`  // How long a removed global still accepts binds
	PingInterval time.Duration `mapstructure:"ping_interval"` // Watchdog escalation interval
	MaxSessions  int           `mapstructure:"max_sessions"`  // 0 means unlimited
}

// OutputConfig describes the output created at startup
type OutputConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	Name        string       `mapstructure:"name"`
	Description string       `mapstructure:"description"`
	Make        string       `mapstructure:"make"`
	Model       string       `mapstructure:"model"`
	X           int32        `mapstructure:"x"`
	Y           int32        `mapstructure:"y"`
	Modes       []ModeConfig `mapstructure:"modes"`
	// Logical width and height; the scale is derived from them when Scale is 0
	LogicalWidth  int32 `mapstructure:"logical_width"`
	LogicalHeight int32 `mapstructure:"logical_height"`
	Scale         int32 `mapstructure:"scale"`
}

// ModeConfig is one output mode
type ModeConfig struct {
	Width     int32 `mapstructure:"width"`
	Height    int32 `mapstructure:"height"`
	Refresh   int32 `mapstructure:"refresh"` // mHz
	Preferred bool  `mapstructure:"preferred"`
}

// SeatConfig contains seat settings
type SeatConfig struct {
	Name string `mapstructure:"name"`
}

// MetricsConfig contains the HTTP endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Display: DisplayConfig{
			SocketName:   "wayland-rt-0",
			GraceWindow:  5 * time.Second,
			PingInterval: 10 * time.Second,
			MaxSessions:  0,
		},
		Output: OutputConfig{
			Enabled: true,
			Name:    "HEADLESS-1",
			Make:    "wayrt",
			Model:   "headless",
			Modes: []ModeConfig{
				{Width: 1920, Height: 1080, Refresh: 60000, Preferred: true},
			},
			LogicalWidth:  1920,
			LogicalHeight: 1080,
		},
		Seat: SeatConfig{
			Name: "seat0",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("wayrt")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		viper.AddConfigPath("/etc/wayrt")
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "wayrt"))
		}
		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	viper.SetEnvPrefix("WAYRT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	c, err := Load(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// SetDefaults registers every default on v. Individual keys are set so
// that a partial file merges with the defaults.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig
	v.SetDefault("display.socket_name", d.Display.SocketName)
	v.SetDefault("display.grace_window", d.Display.GraceWindow)
	v.SetDefault("display.ping_interval", d.Display.PingInterval)
	v.SetDefault("display.max_sessions", d.Display.MaxSessions)

	v.SetDefault("output.enabled", d.Output.Enabled)
	v.SetDefault("output.name", d.Output.Name)
	v.SetDefault("output.description", d.Output.Description)
	v.SetDefault("output.make", d.Output.Make)
	v.SetDefault("output.model", d.Output.Model)
	v.SetDefault("output.x", d.Output.X)
	v.SetDefault("output.y", d.Output.Y)
	v.SetDefault("output.modes", modesToMaps(d.Output.Modes))
	v.SetDefault("output.logical_width", d.Output.LogicalWidth)
	v.SetDefault("output.logical_height", d.Output.LogicalHeight)
	v.SetDefault("output.scale", d.Output.Scale)

	v.SetDefault("seat.name", d.Seat.Name)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)

	v.SetDefault("logging.log_level", d.Logging.LogLevel)
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Validate checks values viper cannot check by type alone.
func (c *Config) Validate() error {
	if c.Display.SocketName == "" {
		return errors.New("display.socket_name must not be empty")
	}
	if strings.ContainsRune(c.Display.SocketName, '/') && !filepath.IsAbs(c.Display.SocketName) {
		return fmt.Errorf("display.socket_name %q must be a bare name or an absolute path", c.Display.SocketName)
	}
	if c.Display.GraceWindow < 0 {
		return errors.New("display.grace_window must not be negative")
	}
	if c.Display.PingInterval <= 0 {
		return errors.New("display.ping_interval must be positive")
	}
	if c.Display.MaxSessions < 0 {
		return errors.New("display.max_sessions must not be negative")
	}
	if c.Output.Scale < 0 {
		return errors.New("output.scale must not be negative")
	}
	preferred := 0
	for i, m := range c.Output.Modes {
		if m.Width <= 0 || m.Height <= 0 {
			return fmt.Errorf("output.modes[%d]: size %dx%d is not positive", i, m.Width, m.Height)
		}
		if m.Preferred {
			preferred++
		}
	}
	if preferred > 1 {
		return fmt.Errorf("output.modes: %d modes marked preferred", preferred)
	}
	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	// Check if config file is already loaded
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if os.Getuid() == 0 {
		return "/etc/wayrt/wayrt.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/wayrt/wayrt.toml"
	}
	return filepath.Join(home, ".config", "wayrt", "wayrt.toml")
}

// SocketPath resolves display.socket_name against XDG_RUNTIME_DIR.
func (c *Config) SocketPath() (string, error) {
	name := c.Display.SocketName
	if filepath.IsAbs(name) {
		return name, nil
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(dir, name), nil
}

// modesToMaps flattens modes so viper can write them back out as TOML
// tables.
func modesToMaps(modes []ModeConfig) []map[string]any {
	out := make([]map[string]any, 0, len(modes))
	for _, m := range modes {
		out = append(out, map[string]any{
			"width":     m.Width,
			"height":    m.Height,
			"refresh":   m.Refresh,
			"preferred": m.Preferred,
		})
	}
	return out
}
