package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig       `yaml:"log"`
	Database        DatabaseConfig  `yaml:"database"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	DMX             DMXConfig       `yaml:"dmx"`
	Control         ControlConfig   `yaml:"control"`
	Playback        PlaybackConfig  `yaml:"playback"`
	Scheduler       SchedulerConfig `yaml:"scheduler"`
	Registry        RegistryConfig  `yaml:"registry"`
	Universe        UniverseConfig  `yaml:"universe"`
	HTTP            HTTPConfig      `yaml:"http"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	Script          string          `yaml:"script"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"` // Structured output instead of the console writer
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains show ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 256)
}

// DMXConfig contains lighting bus widget settings
type DMXConfig struct {
	Port           string   `yaml:"port"` // Serial device; empty runs without hardware
	BaudRate       int      `yaml:"baud_rate"`
	FrameInterval  Duration `yaml:"frame_interval"`
	ReconnectPause Duration `yaml:"reconnect_pause"`
	MaxReconnects  int      `yaml:"max_reconnects"` // 0 = infinite
}

// ControlConfig contains water control system settings
type ControlConfig struct {
	Address        string   `yaml:"address"` // host:port; empty disables the link
	ConnectTimeout Duration `yaml:"connect_timeout"`
	RetryInterval  Duration `yaml:"retry_interval"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	ReconnectRPS   float64  `yaml:"reconnect_rps"`
}

// PlaybackConfig contains show loop settings
type PlaybackConfig struct {
	Tick       Duration `yaml:"tick"`
	FrameEvery int      `yaml:"frame_every"`
	Leader     Duration `yaml:"leader"`
}

// SchedulerConfig contains cron playlist scheduling settings
type SchedulerConfig struct {
	Enabled        *bool    `yaml:"enabled"`  // Default: true
	Timezone       string   `yaml:"timezone"` // Empty means local time
	RecoveryWindow Duration `yaml:"recovery_window"`
}

// IsEnabled returns whether the scheduler is enabled (default: true)
func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RegistryConfig locates the address table and palette and names the
// reserved control addresses.
type RegistryConfig struct {
	FCWTable       string            `yaml:"fcw_table"`
	Palette        string            `yaml:"palette"`
	Reserved       map[uint32]string `yaml:"reserved"` // address -> special action
	ColorOverrides []ColorOverride   `yaml:"color_overrides"`
}

// ColorOverride forces a fixed colour mapping on an address.
type ColorOverride struct {
	Address uint32 `yaml:"address"`
	Mode    string `yaml:"mode"` // voice or curtain
}

// UniverseConfig describes the lighting fixtures
type UniverseConfig struct {
	Lights  []LightConfig  `yaml:"lights"`
	Modules []ModuleConfig `yaml:"modules"`
}

// LightConfig is one fixture
type LightConfig struct {
	Number   uint32          `yaml:"number"`
	Name     string          `yaml:"name"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig is one bus channel of a fixture
type ChannelConfig struct {
	Index      uint32  `yaml:"index"`
	Type       string  `yaml:"type"`
	Correction float64 `yaml:"correction"`
}

// ModuleConfig groups lights for shifting and swapping
type ModuleConfig struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"` // numbered (default), a, b or group
	Lights []uint32 `yaml:"lights"`
}

// HTTPConfig contains the control/health server settings
type HTTPConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // websocket origins; empty allows any
}

// MQTTConfig contains status publishing settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// DefaultReserved are the reserved control addresses used when the
// configuration names none.
var DefaultReserved = map[uint32]string{
	990: "module_swap",
	991: "shift",
	992: "shift_timer",
	999: "reset",
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./fountaind.sqlite"
	}
	if cfg.Script == "" {
		cfg.Script = "main.lua"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 90
	}

	// Event bus defaults
	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 4
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 256
	}

	// DMX defaults
	if cfg.DMX.BaudRate == 0 {
		cfg.DMX.BaudRate = 250000
	}
	if cfg.DMX.FrameInterval == 0 {
		cfg.DMX.FrameInterval = Duration(20 * time.Millisecond)
	}
	if cfg.DMX.ReconnectPause == 0 {
		cfg.DMX.ReconnectPause = Duration(time.Second)
	}

	// Control system defaults
	if cfg.Control.ConnectTimeout == 0 {
		cfg.Control.ConnectTimeout = Duration(30 * time.Second)
	}
	if cfg.Control.RetryInterval == 0 {
		cfg.Control.RetryInterval = Duration(time.Second)
	}
	if cfg.Control.WriteTimeout == 0 {
		cfg.Control.WriteTimeout = Duration(time.Second)
	}
	if cfg.Control.ReconnectRPS == 0 {
		cfg.Control.ReconnectRPS = 1
	}

	// Playback defaults
	if cfg.Playback.Tick == 0 {
		cfg.Playback.Tick = Duration(10 * time.Millisecond)
	}
	if cfg.Playback.FrameEvery == 0 {
		cfg.Playback.FrameEvery = 4
	}
	if cfg.Playback.Leader == 0 {
		cfg.Playback.Leader = Duration(3 * time.Second)
	}

	// Scheduler defaults
	if cfg.Scheduler.RecoveryWindow == 0 {
		cfg.Scheduler.RecoveryWindow = Duration(15 * time.Minute)
	}

	// Registry defaults
	if len(cfg.Registry.Reserved) == 0 {
		cfg.Registry.Reserved = make(map[uint32]string, len(DefaultReserved))
		for addr, action := range DefaultReserved {
			cfg.Registry.Reserved[addr] = action
		}
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9090
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "fountaind"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "fountaind"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate rejects values the daemon cannot run with
func (cfg *Config) Validate() error {
	var errs []error

	if cfg.Playback.Tick.Duration() < time.Millisecond {
		errs = append(errs, fmt.Errorf("playback.tick must be at least 1ms"))
	}
	if cfg.Playback.FrameEvery < 0 {
		errs = append(errs, fmt.Errorf("playback.frame_every must be positive"))
	}
	if cfg.DMX.FrameInterval.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("dmx.frame_interval must be positive"))
	}
	for addr, action := range cfg.Registry.Reserved {
		if action == "" {
			errs = append(errs, fmt.Errorf("registry.reserved[%d]: empty action", addr))
		}
	}
	for i, o := range cfg.Registry.ColorOverrides {
		if o.Mode != "voice" && o.Mode != "curtain" {
			errs = append(errs, fmt.Errorf("registry.color_overrides[%d]: unknown mode %q", i, o.Mode))
		}
	}
	if tz := cfg.Scheduler.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
