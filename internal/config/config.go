package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig      `yaml:"log"`
	Database        DatabaseConfig `yaml:"database"`
	API             APIConfig      `yaml:"api"`
	Resolver        ResolverConfig `yaml:"resolver"`
	Platform        PlatformConfig `yaml:"platform"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Script          string         `yaml:"script"`           // Optional Lua status hook
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig contains control API settings
type APIConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"` // 0 disables limiting
	RateBurst    int     `yaml:"rate_burst"`
}

// Addr returns host:port
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ResolverConfig controls the schedule polling runner
type ResolverConfig struct {
	Interval    Duration `yaml:"interval"`
	Timezone    string   `yaml:"timezone"`
	WeekendDays []string `yaml:"weekend_days"` // e.g. ["sat", "sun"]
}

// PlatformConfig describes the host capabilities the daemon drives
type PlatformConfig struct {
	OverlayGranted bool   `yaml:"overlay_granted"`
	TorchLED       string `yaml:"torch_led"` // sysfs LED directory, empty = no flash hardware
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// LedgerConfig contains transition history settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns the retention window
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// MQTTConfig contains broker bridge settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
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

// Parse parses configuration bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./nightbuddy.sqlite"
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8420
	}
	if cfg.API.RateLimitRPS > 0 && cfg.API.RateBurst <= 0 {
		cfg.API.RateBurst = int(cfg.API.RateLimitRPS) * 2
		if cfg.API.RateBurst < 1 {
			cfg.API.RateBurst = 1
		}
	}

	// Resolver defaults
	if cfg.Resolver.Interval == 0 {
		cfg.Resolver.Interval = Duration(30 * time.Second)
	}
	if cfg.Resolver.Timezone == "" {
		cfg.Resolver.Timezone = "Local"
	}
	if len(cfg.Resolver.WeekendDays) == 0 {
		cfg.Resolver.WeekendDays = []string{"sat", "sun"}
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "nightbuddy"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "nightbuddy"
	}
	cfg.MQTT.TopicPrefix = strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
