// ABOUTME: Configuration loading and parsing for hearth
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/hearth/internal/fallback"
	"github.com/2389/hearth/internal/maintenance"
)

// Default replies used when the config leaves them empty.
const (
	DefaultRestartReply = "¡Hola de nuevo! Ha pasado un tiempo desde tu último mensaje. ¿En qué te puedo ayudar?"
	DefaultCloseReply   = "Gracias por escribirnos. Cerramos esta conversación, escríbenos cuando quieras."
)

// DefaultCloseCommands are the phrases that end a conversation.
var DefaultCloseCommands = []string{
	"terminar conversacion",
	"terminar conversación",
	"finalizar chat",
	"end conversation",
}

// Config represents the complete hearth configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Session     SessionConfig     `yaml:"session"`
	Replies     RepliesConfig     `yaml:"replies"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Rules       RulesConfig       `yaml:"rules"`
	Dedupe      DedupeConfig      `yaml:"dedupe"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Storage     StorageConfig     `yaml:"storage"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionConfig holds conversation session lifecycle settings
type SessionConfig struct {
	Timeout       time.Duration `yaml:"-"`
	CloseCommands []string      `yaml:"close_commands"`

	TimeoutRaw string `yaml:"timeout"`
}

// RepliesConfig holds the fixed replies used outside rule matching
type RepliesConfig struct {
	Restart string `yaml:"restart"`
	Close   string `yaml:"close"`
	Apology string `yaml:"apology"`
}

// FallbackTier is one keyword tier of the fallback chain
type FallbackTier struct {
	Category   string   `yaml:"category"`
	Keywords   []string `yaml:"keywords"`
	Reply      string   `yaml:"reply"`
	Confidence float64  `yaml:"confidence"`
}

// FallbackConfig overrides the built-in fallback chain. Empty lists keep the built-ins.
type FallbackConfig struct {
	Tiers          []FallbackTier `yaml:"tiers"`
	GenericReplies []string       `yaml:"generic_replies"`
}

// RulesConfig holds the rules directory settings
type RulesConfig struct {
	Dir      string        `yaml:"dir"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"-"`

	DebounceRaw string `yaml:"debounce"`
}

// DedupeConfig holds the in-memory dedup cache settings
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-"`
	MaxSize int           `yaml:"max_size"`

	TTLRaw string `yaml:"ttl"`
}

// IngestConfig holds webhook acceptance settings.
// VerifyToken answers the provider's subscription handshake; empty disables it.
type IngestConfig struct {
	ObjectTypes []string `yaml:"object_types"`
	VerifyToken string   `yaml:"verify_token"`
}

// ChannelsConfig holds the limits given to auto-provisioned channels
type ChannelsConfig struct {
	DailyLimit    int `yaml:"daily_limit"`
	RatePerSecond int `yaml:"rate_per_second"`
}

// DeliveryConfig holds the outbound provider settings. An empty token logs replies instead of sending them.
type DeliveryConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// StorageConfig holds the per-call storage timeout
type StorageConfig struct {
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// MaintenanceConfig holds scheduled upkeep settings
type MaintenanceConfig struct {
	Schedule         string        `yaml:"schedule"`
	MessageRetention time.Duration `yaml:"-"`

	MessageRetentionRaw string `yaml:"message_retention"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ResolvePath returns the path to the config file.
// Priority: HEARTH_CONFIG env var > XDG_CONFIG_HOME/hearth/hearth.yaml > ~/.config/hearth/hearth.yaml
func ResolvePath() string {
	if envPath := os.Getenv("HEARTH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hearth.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "hearth", "hearth.yaml")
}

// DataDir returns the hearth data directory.
// Priority: XDG_DATA_HOME/hearth > ~/.local/share/hearth
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "hearth")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are filled in.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(DataDir(), "hearth.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = 24 * time.Hour
	}
	if len(c.Session.CloseCommands) == 0 {
		c.Session.CloseCommands = append([]string(nil), DefaultCloseCommands...)
	}
	if strings.TrimSpace(c.Replies.Restart) == "" {
		c.Replies.Restart = DefaultRestartReply
	}
	if strings.TrimSpace(c.Replies.Close) == "" {
		c.Replies.Close = DefaultCloseReply
	}
	if strings.TrimSpace(c.Replies.Apology) == "" {
		c.Replies.Apology = fallback.DefaultApology
	}
	if c.Rules.Debounce == 0 {
		c.Rules.Debounce = 500 * time.Millisecond
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 10 * time.Minute
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = 10000
	}
	if len(c.Ingest.ObjectTypes) == 0 {
		c.Ingest.ObjectTypes = []string{"whatsapp_business_account"}
	}
	if c.Channels.DailyLimit == 0 {
		c.Channels.DailyLimit = 1000
	}
	if c.Channels.RatePerSecond == 0 {
		c.Channels.RatePerSecond = 20
	}
	if c.Delivery.BaseURL == "" {
		c.Delivery.BaseURL = "https://graph.facebook.com/v19.0"
	}
	if c.Delivery.Timeout == 0 {
		c.Delivery.Timeout = 10 * time.Second
	}
	if c.Storage.Timeout == 0 {
		c.Storage.Timeout = 3 * time.Second
	}
	if c.Maintenance.Schedule == "" {
		c.Maintenance.Schedule = maintenance.DefaultSchedule
	}
	if c.Maintenance.MessageRetention == 0 {
		c.Maintenance.MessageRetention = maintenance.DefaultRetention
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Session.Timeout < 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	for i, cmd := range c.Session.CloseCommands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("session.close_commands[%d] is empty", i)
		}
	}

	for i, tier := range c.Fallback.Tiers {
		if strings.TrimSpace(tier.Category) == "" {
			return fmt.Errorf("fallback.tiers[%d].category is required", i)
		}
		if len(tier.Keywords) == 0 {
			return fmt.Errorf("fallback.tiers[%d] (%s) needs at least one keyword", i, tier.Category)
		}
		if strings.TrimSpace(tier.Reply) == "" {
			return fmt.Errorf("fallback.tiers[%d] (%s) reply is required", i, tier.Category)
		}
		if tier.Confidence <= 0 || tier.Confidence > 1 {
			return fmt.Errorf("fallback.tiers[%d] (%s) confidence must be in (0, 1], got %v", i, tier.Category, tier.Confidence)
		}
	}

	if c.Rules.Watch && c.Rules.Dir == "" {
		return fmt.Errorf("rules.watch requires rules.dir")
	}
	if c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.max_size must not be negative")
	}
	if c.Channels.DailyLimit < 0 || c.Channels.RatePerSecond < 0 {
		return fmt.Errorf("channels limits must not be negative")
	}
	if err := maintenance.ValidateSchedule(c.Maintenance.Schedule); err != nil {
		return fmt.Errorf("maintenance.schedule: %w", err)
	}

	for name, d := range map[string]time.Duration{
		"server.shutdown_timeout":       c.Server.ShutdownTimeout,
		"rules.debounce":                c.Rules.Debounce,
		"dedupe.ttl":                    c.Dedupe.TTL,
		"delivery.timeout":              c.Delivery.Timeout,
		"storage.timeout":               c.Storage.Timeout,
		"maintenance.message_retention": c.Maintenance.MessageRetention,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"session.timeout", cfg.Session.TimeoutRaw, &cfg.Session.Timeout},
		{"rules.debounce", cfg.Rules.DebounceRaw, &cfg.Rules.Debounce},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
		{"delivery.timeout", cfg.Delivery.TimeoutRaw, &cfg.Delivery.Timeout},
		{"storage.timeout", cfg.Storage.TimeoutRaw, &cfg.Storage.Timeout},
		{"maintenance.message_retention", cfg.Maintenance.MessageRetentionRaw, &cfg.Maintenance.MessageRetention},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
