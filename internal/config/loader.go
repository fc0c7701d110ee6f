// Package config loads pwnrelay's YAML configuration and applies
// environment overrides from the process environment and an optional
// .env file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Default values applied to fields left empty
const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultDrainTimeout      = 5 * time.Second
	DefaultDedupLimit        = 200
	DefaultUnitName          = "pwnagotchi"
	DefaultLogLevel          = "info"
	DefaultCompanionAddr     = ":8765"
	DefaultKeepalive         = 45 * time.Second
	DefaultStaleAfter        = 60 * time.Second
	DefaultAPIAddr           = "127.0.0.1:8766"
)

// Environment variables that override file values
const (
	EnvHAURL         = "HA_URL"
	EnvHAToken       = "HA_TOKEN"
	EnvUnitName      = "UNIT_NAME"
	EnvLogLevel      = "PWNRELAY_LOG_LEVEL"
	EnvLogFile       = "PWNRELAY_LOG_FILE"
	EnvAPIAddr       = "PWNRELAY_API_ADDR"
	EnvCompanionAddr = "COMPANION_ADDR"
	EnvHeartbeat     = "PWNRELAY_HEARTBEAT_SECONDS"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// RelayConfig tunes the relay core shared by every plugin. The heartbeat
// and request timeout are configured in whole seconds; applyDefaults turns
// them into HeartbeatInterval and RequestTimeout.
type RelayConfig struct {
	HeartbeatIntervalSeconds int           `yaml:"heartbeat_interval_seconds"`
	RequestTimeoutSeconds    int           `yaml:"request_timeout_seconds"`
	DedupLimit               int           `yaml:"dedup_window_limit"`
	DrainTimeout             time.Duration `yaml:"drain_timeout"`
	DispatchInterval         time.Duration `yaml:"dispatch_interval"`
	DisableHeartbeat         bool          `yaml:"disable_heartbeat"`

	HeartbeatInterval time.Duration `yaml:"-"`
	RequestTimeout    time.Duration `yaml:"-"`
}

// HomeAssistantConfig holds the Home Assistant connection
type HomeAssistantConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	UnitName string `yaml:"unit_name"`
}

// CompanionConfig holds the companion app WebSocket server
type CompanionConfig struct {
	Enabled    bool          `yaml:"enabled"`
	ListenAddr string        `yaml:"listen_addr"`
	Keepalive  time.Duration `yaml:"keepalive_interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// APIConfig holds the local status server
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the root of pwnrelay.yaml
type Config struct {
	LogLevel      string              `yaml:"log_level"`
	LogFile       string              `yaml:"log_file"`
	Relay         RelayConfig         `yaml:"relay"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Companion     CompanionConfig     `yaml:"companion"`
	API           APIConfig           `yaml:"api"`
}

// Loader reads the configuration file and environment
type Loader struct {
	path    string
	envFile string
	logger  *zap.Logger
	config  *Config
}

// NewLoader creates a loader for the YAML file at path. An empty path loads
// defaults and environment only.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:    path,
		envFile: ".env",
		logger:  logger,
	}
}

// WithEnvFile sets the .env file read before applying overrides. An empty
// name disables .env loading.
func (l *Loader) WithEnvFile(name string) *Loader {
	l.envFile = name
	return l
}

// Load reads, overrides, defaults and validates the configuration
func (l *Loader) Load() (*Config, error) {
	cfg := &Config{}

	if l.path != "" {
		l.logger.Debug("Loading configuration", zap.String("path", l.path))

		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Unknown keys are errors so a misspelled option is not silently
		// replaced by its default
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if l.envFile != "" {
		// Existing environment variables win over the file
		if err := godotenv.Load(l.envFile); err != nil {
			l.logger.Debug("No .env file loaded", zap.String("path", l.envFile))
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.config = cfg
	l.logger.Info("Configuration loaded",
		zap.Bool("home_assistant", cfg.HomeAssistant.Enabled),
		zap.Bool("companion", cfg.Companion.Enabled),
		zap.Bool("api", cfg.API.Enabled),
		zap.Duration("heartbeat_interval", cfg.Relay.HeartbeatInterval))
	return cfg, nil
}

// Get returns the last loaded configuration, or nil before Load
func (l *Loader) Get() *Config {
	return l.config
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvHAURL); v != "" {
		cfg.HomeAssistant.URL = v
		cfg.HomeAssistant.Enabled = true
	}
	if v := os.Getenv(EnvHAToken); v != "" {
		cfg.HomeAssistant.Token = v
	}
	if v := os.Getenv(EnvUnitName); v != "" {
		cfg.HomeAssistant.UnitName = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv(EnvAPIAddr); v != "" {
		cfg.API.ListenAddr = v
		cfg.API.Enabled = true
	}
	if v := os.Getenv(EnvCompanionAddr); v != "" {
		cfg.Companion.ListenAddr = v
		cfg.Companion.Enabled = true
	}
	if v := os.Getenv(EnvHeartbeat); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, EnvHeartbeat, v)
		}
		cfg.Relay.HeartbeatIntervalSeconds = secs
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Relay.HeartbeatIntervalSeconds != 0 {
		c.Relay.HeartbeatInterval = time.Duration(c.Relay.HeartbeatIntervalSeconds) * time.Second
	}
	if c.Relay.RequestTimeoutSeconds != 0 {
		c.Relay.RequestTimeout = time.Duration(c.Relay.RequestTimeoutSeconds) * time.Second
	}
	if c.Relay.HeartbeatInterval == 0 {
		c.Relay.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Relay.RequestTimeout == 0 {
		c.Relay.RequestTimeout = DefaultRequestTimeout
	}
	if c.Relay.DrainTimeout == 0 {
		c.Relay.DrainTimeout = DefaultDrainTimeout
	}
	if c.Relay.DedupLimit == 0 {
		c.Relay.DedupLimit = DefaultDedupLimit
	}
	if c.HomeAssistant.UnitName == "" {
		c.HomeAssistant.UnitName = DefaultUnitName
	}
	if c.Companion.ListenAddr == "" {
		c.Companion.ListenAddr = DefaultCompanionAddr
	}
	if c.Companion.Keepalive == 0 {
		c.Companion.Keepalive = DefaultKeepalive
	}
	if c.Companion.StaleAfter == 0 {
		c.Companion.StaleAfter = DefaultStaleAfter
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = DefaultAPIAddr
	}
}

// Validate reports the first problem found in c
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"relay.heartbeat_interval_seconds", c.Relay.HeartbeatInterval},
		{"relay.request_timeout_seconds", c.Relay.RequestTimeout},
		{"relay.drain_timeout", c.Relay.DrainTimeout},
		{"relay.dispatch_interval", c.Relay.DispatchInterval},
		{"companion.keepalive_interval", c.Companion.Keepalive},
		{"companion.stale_after", c.Companion.StaleAfter},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, d.name)
		}
	}
	if c.Relay.DedupLimit < 0 {
		return fmt.Errorf("%w: relay.dedup_window_limit must not be negative", ErrInvalidConfig)
	}

	if c.HomeAssistant.Enabled && (c.HomeAssistant.URL == "") != (c.HomeAssistant.Token == "") {
		return fmt.Errorf("%w: home_assistant needs both url and token", ErrInvalidConfig)
	}
	return nil
}

// Level returns the zap level for LogLevel
func (c *Config) Level() zap.AtomicLevel {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return level
}

// NewLogger builds the production logger, writing to LogFile as well as
// stderr when set
func (c *Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = c.Level()
	if c.LogFile != "" {
		zc.OutputPaths = append(zc.OutputPaths, c.LogFile)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
