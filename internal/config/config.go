// ABOUTME: Configuration loading and parsing for agentmix
// ABOUTME: Supports YAML (or TOML by extension) with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete agentmix configuration
type Config struct {
	Server    ServerConfig              `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig           `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig            `yaml:"database" toml:"database"`
	Runtime   RuntimeConfig             `yaml:"runtime" toml:"runtime"`
	Providers map[string]ProviderConfig `yaml:"providers" toml:"providers"`
	Dedupe    DedupeConfig              `yaml:"dedupe" toml:"dedupe"`
	Frontends FrontendsConfig           `yaml:"frontends" toml:"frontends"`
	Logging   LoggingConfig             `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses. An empty GRPCAddr disables gRPC.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS on :443
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// CredentialKey seals agent API keys at rest when set
	CredentialKey string `yaml:"credential_key" toml:"credential_key"`
}

// RuntimeConfig paces the conversation turn loop
type RuntimeConfig struct {
	TurnInterval    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`
	MaxTurns        int           `yaml:"max_turns" toml:"max_turns"`
	HistoryLimit    int           `yaml:"history_limit" toml:"history_limit"`
	ReplyMaxTokens  int64         `yaml:"reply_max_tokens" toml:"reply_max_tokens"`

	// Raw string values for unmarshaling
	TurnIntervalRaw    string `yaml:"turn_interval" toml:"turn_interval"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// ProviderConfig overrides or adds a provider endpoint
type ProviderConfig struct {
	Kind    string `yaml:"kind" toml:"kind"` // openai or anthropic
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// RequiresKey defaults to false for added providers
	RequiresKey bool `yaml:"requires_key" toml:"requires_key"`
}

// DedupeConfig bounds the idempotency cache for human messages
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// FrontendsConfig holds configuration for all frontend integrations
type FrontendsConfig struct {
	Matrix MatrixConfig `yaml:"matrix" toml:"matrix"`
}

// MatrixConfig holds Matrix relay configuration
type MatrixConfig struct {
	Enabled       bool         `yaml:"enabled" toml:"enabled"`
	Homeserver    string       `yaml:"homeserver" toml:"homeserver"`
	UserID        string       `yaml:"user_id" toml:"user_id"`
	AccessToken   string       `yaml:"access_token" toml:"access_token"`
	AllowedUsers  []string     `yaml:"allowed_users" toml:"allowed_users"`
	Rooms         []RoomConfig `yaml:"rooms" toml:"rooms"`
	CommandPrefix string       `yaml:"command_prefix" toml:"command_prefix"`
}

// RoomConfig binds a Matrix room to a conversation
type RoomConfig struct {
	RoomID         string `yaml:"room_id" toml:"room_id"`
	ConversationID string `yaml:"conversation_id" toml:"conversation_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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

// DefaultPath returns the config file location: AGENTMIX_CONFIG, then
// $XDG_CONFIG_HOME/agentmix/config.yaml, then ~/.config/agentmix/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("AGENTMIX_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentmix", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "agentmix", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Runtime.TurnInterval == 0 {
		c.Runtime.TurnInterval = time.Second
	}
	if c.Runtime.ShutdownTimeout == 0 {
		c.Runtime.ShutdownTimeout = 5 * time.Second
	}
	if c.Runtime.MaxTurns == 0 {
		c.Runtime.MaxTurns = 100
	}
	if c.Runtime.HistoryLimit == 0 {
		c.Runtime.HistoryLimit = 5
	}
	if c.Runtime.ReplyMaxTokens == 0 {
		c.Runtime.ReplyMaxTokens = 150
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 10 * time.Minute
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 10000
	}
	if c.Frontends.Matrix.CommandPrefix == "" {
		c.Frontends.Matrix.CommandPrefix = "!"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Runtime.TurnInterval < 0 {
		return fmt.Errorf("runtime.turn_interval must be positive")
	}
	if c.Runtime.MaxTurns < 0 {
		return fmt.Errorf("runtime.max_turns must be positive")
	}
	if c.Runtime.HistoryLimit < 0 {
		return fmt.Errorf("runtime.history_limit must be positive")
	}
	if c.Runtime.ReplyMaxTokens < 0 {
		return fmt.Errorf("runtime.reply_max_tokens must be positive")
	}

	for name, p := range c.Providers {
		switch p.Kind {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("providers.%s.kind must be openai or anthropic, got %q", name, p.Kind)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url is required", name)
		}
		if _, err := url.Parse(p.BaseURL); err != nil {
			return fmt.Errorf("providers.%s.base_url is not a valid URL: %w", name, err)
		}
	}

	if m := c.Frontends.Matrix; m.Enabled {
		if m.Homeserver == "" {
			return fmt.Errorf("frontends.matrix.homeserver is required when matrix is enabled")
		}
		if _, err := url.Parse(m.Homeserver); err != nil {
			return fmt.Errorf("frontends.matrix.homeserver is not a valid URL: %w", err)
		}
		if m.UserID == "" || m.AccessToken == "" {
			return fmt.Errorf("frontends.matrix.user_id and access_token are required when matrix is enabled")
		}
		for i, room := range m.Rooms {
			if room.RoomID == "" || room.ConversationID == "" {
				return fmt.Errorf("frontends.matrix.rooms[%d] needs room_id and conversation_id", i)
			}
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
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
		{"runtime.turn_interval", cfg.Runtime.TurnIntervalRaw, &cfg.Runtime.TurnInterval},
		{"runtime.shutdown_timeout", cfg.Runtime.ShutdownTimeoutRaw, &cfg.Runtime.ShutdownTimeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// DefaultYAML renders the config written by `agentmix init`.
func DefaultYAML(dbPath string) string {
	return fmt.Sprintf(defaultYAMLTemplate, dbPath)
}

const defaultYAMLTemplate = `# agentmix configuration

server:
  http_addr: "127.0.0.1:8080"
  # grpc_addr: "127.0.0.1:50051"   # gRPC health service; leave empty to disable

tailscale:
  enabled: false
  hostname: "agentmix"
  # auth_key: "${TS_AUTHKEY}"

database:
  path: %q
  # credential_key: "${AGENTMIX_CREDENTIAL_KEY}"   # seals agent API keys at rest

runtime:
  turn_interval: "1s"
  max_turns: 100
  history_limit: 5
  reply_max_tokens: 150
  shutdown_timeout: "5s"

# providers:
#   vllm:
#     kind: openai
#     base_url: "http://gpu-box:8000/v1/"

dedupe:
  ttl: "10m"
  max_entries: 10000

frontends:
  matrix:
    enabled: false
    homeserver: "https://matrix.org"
    user_id: "@agentmix:matrix.org"
    access_token: "${AGENTMIX_MATRIX_TOKEN}"
    allowed_users: []
    rooms: []
    command_prefix: "!"

logging:
  level: "info"
  format: "text"
`
