// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./test.db"
  credential_key: "hunter2"

runtime:
  turn_interval: "250ms"
  max_turns: 12
  history_limit: 8
  reply_max_tokens: 300
  shutdown_timeout: "10s"

providers:
  vllm:
    kind: openai
    base_url: "http://gpu-box:8000/v1/"

dedupe:
  ttl: "1m"
  max_entries: 50

frontends:
  matrix:
    enabled: true
    homeserver: "https://matrix.org"
    user_id: "@agentmix:matrix.org"
    access_token: "matrix-token"
    allowed_users:
      - "@dana:matrix.org"
    rooms:
      - room_id: "!planning:matrix.org"
        conversation_id: "conv-1"
    command_prefix: "/"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Database.CredentialKey != "hunter2" {
		t.Errorf("Database.CredentialKey = %q, want %q", cfg.Database.CredentialKey, "hunter2")
	}

	if cfg.Runtime.TurnInterval != 250*time.Millisecond {
		t.Errorf("Runtime.TurnInterval = %v, want 250ms", cfg.Runtime.TurnInterval)
	}
	if cfg.Runtime.ShutdownTimeout != 10*time.Second {
		t.Errorf("Runtime.ShutdownTimeout = %v, want 10s", cfg.Runtime.ShutdownTimeout)
	}
	if cfg.Runtime.MaxTurns != 12 || cfg.Runtime.HistoryLimit != 8 || cfg.Runtime.ReplyMaxTokens != 300 {
		t.Errorf("Runtime = %+v, want max_turns 12, history_limit 8, reply_max_tokens 300", cfg.Runtime)
	}

	vllm, ok := cfg.Providers["vllm"]
	if !ok {
		t.Fatal("Providers[vllm] missing")
	}
	if vllm.Kind != "openai" || vllm.BaseURL != "http://gpu-box:8000/v1/" {
		t.Errorf("Providers[vllm] = %+v", vllm)
	}

	if cfg.Dedupe.TTL != time.Minute || cfg.Dedupe.MaxEntries != 50 {
		t.Errorf("Dedupe = %+v, want ttl 1m, max_entries 50", cfg.Dedupe)
	}

	m := cfg.Frontends.Matrix
	if !m.Enabled || m.CommandPrefix != "/" {
		t.Errorf("Matrix = %+v", m)
	}
	if len(m.Rooms) != 1 || m.Rooms[0].ConversationID != "conv-1" {
		t.Errorf("Matrix.Rooms = %+v", m.Rooms)
	}
	if len(m.AllowedUsers) != 1 || m.AllowedUsers[0] != "@dana:matrix.org" {
		t.Errorf("Matrix.AllowedUsers = %v", m.AllowedUsers)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("Server.HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
	if cfg.Server.GRPCAddr != "" {
		t.Errorf("Server.GRPCAddr = %q, want empty (disabled)", cfg.Server.GRPCAddr)
	}
	if cfg.Runtime.TurnInterval != time.Second {
		t.Errorf("Runtime.TurnInterval = %v, want 1s", cfg.Runtime.TurnInterval)
	}
	if cfg.Runtime.MaxTurns != 100 {
		t.Errorf("Runtime.MaxTurns = %d, want 100", cfg.Runtime.MaxTurns)
	}
	if cfg.Runtime.HistoryLimit != 5 {
		t.Errorf("Runtime.HistoryLimit = %d, want 5", cfg.Runtime.HistoryLimit)
	}
	if cfg.Runtime.ReplyMaxTokens != 150 {
		t.Errorf("Runtime.ReplyMaxTokens = %d, want 150", cfg.Runtime.ReplyMaxTokens)
	}
	if cfg.Runtime.ShutdownTimeout != 5*time.Second {
		t.Errorf("Runtime.ShutdownTimeout = %v, want 5s", cfg.Runtime.ShutdownTimeout)
	}
	if cfg.Dedupe.TTL != 10*time.Minute || cfg.Dedupe.MaxEntries != 10000 {
		t.Errorf("Dedupe = %+v, want defaults", cfg.Dedupe)
	}
	if cfg.Frontends.Matrix.CommandPrefix != "!" {
		t.Errorf("Matrix.CommandPrefix = %q, want !", cfg.Frontends.Matrix.CommandPrefix)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
path = "./agentmix.db"

[runtime]
turn_interval = "2s"
max_turns = 20

[providers.lab]
kind = "anthropic"
base_url = "https://proxy.internal/"

[[frontends.matrix.rooms]]
room_id = "!r:example.org"
conversation_id = "conv-9"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Runtime.TurnInterval != 2*time.Second || cfg.Runtime.MaxTurns != 20 {
		t.Errorf("Runtime = %+v", cfg.Runtime)
	}
	if cfg.Providers["lab"].Kind != "anthropic" {
		t.Errorf("Providers[lab] = %+v", cfg.Providers["lab"])
	}
	if len(cfg.Frontends.Matrix.Rooms) != 1 || cfg.Frontends.Matrix.Rooms[0].ConversationID != "conv-9" {
		t.Errorf("Matrix.Rooms = %+v", cfg.Frontends.Matrix.Rooms)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("AGENTMIX_TEST_DB", "/var/lib/agentmix/test.db")
	t.Setenv("AGENTMIX_TEST_KEY", "sealed-secret")

	cfg, err := Load(writeConfig(t, "config.yaml", `
database:
  path: "${AGENTMIX_TEST_DB}"
  credential_key: "${AGENTMIX_TEST_KEY}"
frontends:
  matrix:
    access_token: "${AGENTMIX_TEST_UNSET}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/agentmix/test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Database.CredentialKey != "sealed-secret" {
		t.Errorf("Database.CredentialKey = %q", cfg.Database.CredentialKey)
	}
	if cfg.Frontends.Matrix.AccessToken != "" {
		t.Errorf("unset env var should expand to empty, got %q", cfg.Frontends.Matrix.AccessToken)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing database path",
			content: "server:\n  http_addr: \"127.0.0.1:8080\"\n",
			wantErr: "database.path is required",
		},
		{
			name:    "bad duration",
			content: "database:\n  path: x.db\nruntime:\n  turn_interval: \"soon\"\n",
			wantErr: "runtime.turn_interval",
		},
		{
			name:    "non-positive duration",
			content: "database:\n  path: x.db\ndedupe:\n  ttl: \"-1m\"\n",
			wantErr: "dedupe.ttl must be positive",
		},
		{
			name:    "tailscale without hostname",
			content: "database:\n  path: x.db\ntailscale:\n  enabled: true\n",
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "provider with unknown kind",
			content: "database:\n  path: x.db\nproviders:\n  odd:\n    kind: cohere\n    base_url: http://x/\n",
			wantErr: "providers.odd.kind",
		},
		{
			name:    "provider without base url",
			content: "database:\n  path: x.db\nproviders:\n  odd:\n    kind: openai\n",
			wantErr: "providers.odd.base_url is required",
		},
		{
			name:    "matrix without token",
			content: "database:\n  path: x.db\nfrontends:\n  matrix:\n    enabled: true\n    homeserver: https://m.org\n    user_id: \"@b:m.org\"\n",
			wantErr: "access_token are required",
		},
		{
			name:    "matrix room without conversation",
			content: "database:\n  path: x.db\nfrontends:\n  matrix:\n    enabled: true\n    homeserver: https://m.org\n    user_id: \"@b:m.org\"\n    access_token: t\n    rooms:\n      - room_id: \"!r:m.org\"\n",
			wantErr: "rooms[0]",
		},
		{
			name:    "bad log format",
			content: "database:\n  path: x.db\nlogging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "invalid yaml",
			content: "database: [unterminated\n",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading config file error", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("AGENTMIX_CONFIG", "/etc/agentmix.yaml")
	if got := DefaultPath(); got != "/etc/agentmix.yaml" {
		t.Errorf("DefaultPath() = %q, want AGENTMIX_CONFIG value", got)
	}

	t.Setenv("AGENTMIX_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "agentmix", "config.yaml") {
		t.Errorf("DefaultPath() = %q, want XDG path", got)
	}
}

func TestDefaultYAML_Loads(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", DefaultYAML("/tmp/agentmix.db")))
	if err != nil {
		t.Fatalf("Load(DefaultYAML) error = %v", err)
	}
	if cfg.Database.Path != "/tmp/agentmix.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Frontends.Matrix.Enabled {
		t.Error("matrix should be disabled by default")
	}
}
