// ABOUTME: Tests for the agentmix command dispatcher, init, logging and client subcommands
// ABOUTME: Client subcommands run against httptest servers that mimic the gateway API

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paradiselabs-ai/AgentMix/internal/config"
	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
	"github.com/paradiselabs-ai/AgentMix/internal/gateway"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(t.Context(), args, &out)
	return out.String(), err
}

func TestRun_Dispatch(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "agentmix dev\n", out)

	out, err = runCmd(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "serve [--config PATH]")

	out, err = runCmd(t)
	require.Error(t, err)
	assert.Contains(t, out, "Usage: agentmix")

	_, err = runCmd(t, "dance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: dance")
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	configPath := filepath.Join(dir, "config", "agentmix.yaml")

	out, err := runCmd(t, "init", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Config written to "+configPath)
	assert.DirExists(t, filepath.Join(dir, "data", "agentmix"))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(configPath)
	require.NoError(t, err, "generated config loads")
	assert.Equal(t, filepath.Join(dir, "data", "agentmix", "agentmix.db"), cfg.Database.Path)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)

	_, err = runCmd(t, "init", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = runCmd(t, "init", "--config", configPath, "--force")
	require.NoError(t, err)
}

func TestRunServe_BadConfig(t *testing.T) {
	_, err := runCmd(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestRunServe_UnexpectedArgument(t *testing.T) {
	_, err := runCmd(t, "serve", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected argument: extra")
}

// fakeServer mimics the read-only gateway endpoints used by the client commands.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/conversations/active", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gateway.ActiveResponse{Conversations: []conversation.Status{
			{ConversationID: "conv-1", Active: true, Phase: conversation.PhaseRunning, MessageCount: 4},
		}})
	})
	mux.HandleFunc("GET /api/conversations/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "conv-1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "conversation not found"})
			return
		}
		json.NewEncoder(w).Encode(gateway.StatusResponse{
			Status: conversation.Status{
				ConversationID: "conv-1",
				Active:         true,
				Paused:         true,
				AwaitingHuman:  true,
				Phase:          conversation.PhaseAwaitingHuman,
				MessageCount:   4,
				LastSpeaker:    "Alpha",
				PendingHumanRequest: &conversation.HumanInputRequest{
					Agent:   "Beta",
					Message: "which city?",
				},
			},
			StoredStatus: store.ConversationActive,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunHealth(t *testing.T) {
	srv := fakeServer(t)

	out, err := runCmd(t, "health", "--addr", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "healthy\n", out)
}

func TestRunHealth_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := runCmd(t, "health", "--addr", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 503")
}

func TestRunActive(t *testing.T) {
	srv := fakeServer(t)

	out, err := runCmd(t, "active", "--addr", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "conv-1")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "4 messages")
}

func TestRunStatus(t *testing.T) {
	srv := fakeServer(t)

	out, err := runCmd(t, "status", "conv-1", "--addr", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Conversation: conv-1")
	assert.Contains(t, out, "Stored:       active")
	assert.Contains(t, out, "Last speaker: Alpha")
	assert.Contains(t, out, "human input for Beta: which city?")

	_, err = runCmd(t, "status", "missing", "--addr", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation not found")

	_, err = runCmd(t, "status", "--addr", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: agentmix status")
}

func TestParseClientFlags_AddrFromConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "agentmix.yaml")
	contents := "server:\n  http_addr: \"127.0.0.1:9191\"\ndatabase:\n  path: \"" + filepath.Join(dir, "a.db") + "\"\n"
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0600))

	base, rest, err := parseClientFlags("status", []string{"--config", configPath, "conv-9"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9191", base)
	assert.Equal(t, []string{"conv-9"}, rest)

	_, _, err = parseClientFlags("status", []string{"--config", filepath.Join(dir, "missing.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "or pass --addr")
}

func TestSetupLogger(t *testing.T) {
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"})
	_, isJSON := logger.Handler().(*slog.JSONHandler)
	assert.True(t, isJSON)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = setupLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	_, isColor := logger.Handler().(*colorHandler)
	assert.True(t, isColor)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := slog.New(&colorHandler{out: &buf, mu: new(sync.Mutex), level: slog.LevelInfo})

	logger.With("component", "runtime").WithGroup("turn").Info("reply stored", "agent", "Alpha")
	logger.Debug("hidden")

	line := buf.String()
	assert.Contains(t, line, "INF reply stored")
	assert.Contains(t, line, "component=runtime")
	assert.Contains(t, line, "turn.agent=Alpha")
	assert.NotContains(t, line, "hidden")
	assert.Equal(t, 1, strings.Count(line, "\n"))
}
