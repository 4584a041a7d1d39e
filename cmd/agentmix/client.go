// ABOUTME: Client subcommands that query a running agentmix server over HTTP
// ABOUTME: health, active and status resolve the server address from --addr or the config file

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paradiselabs-ai/AgentMix/internal/config"
	"github.com/paradiselabs-ai/AgentMix/internal/gateway"
)

const clientTimeout = 10 * time.Second

// parseClientFlags parses --config and --addr and returns the base URL of
// the server plus any positional arguments.
func parseClientFlags(name string, args []string) (string, []string, error) {
	flagSet, configPath := newFlagSet(name)
	addr := flagSet.String("addr", "", "server HTTP address (default: server.http_addr from the config)")
	if err := flagSet.Parse(args); err != nil {
		return "", nil, err
	}

	if *addr == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return "", nil, fmt.Errorf("loading config (or pass --addr): %w", err)
		}
		*addr = cfg.Server.HTTPAddr
	}

	base := *addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/"), flagSet.Args(), nil
}

// getJSON fetches path from the server. Non-200 responses become errors
// carrying the server's error message.
func getJSON(ctx context.Context, base, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	base, _, err := parseClientFlags("health", args)
	if err != nil {
		return err
	}

	if err := getJSON(ctx, base, "/health", nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func runActive(ctx context.Context, args []string, out io.Writer) error {
	base, _, err := parseClientFlags("active", args)
	if err != nil {
		return err
	}

	var resp gateway.ActiveResponse
	if err := getJSON(ctx, base, "/api/conversations/active", &resp); err != nil {
		return fmt.Errorf("listing active conversations: %w", err)
	}

	if len(resp.Conversations) == 0 {
		fmt.Fprintln(out, "no active conversations")
		return nil
	}
	for _, st := range resp.Conversations {
		fmt.Fprintf(out, "%s  %-10s %d messages\n", st.ConversationID, st.Phase, st.MessageCount)
	}
	return nil
}

func runStatus(ctx context.Context, args []string, out io.Writer) error {
	base, rest, err := parseClientFlags("status", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: agentmix status <conversation-id>")
	}

	var st gateway.StatusResponse
	if err := getJSON(ctx, base, "/api/conversations/"+url.PathEscape(rest[0])+"/status", &st); err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	fmt.Fprintf(out, "Conversation: %s\n", st.ConversationID)
	fmt.Fprintf(out, "Stored:       %s\n", st.StoredStatus)
	fmt.Fprintf(out, "Running:      %t\n", st.Active)
	if !st.Active {
		return nil
	}

	fmt.Fprintf(out, "Phase:        %s\n", st.Phase)
	fmt.Fprintf(out, "Messages:     %d\n", st.MessageCount)
	if st.LastSpeaker != "" {
		fmt.Fprintf(out, "Last speaker: %s\n", st.LastSpeaker)
	}
	if st.Halted {
		fmt.Fprintln(out, "Halted:       a turn failed; resume to retry")
	}
	if req := st.PendingHumanRequest; req != nil {
		fmt.Fprintf(out, "Waiting on:   human input for %s: %s\n", req.Agent, req.Message)
	}
	return nil
}
