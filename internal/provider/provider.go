// ABOUTME: Response generation behind a single interface, dispatched by provider name
// ABOUTME: Maps each provider to an endpoint (wire kind + base URL) and calls the matching SDK backend

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

var (
	// ErrUnknownProvider is returned when an agent names a provider with no endpoint.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrMissingCredential is returned when an endpoint requires an API key and the agent has none.
	ErrMissingCredential = errors.New("missing api key")

	// ErrEmptyReply is returned when a provider answers with no text.
	ErrEmptyReply = errors.New("provider returned an empty reply")
)

// DefaultMaxTokens caps replies when neither the prompt nor the agent sets a limit.
const DefaultMaxTokens int64 = 150

// DefaultTemperature is sent when the agent config leaves temperature unset.
const DefaultTemperature = 0.7

// Kind selects the wire protocol used to talk to an endpoint.
type Kind string

const (
	KindOpenAI    Kind = "openai" // OpenAI chat completions and compatible APIs
	KindAnthropic Kind = "anthropic"
)

// Endpoint describes how to reach one provider.
type Endpoint struct {
	Kind        Kind
	BaseURL     string
	RequiresKey bool
}

// builtinEndpoints is the provider lookup table. Config may override or extend it.
var builtinEndpoints = map[string]Endpoint{
	"openai":     {Kind: KindOpenAI, BaseURL: "https://api.openai.com/v1/", RequiresKey: true},
	"openrouter": {Kind: KindOpenAI, BaseURL: "https://openrouter.ai/api/v1/", RequiresKey: true},
	"together":   {Kind: KindOpenAI, BaseURL: "https://api.together.xyz/v1/", RequiresKey: true},
	"groq":       {Kind: KindOpenAI, BaseURL: "https://api.groq.com/openai/v1/", RequiresKey: true},
	"ollama":     {Kind: KindOpenAI, BaseURL: "http://localhost:11434/v1/"},
	"lmstudio":   {Kind: KindOpenAI, BaseURL: "http://localhost:1234/v1/"},
	"anthropic":  {Kind: KindAnthropic, BaseURL: "https://api.anthropic.com/", RequiresKey: true},
	"custom":     {Kind: KindOpenAI},
}

// Prompt is the provider-neutral input for one turn.
type Prompt struct {
	// System holds instructions sent as system content, in order.
	System []string
	// Transcript holds prior messages already rendered as "Name: content", oldest first.
	Transcript []string
	// Speaker is the display name of the agent being asked to respond.
	Speaker string
	// MaxTokens caps the reply length; zero falls back to the agent config, then DefaultMaxTokens.
	MaxTokens int64
}

// UserContent renders the transcript and the response cue as a single user turn.
func (p *Prompt) UserContent() string {
	var b strings.Builder
	if len(p.Transcript) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, line := range p.Transcript {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if p.Speaker != "" {
		fmt.Fprintf(&b, "%s, please respond:", p.Speaker)
	} else {
		b.WriteString("Please respond:")
	}
	return b.String()
}

// request is what a backend needs to perform one call.
type request struct {
	endpoint    Endpoint
	apiKey      string
	model       string
	system      []string
	user        string
	maxTokens   int64
	temperature *float64
}

type backend interface {
	complete(ctx context.Context, req *request) (string, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithEndpoint adds or replaces the endpoint for a provider name.
func WithEndpoint(name string, ep Endpoint) Option {
	return func(r *Registry) {
		r.endpoints[strings.ToLower(name)] = ep
	}
}

// WithHTTPClient sets the HTTP client used by every backend.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Registry) {
		r.httpClient = client
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.With("component", "provider")
		}
	}
}

// Registry generates replies for agents by looking up their provider's endpoint.
type Registry struct {
	endpoints  map[string]Endpoint
	backends   map[Kind]backend
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRegistry creates a registry seeded with the built-in provider table.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		endpoints: make(map[string]Endpoint, len(builtinEndpoints)),
		logger:    slog.Default().With("component", "provider"),
	}
	for name, ep := range builtinEndpoints {
		r.endpoints[name] = ep
	}
	for _, opt := range opts {
		opt(r)
	}
	r.backends = map[Kind]backend{
		KindOpenAI:    &openAIBackend{httpClient: r.httpClient},
		KindAnthropic: &anthropicBackend{httpClient: r.httpClient},
	}
	return r
}

// Endpoint returns the endpoint registered for a provider name.
func (r *Registry) Endpoint(name string) (Endpoint, bool) {
	ep, ok := r.endpoints[strings.ToLower(name)]
	return ep, ok
}

// Providers lists the registered provider names in sorted order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate asks the agent's provider for the next reply. The SDK clients are
// built with retries disabled; a failed call is reported, never retried here.
func (r *Registry) Generate(ctx context.Context, agent *store.Agent, prompt *Prompt) (string, error) {
	ep, ok := r.Endpoint(agent.Provider)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, agent.Provider)
	}
	if ep.BaseURL == "" {
		return "", fmt.Errorf("provider %q has no base_url configured", agent.Provider)
	}
	if ep.RequiresKey && agent.APIKey == "" {
		return "", fmt.Errorf("%w for agent %s (provider %s)", ErrMissingCredential, agent.Name, agent.Provider)
	}

	b, ok := r.backends[ep.Kind]
	if !ok {
		return "", fmt.Errorf("provider %q uses unsupported kind %q", agent.Provider, ep.Kind)
	}

	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = agent.Config.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	temperature := DefaultTemperature
	if agent.Config.Temperature != nil {
		temperature = *agent.Config.Temperature
	}

	req := &request{
		endpoint:    ep,
		apiKey:      agent.APIKey,
		model:       agent.Model,
		system:      prompt.System,
		user:        prompt.UserContent(),
		maxTokens:   maxTokens,
		temperature: &temperature,
	}

	r.logger.Debug("generating reply",
		"agent", agent.Name,
		"provider", agent.Provider,
		"model", agent.Model,
		"transcript_lines", len(prompt.Transcript),
	)

	reply, err := b.complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s/%s: %w", agent.Provider, agent.Model, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%s/%s: %w", agent.Provider, agent.Model, ErrEmptyReply)
	}
	return reply, nil
}
