// ABOUTME: Gateway orchestrator that wires store, providers, runtime and frontends together
// ABOUTME: Manages HTTP API, gRPC health and optional tailnet listeners through graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/paradiselabs-ai/AgentMix/internal/config"
	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
	"github.com/paradiselabs-ai/AgentMix/internal/dedupe"
	"github.com/paradiselabs-ai/AgentMix/internal/matrix"
	"github.com/paradiselabs-ai/AgentMix/internal/provider"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// ProviderCatalog reports which providers agents may be configured with.
type ProviderCatalog interface {
	Endpoint(name string) (provider.Endpoint, bool)
	Providers() []string
}

// Gateway orchestrates the agentmix server components.
type Gateway struct {
	config    *config.Config
	store     store.Store
	providers ProviderCatalog
	runtime   *conversation.Runtime
	events    *conversation.EventBroadcaster
	dedupe    *dedupe.Cache
	relay     *matrix.Relay

	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	shuttingDown atomic.Bool
	closing      chan struct{} // closed when Shutdown begins; ends SSE streams
	closeOnce    sync.Once
	now          func() time.Time
}

// initStore opens the SQLite store, sealing API keys when a credential key is configured.
func initStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AGENTMIX_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	opts := []store.Option{store.WithLogger(logger)}
	if cfg.Database.CredentialKey != "" {
		sealer, err := store.NewCredentialSealer(cfg.Database.CredentialKey)
		if err != nil {
			return nil, fmt.Errorf("creating credential sealer: %w", err)
		}
		opts = append(opts, store.WithCredentialSealer(sealer))
	} else {
		logger.Warn("database.credential_key not set - agent API keys are stored unsealed")
	}

	s, err := store.NewSQLiteStore(dbPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newProviderRegistry builds the provider table, applying configured overrides.
func newProviderRegistry(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	opts := []provider.Option{provider.WithLogger(logger)}
	for name, p := range cfg.Providers {
		opts = append(opts, provider.WithEndpoint(name, provider.Endpoint{
			Kind:        provider.Kind(p.Kind),
			BaseURL:     p.BaseURL,
			RequiresKey: p.RequiresKey,
		}))
	}
	return provider.NewRegistry(opts...)
}

// runtimeOptions maps the runtime config section onto turn loop options.
func runtimeOptions(cfg config.RuntimeConfig) conversation.Options {
	return conversation.Options{
		TurnInterval:   cfg.TurnInterval,
		MaxTurns:       cfg.MaxTurns,
		HistoryLimit:   cfg.HistoryLimit,
		ReplyMaxTokens: cfg.ReplyMaxTokens,
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	providers := newProviderRegistry(cfg, logger)
	gw := newGateway(cfg, s, providers, providers, logger)

	if cfg.Frontends.Matrix.Enabled {
		relay, err := newMatrixRelay(cfg.Frontends.Matrix, gw, logger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating matrix relay: %w", err)
		}
		gw.relay = relay
	}

	return gw, nil
}

// newGateway assembles a gateway around an opened store and a generator.
func newGateway(cfg *config.Config, s store.Store, catalog ProviderCatalog, gen conversation.ResponseGenerator, logger *slog.Logger) *Gateway {
	events := conversation.NewEventBroadcaster(logger)
	runtime := conversation.NewRuntime(conversation.Deps{
		Agents:        s,
		Conversations: s,
		Transcript:    s,
		Generator:     gen,
		Events:        events,
		Logger:        logger,
	}, runtimeOptions(cfg.Runtime))

	gw := &Gateway{
		config:    cfg,
		store:     s,
		providers: catalog,
		runtime:   runtime,
		events:    events,
		dedupe:    dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries),
		logger:    logger.With("component", "gateway"),
		closing:   make(chan struct{}),
		now:       time.Now,
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		gw.grpcServer, gw.health = createGRPCServer(logger)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw
}

// Runtime exposes the conversation runtime.
func (g *Gateway) Runtime() *conversation.Runtime {
	return g.runtime
}

// Handler returns the HTTP handler serving health and API routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /api/providers", g.handleListProviders)

	mux.HandleFunc("POST /api/agents", g.handleCreateAgent)
	mux.HandleFunc("GET /api/agents", g.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)

	mux.HandleFunc("POST /api/conversations", g.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("GET /api/conversations/active", g.handleListActive)
	mux.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)

	mux.HandleFunc("POST /api/conversations/{id}/start", g.handleStart)
	mux.HandleFunc("POST /api/conversations/{id}/stop", g.handleStop)
	mux.HandleFunc("POST /api/conversations/{id}/pause", g.handlePause)
	mux.HandleFunc("POST /api/conversations/{id}/resume", g.handleResume)
	mux.HandleFunc("POST /api/conversations/{id}/human-input", g.handleRequestHumanInput)
	mux.HandleFunc("GET /api/conversations/{id}/status", g.handleStatus)

	mux.HandleFunc("POST /api/conversations/{id}/messages", g.handleSendHumanMessage)
	mux.HandleFunc("GET /api/conversations/{id}/messages", g.handleListMessages)
	mux.HandleFunc("GET /api/conversations/{id}/events", g.handleEvents)
	mux.HandleFunc("GET /api/conversations/{id}/export", g.handleExport)

	mux.HandleFunc("GET /api/audit", g.handleListAudit)

	return mux
}

// setupTCPListeners creates standard TCP listeners for HTTP and, if configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server addresses are ignored when tailscale is enabled",
				"grpc_addr", g.config.Server.GRPCAddr,
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(ctx context.Context, grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 3)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if g.relay != nil {
		go func() {
			if err := g.relay.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("matrix relay: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		select {
		case additional := <-errCh:
			g.logger.Error("additional server error", "error", additional)
		default:
		}
		return err
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := g.startServers(runCtx, grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)
	cancel()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown with a fresh context since Run's is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Runtime.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "agentmix", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens for gRPC on :50051 and HTTP on :80 (or Funnel :443).
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		httpLn, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}

	return grpcLn, httpLn, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, parks live conversations and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.shuttingDown.Store(true)
	g.closeOnce.Do(func() { close(g.closing) })

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "runtime shutdown", g.runtime.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.dedupe.Close()
	g.events.Close()

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}

	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents, %d active conversations)", len(agents), len(g.runtime.ListActive()))
}
