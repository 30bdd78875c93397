package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nuvin-ai/nuvin/internal/agent"
	"github.com/nuvin-ai/nuvin/internal/config"
	"github.com/nuvin-ai/nuvin/internal/conversation"
	"github.com/nuvin-ai/nuvin/internal/delegation"
	"github.com/nuvin-ai/nuvin/internal/llm"
	"github.com/nuvin-ai/nuvin/internal/observability"
)

// app wires the runtime together: provider, tool machinery, delegation,
// storage, and observability.
type app struct {
	cfg        *config.Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	store      conversation.Store
	registry   *agent.ToolRegistry
	validator  *agent.ToolCallValidator
	engine     *agent.ToolExecutionEngine
	provider   llm.Port
	delegation *delegation.Service
	runner     *agent.AgentCommandRunner

	shutdownTracer func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	tracer, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "nuvin",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	provider := buildProvider(cfg, logger, metrics)

	registry := agent.NewToolRegistry()
	validator := agent.NewToolCallValidator(logger)
	engine := agent.NewToolExecutionEngine(registry, agent.DefaultEngineConfig(), logger, metrics)

	runnerConfig := agent.RunnerConfig{
		MaxIterations:      cfg.Runner.MaxIterations,
		MaxWallTime:        cfg.Runner.MaxWallTime,
		MaxConcurrentTools: cfg.Runner.MaxConcurrentTools,
		MaxTokens:          cfg.Provider.MaxTokens,
		ValidationMode:     agent.ValidationMode(cfg.Runner.ValidationMode),
	}
	newRunner := func() *agent.AgentCommandRunner {
		return agent.NewAgentCommandRunner(agent.RunnerOptions{
			Provider:  provider,
			Validator: validator,
			Engine:    engine,
			Registry:  registry,
			Store:     store,
			Config:    runnerConfig,
			Logger:    logger,
			Tracer:    tracer,
		})
	}

	a := &app{
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		tracer:         tracer,
		store:          store,
		registry:       registry,
		validator:      validator,
		engine:         engine,
		provider:       provider,
		runner:         newRunner(),
		shutdownTracer: shutdownTracer,
	}

	if cfg.Delegation.CatalogPath != "" {
		catalog, err := delegation.LoadCatalog(cfg.Delegation.CatalogPath)
		if err != nil {
			return nil, err
		}
		sessionRegistry := delegation.NewSessionRegistry(delegation.RegistryConfig{
			TTL:      cfg.Delegation.SessionTTL,
			Capacity: cfg.Delegation.SessionCapacity,
			Logger:   logger,
			Metrics:  metrics,
		})
		factory := delegation.NewSpecialistAgentFactory(catalog, sessionRegistry, cfg.WorkingDir)
		a.delegation = delegation.NewService(delegation.ServiceConfig{
			Catalog:        catalog,
			Registry:       sessionRegistry,
			Factory:        factory,
			Runner:         newRunner,
			MaxDepth:       cfg.Delegation.MaxDepth,
			MetricsTracker: conversation.NewSessionMetricsTracker(),
			Logger:         logger,
			Metrics:        metrics,
			Tracer:         tracer,
		})
		registry.Register(delegation.NewAssignTool(a.delegation))
		registry.Register(delegation.NewTaskOutputTool(sessionRegistry))
	}

	if err := validator.RegisterToolSchemas(registry); err != nil {
		return nil, fmt.Errorf("registering tool schemas: %w", err)
	}
	return a, nil
}

func buildStore(cfg *config.Config) (conversation.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return conversation.NewSQLiteStore(cfg.Storage.Path)
	default:
		return conversation.NewMemoryStore(), nil
	}
}

// buildProvider selects the SDK-backed provider for plain OpenAI bearer
// setups and the hand-layered transport client for everything else
// (OpenAI-compatible servers and OAuth providers).
func buildProvider(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) llm.Port {
	if cfg.Provider.Name == "openai" && !cfg.Provider.OAuth.Enabled() {
		return llm.NewSDKProvider(llm.SDKConfig{
			APIKey:  cfg.Provider.APIKey,
			BaseURL: sdkBaseURL(cfg.Provider.BaseURL),
			Logger:  logger,
		})
	}

	transport := llm.TransportConfig{
		APIKey:      cfg.Provider.APIKey,
		MaxAttempts: cfg.Provider.MaxAttempts,
		Logger:      logger,
		Metrics:     metrics,
	}
	if cfg.Provider.OAuth.Enabled() {
		transport.APIKey = ""
		transport.OAuth = llm.NewOAuthCredentials(llm.OAuthConfig{
			ClientID:     cfg.Provider.OAuth.ClientID,
			TokenURL:     cfg.Provider.OAuth.TokenURL,
			AccessToken:  cfg.Provider.OAuth.AccessToken,
			RefreshToken: cfg.Provider.OAuth.RefreshToken,
			Logger:       logger,
		})
	}

	return llm.NewClient(llm.ClientConfig{
		BaseURL:      cfg.Provider.BaseURL,
		ProviderName: cfg.Provider.Name,
		Transport:    transport,
		Logger:       logger,
		Metrics:      metrics,
	})
}

// sdkBaseURL passes non-default roots through to the SDK config.
func sdkBaseURL(baseURL string) string {
	if baseURL == "https://api.openai.com/v1" {
		return ""
	}
	return baseURL
}

func (a *app) Close(ctx context.Context) {
	if a.delegation != nil && a.delegation.Registry() != nil {
		a.delegation.Registry().Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(ctx, "closing store", "error", err)
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Warn(ctx, "shutting down tracer", "error", err)
		}
	}
}
