package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rahul/cortex/internal/agent"
	"github.com/rahul/cortex/internal/contingency"
	"github.com/rahul/cortex/internal/governance"
	"github.com/rahul/cortex/internal/observability"
	"github.com/rahul/cortex/internal/store"
	"github.com/rahul/cortex/internal/tools"
	"github.com/rahul/cortex/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// default safety rules, on top of the configured ones
var defaultDeniedPatterns = []string{
	`rm\s+-rf\s+/`,
	`mkfs`,
	`shutdown`,
	`reboot`,
}

// app is the wired agent shared by every command.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	status   *observability.Status
	registry *prometheus.Registry
	metrics  *observability.Metrics
	store    *store.Store
	browser  *tools.BrowserTool
	brain    *agent.MasterBrain
}

func newApp(path string) (*app, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Encoding:   cfg.Logging.Encoding,
		LLMLogPath: cfg.Logging.LLMLogPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		status:   observability.NewStatus(),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)

	if a.store, err = store.Open(cfg.Memory.Path); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	model, err := newModel(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := governance.NewPolicyEngine(cfg.Governance.DeniedTools, append(defaultDeniedPatterns, cfg.Governance.DeniedPatterns...))
	if err != nil {
		a.Close()
		return nil, err
	}
	policy.RestrictRole(agent.RoleResponder, "working_memory")

	registry := a.registerTools()
	executor := tools.NewBatchExecutor(registry, policy, logger,
		tools.WithConcurrency(cfg.Execution.ToolConcurrency),
		tools.WithMetrics(a.metrics),
	)

	prompts, err := agent.NewPromptManager(cfg.App.PromptsDir, time.Minute)
	if err != nil {
		a.Close()
		return nil, err
	}

	service := agent.NewLLMService(model)
	loop := agent.NewLoop(service, executor, a.store, logger,
		agent.WithMaxIterations(cfg.Execution.MaxIterations),
		agent.WithTemperature(cfg.Execution.Temperature),
		agent.WithLoopMetrics(a.metrics),
	)
	fallbacks := contingency.NewManager(
		contingency.MaxDepthPolicy{Max: cfg.Execution.FallbackLimit(), Next: contingency.NewModelPolicy(model)},
		logger,
		a.metrics,
	)

	a.brain = agent.NewMasterBrain(
		agent.NewPlanner(service, logger, cfg.Execution.Temperature),
		loop,
		executor,
		a.store,
		prompts,
		fallbacks,
		logger,
		agent.BrainConfig{
			TaskTimeout: cfg.Execution.TaskTimeout(),
			HistorySeed: cfg.Execution.HistorySeed,
		},
		agent.WithStatus(a.status),
		agent.WithBrainMetrics(a.metrics),
	)
	return a, nil
}

func (a *app) registerTools() *tools.Registry {
	registry := tools.NewRegistry()

	if search, err := tools.NewSearchTool(5); err != nil {
		a.logger.Warn("search tool unavailable", zap.Error(err))
	} else {
		registry.Register(search)
	}

	a.browser = tools.NewBrowserTool(true, "screenshots")
	registry.Register(tools.NewScraperTool())
	registry.Register(tools.NewFilesystemTool(a.cfg.App.Workspace))
	registry.Register(tools.NewShellTool(a.cfg.App.Workspace))
	registry.Register(a.browser)
	registry.Register(tools.NewScheduleTool(a.store))
	registry.Register(tools.NewWorkingMemoryTool())

	a.logger.Info("tools registered", zap.Strings("tools", registry.Names()))
	return registry
}

func newModel(cfg *config.Config) (llms.Model, error) {
	name, p := cfg.GetDefaultProvider()
	switch name {
	case "":
		return nil, fmt.Errorf("no enabled provider found in config")
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(p.APIKey),
			anthropic.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		return anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s is not supported", name)
	}
}

func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
