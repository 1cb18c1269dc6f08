package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/MedOrch/internal/adapter/inference"
	"github.com/Strob0t/MedOrch/internal/adapter/litellm"
	medotel "github.com/Strob0t/MedOrch/internal/adapter/otel"
	"github.com/Strob0t/MedOrch/internal/adapter/ristretto"
	"github.com/Strob0t/MedOrch/internal/adapter/specialist"
	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/logger"
	"github.com/Strob0t/MedOrch/internal/resilience"
	"github.com/Strob0t/MedOrch/internal/service"
	"github.com/Strob0t/MedOrch/internal/workerpool"
)

// core holds the components shared by every command: model clients, the
// specialists, the router/executor/synthesizer pipeline and triage.
type core struct {
	cfg        *config.Config
	metrics    *medotel.Metrics
	breakers   []*resilience.Breaker
	screener   *service.SafetyScreener
	router     *service.Router
	executor   *service.Executor
	routeCache *ristretto.Cache // nil when caching is disabled
	triage     *service.Triage  // nil when triage is disabled
	deps       service.Deps

	closeLog logger.Closer
	shutdown medotel.ShutdownFunc
}

// loadCore reads the config at path, installs the default logger and builds
// the pipeline.
func loadCore(ctx context.Context, path string) (*core, error) {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)

	c, err := newCore(ctx, cfg)
	if err != nil {
		closeLog.Close()
		return nil, err
	}
	c.closeLog = closeLog
	return c, nil
}

func newCore(ctx context.Context, cfg *config.Config) (*core, error) {
	c := &core{cfg: cfg}

	shutdown, err := medotel.Init(ctx, cfg.Logging.Service, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	c.shutdown = shutdown

	c.metrics, err = medotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	// --- Model backends ---

	llmBreaker := resilience.NewBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llm := litellm.NewClient(cfg.LLM.URL, cfg.LLM.MasterKey)
	llm.SetTimeout(cfg.LLM.Timeout)
	llm.SetBreaker(llmBreaker)

	infBreaker := resilience.NewBreaker("inference", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	classifier := inference.NewClient(cfg.Inference.URL, cfg.Inference.Token)
	classifier.SetTimeout(cfg.Inference.Timeout)
	classifier.SetBreaker(infBreaker)

	c.breakers = []*resilience.Breaker{llmBreaker, infBreaker}

	// --- Specialists ---

	responders, err := specialist.Builtin(cfg.Specialists, llm, classifier)
	if err != nil {
		return nil, fmt.Errorf("specialists: %w", err)
	}
	c.executor, err = service.NewExecutor(responders, workerpool.New(cfg.Orchestrator.MaxParallel))
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	c.executor.SetMetrics(c.metrics)

	// --- Safety, routing, synthesis ---

	var phrases []string
	if cfg.Safety.PhrasesFile != "" {
		phrases, err = service.LoadPhrasesFile(cfg.Safety.PhrasesFile)
		if err != nil {
			return nil, fmt.Errorf("safety phrases: %w", err)
		}
	}
	c.screener = service.NewSafetyScreener(phrases)

	c.router = service.NewRouter(c.screener, llm, cfg.LLM, cfg.Orchestrator.DefaultAgent, responders)
	if cfg.Cache.Enabled {
		c.routeCache, err = ristretto.New(cfg.Cache.MaxCostBytes)
		if err != nil {
			return nil, fmt.Errorf("routing cache: %w", err)
		}
		c.router.SetCache(c.routeCache, cfg.Cache.TTL)
	}

	c.deps = service.Deps{
		Router:      c.router,
		Executor:    c.executor,
		Synthesizer: service.NewSynthesizer(llm, cfg.LLM),
		Metrics:     c.metrics,
	}

	if cfg.Triage.Enabled {
		c.triage = service.NewTriage(llm, c.screener, cfg.Triage, cfg.LLM.Timeout, cfg.Sessions)
	}

	slog.Info("pipeline ready",
		"specialists", c.executor.Names(),
		"phrases", len(c.screener.Phrases()),
		"route_cache", cfg.Cache.Enabled,
		"triage", cfg.Triage.Enabled,
	)
	return c, nil
}

// Close releases the cache, flushes telemetry and the async logger.
func (c *core) Close(ctx context.Context) {
	if c.routeCache != nil {
		c.routeCache.Close()
	}
	if c.shutdown != nil {
		if err := c.shutdown(ctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}
	if c.closeLog != nil {
		c.closeLog.Close()
	}
}
