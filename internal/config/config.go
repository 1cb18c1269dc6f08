// Package config provides hierarchical configuration loading for MedOrch.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the MedOrch service.
type Config struct {
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
	LLM          LLM          `yaml:"llm"`
	Specialists  Specialists  `yaml:"specialists"`
	Inference    Inference    `yaml:"inference"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Cache        Cache        `yaml:"cache"`
	Breaker      Breaker      `yaml:"breaker"`
	Rate         Rate         `yaml:"rate"`
	NATS         NATS         `yaml:"nats"`
	OTEL         OTEL         `yaml:"otel"`
	Safety       Safety       `yaml:"safety"`
	Sessions     Sessions     `yaml:"sessions"`
	MCP          MCP          `yaml:"mcp"`
	Alerts       Alerts       `yaml:"alerts"`
	Triage       Triage       `yaml:"triage"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port           string        `yaml:"port"`
	CORSOrigin     string        `yaml:"cors_origin"`
	BodyLimit      int64         `yaml:"body_limit"`      // bytes; images arrive base64 encoded
	RequestTimeout time.Duration `yaml:"request_timeout"` // chi Timeout middleware
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"` // replay window for Idempotency-Key
}

// Logging holds structured logging configuration.
type Logging struct {
	Level        string `yaml:"level"`
	Service      string `yaml:"service"`
	Async        bool   `yaml:"async"`
	AsyncBuffer  int    `yaml:"async_buffer"`
	AsyncWorkers int    `yaml:"async_workers"`
}

// LLM holds the OpenAI-compatible proxy used by the router, the
// synthesizer and the text specialists.
type LLM struct {
	URL                string        `yaml:"url"`
	MasterKey          string        `yaml:"master_key"`
	Timeout            time.Duration `yaml:"timeout"`
	RouterModel        string        `yaml:"router_model"`
	RouterMaxTokens    int           `yaml:"router_max_tokens"`
	SynthesisModel     string        `yaml:"synthesis_model"`
	SynthesisMaxTokens int           `yaml:"synthesis_max_tokens"`
	Temperature        float64       `yaml:"temperature"`
}

// Specialists selects and configures the registered specialist responders.
type Specialists struct {
	Enabled          []string `yaml:"enabled"`
	GeneralModel     string   `yaml:"general_model"`
	TreatmentModel   string   `yaml:"treatment_model"`
	PathologyModel   string   `yaml:"pathology_model"`
	DermatologyModel string   `yaml:"dermatology_model"`
	RadiologyModel   string   `yaml:"radiology_model"`
	MaxTokens        int      `yaml:"max_tokens"`
	TopK             int      `yaml:"top_k"`
}

// Inference holds the image-classification endpoint (HuggingFace Inference API shape).
type Inference struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Orchestrator holds execution engine configuration.
type Orchestrator struct {
	MaxParallel  int    `yaml:"max_parallel"`  // worker pool size for parallel mode (default: 4)
	DefaultAgent string `yaml:"default_agent"` // fallback specialist for routing (default: "General")
}

// Cache holds the routing decision cache configuration.
type Cache struct {
	Enabled      bool          `yaml:"enabled"`
	MaxCostBytes int64         `yaml:"max_cost_bytes"`
	TTL          time.Duration `yaml:"ttl"`
	Shared       bool          `yaml:"shared"` // add a NATS KV tier when NATS is configured
	SharedBucket string        `yaml:"shared_bucket"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// NATS holds NATS JetStream configuration. An empty URL disables publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// OTEL holds OpenTelemetry exporter configuration. An empty endpoint keeps
// the global no-op providers.
type OTEL struct {
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Safety configures the emergency phrase screen.
type Safety struct {
	PhrasesFile string `yaml:"phrases_file"` // optional; built-in list when empty
	Watch       bool   `yaml:"watch"`        // reload PhrasesFile on change
}

// Sessions configures per-conversation orchestrators.
type Sessions struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxSessions   int           `yaml:"max_sessions"`
}

// MCP configures the Model Context Protocol tool endpoint.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Alerts configures operator paging on emergency queries. Empty webhooks
// disable the corresponding destination.
type Alerts struct {
	SlackWebhook   string        `yaml:"slack_webhook"`
	DiscordWebhook string        `yaml:"discord_webhook"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Triage configures the pre-visit intake interview and ATS assessment.
// Sessions share the limits in Sessions.
type Triage struct {
	Enabled      bool    `yaml:"enabled"`
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	MaxQuestions int     `yaml:"max_questions"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			CORSOrigin:     "http://localhost:3000",
			BodyLimit:      10 << 20,
			RequestTimeout: 120 * time.Second,
			IdempotencyTTL: 24 * time.Hour,
		},
		Logging: Logging{
			Level:        "info",
			Service:      "medorch",
			AsyncBuffer:  10000,
			AsyncWorkers: 4,
		},
		LLM: LLM{
			URL:                "http://localhost:4000",
			Timeout:            60 * time.Second,
			RouterModel:        "openai/gpt-4o-mini",
			RouterMaxTokens:    512,
			SynthesisModel:     "openai/gpt-4o-mini",
			SynthesisMaxTokens: 2048,
			Temperature:        0.1,
		},
		Specialists: Specialists{
			Enabled:          []string{"General", "Treatment", "Dermatology", "Radiology", "Pathology"},
			GeneralModel:     "medgemma-4b-it",
			TreatmentModel:   "txgemma-9b-chat",
			PathologyModel:   "medgemma-4b-it",
			DermatologyModel: "google/derm-foundation",
			RadiologyModel:   "google/cxr-foundation",
			MaxTokens:        1024,
			TopK:             5,
		},
		Inference: Inference{
			URL:     "https://api-inference.huggingface.co",
			Timeout: 30 * time.Second,
		},
		Orchestrator: Orchestrator{
			MaxParallel:  4,
			DefaultAgent: "General",
		},
		Cache: Cache{
			Enabled:      true,
			MaxCostBytes: 16 << 20,
			TTL:          10 * time.Minute,
			SharedBucket: "MEDORCH_ROUTES",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 5,
			Burst:             20,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		OTEL: OTEL{
			Insecure:   true,
			SampleRate: 1.0,
		},
		Sessions: Sessions{
			IdleTimeout:   time.Hour,
			SweepInterval: 5 * time.Minute,
			MaxSessions:   1000,
		},
		MCP: MCP{
			Enabled: true,
			Path:    "/mcp",
		},
		Alerts: Alerts{
			Timeout: 10 * time.Second,
		},
		Triage: Triage{
			Enabled:      true,
			Model:        "openai/gpt-4o-mini",
			MaxTokens:    1024,
			Temperature:  0.7,
			MaxQuestions: 15,
		},
	}
}
