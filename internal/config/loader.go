package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "medorch.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MEDORCH_PORT")
	setString(&cfg.Server.CORSOrigin, "MEDORCH_CORS_ORIGIN")
	setInt64(&cfg.Server.BodyLimit, "MEDORCH_BODY_LIMIT")
	setDuration(&cfg.Server.RequestTimeout, "MEDORCH_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.IdempotencyTTL, "MEDORCH_IDEMPOTENCY_TTL")

	setString(&cfg.Logging.Level, "MEDORCH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MEDORCH_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MEDORCH_LOG_ASYNC")

	setString(&cfg.LLM.URL, "LITELLM_URL")
	setString(&cfg.LLM.MasterKey, "LITELLM_MASTER_KEY")
	setDuration(&cfg.LLM.Timeout, "MEDORCH_LLM_TIMEOUT")
	setString(&cfg.LLM.RouterModel, "MEDORCH_ROUTER_MODEL")
	setString(&cfg.LLM.SynthesisModel, "MEDORCH_SYNTHESIS_MODEL")
	setFloat64(&cfg.LLM.Temperature, "MEDORCH_LLM_TEMPERATURE")

	setList(&cfg.Specialists.Enabled, "MEDORCH_SPECIALISTS")
	setString(&cfg.Specialists.GeneralModel, "MEDORCH_GENERAL_MODEL")
	setString(&cfg.Specialists.TreatmentModel, "MEDORCH_TREATMENT_MODEL")
	setString(&cfg.Specialists.PathologyModel, "MEDORCH_PATHOLOGY_MODEL")
	setString(&cfg.Specialists.DermatologyModel, "MEDORCH_DERMATOLOGY_MODEL")
	setString(&cfg.Specialists.RadiologyModel, "MEDORCH_RADIOLOGY_MODEL")

	setString(&cfg.Inference.URL, "MEDORCH_INFERENCE_URL")
	setString(&cfg.Inference.Token, "HF_API_TOKEN")
	setDuration(&cfg.Inference.Timeout, "MEDORCH_INFERENCE_TIMEOUT")

	setInt(&cfg.Orchestrator.MaxParallel, "MEDORCH_MAX_PARALLEL")
	setString(&cfg.Orchestrator.DefaultAgent, "MEDORCH_DEFAULT_AGENT")

	setBool(&cfg.Cache.Enabled, "MEDORCH_CACHE_ENABLED")
	setInt64(&cfg.Cache.MaxCostBytes, "MEDORCH_CACHE_MAX_BYTES")
	setDuration(&cfg.Cache.TTL, "MEDORCH_CACHE_TTL")
	setBool(&cfg.Cache.Shared, "MEDORCH_CACHE_SHARED")
	setString(&cfg.Cache.SharedBucket, "MEDORCH_CACHE_BUCKET")

	setInt(&cfg.Breaker.MaxFailures, "MEDORCH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MEDORCH_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "MEDORCH_RATE_RPS")
	setInt(&cfg.Rate.Burst, "MEDORCH_RATE_BURST")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "MEDORCH_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "MEDORCH_OTEL_SAMPLE_RATE")

	setString(&cfg.Safety.PhrasesFile, "MEDORCH_SAFETY_PHRASES_FILE")
	setBool(&cfg.Safety.Watch, "MEDORCH_SAFETY_WATCH")

	setDuration(&cfg.Sessions.IdleTimeout, "MEDORCH_SESSION_IDLE_TIMEOUT")
	setInt(&cfg.Sessions.MaxSessions, "MEDORCH_MAX_SESSIONS")

	setBool(&cfg.MCP.Enabled, "MEDORCH_MCP_ENABLED")

	setString(&cfg.Alerts.SlackWebhook, "MEDORCH_ALERT_SLACK_WEBHOOK")
	setString(&cfg.Alerts.DiscordWebhook, "MEDORCH_ALERT_DISCORD_WEBHOOK")
	setDuration(&cfg.Alerts.Timeout, "MEDORCH_ALERT_TIMEOUT")

	setBool(&cfg.Triage.Enabled, "MEDORCH_TRIAGE_ENABLED")
	setString(&cfg.Triage.Model, "MEDORCH_TRIAGE_MODEL")
	setFloat64(&cfg.Triage.Temperature, "MEDORCH_TRIAGE_TEMPERATURE")
	setInt(&cfg.Triage.MaxQuestions, "MEDORCH_TRIAGE_MAX_QUESTIONS")
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.LLM.URL == "" {
		return errors.New("llm.url is required")
	}
	if cfg.LLM.Timeout <= 0 {
		return errors.New("llm.timeout must be > 0")
	}
	if len(cfg.Specialists.Enabled) == 0 {
		return errors.New("specialists.enabled must list at least one specialist")
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return errors.New("orchestrator.max_parallel must be >= 1")
	}
	if cfg.Orchestrator.DefaultAgent == "" {
		return errors.New("orchestrator.default_agent is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	if cfg.Sessions.MaxSessions < 1 {
		return errors.New("sessions.max_sessions must be >= 1")
	}
	if cfg.Triage.Enabled && (cfg.Triage.Model == "" || cfg.Triage.MaxQuestions < 1) {
		return errors.New("triage.model and triage.max_questions >= 1 are required when triage is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated env value, dropping blanks.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
