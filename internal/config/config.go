package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the crewd service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CREWD_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"CREWD_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// LLM configuration
	LLM LLMConfig

	// Worker configuration
	Workers WorkerConfig

	// Orchestration configuration
	Orchestration OrchestrationConfig

	// Resilience configuration
	Resilience ResilienceConfig

	// Memory configuration
	Memory MemoryConfig

	// Experiment configuration
	Experiment ExperimentConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Report retention
	ReportTTL time.Duration `env:"REDIS_REPORT_TTL" envDefault:"168h"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	DefaultModel   string        `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// OrchestrationConfig holds crew defaults
type OrchestrationConfig struct {
	Process            string        `env:"CREWD_PROCESS" envDefault:"sequential"`
	ManagerName        string        `env:"CREWD_MANAGER"`
	RateLimitPerMinute int           `env:"CREWD_RATE_LIMIT_PER_MINUTE" envDefault:"0"`
	CancelGrace        time.Duration `env:"CREWD_CANCEL_GRACE" envDefault:"5s"`
}

// ResilienceConfig holds retry and circuit breaker defaults
type ResilienceConfig struct {
	MaxRetries       int           `env:"RESILIENCE_MAX_RETRIES" envDefault:"3"`
	BaseDelay        time.Duration `env:"RESILIENCE_BASE_DELAY" envDefault:"500ms"`
	MaxDelay         time.Duration `env:"RESILIENCE_MAX_DELAY" envDefault:"30s"`
	JitterFraction   float64       `env:"RESILIENCE_JITTER_FRACTION" envDefault:"0.2"`
	FailureThreshold int           `env:"RESILIENCE_FAILURE_THRESHOLD" envDefault:"5"`
	RecoveryTimeout  time.Duration `env:"RESILIENCE_RECOVERY_TIMEOUT" envDefault:"30s"`
}

// MemoryConfig selects the run memory variant
type MemoryConfig struct {
	// Variant is one of none, buffer, window, summary, retrieval.
	Variant          string `env:"CREWD_MEMORY" envDefault:"buffer"`
	WindowSize       int    `env:"CREWD_MEMORY_WINDOW" envDefault:"20"`
	SummaryThreshold int    `env:"CREWD_MEMORY_SUMMARY_THRESHOLD" envDefault:"20"`
	RetrievalLimit   int    `env:"CREWD_MEMORY_RETRIEVAL_LIMIT" envDefault:"5"`
}

// ExperimentConfig holds experiment routing configuration. An empty split
// disables experiment routing.
type ExperimentConfig struct {
	// Split is a comma-separated variant:weight list,
	// e.g. "control:0.8,candidate:0.2".
	Split string `env:"CREWD_EXPERIMENT_SPLIT"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunExecutionTimeout time.Duration `env:"TIMEOUT_RUN_EXECUTION" envDefault:"3600s"` // 1 hour
	ShutdownTimeout     time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	switch c.Orchestration.Process {
	case "sequential", "hierarchical":
	default:
		return fmt.Errorf("invalid process: %s (must be sequential or hierarchical)", c.Orchestration.Process)
	}
	if c.Orchestration.Process == "hierarchical" && c.Orchestration.ManagerName == "" {
		return fmt.Errorf("hierarchical process requires CREWD_MANAGER")
	}

	if c.Resilience.JitterFraction < 0 || c.Resilience.JitterFraction > 1 {
		return fmt.Errorf("jitter fraction must be in [0, 1]")
	}

	switch c.Memory.Variant {
	case "none", "buffer", "window", "summary", "retrieval":
	default:
		return fmt.Errorf("invalid memory variant: %s", c.Memory.Variant)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
