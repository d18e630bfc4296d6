package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/adapters/llm/anthropic"
	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/ports"
)

// Config holds LLM executor configuration
type Config struct {
	Provider string
	APIKey   string
	Model    string
	Logger   *zap.Logger
}

// NewExecutor creates an LLM-backed executor based on provider
func NewExecutor(cfg *Config, profile domain.ExecutorProfile) (ports.Executor, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewExecutor(cfg.APIKey, profile, cfg.Model, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
