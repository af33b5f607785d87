package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/vickylabs/vickybot/pkg/config"
)

// NewProvider creates a completion provider based on configuration.
func NewProvider(cfg *config.Config) (Completer, error) {
	model := cfg.Completion.Model
	maxTokens := cfg.Completion.MaxTokens
	temperature := cfg.Completion.Temperature

	// Helper to check env if config is empty
	checkEnv := func(cfgVal, envKey string) string {
		if cfgVal != "" {
			return cfgVal
		}
		return os.Getenv(envKey)
	}

	// 1. Explicit selection
	if cfg.Completion.Provider != "" {
		switch strings.ToLower(cfg.Completion.Provider) {
		case "openai":
			apiKey := checkEnv(cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
			return NewOpenAIProvider(apiKey, cfg.Providers.OpenAI.APIBase, model, maxTokens, temperature), nil
		case "deepseek":
			apiKey := checkEnv(cfg.Providers.DeepSeek.APIKey, "DEEPSEEK_API_KEY")
			apiBase := cfg.Providers.DeepSeek.APIBase
			if apiBase == "" {
				apiBase = "https://api.deepseek.com"
			}
			return NewOpenAIProvider(apiKey, apiBase, model, maxTokens, temperature), nil
		case "groq":
			apiKey := checkEnv(cfg.Providers.Groq.APIKey, "GROQ_API_KEY")
			apiBase := cfg.Providers.Groq.APIBase
			if apiBase == "" {
				apiBase = "https://api.groq.com/openai/v1"
			}
			return NewOpenAIProvider(apiKey, apiBase, model, maxTokens, temperature), nil
		default:
			return nil, fmt.Errorf("unknown provider: %s", cfg.Completion.Provider)
		}
	}

	// 2. Heuristic selection based on keys (Precedence: OpenAI > DeepSeek > Groq)
	if key := checkEnv(cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY"); key != "" {
		return NewOpenAIProvider(key, cfg.Providers.OpenAI.APIBase, model, maxTokens, temperature), nil
	}
	if key := checkEnv(cfg.Providers.DeepSeek.APIKey, "DEEPSEEK_API_KEY"); key != "" {
		apiBase := cfg.Providers.DeepSeek.APIBase
		if apiBase == "" {
			apiBase = "https://api.deepseek.com"
		}
		return NewOpenAIProvider(key, apiBase, model, maxTokens, temperature), nil
	}
	if key := checkEnv(cfg.Providers.Groq.APIKey, "GROQ_API_KEY"); key != "" {
		apiBase := cfg.Providers.Groq.APIBase
		if apiBase == "" {
			apiBase = "https://api.groq.com/openai/v1"
		}
		return NewOpenAIProvider(key, apiBase, model, maxTokens, temperature), nil
	}

	return nil, fmt.Errorf("no API key configured for any provider")
}
