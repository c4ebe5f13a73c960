package llm

import (
	"context"
	"fmt"

	"loadpilot/internal/config"
)

// NewFromConfig builds the configured completion client.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini", "":
		gc := DefaultGeminiConfig(cfg.APIKey)
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		gc.Timeout = cfg.RequestTimeout()
		return NewGeminiClient(ctx, gc)
	case "azure":
		ac := DefaultAzureConfig(cfg.APIKey, cfg.Endpoint, cfg.Deployment)
		ac.Timeout = cfg.RequestTimeout()
		return NewAzureOpenAIClient(ac)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
