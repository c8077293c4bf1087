package llm

import (
	"fmt"

	"github.com/rs/zerolog"
)

// NewProvider creates the provider named by name ("openai" or "canned").
func NewProvider(name string, cfg Config, logger zerolog.Logger) (Provider, error) {
	switch name {
	case "openai", "":
		return NewOpenAIProvider(cfg, logger), nil
	case "canned", "mock":
		return NewCannedProvider(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", name)
	}
}
