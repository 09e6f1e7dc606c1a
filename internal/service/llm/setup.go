package llm

import (
	"fmt"
	"log/slog"

	"sandchat/internal/capabilities"
	"sandchat/internal/config"
)

// SetupProviders initializes the provider factory and registry
func SetupProviders(cfg *config.Config, logger *slog.Logger) *ProviderRegistry {
	registry := NewProviderRegistry(NewProviderFactory(cfg))

	if cfg.AnthropicAPIKey != "" {
		logger.Info("provider available", "name", "anthropic", "models", "claude-*")
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set - Anthropic provider not available")
	}
	logger.Info("provider available", "name", "lorem", "models", "lorem-*")

	return registry
}

// SetupTokenSource wires the provider registry to the capability registry.
// It fails when the default provider or variant is unknown, or the default
// provider lacks credentials.
func SetupTokenSource(cfg *config.Config, caps *capabilities.Registry, logger *slog.Logger) (*TokenSource, error) {
	if _, err := caps.ListVariants(cfg.DefaultProvider); err != nil {
		return nil, fmt.Errorf("default provider: %w", err)
	}
	if cfg.DefaultProvider == "anthropic" && cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("default provider anthropic requires ANTHROPIC_API_KEY (or set DEFAULT_PROVIDER=lorem)")
	}

	source := NewTokenSource(SetupProviders(cfg, logger), caps, cfg.DefaultProvider, logger)
	info, err := source.ResolveModel(cfg.DefaultVariant)
	if err != nil {
		return nil, fmt.Errorf("default variant: %w", err)
	}

	logger.Info("token source initialized",
		"provider", cfg.DefaultProvider,
		"default_variant", cfg.DefaultVariant,
		"model", info.Model,
	)
	return source, nil
}
