package handler

import (
	"log/slog"
	"net/http"

	"sandchat/internal/capabilities"
	"sandchat/internal/config"
	"sandchat/internal/httputil"
)

// ModelsHandler handles HTTP requests for model variants
type ModelsHandler struct {
	config   *config.Config
	logger   *slog.Logger
	registry *capabilities.Registry
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(cfg *config.Config, logger *slog.Logger, registry *capabilities.Registry) *ModelsHandler {
	return &ModelsHandler{
		config:   cfg,
		logger:   logger,
		registry: registry,
	}
}

// ModelsResponse lists the selectable variants of every usable provider
type ModelsResponse struct {
	DefaultProvider string             `json:"default_provider"`
	DefaultVariant  string             `json:"default_variant"`
	Providers       []ProviderResponse `json:"providers"`
}

// ProviderResponse represents a provider with its variants and models
type ProviderResponse struct {
	ID       string                           `json:"id"`
	Variants []capabilities.Variant           `json:"variants"`
	Models   []capabilities.ModelCapabilities `json:"models"`
}

// GetModels returns variants and model capabilities for all usable providers
// GET /api/models
func (h *ModelsHandler) GetModels(w http.ResponseWriter, r *http.Request) {
	providers := []ProviderResponse{}

	for _, id := range h.registry.GetAllProviders() {
		if !h.providerUsable(id) {
			continue
		}
		variants, err := h.registry.ListVariants(id)
		if err != nil {
			h.logger.Warn("failed to list variants", "provider", id, "error", err)
			continue
		}
		models, err := h.registry.ListProviderModels(id)
		if err != nil {
			h.logger.Warn("failed to list models", "provider", id, "error", err)
			continue
		}
		providers = append(providers, ProviderResponse{
			ID:       id,
			Variants: variants,
			Models:   models,
		})
	}

	httputil.RespondJSON(w, http.StatusOK, ModelsResponse{
		DefaultProvider: h.config.DefaultProvider,
		DefaultVariant:  h.config.DefaultVariant,
		Providers:       providers,
	})
}

// providerUsable reports whether the provider has the credentials it needs
func (h *ModelsHandler) providerUsable(provider string) bool {
	switch provider {
	case "anthropic":
		return h.config.AnthropicAPIKey != ""
	default:
		return true
	}
}

// HealthCheck reports that the server is up
// GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
