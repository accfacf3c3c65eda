package embedder

import (
	"fmt"
	"strings"
)

// Spec is a parsed provider:model string.
type Spec struct {
	Provider string
	Model    string
}

// ParseSpec splits a provider:model string, e.g. "voyage:voyage-code-3".
func ParseSpec(s string) (Spec, error) {
	provider, model, ok := strings.Cut(s, ":")
	if !ok || provider == "" || model == "" {
		return Spec{}, fmt.Errorf("%w: %q is not provider:model", ErrUnsupportedModel, s)
	}
	return Spec{Provider: strings.ToLower(provider), Model: model}, nil
}

// Config selects one provider instance.
type Config struct {
	ModelSpec string // provider:model
	APIKey    string
	CacheSize int // 0 disables caching
}

// New builds a provider from configuration.
func New(cfg Config) (Provider, error) {
	spec, err := ParseSpec(cfg.ModelSpec)
	if err != nil {
		return nil, err
	}

	var p Provider
	switch spec.Provider {
	case ProviderVoyage:
		p = newVoyageProvider(spec.Model, cfg.APIKey)
	case ProviderJina:
		p = newJinaProvider(spec.Model, cfg.APIKey)
	case ProviderGoogle:
		p = newGoogleProvider(spec.Model, cfg.APIKey)
	case ProviderOpenAI:
		p = newOpenAIProvider(spec.Model, cfg.APIKey)
	case ProviderLocal:
		p = newLocalProvider(spec.Model)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnsupportedModel, spec.Provider)
	}

	if spec.Provider != ProviderLocal && cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key for provider %q", ErrUnsupportedModel, spec.Provider)
	}

	if cfg.CacheSize > 0 {
		p = WithCache(p, NewCache(cfg.CacheSize))
	}
	return p, nil
}
