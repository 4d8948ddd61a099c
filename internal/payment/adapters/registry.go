package adapters

import (
	"strings"

	"github.com/smallbiznis/agentmarket/internal/payment/domain"
)

type Registry struct {
	adapters map[string]domain.WebhookAdapter
}

func NewRegistry(adapters ...domain.WebhookAdapter) *Registry {
	registry := &Registry{adapters: map[string]domain.WebhookAdapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(adapter.Provider()))
		if provider == "" {
			continue
		}
		registry.adapters[provider] = adapter
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	_, err := r.Adapter(provider)
	return err == nil
}

func (r *Registry) Adapter(provider string) (domain.WebhookAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}
