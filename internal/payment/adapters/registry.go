package adapters

import (
	"strings"

	"github.com/smallbiznis/sitebill/internal/payment/domain"
)

// Registry resolves payment providers by name. The first registered provider
// is the default gateway for outbound charges.
type Registry struct {
	providers   map[string]domain.Provider
	defaultName string
}

func NewRegistry(providers ...domain.Provider) *Registry {
	registry := &Registry{providers: map[string]domain.Provider{}}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := normalize(provider.Name())
		if name == "" {
			continue
		}
		if registry.defaultName == "" {
			registry.defaultName = name
		}
		registry.providers[name] = provider
	}
	return registry
}

func (r *Registry) ProviderExists(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.providers[normalize(name)]
	return ok
}

func (r *Registry) Get(name string) (domain.Provider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider, ok := r.providers[normalize(name)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return provider, nil
}

// Gateway returns the default provider as the outbound charge gateway.
func (r *Registry) Gateway() (domain.Gateway, error) {
	if r == nil || r.defaultName == "" {
		return nil, domain.ErrProviderNotFound
	}
	return r.providers[r.defaultName], nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
