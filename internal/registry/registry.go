// Package registry holds the immutable, read-mostly set of configured
// providers, generalizing the teacher's provider registry to index
// config.ProviderConfig values rather than live client instances.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vandamme/llm-gateway/internal/config"
)

// Registry is a thread-safe map of provider name to ProviderConfig. It is
// built once at startup and never mutated afterward; the mutex only guards
// against concurrent readers racing a future hot-reload.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]config.ProviderConfig
}

func New(providers map[string]config.ProviderConfig) *Registry {
	cp := make(map[string]config.ProviderConfig, len(providers))
	for k, v := range providers {
		cp[k] = v
	}
	return &Registry{providers: cp}
}

// Get returns the named provider's configuration.
func (r *Registry) Get(name string) (config.ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return config.ProviderConfig{}, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Names returns the configured provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every configured ProviderConfig.
func (r *Registry) List() []config.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.ProviderConfig, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
