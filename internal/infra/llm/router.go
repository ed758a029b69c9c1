package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrProviderNotFound is returned by Route for a name no provider is registered under.
var ErrProviderNotFound = errors.New("llm: provider not registered")

// Router selects a Provider by name. Names are matched case-insensitively.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRouter registers each provider under its own descriptor name.
func NewRouter(providers ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces p under p.Describe().Name.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[routeKey(p.Describe().Name)] = p
}

// Route returns the provider registered as name.
func (r *Router) Route(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[routeKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrProviderNotFound, name, r.keys())
	}
	return p, nil
}

// Providers returns every registered provider ordered by name.
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, k := range r.keys() {
		out = append(out, r.providers[k])
	}
	return out
}

// keys returns the registered keys in order. Caller holds r.mu.
func (r *Router) keys() []string {
	out := make([]string, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func routeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
