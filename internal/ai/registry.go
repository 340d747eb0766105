package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/suPer8Hu/nl2sql-platform/internal/config"
)

// ProviderFactory builds a backend client; an empty model selects the backend default.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

var ErrUnknownProvider = errors.New("unknown ai provider")

// Registry maps lower-cased backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]ProviderFactory{}}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	r.mu.Lock()
	r.factories[normalizeName(name)] = f
	r.mu.Unlock()
}

// Get builds the named backend. Unknown names fail with ErrUnknownProvider.
func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	key := normalizeName(name)
	r.mu.RLock()
	f := r.factories[key]
	r.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownProvider, key, strings.Join(r.Names(), ", "))
	}
	return f(ctx, model)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewDefaultRegistry registers the built-in backends configured by cfg.
// "openai" and "openrouter" share the OpenAI-compatible client.
func NewDefaultRegistry(cfg config.Config) *Registry {
	reg := NewRegistry()

	openAI := func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.AIModel
		}
		p := NewOpenAIProvider(cfg.AIAPIBase, cfg.AIAPIKey, m, cfg.AITimeout)
		p.SiteURL = cfg.AISiteURL
		p.AppName = cfg.AIAppName
		return p, nil
	}
	reg.Register("openai", openAI)
	reg.Register("openrouter", openAI)

	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		p := NewOllamaProvider(cfg.OllamaBaseURL, m)
		if cfg.AITimeout > 0 {
			p.Timeout = cfg.AITimeout
		}
		return p, nil
	})
	return reg
}
