package preview

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/previewsync/errors"
)

// Registry manages named providers. It holds no package-level state:
// each instance is fully isolated, so tests can construct and discard
// registries freely.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	providers map[string]*Provider
	closed    bool
}

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:    slog.Default(),
		providers: make(map[string]*Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Register adds an existing provider under its name. Duplicate names
// are rejected with ErrProviderExists and mutate nothing.
func (r *Registry) Register(p *Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.WrapFatal(errors.ErrRegistryClosed, "registry", "Register", "check registry state")
	}
	if _, exists := r.providers[p.Name()]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrProviderExists, p.Name()),
			"registry", "Register", "check name uniqueness")
	}

	r.providers[p.Name()] = p
	r.logger.Info("provider registered", "provider", p.Name())
	return nil
}

// Create constructs a provider and registers it in one step. The
// provider is closed again if registration fails.
func (r *Registry) Create(name, url string, opts ...Option) (*Provider, error) {
	p, err := New(name, url, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Register(p); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (*Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	return p, ok
}

// Remove unregisters a provider without closing it; the caller keeps
// ownership. Returns ErrProviderNotFound for unknown names.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; !exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrProviderNotFound, name),
			"registry", "Remove", "look up provider")
	}

	delete(r.providers, name)
	r.logger.Info("provider removed", "provider", name)
	return nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.providers)
}

// CloseAll closes every registered provider concurrently and marks the
// registry closed; subsequent Register and Create calls fail with
// ErrRegistryClosed. Returns a timeout error if the providers do not
// close within the given window.
func (r *Registry) CloseAll(timeout time.Duration) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	providers := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.providers = make(map[string]*Provider)
	r.mu.Unlock()

	g := new(errgroup.Group)
	for _, p := range providers {
		g.Go(p.Close)
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "registry", "CloseAll", "close providers")
		}
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(context.DeadlineExceeded,
			"registry", "CloseAll", "wait for providers to close")
	}
}
