package pubsub

import (
	"os"
	"sync/atomic"

	"github.com/strixlab/relay/internal/registry"
)

// DefaultEnvVar is the environment variable Env reads the adapter name
// from.
const DefaultEnvVar = "RELAY_PUBSUB_ADAPTER"

// Config supplies the name of the active routing backend. It is
// consulted on every call, never cached, so swapping the value at
// runtime takes effect on the next operation.
type Config interface {
	// AdapterName returns the configured backend name and whether one
	// is configured at all.
	AdapterName() (string, bool)
}

// Env is a Config reading the adapter name from the named environment
// variable on each call.
type Env string

func (e Env) AdapterName() (string, bool) {
	v := os.Getenv(string(e))
	return v, v != ""
}

// Static is a Config holding an explicit adapter name. Set swaps it at
// runtime, which tests use to redirect traffic to a fake backend.
type Static struct {
	name atomic.Pointer[string]
}

func NewStatic(name string) *Static {
	s := &Static{}
	s.Set(name)
	return s
}

func (s *Static) Set(name string) {
	s.name.Store(&name)
}

func (s *Static) AdapterName() (string, bool) {
	p := s.name.Load()
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// Resolver maps adapter names to implementations and resolves the
// active one through its Config. Resolution happens per call; the core
// never hard-codes a backend.
type Resolver struct {
	adapters registry.Registry[Adapter]
	config   Config
}

func NewResolver(config Config) *Resolver {
	return &Resolver{
		adapters: registry.New[Adapter](),
		config:   config,
	}
}

// Register makes adapter selectable under name.
func (r *Resolver) Register(name string, adapter Adapter) {
	r.adapters.Add(name, adapter)
}

// Deregister removes the named adapter.
func (r *Resolver) Deregister(name string) {
	r.adapters.Del(name)
}

// Names lists the registered adapter names.
func (r *Resolver) Names() []string {
	return r.adapters.Names()
}

// Active resolves the configured adapter and the name it resolved
// under. The name is read from the config exactly once, so a
// concurrent swap cannot skew what the caller reports about the
// resolution. Missing configuration or an unregistered name is fatal
// for the call.
func (r *Resolver) Active() (Adapter, string, error) {
	name, ok := r.config.AdapterName()
	if !ok {
		return nil, "", ErrNoAdapter
	}
	adapter, ok := r.adapters.Get(name)
	if !ok {
		return nil, "", &UnknownAdapterError{Name: name}
	}
	return adapter, name, nil
}
