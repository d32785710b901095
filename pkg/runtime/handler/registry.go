package handler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is a compiled dispatch table keyed by locator string. Handlers
// linked into the binary register themselves here, typically from an init
// function, and are then addressable with the same locator syntax as
// plugin-loaded handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a locator to a handler. Registering the same locator twice
// panics: the table is meant to be populated once at program start.
func (r *Registry) Register(locator string, h Handler) {
	if h == nil {
		panic("handler: Register called with nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[locator]; dup {
		panic(fmt.Sprintf("handler: Register called twice for locator %q", locator))
	}
	r.handlers[locator] = h
}

// Locators returns the registered locators in sorted order.
func (r *Registry) Locators() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load implements Loader. The code directory is ignored: registry handlers are
// part of the binary. A miss lists the locators that are registered so a typo
// is diagnosable from the error alone.
func (r *Registry) Load(ref Reference, _ string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[ref.Locator()]
	r.mu.RUnlock()
	if !ok {
		return nil, &StartupError{
			Locator: ref.Locator(),
			Reason:  fmt.Sprintf("not in registry (registered: %s)", strings.Join(r.Locators(), ", ")),
		}
	}
	return h, nil
}

// DefaultRegistry is the table used by Register. The bundled example functions
// and most embedding programs register here.
var DefaultRegistry = NewRegistry()

// Register binds a locator to a handler in the default registry.
func Register(locator string, h Handler) {
	DefaultRegistry.Register(locator, h)
}
