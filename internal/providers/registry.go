// Package providers implements the speech-synthesis adapters and the
// registry that dispatches synthesis calls to them by engine id.
package providers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/book-expert/mixdown-service/internal/core"
)

// ErrUnknownProvider indicates a synthesis request named an engine that is
// not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry maps engine ids to their adapters. Lookup is read-only after
// construction, so the registry is safe for concurrent use.
type Registry struct {
	adapters map[string]core.Synthesizer
}

// NewRegistry creates a registry over the given adapters, keyed by each
// adapter's Name.
func NewRegistry(adapters ...core.Synthesizer) *Registry {
	byName := make(map[string]core.Synthesizer, len(adapters))

	for _, adapter := range adapters {
		byName[adapter.Name()] = adapter
	}

	return &Registry{adapters: byName}
}

// Lookup returns the adapter registered under the given engine id.
func (r *Registry) Lookup(engine string) (core.Synthesizer, error) {
	adapter, found := r.adapters[engine]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, engine)
	}

	return adapter, nil
}

// Names returns the registered engine ids in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))

	for name := range r.adapters {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Voices aggregates every adapter's voice table, grouped in engine name
// order so the listing is stable.
func (r *Registry) Voices() []core.Voice {
	voices := make([]core.Voice, 0)

	for _, name := range r.Names() {
		voices = append(voices, r.adapters[name].Voices()...)
	}

	return voices
}
