package queues

import (
	"fmt"
	"slices"
	"sync"

	"github.com/davideduma/commons-jms/broker"
)

// Registry maps aliases to destinations. Listener pools write it on every
// (re)connect and correlators read it per call, so it is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	dests map[string]broker.Destination
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		dests: make(map[string]broker.Destination),
	}
}

// Register stores dest under alias, replacing a previous destination
func (r *Registry) Register(alias string, dest broker.Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dests[alias] = dest
}

// Lookup returns the destination registered under alias
func (r *Registry) Lookup(alias string) (broker.Destination, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dest, ok := r.dests[alias]
	if !ok {
		return nil, fmt.Errorf("%w: alias %q", broker.ErrDestinationNotFound, alias)
	}
	return dest, nil
}

// Remove deletes alias
func (r *Registry) Remove(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dests, alias)
}

// RemoveIf deletes alias only while it still points at dest, so a closing
// component does not drop a destination registered by its successor
func (r *Registry) RemoveIf(alias string, dest broker.Destination) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.dests[alias]
	if !ok || current != dest {
		return false
	}
	delete(r.dests, alias)
	return true
}

// Aliases returns the registered aliases in sorted order
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make([]string, 0, len(r.dests))
	for alias := range r.dests {
		aliases = append(aliases, alias)
	}
	slices.Sort(aliases)
	return aliases
}
