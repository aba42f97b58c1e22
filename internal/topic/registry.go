package topic

import "sync"

// Registry tracks which topic patterns currently have at least one interested
// consumer. The sink consults it before persisting an event: a topic nobody
// listens to is dropped at the write path instead of accumulating in the
// store. Registrations are process-lifetime; there is no removal.
type Registry struct {
	mu       sync.RWMutex
	patterns map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{patterns: make(map[string]struct{})}
}

// Register records a pattern as having at least one interested party.
// Idempotent and safe for concurrent use.
func (r *Registry) Register(pattern string) {
	if pattern == "" {
		return
	}
	r.mu.Lock()
	r.patterns[pattern] = struct{}{}
	r.mu.Unlock()
}

// IsRegistered reports whether any registered pattern matches the given
// concrete topic.
func (r *Registry) IsRegistered(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pattern := range r.patterns {
		if Match(pattern, topic) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}
