package orchestrator

import (
	"github.com/book-expert/murmur-tts/internal/lifecycle"
	"github.com/book-expert/murmur-tts/internal/tier"
)

// Resolver picks the tier that will serve a request.
type Resolver struct {
	registry *lifecycle.Registry
}

// NewResolver creates a resolver over the slot registry.
func NewResolver(registry *lifecycle.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns requested when its backend is ready, otherwise the first
// ready tier in tier.FallbackOrder. Each slot is read once through its
// snapshot; a slot becoming ready a moment later only costs a fallback.
func (r *Resolver) Resolve(requested tier.Tier) (tier.Tier, error) {
	if requested.Valid() && r.registry.Slot(requested).Snapshot().Available() {
		return requested, nil
	}

	for _, candidate := range tier.FallbackOrder {
		if candidate == requested {
			continue
		}

		if r.registry.Slot(candidate).Snapshot().Available() {
			return candidate, nil
		}
	}

	return requested, noBackendReady()
}
