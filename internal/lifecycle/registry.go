package lifecycle

import (
	"context"
	"errors"

	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/tier"
)

// Registry is the fixed arena of slots, one per tier.
type Registry struct {
	slots [tier.Count]*Slot
}

// NewRegistry creates idle slots from the tier configuration.
func NewRegistry(tiers config.TiersConfig) *Registry {
	registry := &Registry{slots: [tier.Count]*Slot{}}

	for _, which := range tier.All() {
		tierCfg := tiers.For(which)
		registry.slots[which.Index()] = newSlot(which, tierCfg.Enabled, tierCfg.MaxConcurrent)
	}

	return registry
}

// Slot returns the slot of a tier. It panics on an invalid tier, which is a
// programming error: tiers are validated at the edges.
func (r *Registry) Slot(which tier.Tier) *Slot {
	return r.slots[which.Index()]
}

// Snapshot returns the state of every slot, indexed by tier.
func (r *Registry) Snapshot() [tier.Count]State {
	var states [tier.Count]State

	for index, slot := range r.slots {
		states[index] = slot.Snapshot()
	}

	return states
}

// Close retires every slot and closes the loaded backends. In-flight
// synthesis finishes first unless ctx expires.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error

	for _, slot := range r.slots {
		err := slot.retire(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
