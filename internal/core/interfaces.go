// Package core defines the contracts shared between the orchestration layer and
// the synthesis backends.
package core

import (
	"context"
	"errors"
)

// ErrResourceExhausted marks a backend failure caused by accelerator memory or
// allocation exhaustion. Drivers wrap it so the dispatcher can classify the fault.
var ErrResourceExhausted = errors.New("backend resources exhausted")

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, metadata map[string]string) error
}

// SynthesisInput carries the tier-appropriate parameters for one synthesis call.
// Fields a backend does not support are left at their zero value by the dispatcher.
type SynthesisInput struct {
	Text string
	// Voice is a preset voice name for backends with a fixed voice set.
	Voice string
	// ReferencePath is a reference sample for cloning backends; empty disables cloning.
	ReferencePath string
	// Speed is only set for backends that honor it natively.
	Speed float64
	// Exaggeration and CFGWeight are only set for style-capable backends.
	Exaggeration float64
	CFGWeight    float64
}

// Tensor is a backend's native numeric output: a row-major buffer plus its shape.
// An empty shape denotes a scalar.
type Tensor struct {
	Shape []int
	Data  []float32
}

// RawOutput is what a backend returns: one or more segments in emission order.
type RawOutput struct {
	Segments   []Tensor
	SampleRate int
}

// Backend is an opaque, loaded text-to-speech capability bound to a tier.
type Backend interface {
	Synthesize(ctx context.Context, input SynthesisInput) (RawOutput, error)
	Close() error
}

// MemoryReleaser is implemented by accelerator-backed backends that can drop
// cached device buffers on demand.
type MemoryReleaser interface {
	ReleaseMemory(ctx context.Context) error
}
