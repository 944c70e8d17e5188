package schema

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Registry publishes the active descriptor. Readers get a snapshot; Replace
// swaps the whole descriptor so in-flight requests keep the one they started with.
type Registry struct {
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	desc     Descriptor
	loadedAt time.Time
}

func NewRegistry(desc Descriptor) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(desc); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Replace(desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	r.current.Store(&snapshot{desc: desc.clone(), loadedAt: time.Now().UTC()})
	return nil
}

// Current returns a copy of the active descriptor.
func (r *Registry) Current() Descriptor {
	snap := r.current.Load()
	if snap == nil {
		return Descriptor{}
	}
	return snap.desc.clone()
}

func (r *Registry) LoadedAt() time.Time {
	snap := r.current.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.loadedAt
}
