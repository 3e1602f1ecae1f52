package registry

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/binderlab/binder_core/internal/descriptor"
	"github.com/binderlab/binder_core/internal/lifecycle"
	"github.com/binderlab/binder_core/internal/service"
)

// Handle is an opaque reference to one registered implementation. It carries
// the service name, the interface descriptor identity and a reference count.
// For lazily-managed services the count lives in the lifecycle machine so
// that increments and idle-timer checks share one mutual-exclusion domain.
type Handle struct {
	id      uuid.UUID
	name    string
	desc    *descriptor.InterfaceDescriptor
	impl    service.Implementation
	machine *lifecycle.Machine
	refs    atomic.Int64
}

func newHandle(name string, desc *descriptor.InterfaceDescriptor, impl service.Implementation, machine *lifecycle.Machine) *Handle {
	return &Handle{
		id:      uuid.New(),
		name:    name,
		desc:    desc,
		impl:    impl,
		machine: machine,
	}
}

// ID returns the unique handle identity.
func (h *Handle) ID() uuid.UUID { return h.id }

// Name returns the service name this handle is bound to.
func (h *Handle) Name() string { return h.name }

// Descriptor returns the interface descriptor.
func (h *Handle) Descriptor() *descriptor.InterfaceDescriptor { return h.desc }

// Implementation returns the bound implementation.
func (h *Handle) Implementation() service.Implementation { return h.impl }

// Retain adds a reference. The dispatcher calls this before decoding a
// transaction so the lifecycle manager observes the call.
func (h *Handle) Retain() error {
	if h.machine != nil {
		return h.machine.Retain()
	}
	h.refs.Add(1)
	return nil
}

// Release drops a reference. Releasing at zero is a no-op; the count never
// goes negative even under concurrent releases.
func (h *Handle) Release() {
	if h.machine != nil {
		h.machine.Release()
		return
	}
	for {
		n := h.refs.Load()
		if n == 0 {
			return
		}
		if h.refs.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Refs returns the current reference count.
func (h *Handle) Refs() int64 {
	if h.machine != nil {
		return h.machine.Refs()
	}
	return h.refs.Load()
}
