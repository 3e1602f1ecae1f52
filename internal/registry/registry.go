// Package registry implements the process-wide service directory: named
// endpoints, lookup with lazy start, and the exported-name listing consumed
// by inspection tooling.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/binderlab/binder_core/internal/descriptor"
	"github.com/binderlab/binder_core/internal/lifecycle"
	"github.com/binderlab/binder_core/internal/service"
	"github.com/binderlab/binder_core/pkg/logger"
)

// Registry errors.
var (
	// ErrNameConflict is returned when a name is already bound to a live
	// handle.
	ErrNameConflict = errors.New("service name already bound")

	// ErrServiceNotFound is returned when no handle is bound to a name.
	ErrServiceNotFound = errors.New("service not found")

	// ErrStartTimeout is surfaced by GetService when a lazy start does not
	// complete in time.
	ErrStartTimeout = lifecycle.ErrStartTimeout

	// ErrDescriptorUnknown is returned when a service is added with a
	// descriptor that was never registered in the table.
	ErrDescriptorUnknown = errors.New("descriptor not registered in table")
)

// binding is one name -> implementation entry. Lazy bindings keep their
// machine across teardown so a later lookup can start the service again.
type binding struct {
	desc     *descriptor.InterfaceDescriptor
	exported bool
	handle   *Handle
	machine  *lifecycle.Machine
}

func (b *binding) live() bool {
	if b.machine != nil {
		return b.machine.State() != lifecycle.StateUnregistered
	}
	return b.handle != nil
}

// Registry is the process-wide name -> handle directory. One explicitly
// owned instance is passed by reference to all components at process start.
type Registry struct {
	table *descriptor.Table
	log   *logger.Logger

	mu       sync.RWMutex
	bindings map[string]*binding

	observers []lifecycle.TransitionFunc
}

// New creates an empty registry backed by the given descriptor table.
func New(table *descriptor.Table, log *logger.Logger) *Registry {
	return &Registry{
		table:    table,
		log:      log.Named("registry"),
		bindings: make(map[string]*binding),
	}
}

// OnTransition subscribes a lifecycle transition observer applied to every
// lazily-registered service. Subscribe before services are added.
func (r *Registry) OnTransition(fn lifecycle.TransitionFunc) {
	r.observers = append(r.observers, fn)
}

// fanOut delivers one transition to every subscribed observer.
func (r *Registry) fanOut(name string, from, to lifecycle.State) {
	for _, fn := range r.observers {
		fn(name, from, to)
	}
}

// AddService binds name to a live implementation. The descriptor must already
// be registered in the table, which is where stability rules were enforced.
// exported=false keeps the binding local; exported=true additionally makes it
// discoverable through ListServices. Fails with ErrNameConflict if the name
// is bound to a live handle.
func (r *Registry) AddService(name string, impl service.Implementation, desc *descriptor.InterfaceDescriptor, exported bool) (*Handle, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := r.checkDescriptor(desc); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.evictDeadLocked(name); err != nil {
		return nil, err
	}

	h := newHandle(name, desc, impl, nil)
	r.bindings[name] = &binding{desc: desc, exported: exported, handle: h}
	r.log.WithField("service", name).WithField("exported", exported).Info("service registered")
	return h, nil
}

// AddLazyService binds name to a factory managed by the lifecycle manager.
// The implementation starts on first GetService and is torn down after the
// configured idle period with zero references.
func (r *Registry) AddLazyService(name string, factory service.Factory, desc *descriptor.InterfaceDescriptor, exported bool, cfg lifecycle.Config) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := r.checkDescriptor(desc); err != nil {
		return err
	}

	m := lifecycle.NewMachine(name, factory, cfg, r.log)
	m.OnRemove(r.removeService)
	if len(r.observers) > 0 {
		m.OnTransition(r.fanOut)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.evictDeadLocked(name); err != nil {
		return err
	}

	r.bindings[name] = &binding{desc: desc, exported: exported, machine: m}
	r.log.WithField("service", name).WithField("exported", exported).Info("lazy service registered")
	return nil
}

// GetService returns a handle to the named service with one reference held;
// the caller owns that reference and must Release it. For a lazy binding in
// StateUnregistered this triggers a start and blocks until the service is
// Active or the start timeout elapses (ErrStartTimeout).
func (r *Registry) GetService(ctx context.Context, name string) (*Handle, error) {
	r.mu.RLock()
	b, ok := r.bindings[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	if b.machine == nil {
		if err := b.handle.Retain(); err != nil {
			return nil, err
		}
		return b.handle, nil
	}

	// Acquire holds the caller's reference from here on.
	inst, err := b.machine.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lifecycle.ErrRetired) {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b.handle == nil || b.handle.impl != service.Implementation(inst) {
		// A fresh start produced a fresh instance; mint a new handle.
		b.handle = newHandle(name, b.desc, inst, b.machine)
	}
	return b.handle, nil
}

// ListServices returns a snapshot of the exported names bound at call time.
// Order is unspecified beyond the stability of a single snapshot.
func (r *Registry) ListServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bindings))
	for name, b := range r.bindings {
		if b.exported {
			names = append(names, name)
		}
	}
	return names
}

// Inspect returns the binding state of one name for read-only tooling.
func (r *Registry) Inspect(name string) (Info, bool) {
	r.mu.RLock()
	b, ok := r.bindings[name]
	r.mu.RUnlock()
	if !ok {
		return Info{}, false
	}

	info := Info{
		Name:      name,
		Interface: b.desc.Ref(),
		Stability: b.desc.Stability.String(),
		Exported:  b.exported,
		Lazy:      b.machine != nil,
	}
	if b.machine != nil {
		info.State = b.machine.State()
		info.Refs = b.machine.Refs()
	} else {
		info.State = lifecycle.StateActive
		if b.handle != nil {
			info.Refs = b.handle.Refs()
		}
	}
	return info, true
}

// InspectAll returns the binding state of every name, exported or not. Used
// by periodic samplers; listing for external callers stays exported-only.
func (r *Registry) InspectAll() []Info {
	r.mu.RLock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		if info, ok := r.Inspect(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// Info is the read-only view of one binding.
type Info struct {
	Name      string             `json:"name"`
	Interface descriptor.TypeRef `json:"interface"`
	Stability string             `json:"stability"`
	Exported  bool               `json:"exported"`
	Lazy      bool               `json:"lazy"`
	State     lifecycle.State    `json:"state"`
	Refs      int64              `json:"refs"`
}

// removeService is invoked only by the lifecycle manager once a torn-down
// implementation has confirmed its resources are released. The machine stays
// bound so a later lookup can start the service again.
func (r *Registry) removeService(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[name]
	if !ok {
		return
	}
	b.handle = nil
	r.log.WithField("service", name).Info("service removed")
}

// evictDeadLocked clears a binding whose handle is no longer live, or reports
// a conflict if it is.
func (r *Registry) evictDeadLocked(name string) error {
	b, ok := r.bindings[name]
	if !ok {
		return nil
	}
	if b.live() {
		return fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	if b.machine != nil {
		// An in-flight lookup may still hold the old machine; make sure it
		// can never start again.
		b.machine.Retire()
	}
	delete(r.bindings, name)
	return nil
}

func (r *Registry) checkDescriptor(desc *descriptor.InterfaceDescriptor) error {
	if desc == nil {
		return fmt.Errorf("%w: nil descriptor", ErrDescriptorUnknown)
	}
	if _, ok := r.table.ResolveInterface(desc.Name, desc.Version); !ok {
		return fmt.Errorf("%w: %s", ErrDescriptorUnknown, desc.Ref())
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("service name must not be empty")
	}
	for _, r := range name {
		if r < 0x21 || r > 0x7e {
			return fmt.Errorf("service name %q contains non-printable character", name)
		}
	}
	return nil
}
