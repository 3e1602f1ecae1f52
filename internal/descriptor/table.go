package descriptor

import (
	"errors"
	"fmt"
	"sync"
)

// Registration errors.
var (
	// ErrDuplicateVersion is returned when a (name, version) pair is already
	// registered. Published wire layouts are immutable, so re-registration is
	// never allowed.
	ErrDuplicateVersion = errors.New("descriptor version already registered")

	// ErrStabilityViolation is returned when a descriptor references a type
	// of lower stability than its own declared class.
	ErrStabilityViolation = errors.New("stability violation")

	// ErrUnknownType is returned when a field references a parcelable that is
	// not registered in the table.
	ErrUnknownType = errors.New("unknown parcelable type")

	// ErrInvalidDescriptor is returned for structurally invalid descriptors:
	// empty names, duplicate method indices, nested nullables, void fields.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// Table is the process-wide descriptor table. It is append-only for the
// process lifetime: there is no unregister, so method indices and wire
// layouts stay valid for any client holding an old handle. Lookups are safe
// concurrently with registration of unrelated entries.
type Table struct {
	mu          sync.RWMutex
	parcelables map[TypeRef]*ParcelableDescriptor
	interfaces  map[TypeRef]*InterfaceDescriptor
}

// NewTable creates an empty descriptor table.
func NewTable() *Table {
	return &Table{
		parcelables: make(map[TypeRef]*ParcelableDescriptor),
		interfaces:  make(map[TypeRef]*InterfaceDescriptor),
	}
}

// RegisterParcelable validates and publishes a parcelable descriptor.
// Stability is checked transitively here, once, so encode and decode never
// re-check it per call. A parcelable may reference itself.
func (t *Table) RegisterParcelable(d *ParcelableDescriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("%w: parcelable with empty name", ErrInvalidDescriptor)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ref := d.Ref()
	if _, exists := t.parcelables[ref]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVersion, ref)
	}

	for _, f := range d.Fields {
		if err := t.checkFieldLocked(f.Type, d.Stability, ref); err != nil {
			return fmt.Errorf("parcelable %s field %q: %w", ref, f.Name, err)
		}
	}

	t.parcelables[ref] = d
	return nil
}

// RegisterInterface validates and publishes an interface descriptor.
func (t *Table) RegisterInterface(d *InterfaceDescriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("%w: interface with empty name", ErrInvalidDescriptor)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ref := d.Ref()
	if _, exists := t.interfaces[ref]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVersion, ref)
	}

	seen := make(map[uint32]bool, len(d.Methods))
	for _, m := range d.Methods {
		if seen[m.Index] {
			return fmt.Errorf("%w: %s reuses method index %d", ErrInvalidDescriptor, ref, m.Index)
		}
		seen[m.Index] = true

		for i, p := range m.Params {
			if p.Kind == KindVoid {
				return fmt.Errorf("%w: %s method %q parameter %d is void", ErrInvalidDescriptor, ref, m.Name, i)
			}
			if err := t.checkFieldLocked(p, d.Stability, TypeRef{}); err != nil {
				return fmt.Errorf("interface %s method %q parameter %d: %w", ref, m.Name, i, err)
			}
		}
		if m.Return.Kind != KindVoid {
			if err := t.checkFieldLocked(m.Return, d.Stability, TypeRef{}); err != nil {
				return fmt.Errorf("interface %s method %q return: %w", ref, m.Name, err)
			}
		}
	}

	t.interfaces[ref] = d
	return nil
}

// ResolveInterface looks up an interface descriptor by identity.
func (t *Table) ResolveInterface(name string, version uint32) (*InterfaceDescriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.interfaces[TypeRef{Name: name, Version: version}]
	return d, ok
}

// ResolveParcelable looks up a parcelable descriptor by identity.
func (t *Table) ResolveParcelable(name string, version uint32) (*ParcelableDescriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.parcelables[TypeRef{Name: name, Version: version}]
	return d, ok
}

// checkFieldLocked validates one field type and enforces the stability
// invariant: a referenced type must be at least as stable as the declaring
// descriptor. Referenced parcelables were validated at their own
// registration, so checking direct references covers the transitive closure.
// self names the descriptor currently being registered; a reference to it is
// allowed even though it is not in the table yet.
func (t *Table) checkFieldLocked(ft FieldType, declared Stability, self TypeRef) error {
	switch ft.Kind {
	case KindVoid:
		return fmt.Errorf("%w: void is not a field type", ErrInvalidDescriptor)

	case KindBool, KindByte, KindInt32, KindInt64, KindFloat32, KindFloat64, KindString:
		return nil

	case KindEnum:
		if ft.Enum == nil || len(ft.Enum.Values) == 0 {
			return fmt.Errorf("%w: enum with empty value set", ErrInvalidDescriptor)
		}
		if !ft.Enum.Backing.Valid() {
			return fmt.Errorf("%w: enum backing width %d", ErrInvalidDescriptor, ft.Enum.Backing)
		}
		// Every declared value must survive the declared wire width, or a
		// legal encode would not decode back.
		for _, v := range ft.Enum.Values {
			if !ft.Enum.Backing.Fits(v) {
				return fmt.Errorf("%w: enum value %d does not fit backing width %d", ErrInvalidDescriptor, v, ft.Enum.Backing)
			}
		}
		return nil

	case KindList:
		if ft.Elem == nil {
			return fmt.Errorf("%w: list without element type", ErrInvalidDescriptor)
		}
		return t.checkFieldLocked(*ft.Elem, declared, self)

	case KindNullable:
		if ft.Elem == nil {
			return fmt.Errorf("%w: nullable without element type", ErrInvalidDescriptor)
		}
		// Writer and reader must agree on presence flags per field, so
		// nullability is structural and never stacks.
		if ft.Elem.Kind == KindNullable {
			return fmt.Errorf("%w: nested nullable", ErrInvalidDescriptor)
		}
		return t.checkFieldLocked(*ft.Elem, declared, self)

	case KindParcelable:
		if ft.Ref == self {
			return nil
		}
		ref, ok := t.parcelables[ft.Ref]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownType, ft.Ref)
		}
		if ref.Stability < declared {
			return fmt.Errorf("%w: %s is %s, referenced from a %s declaration",
				ErrStabilityViolation, ft.Ref, ref.Stability, declared)
		}
		return nil

	default:
		return fmt.Errorf("%w: kind %v", ErrInvalidDescriptor, ft.Kind)
	}
}
