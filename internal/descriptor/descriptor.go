// Package descriptor defines the immutable interface metadata the binder core
// operates on: field types, method signatures, stability classes and the
// process-wide descriptor table. Descriptors are created once at registration
// time and never mutated; new versions are new descriptors.
package descriptor

import (
	"fmt"
	"math"
)

// Stability is the compatibility tier of a type. It governs whether values of
// the type may cross the system/vendor process boundary.
type Stability int

const (
	// StabilityUnstable types may not cross a system/vendor boundary.
	StabilityUnstable Stability = iota

	// StabilityVendorSystem types are stable across the system/vendor
	// boundary. A vendor-system-stable type may only reference types of at
	// least the same stability.
	StabilityVendorSystem
)

// String returns the string representation of the stability class.
func (s Stability) String() string {
	switch s {
	case StabilityUnstable:
		return "unstable"
	case StabilityVendorSystem:
		return "vintf"
	default:
		return fmt.Sprintf("stability(%d)", s)
	}
}

// ParseStability converts a string to a Stability. Unknown strings map to
// StabilityUnstable, the conservative tier.
func ParseStability(s string) Stability {
	switch s {
	case "vintf", "vendor-system", "stable":
		return StabilityVendorSystem
	default:
		return StabilityUnstable
	}
}

// Backing is the integer width, in bytes, used to encode an enum on the wire.
type Backing int

const (
	Backing8  Backing = 1
	Backing16 Backing = 2
	Backing32 Backing = 4
	Backing64 Backing = 8
)

// Valid reports whether the backing is one of the supported widths.
func (b Backing) Valid() bool {
	switch b {
	case Backing8, Backing16, Backing32, Backing64:
		return true
	default:
		return false
	}
}

// Fits reports whether v is representable in the backing's signed range.
func (b Backing) Fits(v int64) bool {
	switch b {
	case Backing8:
		return v >= math.MinInt8 && v <= math.MaxInt8
	case Backing16:
		return v >= math.MinInt16 && v <= math.MaxInt16
	case Backing32:
		return v >= math.MinInt32 && v <= math.MaxInt32
	case Backing64:
		return true
	default:
		return false
	}
}

// Kind tags a FieldType variant.
type Kind int

const (
	// KindVoid is only valid as a method return type and encodes nothing.
	KindVoid Kind = iota
	KindBool
	KindByte
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindString
	KindEnum
	KindList
	KindParcelable
	KindNullable
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindByte:
		return "byte"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindList:
		return "list"
	case KindParcelable:
		return "parcelable"
	case KindNullable:
		return "nullable"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// TypeRef identifies a registered descriptor by name and version. Parcelable
// field types hold a TypeRef rather than the descriptor itself, so cyclic
// type graphs resolve through the table instead of by value.
type TypeRef struct {
	Name    string
	Version uint32
}

// String returns "name/vN".
func (r TypeRef) String() string {
	return fmt.Sprintf("%s/v%d", r.Name, r.Version)
}

// EnumSpec declares the backing width and the closed value set of an enum.
type EnumSpec struct {
	Backing Backing
	Values  []int64
}

// Contains reports whether v is a declared enum value.
func (e *EnumSpec) Contains(v int64) bool {
	for _, candidate := range e.Values {
		if candidate == v {
			return true
		}
	}
	return false
}

// FieldType is a tagged variant describing one wire field.
type FieldType struct {
	Kind Kind

	// Elem is set for KindList and KindNullable.
	Elem *FieldType

	// Ref is set for KindParcelable.
	Ref TypeRef

	// Enum is set for KindEnum.
	Enum *EnumSpec
}

// String returns a readable type expression, e.g. "list<nullable<string>>".
func (t FieldType) String() string {
	switch t.Kind {
	case KindList:
		return fmt.Sprintf("list<%s>", t.Elem)
	case KindNullable:
		return fmt.Sprintf("nullable<%s>", t.Elem)
	case KindParcelable:
		return t.Ref.String()
	default:
		return t.Kind.String()
	}
}

// Void returns the void return type.
func Void() FieldType { return FieldType{Kind: KindVoid} }

// Bool returns the bool field type.
func Bool() FieldType { return FieldType{Kind: KindBool} }

// Byte returns the byte field type.
func Byte() FieldType { return FieldType{Kind: KindByte} }

// Int32 returns the int32 field type.
func Int32() FieldType { return FieldType{Kind: KindInt32} }

// Int64 returns the int64 field type.
func Int64() FieldType { return FieldType{Kind: KindInt64} }

// Float32 returns the float32 field type.
func Float32() FieldType { return FieldType{Kind: KindFloat32} }

// Float64 returns the float64 field type.
func Float64() FieldType { return FieldType{Kind: KindFloat64} }

// String8 returns the UTF-8 string field type.
func String8() FieldType { return FieldType{Kind: KindString} }

// List returns a list of elem.
func List(elem FieldType) FieldType {
	return FieldType{Kind: KindList, Elem: &elem}
}

// Nullable wraps elem with a one-byte presence flag.
func Nullable(elem FieldType) FieldType {
	return FieldType{Kind: KindNullable, Elem: &elem}
}

// Parcelable references a registered parcelable descriptor by identity.
func Parcelable(name string, version uint32) FieldType {
	return FieldType{Kind: KindParcelable, Ref: TypeRef{Name: name, Version: version}}
}

// Enum declares an enum with an explicit backing width and value set.
func Enum(backing Backing, values ...int64) FieldType {
	return FieldType{Kind: KindEnum, Enum: &EnumSpec{Backing: backing, Values: values}}
}

// Field is one named member of a parcelable, encoded in declaration order.
type Field struct {
	Name string
	Type FieldType
}

// ParcelableDescriptor describes a structured value type. Its fields are
// encoded and decoded in declaration order.
type ParcelableDescriptor struct {
	Name      string
	Version   uint32
	Stability Stability
	Fields    []Field
}

// Ref returns the identity of this descriptor.
func (d *ParcelableDescriptor) Ref() TypeRef {
	return TypeRef{Name: d.Name, Version: d.Version}
}

// Method is one callable signature. Index is assigned at descriptor creation
// and is never reused within a version.
type Method struct {
	Index  uint32
	Name   string
	Params []FieldType
	Return FieldType
}

// InterfaceDescriptor describes a service interface: its identity, stability
// class and ordered method table.
type InterfaceDescriptor struct {
	Name      string
	Version   uint32
	Stability Stability
	Methods   []Method
}

// Ref returns the identity of this descriptor.
func (d *InterfaceDescriptor) Ref() TypeRef {
	return TypeRef{Name: d.Name, Version: d.Version}
}

// Method looks up a method by index.
func (d *InterfaceDescriptor) Method(index uint32) (Method, bool) {
	for _, m := range d.Methods {
		if m.Index == index {
			return m, true
		}
	}
	return Method{}, false
}
