package parcel

import (
	"fmt"

	"github.com/binderlab/binder_core/internal/descriptor"
)

// Value representation per field kind:
//
//	bool, byte, int32, int64, float32, float64, string map to the matching
//	Go types; enum values are int64; lists are []any; parcelables are
//	map[string]any keyed by field name; nullable is nil or the inner value;
//	void is nil.
//
// Codec resolves parcelable references through the descriptor table, so
// recursive type graphs encode and decode without cycles in the type storage.
// Stability is enforced once at descriptor registration, never here.
type Codec struct {
	table *descriptor.Table
}

// NewCodec creates a codec bound to a descriptor table.
func NewCodec(table *descriptor.Table) *Codec {
	return &Codec{table: table}
}

// Encode appends v to p according to ft. Type mismatches between v and ft are
// programmer errors and surface as plain errors, not wire errors.
func (c *Codec) Encode(p *Parcel, ft descriptor.FieldType, v any) error {
	switch ft.Kind {
	case descriptor.KindVoid:
		return nil

	case descriptor.KindBool:
		b, ok := v.(bool)
		if !ok {
			return typeMismatch(ft, v)
		}
		return p.WriteBool(b)

	case descriptor.KindByte:
		b, ok := v.(byte)
		if !ok {
			return typeMismatch(ft, v)
		}
		return p.WriteByte(b)

	case descriptor.KindInt32:
		i, ok := v.(int32)
		if !ok {
			return typeMismatch(ft, v)
		}
		return p.WriteInt32(i)

	case descriptor.KindInt64:
		i, ok := v.(int64)
		if !ok {
			return typeMismatch(ft, v)
		}
		return p.WriteInt64(i)

	case descriptor.KindFloat32:
		f, ok := v.(float32)
		if !ok {
			return typeMismatch(ft, v)
		}
		return p.WriteFloat32(f)

	case descriptor.KindFloat64:
		f, ok := v.(float64)
		if !ok {
			return typeMismatch(ft, v)
		}
		return p.WriteFloat64(f)

	case descriptor.KindString:
		s, ok := v.(string)
		if !ok {
			return typeMismatch(ft, v)
		}
		return p.WriteString(s)

	case descriptor.KindEnum:
		i, ok := v.(int64)
		if !ok {
			return typeMismatch(ft, v)
		}
		if !ft.Enum.Contains(i) {
			return fmt.Errorf("encode enum: value %d not in declared set", i)
		}
		return c.writeEnum(p, ft.Enum.Backing, i)

	case descriptor.KindList:
		items, ok := v.([]any)
		if !ok {
			return typeMismatch(ft, v)
		}
		if err := p.WriteUint32(uint32(len(items))); err != nil {
			return err
		}
		for i, item := range items {
			if err := c.Encode(p, *ft.Elem, item); err != nil {
				return fmt.Errorf("list element %d: %w", i, err)
			}
		}
		return nil

	case descriptor.KindNullable:
		if v == nil {
			return p.WriteBool(false)
		}
		if err := p.WriteBool(true); err != nil {
			return err
		}
		return c.Encode(p, *ft.Elem, v)

	case descriptor.KindParcelable:
		fields, ok := v.(map[string]any)
		if !ok {
			return typeMismatch(ft, v)
		}
		d, found := c.table.ResolveParcelable(ft.Ref.Name, ft.Ref.Version)
		if !found {
			return fmt.Errorf("encode: unresolved parcelable %s", ft.Ref)
		}
		for _, f := range d.Fields {
			fv, present := fields[f.Name]
			if !present && f.Type.Kind != descriptor.KindNullable {
				return fmt.Errorf("encode %s: missing field %q", ft.Ref, f.Name)
			}
			if err := c.Encode(p, f.Type, fv); err != nil {
				return fmt.Errorf("%s.%s: %w", ft.Ref, f.Name, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("encode: unsupported field kind %v", ft.Kind)
	}
}

// Decode consumes one value of type ft from p. Wire-level failures are
// ErrMalformedPayload or ErrInvalidEncoding.
func (c *Codec) Decode(p *Parcel, ft descriptor.FieldType) (any, error) {
	switch ft.Kind {
	case descriptor.KindVoid:
		return nil, nil

	case descriptor.KindBool:
		return p.ReadBool()

	case descriptor.KindByte:
		return p.ReadByte()

	case descriptor.KindInt32:
		return p.ReadInt32()

	case descriptor.KindInt64:
		return p.ReadInt64()

	case descriptor.KindFloat32:
		return p.ReadFloat32()

	case descriptor.KindFloat64:
		return p.ReadFloat64()

	case descriptor.KindString:
		return p.ReadString()

	case descriptor.KindEnum:
		v, err := c.readEnum(p, ft.Enum.Backing)
		if err != nil {
			return nil, err
		}
		if !ft.Enum.Contains(v) {
			return nil, fmt.Errorf("%w: enum value %d outside declared set", ErrMalformedPayload, v)
		}
		return v, nil

	case descriptor.KindList:
		n, err := p.ReadUint32()
		if err != nil {
			return nil, err
		}
		// Every element occupies at least one byte, so a count beyond the
		// remaining buffer can never decode.
		if int(n) > p.Remaining() {
			return nil, fmt.Errorf("%w: list count %d exceeds remaining %d bytes", ErrMalformedPayload, n, p.Remaining())
		}
		items := make([]any, 0, n)
		for i := uint32(0); i < n; i++ {
			item, err := c.Decode(p, *ft.Elem)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			items = append(items, item)
		}
		return items, nil

	case descriptor.KindNullable:
		present, err := p.ReadBool()
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}
		return c.Decode(p, *ft.Elem)

	case descriptor.KindParcelable:
		d, found := c.table.ResolveParcelable(ft.Ref.Name, ft.Ref.Version)
		if !found {
			return nil, fmt.Errorf("decode: unresolved parcelable %s", ft.Ref)
		}
		fields := make(map[string]any, len(d.Fields))
		for _, f := range d.Fields {
			fv, err := c.Decode(p, f.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", ft.Ref, f.Name, err)
			}
			fields[f.Name] = fv
		}
		return fields, nil

	default:
		return nil, fmt.Errorf("decode: unsupported field kind %v", ft.Kind)
	}
}

func (c *Codec) writeEnum(p *Parcel, backing descriptor.Backing, v int64) error {
	switch backing {
	case descriptor.Backing8:
		return p.WriteByte(byte(v))
	case descriptor.Backing16:
		if err := p.WriteByte(byte(v >> 8)); err != nil {
			return err
		}
		return p.WriteByte(byte(v))
	case descriptor.Backing32:
		return p.WriteInt32(int32(v))
	case descriptor.Backing64:
		return p.WriteInt64(v)
	default:
		return fmt.Errorf("encode enum: invalid backing width %d", backing)
	}
}

func (c *Codec) readEnum(p *Parcel, backing descriptor.Backing) (int64, error) {
	switch backing {
	case descriptor.Backing8:
		b, err := p.ReadByte()
		return int64(int8(b)), err
	case descriptor.Backing16:
		hi, err := p.ReadByte()
		if err != nil {
			return 0, err
		}
		lo, err := p.ReadByte()
		if err != nil {
			return 0, err
		}
		return int64(int16(uint16(hi)<<8 | uint16(lo))), nil
	case descriptor.Backing32:
		v, err := p.ReadInt32()
		return int64(v), err
	case descriptor.Backing64:
		return p.ReadInt64()
	default:
		return 0, fmt.Errorf("decode enum: invalid backing width %d", backing)
	}
}

func typeMismatch(ft descriptor.FieldType, v any) error {
	return fmt.Errorf("encode %s: unsupported value type %T", ft, v)
}
