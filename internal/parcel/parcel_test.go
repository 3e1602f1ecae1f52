package parcel

import (
	"errors"
	"testing"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	p := New()
	if err := p.WriteBool(true); err != nil {
		t.Fatalf("WriteBool: %v", err)
	}
	if err := p.WriteByte(0xAB); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	if err := p.WriteInt32(-12345); err != nil {
		t.Fatalf("WriteInt32: %v", err)
	}
	if err := p.WriteInt64(1 << 40); err != nil {
		t.Fatalf("WriteInt64: %v", err)
	}
	if err := p.WriteFloat32(3.5); err != nil {
		t.Fatalf("WriteFloat32: %v", err)
	}
	if err := p.WriteFloat64(-2.25); err != nil {
		t.Fatalf("WriteFloat64: %v", err)
	}
	if err := p.WriteString("héllo"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}

	if b, err := p.ReadBool(); err != nil || b != true {
		t.Errorf("ReadBool() = %v, %v, want true", b, err)
	}
	if b, err := p.ReadByte(); err != nil || b != 0xAB {
		t.Errorf("ReadByte() = %#x, %v, want 0xab", b, err)
	}
	if v, err := p.ReadInt32(); err != nil || v != -12345 {
		t.Errorf("ReadInt32() = %d, %v, want -12345", v, err)
	}
	if v, err := p.ReadInt64(); err != nil || v != 1<<40 {
		t.Errorf("ReadInt64() = %d, %v, want %d", v, err, int64(1)<<40)
	}
	if v, err := p.ReadFloat32(); err != nil || v != 3.5 {
		t.Errorf("ReadFloat32() = %v, %v, want 3.5", v, err)
	}
	if v, err := p.ReadFloat64(); err != nil || v != -2.25 {
		t.Errorf("ReadFloat64() = %v, %v, want -2.25", v, err)
	}
	if s, err := p.ReadString(); err != nil || s != "héllo" {
		t.Errorf("ReadString() = %q, %v, want \"héllo\"", s, err)
	}
	if p.Remaining() != 0 {
		t.Errorf("Remaining() = %d after full read, want 0", p.Remaining())
	}
}

func TestReadPastEnd(t *testing.T) {
	p := New()
	if err := p.WriteInt32(7); err != nil {
		t.Fatalf("WriteInt32: %v", err)
	}

	if _, err := p.ReadInt64(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("ReadInt64 on short buffer: err = %v, want ErrMalformedPayload", err)
	}
}

func TestStringLengthBeyondBuffer(t *testing.T) {
	// Length prefix claims 100 bytes but only 2 follow.
	p := FromBytes([]byte{0x00, 0x00, 0x00, 0x64, 'h', 'i'})
	if _, err := p.ReadString(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("ReadString() err = %v, want ErrMalformedPayload", err)
	}
}

func TestStringInvalidUTF8(t *testing.T) {
	p := FromBytes([]byte{0x00, 0x00, 0x00, 0x02, 0xff, 0xfe})
	if _, err := p.ReadString(); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("ReadString() err = %v, want ErrInvalidEncoding", err)
	}
}

func TestWriteStringRejectsInvalidUTF8(t *testing.T) {
	p := New()
	if err := p.WriteString(string([]byte{0xff, 0xfe})); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("WriteString() err = %v, want ErrInvalidEncoding", err)
	}
}

func TestBoolByteOutOfRange(t *testing.T) {
	p := FromBytes([]byte{0x02})
	if _, err := p.ReadBool(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("ReadBool() err = %v, want ErrMalformedPayload", err)
	}
}

func TestWriteAfterReadFails(t *testing.T) {
	p := New()
	if err := p.WriteInt32(1); err != nil {
		t.Fatalf("WriteInt32: %v", err)
	}
	if _, err := p.ReadInt32(); err != nil {
		t.Fatalf("ReadInt32: %v", err)
	}
	if err := p.WriteInt32(2); !errors.Is(err, ErrSealed) {
		t.Errorf("WriteInt32 after read: err = %v, want ErrSealed", err)
	}
}

func TestSealBlocksWrites(t *testing.T) {
	p := New()
	p.Seal()
	if err := p.WriteBool(true); !errors.Is(err, ErrSealed) {
		t.Errorf("WriteBool after Seal: err = %v, want ErrSealed", err)
	}
}

func TestBigEndianLayout(t *testing.T) {
	p := New()
	if err := p.WriteInt32(0x01020304); err != nil {
		t.Fatalf("WriteInt32: %v", err)
	}

	want := []byte{0x01, 0x02, 0x03, 0x04}
	got := p.Bytes()
	if len(got) != len(want) {
		t.Fatalf("Bytes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}
