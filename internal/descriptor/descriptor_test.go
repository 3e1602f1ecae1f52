package descriptor

import "testing"

func TestStabilityString(t *testing.T) {
	tests := []struct {
		s        Stability
		expected string
	}{
		{StabilityUnstable, "unstable"},
		{StabilityVendorSystem, "vintf"},
		{Stability(9), "stability(9)"},
	}

	for _, tc := range tests {
		if got := tc.s.String(); got != tc.expected {
			t.Errorf("Stability(%d).String() = %q, want %q", tc.s, got, tc.expected)
		}
	}
}

func TestParseStability(t *testing.T) {
	tests := []struct {
		input    string
		expected Stability
	}{
		{"vintf", StabilityVendorSystem},
		{"vendor-system", StabilityVendorSystem},
		{"stable", StabilityVendorSystem},
		{"unstable", StabilityUnstable},
		{"", StabilityUnstable},
		{"garbage", StabilityUnstable},
	}

	for _, tc := range tests {
		if got := ParseStability(tc.input); got != tc.expected {
			t.Errorf("ParseStability(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestFieldTypeString(t *testing.T) {
	tests := []struct {
		ft       FieldType
		expected string
	}{
		{Bool(), "bool"},
		{List(Nullable(String8())), "list<nullable<string>>"},
		{Parcelable("Location", 2), "Location/v2"},
		{Enum(Backing8, 1), "enum"},
	}

	for _, tc := range tests {
		if got := tc.ft.String(); got != tc.expected {
			t.Errorf("FieldType.String() = %q, want %q", got, tc.expected)
		}
	}
}

func TestBackingValid(t *testing.T) {
	for _, b := range []Backing{Backing8, Backing16, Backing32, Backing64} {
		if !b.Valid() {
			t.Errorf("Backing(%d).Valid() = false, want true", b)
		}
	}
	if Backing(3).Valid() {
		t.Error("Backing(3).Valid() = true, want false")
	}
}

func TestBackingFits(t *testing.T) {
	tests := []struct {
		b        Backing
		v        int64
		expected bool
	}{
		{Backing8, 127, true},
		{Backing8, -128, true},
		{Backing8, 128, false},
		{Backing8, 300, false},
		{Backing16, 32767, true},
		{Backing16, -32769, false},
		{Backing32, 1 << 31, false},
		{Backing32, -(1 << 31), true},
		{Backing64, 1 << 62, true},
		{Backing(3), 0, false},
	}

	for _, tc := range tests {
		if got := tc.b.Fits(tc.v); got != tc.expected {
			t.Errorf("Backing(%d).Fits(%d) = %v, want %v", tc.b, tc.v, got, tc.expected)
		}
	}
}
