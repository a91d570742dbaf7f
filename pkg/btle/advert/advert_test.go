package advert

import "testing"

func TestParseBuildRoundTrip(t *testing.T) {
	original := []*Structure{
		{Type: TypeFlags, Data: []byte{0x06}},
		{Type: TypeManufacturerData, Data: []byte{0xAB, 0xCD, 0x01, 0x02}},
	}
	wire := Build(original)

	parsed, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("got %d structures, want 2", len(parsed))
	}

	flags, ok := Flags(parsed)
	if !ok || flags != 0x06 {
		t.Fatalf("Flags() = (%d, %v), want (6, true)", flags, ok)
	}

	mfg, ok := ManufacturerData(parsed)
	if !ok || string(mfg) != string([]byte{0xAB, 0xCD, 0x01, 0x02}) {
		t.Fatalf("ManufacturerData() = (%v, %v)", mfg, ok)
	}
}

func TestParseRejectsTruncatedStructure(t *testing.T) {
	// claims 10 bytes follow but only 2 are present.
	_, err := Parse([]byte{10, 0x01, 0x02})
	if err == nil {
		t.Fatalf("expected truncation error")
	}
}

func TestParseEmptyPayload(t *testing.T) {
	parsed, err := Parse(nil)
	if err != nil || len(parsed) != 0 {
		t.Fatalf("Parse(nil) = (%v, %v), want (nil, nil)", parsed, err)
	}
}
