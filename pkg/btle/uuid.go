package btle

import (
	"fmt"
	"regexp"
	"strings"
)

// UUID is a BTLE service/characteristic identifier, always normalized to
// its canonical 128-bit lowercase string form internally so a 16-bit
// short form and its equivalent 128-bit expansion compare equal.
type UUID struct {
	canonical string
}

var (
	shortForm = regexp.MustCompile(`^(?i)(0x)?[0-9a-f]{4}$`)
	longForm  = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// bluetoothBaseSuffix is the well-known base UUID every 16-bit BTLE
// UUID expands into: 0000xxxx-0000-1000-8000-00805F9B34FB.
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// ParseUUID accepts either a 16-bit short form ("0xABCD" or "ABCD") or a
// canonical 128-bit string.
func ParseUUID(s string) (UUID, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(s), "0x")

	if shortForm.MatchString(s) {
		return UUID{canonical: "0000" + trimmed + bluetoothBaseSuffix}, nil
	}
	if longForm.MatchString(s) {
		return UUID{canonical: strings.ToLower(s)}, nil
	}
	return UUID{}, fmt.Errorf("btle: %q is not a valid 16-bit or 128-bit UUID", s)
}

// MustParseUUID is ParseUUID for call sites that already know the
// string is well-formed (e.g. a compile-time constant service UUID).
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u UUID) String() string { return u.canonical }

func (u UUID) Equal(other UUID) bool { return u.canonical == other.canonical }

func (u UUID) IsZero() bool { return u.canonical == "" }
