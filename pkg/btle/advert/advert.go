// Package advert parses and builds BTLE LE advertisement AD structures
// (<len><type><data...>, repeated until the advertisement payload is
// exhausted), implementing gopacket's DecodingLayer interface the same
// way the teacher's packet-capture path decodes Ethernet/ARP/IP layers
// with gopacket.NewDecodingLayerParser -- here for a bespoke BTLE TLV
// stream rather than one of gopacket's built-in protocols.
package advert

import (
	"errors"

	"github.com/google/gopacket"
)

// Type is an AD structure's type octet. The core only needs to parse
// and build Flags and Manufacturer-Specific Data explicitly; any other
// type is preserved as an opaque Structure for round-tripping.
type Type uint8

const (
	TypeFlags              Type = 0x01
	TypeManufacturerData   Type = 0xFF
)

var (
	ErrTruncated = errors.New("advert: AD structure truncated")
	ErrZeroLength = errors.New("advert: zero-length AD structure")
)

// LayerTypeADStructure registers this package's gopacket layer type.
var LayerTypeADStructure = gopacket.RegisterLayerType(
	3000,
	gopacket.LayerTypeMetadata{Name: "BTLEADStructure"},
)

// Structure is one decoded AD structure: a type octet followed by its
// data, with gopacket.BaseLayer recording the raw bytes consumed and
// what remains of the advertisement payload after it.
type Structure struct {
	gopacket.BaseLayer
	Type Type
	Data []byte
}

func (s *Structure) LayerType() gopacket.LayerType { return LayerTypeADStructure }

func (s *Structure) CanDecode() gopacket.LayerClass { return LayerTypeADStructure }

func (s *Structure) NextLayerType() gopacket.LayerType { return LayerTypeADStructure }

type nilFeedback struct{}

func (nilFeedback) SetTruncated() {}

// DecodeFromBytes implements gopacket.DecodingLayer: data[0] is the
// structure's length (covering the type octet plus its data, but not
// the length octet itself).
func (s *Structure) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 1 {
		return ErrTruncated
	}
	length := int(data[0])
	if length == 0 {
		return ErrZeroLength
	}
	if len(data) < 1+length {
		df.SetTruncated()
		return ErrTruncated
	}
	s.Type = Type(data[1])
	s.Data = append([]byte(nil), data[2:1+length]...)
	s.BaseLayer = gopacket.BaseLayer{
		Contents: data[:1+length],
		Payload:  data[1+length:],
	}
	return nil
}

// Parse decodes a full advertisement payload into its constituent AD
// structures, stopping cleanly at the end of data.
func Parse(data []byte) ([]*Structure, error) {
	var out []*Structure
	rest := data
	for len(rest) > 0 {
		s := &Structure{}
		if err := s.DecodeFromBytes(rest, nilFeedback{}); err != nil {
			return out, err
		}
		out = append(out, s)
		rest = s.Payload
	}
	return out, nil
}

// Build serializes structures back into a single advertisement payload.
func Build(structures []*Structure) []byte {
	var out []byte
	for _, s := range structures {
		out = append(out, byte(1+len(s.Data)), byte(s.Type))
		out = append(out, s.Data...)
	}
	return out
}

// Flags returns the value of the Flags AD structure, if present.
func Flags(structures []*Structure) (uint8, bool) {
	for _, s := range structures {
		if s.Type == TypeFlags && len(s.Data) > 0 {
			return s.Data[0], true
		}
	}
	return 0, false
}

// ManufacturerData returns the Manufacturer-Specific Data AD structure's
// payload, if present.
func ManufacturerData(structures []*Structure) ([]byte, bool) {
	for _, s := range structures {
		if s.Type == TypeManufacturerData {
			return s.Data, true
		}
	}
	return nil, false
}
