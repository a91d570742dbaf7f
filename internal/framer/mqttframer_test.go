package framer

import (
	"testing"

	"github.com/edgelink/core/internal/providertest"
)

type recordingMQTTListener struct {
	connAcks  []uint8
	pubs      [][2]string
	subAcks   [][]byte
	pingResps int
}

func (r *recordingMQTTListener) OnConnAck(sessionPresent bool, returnCode uint8) {
	r.connAcks = append(r.connAcks, returnCode)
}

func (r *recordingMQTTListener) OnPublish(dup bool, qos uint8, retain bool, topic, payload []byte) {
	r.pubs = append(r.pubs, [2]string{string(topic), string(payload)})
}

func (r *recordingMQTTListener) OnSubAck(packetID uint16, returnCodes []byte) {
	r.subAcks = append(r.subAcks, append([]byte(nil), returnCodes...))
}

func (r *recordingMQTTListener) OnPingResp() { r.pingResps++ }

func encodeConnAck(sessionPresent bool, rc uint8) []byte {
	sp := byte(0)
	if sessionPresent {
		sp = 1
	}
	return []byte{MQTTTypeConnAck << 4, 2, sp, rc}
}

func encodePublish(topic, payload string) []byte {
	var body []byte
	body = append(body, byte(len(topic)>>8), byte(len(topic)))
	body = append(body, topic...)
	body = append(body, payload...)
	rl := EncodeRemainingLength(len(body))
	out := []byte{MQTTTypePublish << 4}
	out = append(out, rl...)
	out = append(out, body...)
	return out
}

func TestMQTTFramerConnAckRoundTrip(t *testing.T) {
	stream := providertest.NewByteStream()
	stream.Feed(encodeConnAck(true, 0))

	f := NewMQTTFramer(stream, 2, 64)
	lst := &recordingMQTTListener{}
	f.AddListener(lst)
	f.Service()

	if len(lst.connAcks) != 1 || lst.connAcks[0] != 0 {
		t.Fatalf("connAcks = %v", lst.connAcks)
	}
}

func TestMQTTFramerPingResp(t *testing.T) {
	stream := providertest.NewByteStream()
	stream.Feed([]byte{MQTTTypePingResp << 4, 0})

	f := NewMQTTFramer(stream, 2, 64)
	lst := &recordingMQTTListener{}
	f.AddListener(lst)
	f.Service()

	if lst.pingResps != 1 {
		t.Fatalf("pingResps = %d, want 1", lst.pingResps)
	}
}

func TestMQTTFramerPublishRoundTrip(t *testing.T) {
	stream := providertest.NewByteStream()
	stream.Feed(encodePublish("sensors/temp", "21.5"))

	f := NewMQTTFramer(stream, 2, 64)
	lst := &recordingMQTTListener{}
	f.AddListener(lst)
	f.Service()

	if len(lst.pubs) != 1 {
		t.Fatalf("got %d publishes, want 1", len(lst.pubs))
	}
	if lst.pubs[0][0] != "sensors/temp" || lst.pubs[0][1] != "21.5" {
		t.Fatalf("publish = %v", lst.pubs[0])
	}
}

func TestMQTTFramerMultiplePackets(t *testing.T) {
	var wire []byte
	wire = append(wire, encodeConnAck(false, 0)...)
	wire = append(wire, encodePublish("a/b", "x")...)
	wire = append(wire, []byte{MQTTTypePingResp << 4, 0}...)

	stream := providertest.NewByteStream()
	stream.Feed(wire)

	f := NewMQTTFramer(stream, 2, 64)
	lst := &recordingMQTTListener{}
	f.AddListener(lst)
	f.Service()

	if len(lst.connAcks) != 1 || len(lst.pubs) != 1 || lst.pingResps != 1 {
		t.Fatalf("connAcks=%v pubs=%v pingResps=%d", lst.connAcks, lst.pubs, lst.pingResps)
	}
}

func TestDecodeRemainingLengthBoundary(t *testing.T) {
	// the largest legal four-byte encoding: 0xFF 0xFF 0xFF 0x7F -> 268435455
	v, n, ok := DecodeRemainingLength([]byte{0xFF, 0xFF, 0xFF, 0x7F})
	if !ok || n != 4 || v != 268435455 {
		t.Fatalf("decode = (%d, %d, %v), want (268435455, 4, true)", v, n, ok)
	}
}

func TestDecodeRemainingLengthRejectsFifthByte(t *testing.T) {
	// 0xFF 0xFF 0xFF 0xFF still has its continuation bit set on the 4th
	// byte, which would require a 5th byte -- malformed.
	_, _, ok := DecodeRemainingLength([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if ok {
		t.Fatalf("expected malformed decode to fail")
	}
}

func TestMQTTFramerResetsOnMalformedRemainingLength(t *testing.T) {
	// four continuation-flagged bytes (a 5th would be required), followed
	// by a well-formed PINGRESP: the framer must discard the garbage and
	// resync on the next header byte.
	garbage := []byte{MQTTTypePublish << 4, 0xFF, 0xFF, 0xFF, 0xFF}
	wire := append(garbage, MQTTTypePingResp<<4, 0)

	stream := providertest.NewByteStream()
	stream.Feed(wire)

	f := NewMQTTFramer(stream, 2, 64)
	lst := &recordingMQTTListener{}
	f.AddListener(lst)
	f.Service()

	if lst.pingResps != 1 {
		t.Fatalf("pingResps = %d, want 1 after resync", lst.pingResps)
	}
	if len(lst.pubs) != 0 {
		t.Fatalf("expected no publish dispatched from malformed frame, got %v", lst.pubs)
	}
}

func TestEncodeDecodeRemainingLengthRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 16383, 16384, 2097151, 268435455} {
		enc := EncodeRemainingLength(n)
		v, consumed, ok := DecodeRemainingLength(enc)
		if !ok || consumed != len(enc) || v != n {
			t.Fatalf("round trip for %d: got (%d, %d, %v)", n, v, consumed, ok)
		}
	}
}
