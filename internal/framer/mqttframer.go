package framer

import (
	"github.com/edgelink/core/internal/provider"
	"github.com/edgelink/core/pkg/fixedbuf"
	log "github.com/edgelink/core/pkg/minilog"
)

// MQTT control packet types this framer accepts inbound. A client never
// receives any other type on the wire.
const (
	MQTTTypeConnAck   = 2
	MQTTTypePublish   = 3
	MQTTTypeSubAck    = 9
	MQTTTypePingResp  = 13
)

func isLegalInboundType(t uint8) bool {
	switch t {
	case MQTTTypeConnAck, MQTTTypePublish, MQTTTypeSubAck, MQTTTypePingResp:
		return true
	}
	return false
}

type mqttState int

const (
	mqttWaitHeader1 mqttState = iota
	mqttWaitRemainingLen
	mqttWaitData
	mqttErrorState
)

// MQTTListener receives completed MQTT control packets.
type MQTTListener interface {
	OnConnAck(sessionPresent bool, returnCode uint8)
	// OnPublish exposes the topic name as a bounded slice+length rather
	// than inserting a null terminator into the buffer the way the
	// original embedded implementation did -- the borrow-safe
	// equivalent the design notes call for.
	OnPublish(dup bool, qos uint8, retain bool, topic []byte, payload []byte)
	OnSubAck(packetID uint16, returnCodes []byte)
	OnPingResp()
}

// MQTTFramer implements MQTT's variable-length-encoded framing:
// WAIT_FIXED_HEADER_1 -> WAIT_REMAINING_LEN -> WAIT_DATA_BYTES -> PROCESS
// -> WAIT_FIXED_HEADER_1.
type MQTTFramer struct {
	stream provider.ByteStream
	pool   *Pool

	state mqttState

	header1    uint8
	remLenByte int
	remLenVal  int
	remLenMult int
	dataTarget int
	dataGot    int
	slotIndex  int

	listeners []MQTTListener

	framesParsed    int
	malformedFrames int
}

// FramesParsed is the running count of complete packets this framer has
// dispatched to its listeners.
func (f *MQTTFramer) FramesParsed() int { return f.framesParsed }

// MalformedFrames is the running count of frames this framer rejected
// and resynchronized from (bad type, bad remaining-length encoding, or
// a malformed PUBLISH topic/payload).
func (f *MQTTFramer) MalformedFrames() int { return f.malformedFrames }

func NewMQTTFramer(stream provider.ByteStream, n, slotCapacity int) *MQTTFramer {
	f := &MQTTFramer{stream: stream, pool: NewPool(n, slotCapacity)}
	f.reserveFreshSlot()
	return f
}

func (f *MQTTFramer) AddListener(l MQTTListener) { f.listeners = append(f.listeners, l) }

func (f *MQTTFramer) Pool() *Pool { return f.pool }

func (f *MQTTFramer) InError() bool { return f.state == mqttErrorState }

func (f *MQTTFramer) reserveFreshSlot() {
	idx, _, ok := f.pool.ReserveFree()
	if !ok {
		log.ErrorNamed("mqttframer", "pool exhausted, entering ERROR state")
		f.state = mqttErrorState
		return
	}
	f.slotIndex = idx
	f.state = mqttWaitHeader1
}

func (f *MQTTFramer) Service() int {
	n := 0
	for {
		if f.state == mqttErrorState {
			return n
		}
		result, b := f.stream.ReadByte()
		switch result {
		case provider.NoData:
			return n
		case provider.ReadError:
			log.ErrorNamed("mqttframer", "stream I/O error")
			f.state = mqttErrorState
			return n
		}
		n++
		f.consume(b)
	}
}

func (f *MQTTFramer) consume(b uint8) {
	switch f.state {
	case mqttWaitHeader1:
		f.header1 = b
		f.remLenByte = 0
		f.remLenVal = 0
		f.remLenMult = 1
		f.state = mqttWaitRemainingLen
	case mqttWaitRemainingLen:
		f.remLenByte++
		f.remLenVal += int(b&0x7F) * f.remLenMult
		if b&0x80 != 0 {
			if f.remLenByte == 4 {
				// a 5th byte would be required -- malformed.
				log.ErrorNamed("mqttframer", "remaining length too long")
				f.malformedFrames++
				f.state = mqttWaitHeader1
				return
			}
			f.remLenMult *= 128
			return
		}
		f.dataTarget = f.remLenVal
		f.dataGot = 0
		if f.dataTarget == 0 {
			f.process(f.pool.Buffer(f.slotIndex))
			return
		}
		f.state = mqttWaitData
	case mqttWaitData:
		buf := f.pool.Buffer(f.slotIndex)
		buf.Append([]byte{b})
		f.dataGot++
		if f.dataGot == f.dataTarget {
			f.process(buf)
		}
	}
}

func (f *MQTTFramer) process(buf *fixedbuf.Buffer) {
	f.state = mqttWaitHeader1

	packetType := f.header1 >> 4
	flags := f.header1 & 0x0F

	if !isLegalInboundType(packetType) {
		log.ErrorNamed("mqttframer", "illegal inbound packet type %d", packetType)
		f.malformedFrames++
		f.releaseAndRotate()
		return
	}

	switch packetType {
	case MQTTTypeConnAck:
		sp, _ := buf.GetU8(0)
		rc, _ := buf.GetU8(1)
		f.framesParsed++
		for _, l := range f.listeners {
			l.OnConnAck(sp&0x01 != 0, rc)
		}
	case MQTTTypePingResp:
		f.framesParsed++
		for _, l := range f.listeners {
			l.OnPingResp()
		}
	case MQTTTypeSubAck:
		pid, _ := buf.GetU16BE(0)
		codes, _ := buf.Get(2, buf.Len()-2)
		f.framesParsed++
		for _, l := range f.listeners {
			l.OnSubAck(pid, codes)
		}
	case MQTTTypePublish:
		dup := flags&0x08 != 0
		qos := (flags >> 1) & 0x03
		retain := flags&0x01 != 0

		topic, err := buf.GetLengthPrefixed(0)
		if err != nil {
			log.ErrorNamed("mqttframer", "malformed PUBLISH topic: %v", err)
			f.malformedFrames++
			f.releaseAndRotate()
			return
		}
		offset := 2 + len(topic)
		if qos > 0 {
			offset += 2 // packet id, unused by this QoS-0-only client
		}
		payload, err := buf.View(offset, buf.Len()-offset)
		if err != nil {
			log.ErrorNamed("mqttframer", "malformed PUBLISH payload: %v", err)
			f.malformedFrames++
			f.releaseAndRotate()
			return
		}
		f.framesParsed++
		for _, l := range f.listeners {
			l.OnPublish(dup, qos, retain, topic, payload)
		}
	}

	f.releaseAndRotate()
}

func (f *MQTTFramer) releaseAndRotate() {
	f.pool.FreeReserved(f.slotIndex)
	if f.pool.RefCount(f.slotIndex) > 0 {
		f.reserveFreshSlot()
		return
	}
	idx, _, ok := f.pool.ReserveFree()
	if !ok {
		log.ErrorNamed("mqttframer", "pool exhausted, entering ERROR state")
		f.state = mqttErrorState
		return
	}
	f.slotIndex = idx
}

// EncodeRemainingLength encodes n (0..268435455) per the MQTT
// variable-length scheme: 1-4 bytes, 7 value bits and a continuation bit
// each.
func EncodeRemainingLength(n int) []byte {
	var out []byte
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

// DecodeRemainingLength decodes the MQTT variable-length encoding from
// the start of p, returning the value and the number of bytes consumed.
// It fails if a 5th byte would be required.
func DecodeRemainingLength(p []byte) (value, consumed int, ok bool) {
	mult := 1
	for i := 0; i < len(p) && i < 4; i++ {
		b := p[i]
		value += int(b&0x7F) * mult
		consumed++
		if b&0x80 == 0 {
			return value, consumed, true
		}
		mult *= 128
	}
	return 0, 0, false
}
