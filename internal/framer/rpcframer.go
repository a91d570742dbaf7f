package framer

import (
	"github.com/edgelink/core/internal/provider"
	"github.com/edgelink/core/pkg/fixedbuf"
	log "github.com/edgelink/core/pkg/minilog"
)

// RPC transport wire format:
//
//	0x80 0x81 <len_lo> <len_hi> <version_byte> <payload...> 0x82
//
// len is little-endian and counts version-byte + payload + the trailing
// 0x82, i.e. payload_len + 2. version_byte packs a 4-bit framework
// version (high nibble, currently 1) and a 4-bit user version (low
// nibble).
const (
	rpcHeaderByte1 = 0x80
	rpcHeaderByte2 = 0x81
	rpcTrailer     = 0x82

	FrameworkVersion = 1
)

type rpcState int

const (
	rpcWaitByte1 rpcState = iota
	rpcWaitByte2
	rpcWaitLenLo
	rpcWaitLenHi
	rpcWaitPayload
	rpcErrorState
)

// FixedHeaderListener receives completed packets and protocol-level
// notifications from a FixedHeaderFramer.
type FixedHeaderListener interface {
	// OnPacket is called with a zero-copy view over the payload (between
	// the version byte and the trailer) held in pool slot slotIndex. A
	// listener that wants to retain the buffer past this call must
	// pool.ReserveExisting(slotIndex) and later pool.FreeReserved it.
	OnPacket(payload *fixedbuf.Buffer, slotIndex int, pool *Pool)
	OnInvalidVersion(versionByte uint8)
}

// FixedHeaderFramer implements the RPC transport's byte-stream state
// machine: WAIT_BYTE_1 -> WAIT_BYTE_2 -> WAIT_LEN -> WAIT_PAYLOAD ->
// PROCESS -> WAIT_BYTE_1, with an ERROR absorbing state entered on I/O
// faults or pool exhaustion.
type FixedHeaderFramer struct {
	stream provider.ByteStream
	pool   *Pool

	userVersion uint8

	state     rpcState
	lenLo     uint8
	lenTotal  int // version(1) + payload + trailer(1)
	gotBytes  int
	slotIndex int

	listeners []FixedHeaderListener

	framesParsed    int
	malformedFrames int
}

// FramesParsed is the running count of complete, correctly-versioned
// packets this framer has dispatched via OnPacket.
func (f *FixedHeaderFramer) FramesParsed() int { return f.framesParsed }

// MalformedFrames is the running count of frames this framer rejected
// and resynchronized from (bad length, bad trailer, or bad version).
func (f *FixedHeaderFramer) MalformedFrames() int { return f.malformedFrames }

// NewFixedHeaderFramer constructs a framer reading from stream, pooling
// payload buffers of slotCapacity bytes across n slots.
func NewFixedHeaderFramer(stream provider.ByteStream, n, slotCapacity int, userVersion uint8) *FixedHeaderFramer {
	f := &FixedHeaderFramer{
		stream:      stream,
		pool:        NewPool(n, slotCapacity),
		userVersion: userVersion,
	}
	f.reserveFreshSlot()
	return f
}

func (f *FixedHeaderFramer) AddListener(l FixedHeaderListener) {
	f.listeners = append(f.listeners, l)
}

func (f *FixedHeaderFramer) Pool() *Pool { return f.pool }

func (f *FixedHeaderFramer) InError() bool { return f.state == rpcErrorState }

func (f *FixedHeaderFramer) reserveFreshSlot() {
	idx, _, ok := f.pool.ReserveFree()
	if !ok {
		log.ErrorNamed("rpcframer", "pool exhausted, entering ERROR state")
		f.state = rpcErrorState
		return
	}
	f.slotIndex = idx
	f.state = rpcWaitByte1
}

// Service reads as many bytes as are currently available from the
// stream, advancing the state machine and dispatching listeners for
// every packet it completes. It returns the number of bytes consumed.
func (f *FixedHeaderFramer) Service() int {
	n := 0
	for {
		if f.state == rpcErrorState {
			return n
		}
		result, b := f.stream.ReadByte()
		switch result {
		case provider.NoData:
			return n
		case provider.ReadError:
			log.ErrorNamed("rpcframer", "stream I/O error")
			f.state = rpcErrorState
			return n
		}
		n++
		f.consume(b)
	}
}

func (f *FixedHeaderFramer) consume(b uint8) {
	switch f.state {
	case rpcWaitByte1:
		if b == rpcHeaderByte1 {
			f.state = rpcWaitByte2
		}
	case rpcWaitByte2:
		switch b {
		case rpcHeaderByte2:
			f.state = rpcWaitLenLo
		case rpcHeaderByte1:
			// stay; allows back-to-back sync bytes
		default:
			f.state = rpcWaitByte1
		}
	case rpcWaitLenLo:
		f.lenLo = b
		f.state = rpcWaitLenHi
	case rpcWaitLenHi:
		f.lenTotal = int(f.lenLo) | int(b)<<8
		f.gotBytes = 0
		if f.lenTotal < 2 {
			log.ErrorNamed("rpcframer", "malformed length %d", f.lenTotal)
			f.malformedFrames++
			f.state = rpcWaitByte1
			return
		}
		f.state = rpcWaitPayload
	case rpcWaitPayload:
		buf := f.pool.Buffer(f.slotIndex)
		buf.Append([]byte{b})
		f.gotBytes++
		if f.gotBytes == f.lenTotal {
			f.process(buf)
		}
	}
}

// process validates the accumulated frame (trailer, then version) and
// dispatches to listeners, then returns the framer to WAIT_BYTE_1 (or
// ERROR if the pool is exhausted).
func (f *FixedHeaderFramer) process(buf *fixedbuf.Buffer) {
	f.state = rpcWaitByte1

	trailer, _ := buf.GetU8(buf.Len() - 1)
	if trailer != rpcTrailer {
		log.ErrorNamed("rpcframer", "bad trailer byte 0x%02x", trailer)
		f.malformedFrames++
		f.releaseAndRotate()
		return
	}

	version, _ := buf.GetU8(0)
	payload, _ := buf.Sub(1, buf.Len()-2)

	if version != f.expectedVersionByte() {
		f.malformedFrames++
		for _, l := range f.listeners {
			l.OnInvalidVersion(version)
		}
		f.releaseAndRotate()
		return
	}

	f.framesParsed++
	for _, l := range f.listeners {
		l.OnPacket(payload, f.slotIndex, f.pool)
	}
	f.releaseAndRotate()
}

func (f *FixedHeaderFramer) expectedVersionByte() uint8 {
	return (FrameworkVersion << 4) | (f.userVersion & 0x0F)
}

// releaseAndRotate releases the framer's own hold on the working slot; if
// a listener retained it (ref-count still > 0), a fresh slot is reserved
// for the next frame, otherwise the same slot is reused.
func (f *FixedHeaderFramer) releaseAndRotate() {
	f.pool.FreeReserved(f.slotIndex)
	if f.pool.RefCount(f.slotIndex) > 0 {
		f.reserveFreshSlot()
		return
	}
	idx, _, ok := f.pool.ReserveFree()
	if !ok {
		log.ErrorNamed("rpcframer", "pool exhausted, entering ERROR state")
		f.state = rpcErrorState
		return
	}
	f.slotIndex = idx
}
