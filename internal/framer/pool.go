// Package framer implements the generic pool-backed, state-machine-driven
// byte framer described by the core: a small pool of reusable message
// buffers, header detection, length decode, payload accumulation, and
// completion dispatch to listeners. Two concrete flavors are provided:
// FixedHeaderFramer (the RPC transport's wire format) and MQTTFramer
// (MQTT's variable-length-encoded remaining-length framing).
package framer

import (
	"errors"

	"github.com/edgelink/core/pkg/fixedbuf"
)

var ErrPoolExhausted = errors.New("framer: message pool exhausted")

// Pool is a fixed-size array of reference-counted message buffers shared
// by a framer and its listeners. A slot is writable by the framer only
// while held with ref-count 1 by the framer itself; a listener that
// wishes to retain a buffer past the dispatch call must bump the count
// with ReserveExisting and release it later with FreeReserved.
//
// Pool assumes the single-threaded cooperative discipline the whole core
// runs under: no internal locking, because a Pool is only ever touched
// from the run-loop thread its owning framer is bound to.
type Pool struct {
	refCounts []uint8
	buffers   []*fixedbuf.Buffer
}

// NewPool allocates n slots, each a Buffer of the given byte capacity.
func NewPool(n, slotCapacity int) *Pool {
	p := &Pool{
		refCounts: make([]uint8, n),
		buffers:   make([]*fixedbuf.Buffer, n),
	}
	for i := range p.buffers {
		p.buffers[i] = fixedbuf.New(slotCapacity)
	}
	return p
}

func (p *Pool) Len() int { return len(p.buffers) }

// ReserveFree returns the index of the first slot with ref-count 0,
// setting its ref-count to 1 and clearing its buffer.
func (p *Pool) ReserveFree() (index int, buf *fixedbuf.Buffer, ok bool) {
	for i, rc := range p.refCounts {
		if rc == 0 {
			p.refCounts[i] = 1
			p.buffers[i].Clear()
			return i, p.buffers[i], true
		}
	}
	return 0, nil, false
}

// ReserveExisting bumps the ref-count of a specific slot a listener wants
// to retain past the current dispatch call.
func (p *Pool) ReserveExisting(index int) bool {
	if index < 0 || index >= len(p.refCounts) {
		return false
	}
	p.refCounts[index]++
	return true
}

// FreeReserved decrements the ref-count of a slot; it returns to the free
// pool once the count reaches zero.
func (p *Pool) FreeReserved(index int) bool {
	if index < 0 || index >= len(p.refCounts) || p.refCounts[index] == 0 {
		return false
	}
	p.refCounts[index]--
	return true
}

func (p *Pool) RefCount(index int) uint8 {
	if index < 0 || index >= len(p.refCounts) {
		return 0
	}
	return p.refCounts[index]
}

func (p *Pool) Buffer(index int) *fixedbuf.Buffer {
	if index < 0 || index >= len(p.buffers) {
		return nil
	}
	return p.buffers[index]
}
