// Package providertest holds small in-memory fakes for the provider
// interfaces, shared by every protocol engine's tests.
package providertest

import (
	"github.com/edgelink/core/internal/provider"
)

// ByteStream is an in-memory, bidirectional byte stream: bytes queued
// via Feed are returned by ReadByte, and bytes written via WriteBytes
// accumulate in Written.
type ByteStream struct {
	inbound []byte
	pos     int

	Written []byte

	Bound      bool
	FailWrites bool
	ErrorAfter int // ReadByte returns ReadError once pos reaches this index; -1 disables
}

func NewByteStream() *ByteStream {
	return &ByteStream{Bound: true, ErrorAfter: -1}
}

func (s *ByteStream) Feed(p []byte) { s.inbound = append(s.inbound, p...) }

func (s *ByteStream) ReadByte() (provider.ReadResult, byte) {
	if s.ErrorAfter >= 0 && s.pos >= s.ErrorAfter {
		return provider.ReadError, 0
	}
	if s.pos >= len(s.inbound) {
		return provider.NoData, 0
	}
	b := s.inbound[s.pos]
	s.pos++
	return provider.GotData, b
}

func (s *ByteStream) WriteBytes(p []byte) bool {
	if s.FailWrites {
		return false
	}
	s.Written = append(s.Written, p...)
	return true
}

func (s *ByteStream) IsBound() bool { return s.Bound }

// Clock is an adjustable monotonic clock for deterministic timeout
// tests.
type Clock struct {
	ms uint64
}

func NewClock() *Clock { return &Clock{} }

func (c *Clock) NowMs() uint64 { return c.ms }

func (c *Clock) Advance(ms uint64) { c.ms += ms }

func (c *Clock) Set(ms uint64) { c.ms = ms }

// RunLoop runs dispatched work immediately and synchronously -- adequate
// for tests, which drive engines from a single goroutine anyway.
type RunLoop struct{}

func (RunLoop) DispatchNextIteration(threadID int, fn func()) { fn() }
