// Package fixedbuf implements a fixed-capacity byte container with
// endian-aware scalar and length-prefixed accessors, plus Field, a
// linked-field view type that carves a Buffer into logically independent sub-regions
// whose sizes track each other.
//
// Every accessor is a total function: it returns an error instead of
// panicking on a bounds or capacity violation, matching how a
// no-dynamic-allocation embedded target must behave (a failed append is
// a recoverable condition, not a crash).
package fixedbuf

import "errors"

var (
	ErrCapacityExceeded = errors.New("fixedbuf: capacity exceeded")
	ErrOutOfRange        = errors.New("fixedbuf: index out of range")
	ErrNotFound          = errors.New("fixedbuf: terminator not found")
)

// Buffer is a contiguous byte region of fixed maximum capacity and a
// current length. Buffers are externally owned: embed one inside a
// larger struct, or reserve one from a Pool.
type Buffer struct {
	data   []byte // len(data) == capacity at all times
	length int
}

// New allocates a Buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// NewFromBytes wraps an existing slice as a Buffer whose capacity is
// len(backing) and whose initial length is initialLen. backing is aliased,
// not copied.
func NewFromBytes(backing []byte, initialLen int) (*Buffer, error) {
	if initialLen < 0 || initialLen > len(backing) {
		return nil, ErrOutOfRange
	}
	return &Buffer{data: backing, length: initialLen}, nil
}

func (b *Buffer) Capacity() int { return len(b.data) }
func (b *Buffer) Len() int      { return b.length }
func (b *Buffer) Free() int     { return len(b.data) - b.length }

// Bytes returns the used portion of the buffer. The caller must not
// retain it past the next mutating call on b.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Clear resets the buffer to empty without releasing its backing array.
func (b *Buffer) Clear() { b.length = 0 }

// Append adds p to the end of the buffer.
func (b *Buffer) Append(p []byte) error {
	return b.InsertAt(b.length, p)
}

// InsertAt inserts p at index, shifting any bytes at or after index
// rightward. index == Len() appends.
func (b *Buffer) InsertAt(index int, p []byte) error {
	if index < 0 || index > b.length {
		return ErrOutOfRange
	}
	if b.length+len(p) > len(b.data) {
		return ErrCapacityExceeded
	}
	// make room: shift [index, length) right by len(p)
	copy(b.data[index+len(p):b.length+len(p)], b.data[index:b.length])
	copy(b.data[index:index+len(p)], p)
	b.length += len(p)
	return nil
}

// RemoveRange deletes n bytes starting at index.
func (b *Buffer) RemoveRange(index, n int) error {
	if index < 0 || n < 0 || index+n > b.length {
		return ErrOutOfRange
	}
	copy(b.data[index:b.length-n], b.data[index+n:b.length])
	b.length -= n
	return nil
}

// ReplaceRange overwrites len(p) bytes starting at index with p, without
// changing the buffer's length. index+len(p) must not exceed Len().
func (b *Buffer) ReplaceRange(index int, p []byte) error {
	if index < 0 || index+len(p) > b.length {
		return ErrOutOfRange
	}
	copy(b.data[index:index+len(p)], p)
	return nil
}

// Get returns a copy of n bytes starting at index.
func (b *Buffer) Get(index, n int) ([]byte, error) {
	if index < 0 || n < 0 || index+n > b.length {
		return nil, ErrOutOfRange
	}
	out := make([]byte, n)
	copy(out, b.data[index:index+n])
	return out, nil
}

// View returns a zero-copy slice of n bytes starting at index. Callers
// must not retain it across any call that mutates b.
func (b *Buffer) View(index, n int) ([]byte, error) {
	if index < 0 || n < 0 || index+n > b.length {
		return nil, ErrOutOfRange
	}
	return b.data[index : index+n], nil
}

// Sub returns a new Buffer aliasing size bytes of b's backing array
// starting at start. Structural operations (Append/InsertAt/RemoveRange)
// on the returned Buffer do not resize b and vice versa; only byte-level
// mutation is shared. Used by framers to hand listeners a zero-copy
// payload view without a fixed LinkedField chain.
func (b *Buffer) Sub(start, size int) (*Buffer, error) {
	if start < 0 || size < 0 || start+size > len(b.data) {
		return nil, ErrOutOfRange
	}
	length := size
	if start+length > b.length {
		if start >= b.length {
			length = 0
		} else {
			length = b.length - start
		}
	}
	return &Buffer{data: b.data[start : start+size], length: length}, nil
}

// SubFrom returns a Buffer aliasing the rest of b's capacity starting at
// start.
func (b *Buffer) SubFrom(start int) (*Buffer, error) {
	if start < 0 || start > len(b.data) {
		return nil, ErrOutOfRange
	}
	return b.Sub(start, len(b.data)-start)
}

// ---- scalar accessors ----
// Storage never translates endianness; only the typed get/append calls
// do, matching the FixedBuffer convention this type is modeled on.

func (b *Buffer) AppendU8(v uint8) error { return b.Append([]byte{v}) }

func (b *Buffer) AppendU16LE(v uint16) error {
	return b.Append([]byte{byte(v), byte(v >> 8)})
}

func (b *Buffer) AppendU16BE(v uint16) error {
	return b.Append([]byte{byte(v >> 8), byte(v)})
}

func (b *Buffer) AppendU32LE(v uint32) error {
	return b.Append([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func (b *Buffer) AppendU32BE(v uint32) error {
	return b.Append([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// AppendLengthPrefixed writes a 16-bit big-endian length followed by p.
func (b *Buffer) AppendLengthPrefixed(p []byte) error {
	if len(p) > 0xFFFF {
		return ErrCapacityExceeded
	}
	if err := b.AppendU16BE(uint16(len(p))); err != nil {
		return err
	}
	return b.Append(p)
}

// GetLengthPrefixed returns a zero-copy view of the length-prefixed field
// starting at index (the 2-byte length itself is not included).
func (b *Buffer) GetLengthPrefixed(index int) ([]byte, error) {
	l, err := b.GetU16BE(index)
	if err != nil {
		return nil, err
	}
	return b.View(index+2, int(l))
}

// AppendCString appends s followed by a null terminator.
func (b *Buffer) AppendCString(s string) error {
	return b.Append(append([]byte(s), 0))
}

// GetCString reads a null-terminated string starting at index.
func (b *Buffer) GetCString(index int) (string, error) {
	for i := index; i < b.length; i++ {
		if b.data[i] == 0 {
			return string(b.data[index:i]), nil
		}
	}
	return "", ErrNotFound
}

func (b *Buffer) GetU8(index int) (uint8, error) {
	v, err := b.Get(index, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (b *Buffer) GetU16LE(index int) (uint16, error) {
	v, err := b.Get(index, 2)
	if err != nil {
		return 0, err
	}
	return uint16(v[0]) | uint16(v[1])<<8, nil
}

func (b *Buffer) GetU16BE(index int) (uint16, error) {
	v, err := b.Get(index, 2)
	if err != nil {
		return 0, err
	}
	return uint16(v[1]) | uint16(v[0])<<8, nil
}

func (b *Buffer) GetU32LE(index int) (uint32, error) {
	v, err := b.Get(index, 4)
	if err != nil {
		return 0, err
	}
	return uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24, nil
}

func (b *Buffer) GetU32BE(index int) (uint32, error) {
	v, err := b.Get(index, 4)
	if err != nil {
		return 0, err
	}
	return uint32(v[3]) | uint32(v[2])<<8 | uint32(v[1])<<16 | uint32(v[0])<<24, nil
}
