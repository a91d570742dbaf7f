package fixedbuf

import "errors"

var (
	ErrFixedFieldBlocked  = errors.New("fixedbuf: fixed-length field has non-empty later siblings")
	ErrEarlierFieldNotFull = errors.New("fixedbuf: an earlier fixed-length field is not yet full")
)

// Field is a lightweight view over a Buffer: a start offset, a current
// size, and an optional fixed-length cap. Fields chain via prev/next; a
// child's effective start is the parent's start plus the cumulative
// sizes of preceding siblings. A Field never owns its parent Buffer.
type Field struct {
	parent *Buffer

	prev, next *Field

	start int

	fixedLen bool
	maxLen   int

	size int
}

// InitRoot creates the first field in a chain, a variable-length view
// starting at startIndex with an initial size of initialSize bytes.
func InitRoot(parent *Buffer, startIndex, initialSize int) (*Field, error) {
	if startIndex < 0 || initialSize < 0 || startIndex+initialSize > parent.Capacity() {
		return nil, ErrOutOfRange
	}
	return &Field{parent: parent, start: startIndex, size: initialSize}, nil
}

// InitRootFixedLen creates the first field in a chain with a fixed
// maximum length. Its initial size is 0.
func InitRootFixedLen(parent *Buffer, startIndex, maxLen int) (*Field, error) {
	if startIndex < 0 || maxLen < 0 || startIndex+maxLen > parent.Capacity() {
		return nil, ErrOutOfRange
	}
	return &Field{parent: parent, start: startIndex, fixedLen: true, maxLen: maxLen}, nil
}

// InitChild creates a new variable-length field immediately following f
// in the chain.
func (f *Field) InitChild(initialSize int) (*Field, error) {
	start := f.start + f.size
	if initialSize < 0 || start+initialSize > f.parent.Capacity() {
		return nil, ErrOutOfRange
	}
	child := &Field{parent: f.parent, prev: f, start: start, size: initialSize}
	f.next = child
	return child, nil
}

// InitChildFixedLen creates a new fixed-length field immediately
// following f in the chain.
func (f *Field) InitChildFixedLen(maxLen int) (*Field, error) {
	start := f.start + f.size
	if maxLen < 0 || start+maxLen > f.parent.Capacity() {
		return nil, ErrOutOfRange
	}
	child := &Field{parent: f.parent, prev: f, start: start, fixedLen: true, maxLen: maxLen}
	f.next = child
	return child, nil
}

// reservedLen is the span of parent bytes this field may occupy for the
// purpose of chain validation: its full cap if fixed-length, its current
// size otherwise.
func (f *Field) reservedLen() int {
	if f.fixedLen {
		return f.maxLen
	}
	return f.size
}

func (f *Field) Size() int               { return f.size }
func (f *Field) StartIndexInParent() int { return f.start }
func (f *Field) IsFixedLength() bool     { return f.fixedLen }

// MaxSize reports the largest size this field could grow to. For a
// fixed-length field that is its cap. For a variable-length field it is
// the parent's capacity less bytes already spoken for earlier in the
// chain and less the fixed-length caps reserved by any later sibling
// (the fixed-length-root tie-break from the chain invariants).
func (f *Field) MaxSize() int {
	if f.fixedLen {
		return f.maxLen
	}
	reserved := f.start
	for e := f.prev; e != nil; e = e.prev {
		if e.fixedLen {
			reserved += e.maxLen - e.size
		}
	}
	for g := f.next; g != nil; g = g.next {
		if g.fixedLen {
			reserved += g.maxLen
		}
	}
	return f.parent.Capacity() - reserved
}

func (f *Field) FreeSize() int { return f.MaxSize() - f.size }

// earlierFixedFieldNotFull walks siblings preceding f and reports
// whether one of them is fixed-length and short of its cap.
func (f *Field) earlierFixedFieldNotFull() bool {
	for e := f.prev; e != nil; e = e.prev {
		if e.fixedLen && e.size < e.maxLen {
			return true
		}
	}
	return false
}

func (f *Field) shiftSubsequentStarts(delta int) {
	for g := f.next; g != nil; g = g.next {
		g.start += delta
	}
}

// Insert inserts p at index within the field's own content, shifting
// the field's later bytes and all subsequent sibling views rightward.
func (f *Field) Insert(index int, p []byte) error {
	if index < 0 || index > f.size {
		return ErrOutOfRange
	}
	if f.earlierFixedFieldNotFull() {
		return ErrEarlierFieldNotFull
	}
	if f.fixedLen && f.size+len(p) > f.maxLen {
		return ErrCapacityExceeded
	}
	if err := f.parent.InsertAt(f.start+index, p); err != nil {
		return err
	}
	f.size += len(p)
	f.shiftSubsequentStarts(len(p))
	return nil
}

// Append inserts p at the end of the field's content.
func (f *Field) Append(p []byte) error { return f.Insert(f.size, p) }

// Remove deletes n bytes starting at index within the field.
func (f *Field) Remove(index, n int) error {
	if index < 0 || n < 0 || index+n > f.size {
		return ErrOutOfRange
	}
	if f.fixedLen && f.hasNonEmptyLaterSibling() {
		return ErrFixedFieldBlocked
	}
	if err := f.parent.RemoveRange(f.start+index, n); err != nil {
		return err
	}
	f.size -= n
	f.shiftSubsequentStarts(-n)
	return nil
}

func (f *Field) hasNonEmptyLaterSibling() bool {
	for g := f.next; g != nil; g = g.next {
		if g.size > 0 {
			return true
		}
	}
	return false
}

// RemoveCString removes a null-terminated string starting at index,
// including its terminator.
func (f *Field) RemoveCString(index int) error {
	s, err := f.GetCString(index)
	if err != nil {
		return err
	}
	return f.Remove(index, len(s)+1)
}

// Replace overwrites len(p) bytes at index in place, without changing
// the field's size.
func (f *Field) Replace(index int, p []byte) error {
	if index < 0 || index+len(p) > f.size {
		return ErrOutOfRange
	}
	return f.parent.ReplaceRange(f.start+index, p)
}

// GetBytes returns a copy of n bytes at index within the field.
func (f *Field) GetBytes(index, n int) ([]byte, error) {
	if index < 0 || n < 0 || index+n > f.size {
		return nil, ErrOutOfRange
	}
	return f.parent.Get(f.start+index, n)
}

// View returns a zero-copy slice of n bytes at index within the field.
func (f *Field) View(index, n int) ([]byte, error) {
	if index < 0 || n < 0 || index+n > f.size {
		return nil, ErrOutOfRange
	}
	return f.parent.View(f.start+index, n)
}

func (f *Field) GetCString(index int) (string, error) {
	if index < 0 || index > f.size {
		return "", ErrOutOfRange
	}
	for i := index; i < f.size; i++ {
		b, err := f.parent.Get(f.start+i, 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			v, err := f.GetBytes(index, i-index)
			if err != nil {
				return "", err
			}
			return string(v), nil
		}
	}
	return "", ErrNotFound
}

func (f *Field) AppendCString(s string) error {
	return f.Append(append([]byte(s), 0))
}

func (f *Field) AppendU8(v uint8) error { return f.Append([]byte{v}) }

func (f *Field) AppendU16LE(v uint16) error {
	return f.Append([]byte{byte(v), byte(v >> 8)})
}

func (f *Field) AppendU32LE(v uint32) error {
	return f.Append([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func (f *Field) GetU8(index int) (uint8, error) {
	v, err := f.GetBytes(index, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (f *Field) GetU16LE(index int) (uint16, error) {
	v, err := f.GetBytes(index, 2)
	if err != nil {
		return 0, err
	}
	return uint16(v[0]) | uint16(v[1])<<8, nil
}

func (f *Field) GetU32LE(index int) (uint32, error) {
	v, err := f.GetBytes(index, 4)
	if err != nil {
		return 0, err
	}
	return uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24, nil
}

// ValidateChain walks the entire chain containing f (from its root
// through every next link) and reports whether the total bytes consumed
// fit within the parent's capacity -- invariant (d) from the linked
// field design.
func (f *Field) ValidateChain() error {
	root := f
	for root.prev != nil {
		root = root.prev
	}
	total := root.start
	for g := root; g != nil; g = g.next {
		total += g.reservedLen()
	}
	if total > f.parent.Capacity() {
		return ErrCapacityExceeded
	}
	return nil
}
