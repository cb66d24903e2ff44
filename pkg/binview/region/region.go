// Package region provides bounds-checked views over caller-owned byte buffers.
//
// Every view borrows from the buffer it was derived from; nothing here copies
// or owns the underlying bytes. A derivation that would step past the end of
// its parent fails instead of reading beyond it.
package region

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// ErrOutOfBounds is returned when a requested range is not fully inside its region.
var ErrOutOfBounds = errors.New("range out of bounds")

// Region is a borrowed byte range together with its offset in the root buffer.
type Region struct {
	data []byte
	base uint64
}

// New wraps b as a root region.
func New(b []byte) Region {
	return Region{data: b}
}

// Len returns the number of bytes in the region.
func (r Region) Len() int {
	return len(r.data)
}

// Empty reports whether the region holds no bytes.
func (r Region) Empty() bool {
	return len(r.data) == 0
}

// Bytes returns the bytes of the region.
func (r Region) Bytes() []byte {
	return r.data
}

// Base returns the offset of the region within the root buffer.
func (r Region) Base() uint64 {
	return r.base
}

// Contains reports whether [off, off+n) lies inside the region.
func (r Region) Contains(off, n uint64) bool {
	end := off + n
	if end < off {
		return false
	}
	return end <= uint64(len(r.data))
}

// Sub derives the region [off, off+n).
func (r Region) Sub(off, n uint64) (Region, bool) {
	if !r.Contains(off, n) {
		return Region{}, false
	}
	return Region{data: r.data[off : off+n], base: r.base + off}, true
}

// Tail derives the region [off, Len()).
func (r Region) Tail(off uint64) (Region, bool) {
	if off > uint64(len(r.data)) {
		return Region{}, false
	}
	return Region{data: r.data[off:], base: r.base + off}, true
}

// Slice returns the bytes [off, off+n).
func (r Region) Slice(off, n uint64) ([]byte, bool) {
	s, ok := r.Sub(off, n)
	if !ok {
		return nil, false
	}
	return s.data, true
}

// Uint16 reads a little-endian uint16 at off.
func (r Region) Uint16(off uint64) (uint16, bool) {
	b, ok := r.Slice(off, 2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

// Uint32 reads a little-endian uint32 at off.
func (r Region) Uint32(off uint64) (uint32, bool) {
	b, ok := r.Slice(off, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// Uint64 reads a little-endian uint64 at off.
func (r Region) Uint64(off uint64) (uint64, bool) {
	b, ok := r.Slice(off, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// CString reads a NUL-terminated string starting at off. A string running
// to the end of the region without a terminator is not accepted.
func (r Region) CString(off uint64) (string, bool) {
	if off >= uint64(len(r.data)) {
		return "", false
	}
	rest := r.data[off:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return "", false
	}
	return string(rest[:i]), true
}

// OffsetOf returns the offset of sub inside the region when sub was sliced
// out of it, the inverse of Slice.
func (r Region) OffsetOf(sub []byte) (uint64, bool) {
	if len(sub) == 0 || len(r.data) == 0 {
		return 0, false
	}
	off := cap(r.data) - cap(sub)
	if off < 0 || off >= len(r.data) || off+len(sub) > len(r.data) {
		return 0, false
	}
	if &r.data[off] != &sub[0] {
		return 0, false
	}
	return uint64(off), true
}

// CString extracts a NUL-terminated string from b, or all of b when it has
// no terminator.
func CString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		return string(b)
	}
	return string(b[:i])
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp[T constraints.Unsigned](v, align T) T {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Even rounds v up to the next even value.
func Even[T constraints.Unsigned](v T) T {
	return AlignUp(v, 2)
}
