package region

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
)

// Cursor is a forward read position inside a region. Reads consume bytes and
// fail without moving when the region does not hold enough data.
type Cursor struct {
	s   cryptobyte.String
	off uint64
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) Cursor {
	return Cursor{s: cryptobyte.String(b)}
}

// Cursor returns a cursor positioned at the start of the region.
func (r Region) Cursor() Cursor {
	return Cursor{s: cryptobyte.String(r.data), off: r.base}
}

// Offset returns the root-buffer offset of the next unread byte.
func (c *Cursor) Offset() uint64 {
	return c.off
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.s)
}

// Empty reports whether all bytes have been consumed.
func (c *Cursor) Empty() bool {
	return c.s.Empty()
}

// Rest returns the unread bytes without consuming them.
func (c *Cursor) Rest() []byte {
	return []byte(c.s)
}

// AdvanceBy returns a copy of the cursor moved n bytes forward.
func (c Cursor) AdvanceBy(n uint64) (Cursor, error) {
	if n > uint64(len(c.s)) {
		return c, errors.Wrapf(ErrOutOfBounds, "advance by %d with %d bytes left", n, len(c.s))
	}
	c.s = c.s[n:]
	c.off += n
	return c, nil
}

// Skip consumes n bytes.
func (c *Cursor) Skip(n int) bool {
	if n < 0 || !c.s.Skip(n) {
		return false
	}
	c.off += uint64(n)
	return true
}

// Bytes consumes n bytes and returns them.
func (c *Cursor) Bytes(n int) ([]byte, bool) {
	var out []byte
	if n < 0 || !c.s.ReadBytes(&out, n) {
		return nil, false
	}
	c.off += uint64(n)
	return out, true
}

// Uint8 consumes one byte.
func (c *Cursor) Uint8() (uint8, bool) {
	var v uint8
	if !c.s.ReadUint8(&v) {
		return 0, false
	}
	c.off++
	return v, true
}

// Uint16LE consumes a little-endian uint16.
func (c *Cursor) Uint16LE() (uint16, bool) {
	b, ok := c.Bytes(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

// Uint32LE consumes a little-endian uint32.
func (c *Cursor) Uint32LE() (uint32, bool) {
	b, ok := c.Bytes(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// Uint64LE consumes a little-endian uint64.
func (c *Cursor) Uint64LE() (uint64, bool) {
	b, ok := c.Bytes(8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// Uint32BE consumes a big-endian uint32.
func (c *Cursor) Uint32BE() (uint32, bool) {
	var v uint32
	if !c.s.ReadUint32(&v) {
		return 0, false
	}
	c.off += 4
	return v, true
}

// Uint64BE consumes a big-endian uint64.
func (c *Cursor) Uint64BE() (uint64, bool) {
	b, ok := c.Bytes(8)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

// Word consumes a little-endian value of the given width (4 or 8 bytes).
func (c *Cursor) Word(width int) (uint64, bool) {
	if width == 8 {
		return c.Uint64LE()
	}
	v, ok := c.Uint32LE()
	return uint64(v), ok
}

// CString consumes a NUL-terminated string including its terminator.
func (c *Cursor) CString() (string, bool) {
	for i, b := range c.s {
		if b == 0 {
			s := string(c.s[:i])
			c.s = c.s[i+1:]
			c.off += uint64(i + 1)
			return s, true
		}
	}
	return "", false
}
