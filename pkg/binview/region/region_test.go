package region

import (
	"testing"

	"github.com/pkg/errors"
)

func TestSubBounds(t *testing.T) {
	r := New([]byte("0123456789"))
	tests := []struct {
		off, n uint64
		ok     bool
	}{
		{0, 10, true},
		{9, 1, true},
		{10, 0, true},
		{10, 1, false},
		{5, 6, false},
		{^uint64(0), 2, false},
	}
	for _, tt := range tests {
		_, ok := r.Sub(tt.off, tt.n)
		if ok != tt.ok {
			t.Errorf("Sub(%d, %d) ok = %v, want %v", tt.off, tt.n, ok, tt.ok)
		}
	}
}

func TestSubBase(t *testing.T) {
	r := New([]byte("0123456789"))
	a, _ := r.Sub(2, 6)
	b, _ := a.Sub(3, 2)
	if b.Base() != 5 || string(b.Bytes()) != "56" {
		t.Fatalf("nested sub = (%d, %q), want (5, \"56\")", b.Base(), b.Bytes())
	}
}

func TestOffsetOf(t *testing.T) {
	buf := []byte("abcdefgh")
	r := New(buf)
	sub, _ := r.Slice(3, 4)
	off, ok := r.OffsetOf(sub)
	if !ok || off != 3 {
		t.Fatalf("OffsetOf = (%d, %v), want (3, true)", off, ok)
	}
	if _, ok := r.OffsetOf([]byte("def")); ok {
		t.Fatal("OffsetOf accepted a foreign slice")
	}
}

func TestCursor(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x07, 'h', 'i', 0, 0xff})
	if v, ok := c.Uint16LE(); !ok || v != 0x0201 {
		t.Fatalf("Uint16LE = %#x, %v", v, ok)
	}
	if v, ok := c.Uint32BE(); !ok || v != 0 {
		t.Fatalf("Uint32BE = %#x, %v", v, ok)
	}
	if !c.Skip(1) {
		t.Fatal("Skip failed")
	}
	if v, ok := c.Uint8(); !ok || v != 7 {
		t.Fatalf("Uint8 = %d, %v", v, ok)
	}
	if s, ok := c.CString(); !ok || s != "hi" {
		t.Fatalf("CString = %q, %v", s, ok)
	}
	if c.Offset() != 11 {
		t.Fatalf("Offset = %d, want 11", c.Offset())
	}
	if _, ok := c.Uint16LE(); ok {
		t.Fatal("Uint16LE read past end")
	}
	if c.Remaining() != 1 {
		t.Fatalf("failed read moved the cursor: %d left", c.Remaining())
	}
	if _, err := c.AdvanceBy(2); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("AdvanceBy err = %v, want ErrOutOfBounds", err)
	}
}

func TestCursorUint64BE(t *testing.T) {
	c := NewCursor([]byte{0, 0, 0, 1, 0, 0, 0, 2, 0xaa, 0xbb, 0xcc, 0xdd, 0xee})
	if v, ok := c.Uint64BE(); !ok || v != 0x100000002 {
		t.Fatalf("Uint64BE = %#x, %v", v, ok)
	}
	// Enough for the high word only.
	if _, ok := c.Uint64BE(); ok {
		t.Fatal("Uint64BE read past end")
	}
	if c.Offset() != 8 || c.Remaining() != 5 {
		t.Fatalf("failed read moved the cursor to %d, %d left", c.Offset(), c.Remaining())
	}
}

func TestAlignUp(t *testing.T) {
	if got := AlignUp[uint32](13, 8); got != 16 {
		t.Errorf("AlignUp(13, 8) = %d", got)
	}
	if got := Even[uint64](3); got != 4 {
		t.Errorf("Even(3) = %d", got)
	}
	if got := Even[uint64](4); got != 4 {
		t.Errorf("Even(4) = %d", got)
	}
}
