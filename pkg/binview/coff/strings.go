package coff

import (
	"encoding/binary"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// StringTable is the COFF string table, including its leading 4-byte size.
// Offsets into it count from the start of the size field.
type StringTable []byte

// ReadStringTable returns the string table starting at off in data. A
// missing or inconsistent table is empty.
func ReadStringTable(data []byte, off uint64) StringTable {
	r := region.New(data)
	size, ok := r.Uint32(off)
	if !ok || size < 4 {
		return nil
	}
	b, ok := r.Slice(off, uint64(size))
	if !ok {
		// Tolerate a size field overrunning the file by clamping.
		b, _ = r.Slice(off, uint64(len(data))-off)
	}
	return StringTable(b)
}

// Size returns the size recorded in the table header.
func (st StringTable) Size() uint32 {
	if len(st) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(st)
}

// String extracts the NUL-terminated string at off.
func (st StringTable) String(off uint32) (string, bool) {
	if off < 4 || uint64(off) >= uint64(len(st)) {
		return "", false
	}
	return region.CString(st[off:]), true
}
