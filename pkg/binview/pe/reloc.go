package pe

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Base relocation types
const (
	RelBasedAbsolute = 0
	RelBasedHigh     = 1
	RelBasedLow      = 2
	RelBasedHighLow  = 3
	RelBasedHighAdj  = 4
	RelBasedDir64    = 10
)

// baseRelocBlockHeaderSize is the size of the page RVA and block size pair.
const baseRelocBlockHeaderSize = 8

// BaseRelocEntry is one fixup inside a base relocation block.
type BaseRelocEntry struct {
	Type   uint8
	Offset uint16 // Offset within the block's page
}

// RVA returns the address the entry patches.
func (e BaseRelocEntry) RVA(page uint32) uint32 {
	return page + uint32(e.Offset)
}

// BaseRelocBlock is an IMAGE_BASE_RELOCATION block.
type BaseRelocBlock struct {
	PageRVA   uint32
	BlockSize uint32
	Entries   []BaseRelocEntry
}

// BaseRelocIterator walks the blocks of a base relocation directory.
type BaseRelocIterator struct {
	cur   region.Cursor
	block BaseRelocBlock
	err   error
}

// NewBaseRelocIterator returns an iterator over the blocks in b.
func NewBaseRelocIterator(b []byte) *BaseRelocIterator {
	return &BaseRelocIterator{cur: region.NewCursor(b)}
}

// Next decodes the next block. It returns false at the end of the directory
// or on a malformed block, which is reported by Err.
func (it *BaseRelocIterator) Next() bool {
	if it.err != nil || it.cur.Remaining() < baseRelocBlockHeaderSize {
		return false
	}
	start := it.cur
	page, _ := it.cur.Uint32LE()
	size, _ := it.cur.Uint32LE()
	if size < baseRelocBlockHeaderSize || size%2 != 0 {
		it.err = errors.Wrapf(ErrMalformed, "base relocation block size %d at page %#x", size, page)
		return false
	}
	next, err := start.AdvanceBy(uint64(size))
	if err != nil {
		it.err = errors.Wrapf(err, "base relocation block at page %#x", page)
		return false
	}
	n := (size - baseRelocBlockHeaderSize) / 2
	it.block = BaseRelocBlock{PageRVA: page, BlockSize: size, Entries: make([]BaseRelocEntry, n)}
	for i := range it.block.Entries {
		v, _ := it.cur.Uint16LE()
		it.block.Entries[i] = BaseRelocEntry{Type: uint8(v >> 12), Offset: v & 0xfff}
	}
	it.cur = next
	return true
}

// Block returns the current block.
func (it *BaseRelocIterator) Block() BaseRelocBlock {
	return it.block
}

// Err returns the error that stopped iteration, if any.
func (it *BaseRelocIterator) Err() error {
	return it.err
}

// BaseRelocations decodes every block of the base relocation directory.
func (img *Image) BaseRelocations() ([]BaseRelocBlock, error) {
	b, _, err := img.directory(DirBaseReloc)
	if err != nil {
		return nil, err
	}
	var out []BaseRelocBlock
	it := NewBaseRelocIterator(b)
	for it.Next() {
		out = append(out, it.Block())
	}
	return out, it.Err()
}
