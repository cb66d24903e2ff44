// Package resource navigates the PE resource tree: a hierarchy of
// IMAGE_RESOURCE_DIRECTORY tables, conventionally three levels deep
// (type, name, language), whose leaves are IMAGE_RESOURCE_DATA_ENTRY
// records.
package resource

import (
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Record sizes
const (
	DirectorySize = 16
	EntrySize     = 8
	DataEntrySize = 16
)

const (
	nameIsString    = 0x80000000
	dataIsDirectory = 0x80000000
	offsetMask      = 0x7fffffff
)

// maxDepth bounds descent so that a cyclic tree cannot recurse forever.
const maxDepth = 16

// ErrMalformed is returned by Walk when the tree cannot be followed.
var ErrMalformed = errors.New("malformed resource tree")

// Predefined resource types
const (
	TypeCursor       = 1
	TypeBitmap       = 2
	TypeIcon         = 3
	TypeMenu         = 4
	TypeDialog       = 5
	TypeString       = 6
	TypeFontDir      = 7
	TypeFont         = 8
	TypeAccelerator  = 9
	TypeRCData       = 10
	TypeMessageTable = 11
	TypeGroupCursor  = 12
	TypeGroupIcon    = 14
	TypeVersion      = 16
	TypeDlgInclude   = 17
	TypePlugPlay     = 19
	TypeVXD          = 20
	TypeAniCursor    = 21
	TypeAniIcon      = 22
	TypeHTML         = 23
	TypeManifest     = 24
)

var typeNames = map[uint32]string{
	TypeCursor:       "CURSOR",
	TypeBitmap:       "BITMAP",
	TypeIcon:         "ICON",
	TypeMenu:         "MENU",
	TypeDialog:       "DIALOG",
	TypeString:       "STRING",
	TypeFontDir:      "FONTDIR",
	TypeFont:         "FONT",
	TypeAccelerator:  "ACCELERATOR",
	TypeRCData:       "RCDATA",
	TypeMessageTable: "MESSAGETABLE",
	TypeGroupCursor:  "GROUP_CURSOR",
	TypeGroupIcon:    "GROUP_ICON",
	TypeVersion:      "VERSION",
	TypeDlgInclude:   "DLGINCLUDE",
	TypePlugPlay:     "PLUGPLAY",
	TypeVXD:          "VXD",
	TypeAniCursor:    "ANICURSOR",
	TypeAniIcon:      "ANIICON",
	TypeHTML:         "HTML",
	TypeManifest:     "MANIFEST",
}

// TypeName returns the name of a predefined resource type, or "" when id is
// not one.
func TypeName(id uint32) string {
	return typeNames[id]
}

// Directory is an IMAGE_RESOURCE_DIRECTORY header.
type Directory struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIDEntries    uint16
}

// Entry is a decoded IMAGE_RESOURCE_DIRECTORY_ENTRY.
type Entry struct {
	Named        bool
	Name         string // Set when Named
	ID           uint32 // Set when not Named
	Subdirectory bool
	Offset       uint32 // Of the subdirectory or data entry, from the tree root
}

// String returns the entry's name, or its ID in decimal.
func (e Entry) String() string {
	if e.Named {
		return e.Name
	}
	return strconv.FormatUint(uint64(e.ID), 10)
}

// DataEntry is an IMAGE_RESOURCE_DATA_ENTRY. OffsetToData is an RVA.
type DataEntry struct {
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
	Reserved     uint32
}

// Cursor points at one directory of a resource tree.
type Cursor struct {
	tree  region.Region
	off   uint32
	dir   Directory
	n     int
	depth int
}

// New returns a cursor at the root directory of the tree in b, which holds
// the whole resource section data starting at the directory's RVA. A buffer
// too short for the root header yields a cursor with no entries.
func New(b []byte) Cursor {
	c, _ := at(region.New(b), 0, 0)
	return c
}

func at(tree region.Region, off uint32, depth int) (Cursor, bool) {
	c := Cursor{tree: tree, off: off, depth: depth}
	hdr, ok := tree.Slice(uint64(off), DirectorySize)
	if !ok {
		return c, false
	}
	c.dir = Directory{
		Characteristics:      binary.LittleEndian.Uint32(hdr[0:]),
		TimeDateStamp:        binary.LittleEndian.Uint32(hdr[4:]),
		MajorVersion:         binary.LittleEndian.Uint16(hdr[8:]),
		MinorVersion:         binary.LittleEndian.Uint16(hdr[10:]),
		NumberOfNamedEntries: binary.LittleEndian.Uint16(hdr[12:]),
		NumberOfIDEntries:    binary.LittleEndian.Uint16(hdr[14:]),
	}
	avail := (tree.Len() - int(off) - DirectorySize) / EntrySize
	c.n = min(int(c.dir.NumberOfNamedEntries)+int(c.dir.NumberOfIDEntries), avail)
	return c, true
}

// Directory returns the header of the directory under the cursor.
func (c Cursor) Directory() Directory {
	return c.dir
}

// Len returns the number of entries that fit in the buffer.
func (c Cursor) Len() int {
	return c.n
}

// Depth returns the number of Descend steps from the root.
func (c Cursor) Depth() int {
	return c.depth
}

// Offset returns the directory's offset from the tree root.
func (c Cursor) Offset() uint32 {
	return c.off
}

// Entry decodes entry i.
func (c Cursor) Entry(i int) (Entry, bool) {
	if i < 0 || i >= c.n {
		return Entry{}, false
	}
	b, ok := c.tree.Slice(uint64(c.off)+DirectorySize+uint64(i)*EntrySize, EntrySize)
	if !ok {
		return Entry{}, false
	}
	name := binary.LittleEndian.Uint32(b[0:])
	data := binary.LittleEndian.Uint32(b[4:])
	e := Entry{
		Subdirectory: data&dataIsDirectory != 0,
		Offset:       data & offsetMask,
	}
	if name&nameIsString != 0 {
		e.Named = true
		e.Name, _ = c.name(name & offsetMask)
	} else {
		e.ID = name
	}
	return e, true
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// name decodes the length-prefixed UTF-16LE string at off.
func (c Cursor) name(off uint32) (string, bool) {
	n, ok := c.tree.Uint16(uint64(off))
	if !ok {
		return "", false
	}
	raw, ok := c.tree.Slice(uint64(off)+2, uint64(n)*2)
	if !ok {
		return "", false
	}
	s, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(s), true
}

// Find returns the index of the entry with numeric identifier id.
func (c Cursor) Find(id uint32) (int, bool) {
	for i := 0; i < c.n; i++ {
		if e, ok := c.Entry(i); ok && !e.Named && e.ID == id {
			return i, true
		}
	}
	return -1, false
}

// FindName returns the index of the entry whose string name equals name.
// Both searches scan every entry; writers do not always put named entries
// first.
func (c Cursor) FindName(name string) (int, bool) {
	for i := 0; i < c.n; i++ {
		if e, ok := c.Entry(i); ok && e.Named && e.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Descend returns a cursor at the subdirectory named by entry i.
func (c Cursor) Descend(i int) (Cursor, bool) {
	e, ok := c.Entry(i)
	if !ok || !e.Subdirectory || c.depth >= maxDepth {
		return Cursor{}, false
	}
	return at(c.tree, e.Offset, c.depth+1)
}

// Data returns the data entry named by leaf entry i.
func (c Cursor) Data(i int) (DataEntry, bool) {
	e, ok := c.Entry(i)
	if !ok || e.Subdirectory {
		return DataEntry{}, false
	}
	b, ok := c.tree.Slice(uint64(e.Offset), DataEntrySize)
	if !ok {
		return DataEntry{}, false
	}
	return DataEntry{
		OffsetToData: binary.LittleEndian.Uint32(b[0:]),
		Size:         binary.LittleEndian.Uint32(b[4:]),
		CodePage:     binary.LittleEndian.Uint32(b[8:]),
		Reserved:     binary.LittleEndian.Uint32(b[12:]),
	}, true
}

// WalkFunc is called for every leaf with the entries leading to it,
// conventionally (type, name, language).
type WalkFunc func(path []Entry, d DataEntry) error

// Walk visits every leaf below c depth first, in table order. It stops at
// the first error returned by fn. Each directory is entered at most once;
// entries that cannot be decoded or that lead back to a directory already
// entered are reported as ErrMalformed after the rest of the tree is
// visited.
func (c Cursor) Walk(fn WalkFunc) error {
	w := walker{fn: fn, seen: map[uint32]bool{c.off: true}}
	if err := w.walk(c, nil); err != nil {
		return err
	}
	return w.bad
}

type walker struct {
	fn   WalkFunc
	seen map[uint32]bool // Directory offsets already entered
	bad  error
}

func (w *walker) malformed(format string, off uint32) {
	if w.bad == nil {
		w.bad = errors.Wrapf(ErrMalformed, format, off)
	}
}

func (w *walker) walk(c Cursor, path []Entry) error {
	for i := 0; i < c.n; i++ {
		e, _ := c.Entry(i)
		p := append(path[:len(path):len(path)], e)
		if e.Subdirectory {
			if w.seen[e.Offset] {
				w.malformed("subdirectory at %#x revisited", e.Offset)
				continue
			}
			sub, ok := c.Descend(i)
			if !ok {
				w.malformed("subdirectory at %#x", e.Offset)
				continue
			}
			w.seen[e.Offset] = true
			if err := w.walk(sub, p); err != nil {
				return err
			}
			continue
		}
		d, ok := c.Data(i)
		if !ok {
			w.malformed("data entry at %#x", e.Offset)
			continue
		}
		if err := w.fn(p, d); err != nil {
			return err
		}
	}
	return nil
}
