package coff

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Section characteristics
const (
	SectionTypeNoPad          = 0x00000008
	SectionCntCode            = 0x00000020
	SectionCntInitializedData = 0x00000040
	SectionCntUninitialized   = 0x00000080
	SectionLnkInfo            = 0x00000200
	SectionLnkRemove          = 0x00000800
	SectionLnkComdat          = 0x00001000
	SectionGPRel              = 0x00008000
	SectionAlignMask          = 0x00f00000
	SectionLnkNRelocOvfl      = 0x01000000
	SectionMemDiscardable     = 0x02000000
	SectionMemNotCached       = 0x04000000
	SectionMemNotPaged        = 0x08000000
	SectionMemShared          = 0x10000000
	SectionMemExecute         = 0x20000000
	SectionMemRead            = 0x40000000
	SectionMemWrite           = 0x80000000

	sectionAlignShift = 20
)

// SectionHeaderSize is the size of SectionHeader in bytes.
const SectionHeaderSize = 40

// SectionHeader is the IMAGE_SECTION_HEADER.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// ReadSectionHeaders decodes n consecutive section headers from b.
func ReadSectionHeaders(b []byte, n int) ([]SectionHeader, bool) {
	if n < 0 || len(b)/SectionHeaderSize < n {
		return nil, false
	}
	hdrs := make([]SectionHeader, n)
	if err := binary.Read(bytes.NewReader(b[:n*SectionHeaderSize]), binary.LittleEndian, hdrs); err != nil {
		return nil, false
	}
	return hdrs, true
}

// Is reports whether all bits of flags are set.
func (h *SectionHeader) Is(flags uint32) bool {
	return h.Characteristics&flags == flags
}

// Executable reports IMAGE_SCN_MEM_EXECUTE.
func (h *SectionHeader) Executable() bool { return h.Is(SectionMemExecute) }

// Writable reports IMAGE_SCN_MEM_WRITE.
func (h *SectionHeader) Writable() bool { return h.Is(SectionMemWrite) }

// Discardable reports IMAGE_SCN_MEM_DISCARDABLE.
func (h *SectionHeader) Discardable() bool { return h.Is(SectionMemDiscardable) }

// AlignmentFlag returns the raw 4-bit alignment field.
func (h *SectionHeader) AlignmentFlag() uint8 {
	return uint8((h.Characteristics & SectionAlignMask) >> sectionAlignShift)
}

// Alignment returns the section alignment in bytes, 0 when invalid.
func (h *SectionHeader) Alignment() uint32 {
	return ConvertAlignment(h.AlignmentFlag())
}

// VirtualExtent returns the size of the section once mapped: VirtualSize,
// or SizeOfRawData when the former is zero.
func (h *SectionHeader) VirtualExtent() uint32 {
	if h.VirtualSize != 0 {
		return h.VirtualSize
	}
	return h.SizeOfRawData
}

// alignmentTable maps the alignment flag to bytes. A zero flag means the
// default of 16; 0xf is not a defined alignment.
var alignmentTable = [16]uint32{
	16, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 0,
}

// ConvertAlignment maps an alignment flag to a byte alignment.
func ConvertAlignment(flag uint8) uint32 {
	return alignmentTable[flag&0xf]
}

// ReflectAlignment maps a byte alignment to its flag, 0 when the value has
// no encoding. It never produces flag 0, so ConvertAlignment(0) == 16 does
// not round-trip.
func ReflectAlignment(align uint32) uint8 {
	for flag := 1; flag < 15; flag++ {
		if alignmentTable[flag] == align {
			return uint8(flag)
		}
	}
	return 0
}

// RawName returns the inline name without padding.
func (h *SectionHeader) RawName() string {
	return region.CString(h.Name[:])
}

const base64Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// longNameOffset decodes "/nnnnnnn" (decimal) and "//xxxxxx" (base64) name
// references into string table offsets.
func longNameOffset(name [8]byte) (uint32, bool) {
	if name[0] != '/' {
		return 0, false
	}
	if name[1] == '/' {
		var v uint64
		for _, c := range name[2:] {
			d := strings.IndexByte(base64Digits, c)
			if d < 0 {
				return 0, false
			}
			v = v*64 + uint64(d)
		}
		if v > 0xffffffff {
			return 0, false
		}
		return uint32(v), true
	}
	digits := region.CString(name[1:])
	v, err := strconv.ParseUint(strings.TrimRight(digits, " "), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// SectionName resolves a section name through the string table. Names that
// do not reference the table, or whose reference is out of range, are
// returned as stored.
func (st StringTable) SectionName(name [8]byte) string {
	if off, ok := longNameOffset(name); ok {
		if s, ok := st.String(off); ok {
			return s
		}
	}
	return region.CString(name[:])
}

// RelocationSize is the size of Relocation in bytes.
const RelocationSize = 10

// Relocation is an IMAGE_RELOCATION record.
type Relocation struct {
	VirtualAddress   uint32
	SymbolTableIndex uint32
	Type             uint16
}

// LinenumberSize is the size of Linenumber in bytes.
const LinenumberSize = 6

// Linenumber is an IMAGE_LINENUMBER record. A zero Linenumber marks a
// function start and Addr is then a symbol table index.
type Linenumber struct {
	Addr       uint32
	Linenumber uint16
}
