package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/jtang613/gobinview/pkg/binview/coff"
	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Layout describes how an image buffer is arranged.
type Layout int

const (
	// LayoutFile is the on-disk layout: sections at PointerToRawData.
	LayoutFile Layout = iota
	// LayoutMapped is the loader layout: sections at VirtualAddress.
	LayoutMapped
)

func (l Layout) String() string {
	if l == LayoutMapped {
		return "mapped"
	}
	return "file"
}

// Image is a view over a PE image. Images built from bytes that do not parse
// are empty: every lookup on them fails.
type Image struct {
	data     region.Region
	layout   Layout
	valid    bool
	dos      DOSHeader
	ntOffset uint32
	file     coff.FileHeader
	opt      OptionalHeader
	sections []coff.SectionHeader
	symbols  *coff.SymbolTable
}

// IsImage reports whether b starts with a DOS header leading to a PE
// signature.
func IsImage(b []byte) bool {
	r := region.New(b)
	magic, ok := r.Uint16(0)
	if !ok || magic != DOSMagic {
		return false
	}
	lfanew, ok := r.Uint32(lfanewOffset)
	if !ok {
		return false
	}
	sig, ok := r.Uint32(uint64(lfanew))
	return ok && sig == NTSignature
}

// NewImage wraps data as a PE image arranged per layout.
func NewImage(data []byte, layout Layout) *Image {
	img := &Image{data: region.New(data), layout: layout}
	if !img.parse() {
		return &Image{layout: layout, symbols: coff.NewSymbolTable(nil, 0, 0, coff.SymbolSize)}
	}
	return img
}

func (img *Image) parse() bool {
	if !IsImage(img.data.Bytes()) {
		return false
	}
	if err := binary.Read(bytes.NewReader(img.data.Bytes()[:DOSHeaderSize]), binary.LittleEndian, &img.dos); err != nil {
		return false
	}
	img.ntOffset = img.dos.Lfanew
	off := uint64(img.ntOffset) + signatureSize
	hdr, ok := img.data.Slice(off, coff.FileHeaderSize)
	if !ok {
		return false
	}
	if img.file, ok = coff.ReadFileHeader(hdr); !ok {
		return false
	}
	off += coff.FileHeaderSize
	optBytes, ok := img.data.Slice(off, uint64(img.file.SizeOfOptionalHeader))
	if !ok {
		return false
	}
	if img.opt, ok = readOptionalHeader(optBytes); !ok {
		return false
	}
	off += uint64(img.file.SizeOfOptionalHeader)
	secs, ok := img.data.Tail(off)
	if !ok {
		return false
	}
	if img.sections, ok = coff.ReadSectionHeaders(secs.Bytes(), int(img.file.NumberOfSections)); !ok {
		return false
	}
	img.symbols = coff.NewSymbolTable(nil, 0, 0, coff.SymbolSize)
	if img.layout == LayoutFile {
		img.symbols = coff.NewSymbolTable(img.data.Bytes(), img.file.PointerToSymbolTable, img.file.NumberOfSymbols, coff.SymbolSize)
	}
	img.valid = true
	return true
}

// Valid reports whether the image parsed.
func (img *Image) Valid() bool {
	return img.valid
}

// Layout returns the buffer layout the image was opened with.
func (img *Image) Layout() Layout {
	return img.layout
}

// Bytes returns the underlying buffer.
func (img *Image) Bytes() []byte {
	return img.data.Bytes()
}

// DOSHeader returns the DOS header.
func (img *Image) DOSHeader() DOSHeader {
	return img.dos
}

// FileHeader returns the COFF file header.
func (img *Image) FileHeader() coff.FileHeader {
	return img.file
}

// OptionalHeader returns the optional header.
func (img *Image) OptionalHeader() OptionalHeader {
	return img.opt
}

// Is64 reports a PE32+ image.
func (img *Image) Is64() bool {
	return img.opt.Is64()
}

// ImageBase returns the preferred load address.
func (img *Image) ImageBase() uint64 {
	return img.opt.ImageBase()
}

// Sections returns the section table.
func (img *Image) Sections() []coff.SectionHeader {
	return img.sections
}

// Section returns section i (0-based).
func (img *Image) Section(i int) (coff.SectionHeader, bool) {
	if i < 0 || i >= len(img.sections) {
		return coff.SectionHeader{}, false
	}
	return img.sections[i], true
}

// SectionName resolves a section name. Images rarely carry a string table,
// in which case long names are returned as stored.
func (img *Image) SectionName(h *coff.SectionHeader) string {
	return img.symbols.Strings().SectionName(h.Name)
}

// Symbols returns the COFF symbol table, empty for most images and for
// mapped images.
func (img *Image) Symbols() *coff.SymbolTable {
	return img.symbols
}

// Symbol returns COFF symbol record n.
func (img *Image) Symbol(n uint32) (coff.Symbol, bool) {
	return img.symbols.At(n)
}

// Strings returns the COFF string table.
func (img *Image) Strings() coff.StringTable {
	return img.symbols.Strings()
}

// Directory returns data directory id when it is present.
func (img *Image) Directory(id int) (DataDirectory, bool) {
	if !img.valid || id < 0 || id >= NumDirectories {
		return DataDirectory{}, false
	}
	d := img.opt.Directories()[id]
	return d, d.Present()
}

// DirectoryBytes returns the contents of directory id. The security
// directory is addressed by file offset, every other one by RVA.
func (img *Image) DirectoryBytes(id int) ([]byte, bool) {
	d, ok := img.Directory(id)
	if !ok {
		return nil, false
	}
	if id == DirSecurity {
		return img.FOToPtr(d.VirtualAddress, d.Size)
	}
	return img.RVAToPtr(d.VirtualAddress, d.Size)
}

func (img *Image) sizeOfHeaders() uint32 {
	return img.opt.SizeOfHeaders()
}

// RVAToSection returns the index of the first section, in table order,
// whose virtual extent contains rva.
func (img *Image) RVAToSection(rva uint32) (int, bool) {
	for i := range img.sections {
		s := &img.sections[i]
		if uint64(rva) >= uint64(s.VirtualAddress) && uint64(rva) < uint64(s.VirtualAddress)+uint64(s.VirtualExtent()) {
			return i, true
		}
	}
	return -1, false
}

// FOToSection returns the index of the first section whose raw data
// contains fo.
func (img *Image) FOToSection(fo uint32) (int, bool) {
	for i := range img.sections {
		s := &img.sections[i]
		if s.SizeOfRawData == 0 {
			continue
		}
		if uint64(fo) >= uint64(s.PointerToRawData) && uint64(fo) < uint64(s.PointerToRawData)+uint64(s.SizeOfRawData) {
			return i, true
		}
	}
	return -1, false
}

// rawBacked returns the number of bytes of section s backed by file data.
func rawBacked(s *coff.SectionHeader) uint32 {
	return min(s.VirtualExtent(), s.SizeOfRawData)
}

// RVAToFO translates an RVA into a file offset. RVAs in the header region
// map to themselves.
func (img *Image) RVAToFO(rva uint32) (uint32, bool) {
	if !img.valid {
		return 0, false
	}
	if i, ok := img.RVAToSection(rva); ok {
		s := &img.sections[i]
		delta := rva - s.VirtualAddress
		if delta >= rawBacked(s) {
			return 0, false
		}
		return s.PointerToRawData + delta, true
	}
	if rva < img.sizeOfHeaders() {
		return rva, true
	}
	return 0, false
}

// FOToRVA translates a file offset into an RVA.
func (img *Image) FOToRVA(fo uint32) (uint32, bool) {
	if !img.valid {
		return 0, false
	}
	if i, ok := img.FOToSection(fo); ok {
		s := &img.sections[i]
		delta := fo - s.PointerToRawData
		if delta >= rawBacked(s) {
			return 0, false
		}
		return s.VirtualAddress + delta, true
	}
	if fo < img.sizeOfHeaders() {
		return fo, true
	}
	return 0, false
}

// contained reports whether [off, off+n) lies within [base, base+size).
func contained(off, n, base, size uint32) bool {
	return uint64(off) >= uint64(base) && uint64(off)+uint64(n) <= uint64(base)+uint64(size)
}

// RVAToPtr returns the n bytes at rva. The whole range must lie inside one
// section or inside the header region.
func (img *Image) RVAToPtr(rva, n uint32) ([]byte, bool) {
	if !img.valid {
		return nil, false
	}
	if i, ok := img.RVAToSection(rva); ok {
		s := &img.sections[i]
		if img.layout == LayoutMapped {
			if !contained(rva, n, s.VirtualAddress, s.VirtualExtent()) {
				return nil, false
			}
			return img.data.Slice(uint64(rva), uint64(n))
		}
		if !contained(rva, n, s.VirtualAddress, rawBacked(s)) {
			return nil, false
		}
		return img.data.Slice(uint64(s.PointerToRawData)+uint64(rva-s.VirtualAddress), uint64(n))
	}
	if contained(rva, n, 0, img.sizeOfHeaders()) {
		return img.data.Slice(uint64(rva), uint64(n))
	}
	return nil, false
}

// FOToPtr returns the n bytes at file offset fo. The whole range must lie
// inside one section's raw data or inside the header region.
func (img *Image) FOToPtr(fo, n uint32) ([]byte, bool) {
	if !img.valid {
		return nil, false
	}
	if img.layout == LayoutFile {
		if i, ok := img.FOToSection(fo); ok {
			s := &img.sections[i]
			if !contained(fo, n, s.PointerToRawData, s.SizeOfRawData) {
				return nil, false
			}
			return img.data.Slice(uint64(fo), uint64(n))
		}
		if contained(fo, n, 0, img.sizeOfHeaders()) {
			return img.data.Slice(uint64(fo), uint64(n))
		}
		if d := img.opt.Directories()[DirSecurity]; d.Present() && contained(fo, n, d.VirtualAddress, d.Size) {
			return img.data.Slice(uint64(fo), uint64(n))
		}
		return nil, false
	}
	rva, ok := img.FOToRVA(fo)
	if !ok {
		return nil, false
	}
	return img.RVAToPtr(rva, n)
}

// PtrToRaw returns the offset of b within the image buffer: a file offset
// for LayoutFile, an RVA for LayoutMapped.
func (img *Image) PtrToRaw(b []byte) (uint64, bool) {
	return img.data.OffsetOf(b)
}

// PtrToRVA returns the RVA of b, which must be a sub-slice of the image.
func (img *Image) PtrToRVA(b []byte) (uint32, bool) {
	off, ok := img.PtrToRaw(b)
	if !ok || off > 0xffffffff {
		return 0, false
	}
	if img.layout == LayoutMapped {
		return uint32(off), true
	}
	return img.FOToRVA(uint32(off))
}

// RawLimit returns the largest file offset referenced by the headers, any
// section or the security directory.
func (img *Image) RawLimit() (uint64, bool) {
	if !img.valid {
		return 0, false
	}
	limit := uint64(img.sizeOfHeaders())
	for i := range img.sections {
		s := &img.sections[i]
		if s.SizeOfRawData == 0 {
			continue
		}
		limit = max(limit, uint64(s.PointerToRawData)+uint64(s.SizeOfRawData))
	}
	if d := img.opt.Directories()[DirSecurity]; d.Present() {
		limit = max(limit, uint64(d.VirtualAddress)+uint64(d.Size))
	}
	return limit, true
}

// Truncated reports whether an on-disk image is shorter than its headers
// claim.
func (img *Image) Truncated() bool {
	if img.layout != LayoutFile {
		return false
	}
	limit, ok := img.RawLimit()
	return ok && limit > uint64(img.data.Len())
}

// ChecksumOffset returns the file offset of the optional header CheckSum.
func (img *Image) ChecksumOffset() (uint64, bool) {
	if !img.valid {
		return 0, false
	}
	return uint64(img.ntOffset) + signatureSize + coff.FileHeaderSize + checksumOffset, true
}

// Checksum computes the image checksum over the buffer. Only meaningful for
// LayoutFile images.
func (img *Image) Checksum() (uint32, bool) {
	off, ok := img.ChecksumOffset()
	if !ok {
		return 0, false
	}
	return Checksum(img.data.Bytes(), off), true
}
