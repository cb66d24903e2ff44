package coff

import (
	"bytes"
	"encoding/binary"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Kind identifies the header layout of an object buffer.
type Kind int

// Object kinds
const (
	KindInvalid Kind = iota
	KindObject
	KindBigObject
	KindImport
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "coff"
	case KindBigObject:
		return "coff-bigobj"
	case KindImport:
		return "coff-import"
	}
	return "invalid"
}

// Object is a view over a COFF object file. Objects built from bytes that do
// not parse are empty: they report KindInvalid and no sections or symbols.
type Object struct {
	data     region.Region
	kind     Kind
	header   FileHeader
	big      BigObjHeader
	imp      ImportObject
	sections []SectionHeader
	symbols  *SymbolTable
}

// Identify reports the object layout of b without building a view.
func Identify(b []byte) Kind {
	if len(b) < 8 {
		return KindInvalid
	}
	sig1 := binary.LittleEndian.Uint16(b[0:])
	sig2 := binary.LittleEndian.Uint16(b[2:])
	if sig1 != 0 || sig2 != 0xffff {
		if len(b) < FileHeaderSize {
			return KindInvalid
		}
		return KindObject
	}
	version := binary.LittleEndian.Uint16(b[4:])
	if version == 0 {
		return KindImport
	}
	if version >= 2 && len(b) >= BigObjHeaderSize && bytes.Equal(b[12:28], BigObjClassID[:]) {
		return KindBigObject
	}
	return KindInvalid
}

// NewObject wraps data as a COFF object.
func NewObject(data []byte) *Object {
	o := &Object{data: region.New(data), symbols: &SymbolTable{size: SymbolSize}}
	var ok bool
	switch Identify(data) {
	case KindObject:
		ok = o.parseObject()
	case KindBigObject:
		ok = o.parseBigObject()
	case KindImport:
		ok = o.parseImport()
	}
	if !ok {
		return &Object{symbols: &SymbolTable{size: SymbolSize}}
	}
	return o
}

func (o *Object) parseObject() bool {
	h, ok := ReadFileHeader(o.data.Bytes())
	if !ok {
		return false
	}
	secs, ok := o.data.Tail(FileHeaderSize + uint64(h.SizeOfOptionalHeader))
	if !ok {
		return false
	}
	o.sections, ok = ReadSectionHeaders(secs.Bytes(), int(h.NumberOfSections))
	if !ok {
		return false
	}
	o.kind = KindObject
	o.header = h
	o.symbols = NewSymbolTable(o.data.Bytes(), h.PointerToSymbolTable, h.NumberOfSymbols, SymbolSize)
	return true
}

func (o *Object) parseBigObject() bool {
	var h BigObjHeader
	if err := binary.Read(bytes.NewReader(o.data.Bytes()[:BigObjHeaderSize]), binary.LittleEndian, &h); err != nil {
		return false
	}
	secs, _ := o.data.Tail(BigObjHeaderSize)
	var ok bool
	o.sections, ok = ReadSectionHeaders(secs.Bytes(), int(h.NumberOfSections))
	if !ok {
		return false
	}
	o.kind = KindBigObject
	o.big = h
	o.header = FileHeader{
		Machine:              h.Machine,
		NumberOfSections:     uint16(h.NumberOfSections),
		TimeDateStamp:        h.TimeDateStamp,
		PointerToSymbolTable: h.PointerToSymbolTable,
		NumberOfSymbols:      h.NumberOfSymbols,
	}
	o.symbols = NewSymbolTable(o.data.Bytes(), h.PointerToSymbolTable, h.NumberOfSymbols, BigObjSymbolSize)
	return true
}

func (o *Object) parseImport() bool {
	var h ImportHeader
	if o.data.Len() < ImportHeaderSize {
		return false
	}
	if err := binary.Read(bytes.NewReader(o.data.Bytes()[:ImportHeaderSize]), binary.LittleEndian, &h); err != nil {
		return false
	}
	strs, ok := o.data.Sub(ImportHeaderSize, uint64(h.SizeOfData))
	if !ok {
		return false
	}
	c := strs.Cursor()
	imp := ImportObject{Header: h}
	if imp.SymbolName, ok = c.CString(); !ok {
		return false
	}
	if imp.DLLName, ok = c.CString(); !ok {
		return false
	}
	if h.NameType() == ImportNameExportAs {
		if imp.ExportName, ok = c.CString(); !ok {
			return false
		}
	}
	o.kind = KindImport
	o.imp = imp
	o.header = FileHeader{Machine: h.Machine, TimeDateStamp: h.TimeDateStamp}
	return true
}

// Kind returns the object layout.
func (o *Object) Kind() Kind {
	return o.kind
}

// Valid reports whether the object parsed.
func (o *Object) Valid() bool {
	return o.kind != KindInvalid
}

// FileHeader returns the file header. Big-object and import headers are
// folded into the same shape.
func (o *Object) FileHeader() FileHeader {
	return o.header
}

// BigObjHeader returns the /bigobj header.
func (o *Object) BigObjHeader() (BigObjHeader, bool) {
	return o.big, o.kind == KindBigObject
}

// Import returns the decoded short import object.
func (o *Object) Import() (ImportObject, bool) {
	return o.imp, o.kind == KindImport
}

// ImportHeader returns the header of a short import object.
func (o *Object) ImportHeader() (ImportHeader, bool) {
	return o.imp.Header, o.kind == KindImport
}

// Sections returns the section table.
func (o *Object) Sections() []SectionHeader {
	return o.sections
}

// Section returns section i (0-based).
func (o *Object) Section(i int) (SectionHeader, bool) {
	if i < 0 || i >= len(o.sections) {
		return SectionHeader{}, false
	}
	return o.sections[i], true
}

// SectionName resolves the name of h through the string table.
func (o *Object) SectionName(h *SectionHeader) string {
	return o.symbols.Strings().SectionName(h.Name)
}

// SectionByName returns the first section called name.
func (o *Object) SectionByName(name string) (int, bool) {
	for i := range o.sections {
		if o.SectionName(&o.sections[i]) == name {
			return i, true
		}
	}
	return -1, false
}

// SectionData returns the raw data of section i.
func (o *Object) SectionData(i int) ([]byte, bool) {
	h, ok := o.Section(i)
	if !ok || h.PointerToRawData == 0 {
		return nil, false
	}
	return o.data.Slice(uint64(h.PointerToRawData), uint64(h.SizeOfRawData))
}

// Symbols returns the symbol table.
func (o *Object) Symbols() *SymbolTable {
	return o.symbols
}

// Symbol returns symbol record n.
func (o *Object) Symbol(n uint32) (Symbol, bool) {
	return o.symbols.At(n)
}

// Strings returns the string table.
func (o *Object) Strings() StringTable {
	return o.symbols.Strings()
}

// Relocations decodes the relocations of section i. With
// IMAGE_SCN_LNK_NRELOC_OVFL the count lives in the first record.
func (o *Object) Relocations(i int) ([]Relocation, bool) {
	h, ok := o.Section(i)
	if !ok {
		return nil, false
	}
	n := uint64(h.NumberOfRelocations)
	ptr := uint64(h.PointerToRelocations)
	if h.Is(SectionLnkNRelocOvfl) && h.NumberOfRelocations == 0xffff {
		count, ok := o.data.Uint32(ptr)
		if !ok || count == 0 {
			return nil, false
		}
		n = uint64(count) - 1
		ptr += RelocationSize
	}
	b, ok := o.data.Slice(ptr, n*RelocationSize)
	if !ok {
		return nil, false
	}
	out := make([]Relocation, n)
	for j := range out {
		r := b[j*RelocationSize:]
		out[j] = Relocation{
			VirtualAddress:   binary.LittleEndian.Uint32(r[0:]),
			SymbolTableIndex: binary.LittleEndian.Uint32(r[4:]),
			Type:             binary.LittleEndian.Uint16(r[8:]),
		}
	}
	return out, true
}

// Linenumbers decodes the COFF line numbers of section i.
func (o *Object) Linenumbers(i int) ([]Linenumber, bool) {
	h, ok := o.Section(i)
	if !ok {
		return nil, false
	}
	n := uint64(h.NumberOfLinenumbers)
	b, ok := o.data.Slice(uint64(h.PointerToLinenumbers), n*LinenumberSize)
	if !ok {
		return nil, false
	}
	out := make([]Linenumber, n)
	for j := range out {
		r := b[j*LinenumberSize:]
		out[j] = Linenumber{
			Addr:       binary.LittleEndian.Uint32(r[0:]),
			Linenumber: binary.LittleEndian.Uint16(r[4:]),
		}
	}
	return out, true
}
