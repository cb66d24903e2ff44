package coff

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

var (
	// ErrNoSymbol is returned for a symbol index outside the table.
	ErrNoSymbol = errors.New("coff: symbol index out of range")
	// ErrAuxOverrun is returned when auxiliary records run past the table.
	ErrAuxOverrun = errors.New("coff: auxiliary records overrun the symbol table")
	// ErrAuxMismatch is returned when a symbol's storage class and type do
	// not admit the requested auxiliary record shape.
	ErrAuxMismatch = errors.New("coff: auxiliary record does not match symbol")
)

// AuxKind enumerates the auxiliary record shapes.
type AuxKind int

// Auxiliary record kinds
const (
	AuxKindFunctionDefinition AuxKind = iota + 1
	AuxKindFunctionDelimiter
	AuxKindWeakExternal
	AuxKindFile
	AuxKindSectionDefinition
	AuxKindCLRToken
)

func (k AuxKind) String() string {
	switch k {
	case AuxKindFunctionDefinition:
		return "function"
	case AuxKindFunctionDelimiter:
		return "bf/ef"
	case AuxKindWeakExternal:
		return "weak"
	case AuxKindFile:
		return "file"
	case AuxKindSectionDefinition:
		return "section"
	case AuxKindCLRToken:
		return "clr"
	}
	return "unknown"
}

// Aux is a decoded auxiliary record.
type Aux interface {
	Kind() AuxKind
}

// AuxFunctionDefinition follows an external function symbol.
type AuxFunctionDefinition struct {
	TagIndex              uint32 // Index of the matching .bf symbol
	TotalSize             uint32
	PointerToLinenumber   uint32
	PointerToNextFunction uint32
}

// AuxFunctionDelimiter follows .bf, .ef and .lf symbols.
type AuxFunctionDelimiter struct {
	Linenumber            uint16
	PointerToNextFunction uint32 // .bf only
}

// Weak external search characteristics
const (
	WeakSearchNoLibrary = 1
	WeakSearchLibrary   = 2
	WeakSearchAlias     = 3
	WeakAntiDependency  = 4
)

// AuxWeakExternal follows a weak external symbol.
type AuxWeakExternal struct {
	TagIndex        uint32 // Symbol used when the weak one is not defined
	Characteristics uint32
}

// AuxFile carries the source file name of a .file symbol.
type AuxFile struct {
	Name string
}

// COMDAT selection values
const (
	SelectNoDuplicates = 1
	SelectAny          = 2
	SelectSameSize     = 3
	SelectExactMatch   = 4
	SelectAssociative  = 5
	SelectLargest      = 6
)

// AuxSectionDefinition follows a section symbol.
type AuxSectionDefinition struct {
	Length              uint32
	NumberOfRelocations uint16
	NumberOfLinenumbers uint16
	CheckSum            uint32
	Number              uint32 // Associated section for SelectAssociative
	Selection           uint8
}

// AuxCLRToken follows a CLR token symbol.
type AuxCLRToken struct {
	AuxType          uint8
	SymbolTableIndex uint32
}

func (AuxFunctionDefinition) Kind() AuxKind { return AuxKindFunctionDefinition }
func (AuxFunctionDelimiter) Kind() AuxKind  { return AuxKindFunctionDelimiter }
func (AuxWeakExternal) Kind() AuxKind       { return AuxKindWeakExternal }
func (AuxFile) Kind() AuxKind               { return AuxKindFile }
func (AuxSectionDefinition) Kind() AuxKind  { return AuxKindSectionDefinition }
func (AuxCLRToken) Kind() AuxKind           { return AuxKindCLRToken }

type auxDecoder struct {
	kind   AuxKind
	match  func(s *Symbol, name string) bool
	decode func(raw []byte) Aux
}

// auxDecoders is consulted in order; the first matching predicate wins.
var auxDecoders = []auxDecoder{
	{AuxKindFile, isFileSymbol, decodeFile},
	{AuxKindFunctionDelimiter, isDelimiterSymbol, decodeDelimiter},
	{AuxKindWeakExternal, isWeakExternal, decodeWeakExternal},
	{AuxKindFunctionDefinition, isFunctionDefinition, decodeFunctionDefinition},
	{AuxKindSectionDefinition, isSectionDefinition, decodeSectionDefinition},
	{AuxKindCLRToken, isCLRToken, decodeCLRToken},
}

func isFileSymbol(s *Symbol, _ string) bool {
	return s.StorageClass == ClassFile
}

func isDelimiterSymbol(s *Symbol, name string) bool {
	return s.StorageClass == ClassFunction && (name == ".bf" || name == ".ef" || name == ".lf")
}

func isWeakExternal(s *Symbol, _ string) bool {
	if s.StorageClass == ClassWeakExternal {
		return true
	}
	return s.StorageClass == ClassExternal && s.IsUndefined() && s.Value == 0 && !s.IsFunction()
}

func isFunctionDefinition(s *Symbol, _ string) bool {
	return s.StorageClass == ClassExternal && s.IsFunction() && s.SectionNumber > 0
}

func isSectionDefinition(s *Symbol, _ string) bool {
	return s.StorageClass == ClassStatic && s.SectionNumber > 0
}

func isCLRToken(s *Symbol, _ string) bool {
	return s.StorageClass == ClassCLRToken
}

func decodeFunctionDefinition(b []byte) Aux {
	return AuxFunctionDefinition{
		TagIndex:              binary.LittleEndian.Uint32(b[0:]),
		TotalSize:             binary.LittleEndian.Uint32(b[4:]),
		PointerToLinenumber:   binary.LittleEndian.Uint32(b[8:]),
		PointerToNextFunction: binary.LittleEndian.Uint32(b[12:]),
	}
}

func decodeDelimiter(b []byte) Aux {
	return AuxFunctionDelimiter{
		Linenumber:            binary.LittleEndian.Uint16(b[4:]),
		PointerToNextFunction: binary.LittleEndian.Uint32(b[12:]),
	}
}

func decodeWeakExternal(b []byte) Aux {
	return AuxWeakExternal{
		TagIndex:        binary.LittleEndian.Uint32(b[0:]),
		Characteristics: binary.LittleEndian.Uint32(b[4:]),
	}
}

func decodeFile(b []byte) Aux {
	return AuxFile{Name: strings.TrimRight(region.CString(b), " ")}
}

func decodeSectionDefinition(b []byte) Aux {
	a := AuxSectionDefinition{
		Length:              binary.LittleEndian.Uint32(b[0:]),
		NumberOfRelocations: binary.LittleEndian.Uint16(b[4:]),
		NumberOfLinenumbers: binary.LittleEndian.Uint16(b[6:]),
		CheckSum:            binary.LittleEndian.Uint32(b[8:]),
		Number:              uint32(binary.LittleEndian.Uint16(b[12:])),
		Selection:           b[14],
	}
	if len(b) >= BigObjSymbolSize {
		a.Number |= uint32(binary.LittleEndian.Uint16(b[16:])) << 16
	}
	return a
}

func decodeCLRToken(b []byte) Aux {
	return AuxCLRToken{
		AuxType:          b[0],
		SymbolTableIndex: binary.LittleEndian.Uint32(b[2:]),
	}
}

// AuxKindOf selects the auxiliary shape admitted by a symbol.
func AuxKindOf(s *Symbol, name string) (AuxKind, bool) {
	for _, d := range auxDecoders {
		if d.match(s, name) {
			return d.kind, true
		}
	}
	return 0, false
}

// DecodeAux reinterprets raw as an auxiliary record of the given kind after
// checking that the owning symbol admits that kind.
func DecodeAux(kind AuxKind, s *Symbol, name string, raw []byte) (Aux, error) {
	for _, d := range auxDecoders {
		if d.kind != kind {
			continue
		}
		if !d.match(s, name) {
			return nil, errors.Wrapf(ErrAuxMismatch, "%s record for %q (class %d, type %#x)", kind, name, s.StorageClass, s.Type)
		}
		if len(raw) < SymbolSize {
			return nil, errors.Wrapf(ErrAuxOverrun, "%s record of %d bytes", kind, len(raw))
		}
		return d.decode(raw), nil
	}
	return nil, errors.Wrapf(ErrAuxMismatch, "unknown auxiliary kind %d", kind)
}
