package coff

import (
	"encoding/binary"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Symbol record sizes
const (
	SymbolSize       = 18
	BigObjSymbolSize = 20
)

// Reserved section numbers
const (
	SectionUndefined = 0
	SectionAbsolute  = -1
	SectionDebug     = -2
)

// Base types (low nibble of Type)
const (
	TypeNull   = 0
	TypeVoid   = 1
	TypeChar   = 2
	TypeShort  = 3
	TypeInt    = 4
	TypeLong   = 5
	TypeFloat  = 6
	TypeDouble = 7
	TypeStruct = 8
	TypeUnion  = 9
	TypeEnum   = 10
	TypeMOE    = 11
	TypeByte   = 12
	TypeWord   = 13
	TypeUint   = 14
	TypeDword  = 15
)

// Derived types (bits 4-5 of Type)
const (
	DerivedNull     = 0
	DerivedPointer  = 1
	DerivedFunction = 2
	DerivedArray    = 3
)

const (
	baseTypeMask     = 0x000f
	derivedTypeMask  = 0x0030
	derivedTypeShift = 4
)

// Storage classes
const (
	ClassEndOfFunction   = 0xff
	ClassNull            = 0
	ClassAutomatic       = 1
	ClassExternal        = 2
	ClassStatic          = 3
	ClassRegister        = 4
	ClassExternalDef     = 5
	ClassLabel           = 6
	ClassUndefinedLabel  = 7
	ClassMemberOfStruct  = 8
	ClassArgument        = 9
	ClassStructTag       = 10
	ClassMemberOfUnion   = 11
	ClassUnionTag        = 12
	ClassTypeDefinition  = 13
	ClassUndefinedStatic = 14
	ClassEnumTag         = 15
	ClassMemberOfEnum    = 16
	ClassRegisterParam   = 17
	ClassBitField        = 18
	ClassBlock           = 100
	ClassFunction        = 101
	ClassEndOfStruct     = 102
	ClassFile            = 103
	ClassSection         = 104
	ClassWeakExternal    = 105
	ClassCLRToken        = 107
)

// Symbol is one symbol table record. SectionNumber is widened to 32 bits so
// that standard and big-object tables share a representation.
type Symbol struct {
	Name               [8]byte // Inline name, or zero + string table offset
	Value              uint32
	SectionNumber      int32
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

func decodeSymbol(b []byte, size int) Symbol {
	var s Symbol
	copy(s.Name[:], b[0:8])
	s.Value = binary.LittleEndian.Uint32(b[8:])
	var off int
	if size == BigObjSymbolSize {
		s.SectionNumber = int32(binary.LittleEndian.Uint32(b[12:]))
		off = 16
	} else {
		s.SectionNumber = int32(int16(binary.LittleEndian.Uint16(b[12:])))
		off = 14
	}
	s.Type = binary.LittleEndian.Uint16(b[off:])
	s.StorageClass = b[off+2]
	s.NumberOfAuxSymbols = b[off+3]
	return s
}

// BaseType returns the base type nibble.
func (s *Symbol) BaseType() uint16 {
	return s.Type & baseTypeMask
}

// DerivedType returns the derived type field.
func (s *Symbol) DerivedType() uint16 {
	return (s.Type & derivedTypeMask) >> derivedTypeShift
}

// IsFunction reports a function-derived type.
func (s *Symbol) IsFunction() bool {
	return s.DerivedType() == DerivedFunction
}

// IsUndefined reports an external symbol with no defining section.
func (s *Symbol) IsUndefined() bool {
	return s.SectionNumber == SectionUndefined
}

// IsAbsolute reports a symbol whose value is not an address.
func (s *Symbol) IsAbsolute() bool {
	return s.SectionNumber == SectionAbsolute
}

// IsDebug reports a debugging symbol.
func (s *Symbol) IsDebug() bool {
	return s.SectionNumber == SectionDebug
}

// NameOffset returns the string table offset for names stored indirectly.
func (s *Symbol) NameOffset() (uint32, bool) {
	if binary.LittleEndian.Uint32(s.Name[:4]) != 0 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(s.Name[4:]), true
}

// SymbolTable is a view over a symbol table and its trailing string table.
type SymbolTable struct {
	data    region.Region
	count   uint32
	size    int
	strings StringTable
}

// NewSymbolTable wraps count records of recordSize bytes at ptr in data. The
// string table is located immediately after the records. A table that does
// not fit in data is empty.
func NewSymbolTable(data []byte, ptr, count uint32, recordSize int) *SymbolTable {
	t := &SymbolTable{size: recordSize}
	if ptr == 0 || count == 0 {
		return t
	}
	all := region.New(data)
	n := uint64(count) * uint64(recordSize)
	recs, ok := all.Sub(uint64(ptr), n)
	if !ok {
		return t
	}
	t.data = recs
	t.count = count
	t.strings = ReadStringTable(data, uint64(ptr)+n)
	return t
}

// Len returns the number of records, auxiliary records included.
func (t *SymbolTable) Len() int {
	return int(t.count)
}

// RecordSize returns 18 for standard tables and 20 for big-object tables.
func (t *SymbolTable) RecordSize() int {
	return t.size
}

// Strings returns the string table following the symbols.
func (t *SymbolTable) Strings() StringTable {
	return t.strings
}

func (t *SymbolTable) record(n uint32) ([]byte, bool) {
	if n >= t.count {
		return nil, false
	}
	return t.data.Slice(uint64(n)*uint64(t.size), uint64(t.size))
}

// At returns record n interpreted as a symbol. Callers walking the table
// should use an iterator, which steps over auxiliary records.
func (t *SymbolTable) At(n uint32) (Symbol, bool) {
	b, ok := t.record(n)
	if !ok {
		return Symbol{}, false
	}
	return decodeSymbol(b, t.size), true
}

// AuxRecords returns the raw auxiliary records following symbol n. A count
// running past the end of the table fails.
func (t *SymbolTable) AuxRecords(n uint32) ([][]byte, bool) {
	s, ok := t.At(n)
	if !ok {
		return nil, false
	}
	if uint64(n)+uint64(s.NumberOfAuxSymbols) >= uint64(t.count) && s.NumberOfAuxSymbols > 0 {
		return nil, false
	}
	out := make([][]byte, s.NumberOfAuxSymbols)
	for i := range out {
		out[i], _ = t.record(n + 1 + uint32(i))
	}
	return out, true
}

// Name resolves the symbol name, inline or through the string table.
func (t *SymbolTable) Name(s *Symbol) string {
	if off, ok := s.NameOffset(); ok {
		name, _ := t.strings.String(off)
		return name
	}
	return region.CString(s.Name[:])
}

// Aux decodes the auxiliary records of symbol n. Consecutive file-name
// records are joined into one AuxFile.
func (t *SymbolTable) Aux(n uint32) ([]Aux, error) {
	s, ok := t.At(n)
	if !ok {
		return nil, ErrNoSymbol
	}
	recs, ok := t.AuxRecords(n)
	if !ok {
		return nil, ErrAuxOverrun
	}
	if len(recs) == 0 {
		return nil, nil
	}
	name := t.Name(&s)
	kind, ok := AuxKindOf(&s, name)
	if !ok {
		return nil, ErrAuxMismatch
	}
	if kind == AuxKindFile {
		var joined []byte
		for _, r := range recs {
			joined = append(joined, r...)
		}
		a, err := DecodeAux(kind, &s, name, joined)
		if err != nil {
			return nil, err
		}
		return []Aux{a}, nil
	}
	out := make([]Aux, 0, len(recs))
	for _, r := range recs {
		a, err := DecodeAux(kind, &s, name, r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Iter returns an iterator over the primary symbols.
func (t *SymbolTable) Iter() *SymbolIterator {
	return &SymbolIterator{t: t}
}

// SymbolIterator visits primary symbols, stepping over auxiliary records.
type SymbolIterator struct {
	t     *SymbolTable
	next  uint32
	index uint32
	sym   Symbol
}

// Next advances to the next primary symbol. Iteration stops at a symbol
// whose auxiliary count overruns the table.
func (it *SymbolIterator) Next() bool {
	s, ok := it.t.At(it.next)
	if !ok {
		return false
	}
	step := 1 + uint64(s.NumberOfAuxSymbols)
	if uint64(it.next)+step > uint64(it.t.count) {
		it.next = it.t.count
		return false
	}
	it.index = it.next
	it.sym = s
	it.next += uint32(step)
	return true
}

// Index returns the table index of the current symbol.
func (it *SymbolIterator) Index() uint32 {
	return it.index
}

// Symbol returns the current symbol.
func (it *SymbolIterator) Symbol() Symbol {
	return it.sym
}

// Name returns the resolved name of the current symbol.
func (it *SymbolIterator) Name() string {
	return it.t.Name(&it.sym)
}
