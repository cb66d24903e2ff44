package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
)

var bigObjClassID = [16]byte{
	0xc7, 0xa1, 0xba, 0xd1, 0xee, 0xba, 0xa9, 0x4b,
	0xaf, 0x20, 0xfa, 0xf6, 0x6a, 0xa4, 0xdc, 0xb8,
}

const nrelocOverflow = 0x01000000

type fileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

type bigObjHeader struct {
	Sig1                 uint16
	Sig2                 uint16
	Version              uint16
	Machine              uint16
	TimeDateStamp        uint32
	ClassID              [16]byte `struc:"[16]byte"`
	SizeOfData           uint32
	Flags                uint32
	MetaDataSize         uint32
	MetaDataOffset       uint32
	NumberOfSections     uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
}

type sectionHeader struct {
	Name                 [8]byte `struc:"[8]byte"`
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

type importHeader struct {
	Sig1          uint16
	Sig2          uint16
	Version       uint16
	Machine       uint16
	TimeDateStamp uint32
	SizeOfData    uint32
	OrdinalOrHint uint16
	TypeInfo      uint16
}

func pack(buf *bytes.Buffer, v interface{}) {
	if err := struc.PackWithOptions(buf, v, little); err != nil {
		panic(err)
	}
}

// Section describes one object section.
type Section struct {
	Name            string
	Data            []byte
	VirtualSize     uint32
	VirtualAddress  uint32
	Characteristics uint32
	Relocations     int // Synthetic relocations: record i has VirtualAddress i
	Linenumbers     int // Synthetic line numbers: record i has Linenumber i+1
}

// Symbol describes one symbol table entry. Each Aux element is one raw
// auxiliary record, zero-padded to the record size.
type Symbol struct {
	Name    string
	Value   uint32
	Section int32
	Type    uint16
	Class   uint8
	Aux     [][]byte
}

// Object describes a COFF object file.
type Object struct {
	Machine  uint16
	BigObj   bool
	Sections []Section
	Symbols  []Symbol
}

type stringTable struct {
	buf bytes.Buffer
}

func (st *stringTable) add(s string) uint32 {
	off := uint32(4 + st.buf.Len())
	st.buf.WriteString(s)
	st.buf.WriteByte(0)
	return off
}

func (st *stringTable) bytes() []byte {
	out := make([]byte, 4, 4+st.buf.Len())
	binary.LittleEndian.PutUint32(out, uint32(4+st.buf.Len()))
	return append(out, st.buf.Bytes()...)
}

// Bytes lays the object out as header, section table, section data,
// relocations, line numbers, symbols and string table.
func (o Object) Bytes() []byte {
	hdrSize := 20
	symSize := 18
	if o.BigObj {
		hdrSize = 56
		symSize = 20
	}
	var strs stringTable

	off := hdrSize + 40*len(o.Sections)
	hdrs := make([]sectionHeader, len(o.Sections))
	var body bytes.Buffer
	for i, s := range o.Sections {
		h := &hdrs[i]
		if len(s.Name) > 8 {
			copy(h.Name[:], fmt.Sprintf("/%d", strs.add(s.Name)))
		} else {
			copy(h.Name[:], s.Name)
		}
		h.VirtualSize = s.VirtualSize
		h.VirtualAddress = s.VirtualAddress
		h.Characteristics = s.Characteristics
		if len(s.Data) > 0 {
			h.SizeOfRawData = uint32(len(s.Data))
			h.PointerToRawData = uint32(off + body.Len())
			body.Write(s.Data)
		}
	}
	for i, s := range o.Sections {
		h := &hdrs[i]
		if s.Relocations > 0 {
			h.PointerToRelocations = uint32(off + body.Len())
			n := s.Relocations
			if n >= 0xffff {
				h.NumberOfRelocations = 0xffff
				h.Characteristics |= nrelocOverflow
				writeRelocation(&body, uint32(n+1), 0, 0)
			} else {
				h.NumberOfRelocations = uint16(n)
			}
			for j := 0; j < n; j++ {
				writeRelocation(&body, uint32(j), uint32(j%7), 4)
			}
		}
		if s.Linenumbers > 0 {
			h.PointerToLinenumbers = uint32(off + body.Len())
			h.NumberOfLinenumbers = uint16(s.Linenumbers)
			for j := 0; j < s.Linenumbers; j++ {
				binary.Write(&body, binary.LittleEndian, uint32(0x10*j))
				binary.Write(&body, binary.LittleEndian, uint16(j+1))
			}
		}
	}

	var syms bytes.Buffer
	var nrecs uint32
	for _, s := range o.Symbols {
		rec := make([]byte, symSize)
		if len(s.Name) > 8 {
			binary.LittleEndian.PutUint32(rec[4:], strs.add(s.Name))
		} else {
			copy(rec, s.Name)
		}
		binary.LittleEndian.PutUint32(rec[8:], s.Value)
		tail := 14
		if o.BigObj {
			binary.LittleEndian.PutUint32(rec[12:], uint32(s.Section))
			tail = 16
		} else {
			binary.LittleEndian.PutUint16(rec[12:], uint16(int16(s.Section)))
		}
		binary.LittleEndian.PutUint16(rec[tail:], s.Type)
		rec[tail+2] = s.Class
		rec[tail+3] = uint8(len(s.Aux))
		syms.Write(rec)
		for _, a := range s.Aux {
			r := make([]byte, symSize)
			copy(r, a)
			syms.Write(r)
		}
		nrecs += 1 + uint32(len(s.Aux))
	}

	var symPtr uint32
	if nrecs > 0 {
		symPtr = uint32(off + body.Len())
	}

	var buf bytes.Buffer
	if o.BigObj {
		pack(&buf, &bigObjHeader{
			Sig2:                 0xffff,
			Version:              2,
			Machine:              o.Machine,
			ClassID:              bigObjClassID,
			NumberOfSections:     uint32(len(o.Sections)),
			PointerToSymbolTable: symPtr,
			NumberOfSymbols:      nrecs,
		})
	} else {
		pack(&buf, &fileHeader{
			Machine:              o.Machine,
			NumberOfSections:     uint16(len(o.Sections)),
			PointerToSymbolTable: symPtr,
			NumberOfSymbols:      nrecs,
		})
	}
	for i := range hdrs {
		pack(&buf, &hdrs[i])
	}
	buf.Write(body.Bytes())
	buf.Write(syms.Bytes())
	if nrecs > 0 {
		buf.Write(strs.bytes())
	}
	return buf.Bytes()
}

func writeRelocation(buf *bytes.Buffer, va, sym uint32, typ uint16) {
	binary.Write(buf, binary.LittleEndian, va)
	binary.Write(buf, binary.LittleEndian, sym)
	binary.Write(buf, binary.LittleEndian, typ)
}

// ImportObject builds a short import-library member.
func ImportObject(machine uint16, symbol, dll string, typ, nameType, hint uint16) []byte {
	strs := symbol + "\x00" + dll + "\x00"
	var buf bytes.Buffer
	pack(&buf, &importHeader{
		Sig2:          0xffff,
		Machine:       machine,
		SizeOfData:    uint32(len(strs)),
		OrdinalOrHint: hint,
		TypeInfo:      typ&0x3 | (nameType&0x7)<<2,
	})
	buf.WriteString(strs)
	return buf.Bytes()
}
