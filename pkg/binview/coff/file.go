// Package coff provides the Common Object File Format record catalog and a
// navigator over COFF objects, big-object files and short import objects.
package coff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Machine types
const (
	MachineUnknown = 0x0000
	MachineI386    = 0x014c
	MachineARM     = 0x01c0
	MachineARMNT   = 0x01c4
	MachineIA64    = 0x0200
	MachineAMD64   = 0x8664
	MachineARM64   = 0xaa64
	MachineARM64EC = 0xa641
)

// File header characteristics
const (
	FileRelocsStripped       = 0x0001
	FileExecutableImage      = 0x0002
	FileLineNumsStripped     = 0x0004
	FileLocalSymsStripped    = 0x0008
	FileLargeAddressAware    = 0x0020
	File32BitMachine         = 0x0100
	FileDebugStripped        = 0x0200
	FileRemovableRunFromSwap = 0x0400
	FileNetRunFromSwap       = 0x0800
	FileSystem               = 0x1000
	FileDLL                  = 0x2000
	FileUpSystemOnly         = 0x4000
)

// FileHeaderSize is the size of FileHeader in bytes.
const FileHeaderSize = 20

// FileHeader is the IMAGE_FILE_HEADER shared by objects and PE images.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// ReadFileHeader decodes a FileHeader from the start of b.
func ReadFileHeader(b []byte) (FileHeader, bool) {
	var h FileHeader
	if len(b) < FileHeaderSize {
		return h, false
	}
	if err := binary.Read(bytes.NewReader(b[:FileHeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, false
	}
	return h, true
}

// BigObjClassID identifies the ANON_OBJECT_HEADER_BIGOBJ layout.
var BigObjClassID = [16]byte{
	0xc7, 0xa1, 0xba, 0xd1, 0xee, 0xba, 0xa9, 0x4b,
	0xaf, 0x20, 0xfa, 0xf6, 0x6a, 0xa4, 0xdc, 0xb8,
}

// BigObjHeaderSize is the size of BigObjHeader in bytes.
const BigObjHeaderSize = 56

// BigObjHeader is the header of objects built with /bigobj, which widens
// section numbers to 32 bits.
type BigObjHeader struct {
	Sig1                 uint16 // Always 0
	Sig2                 uint16 // Always 0xffff
	Version              uint16 // 2 or later
	Machine              uint16
	TimeDateStamp        uint32
	ClassID              [16]byte
	SizeOfData           uint32
	Flags                uint32
	MetaDataSize         uint32
	MetaDataOffset       uint32
	NumberOfSections     uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
}

// Import object types
const (
	ImportCode  = 0
	ImportData  = 1
	ImportConst = 2
)

// Import name types
const (
	ImportOrdinal        = 0
	ImportName           = 1
	ImportNameNoPrefix   = 2
	ImportNameUndecorate = 3
	ImportNameExportAs   = 4
)

// ImportHeaderSize is the size of ImportHeader in bytes.
const ImportHeaderSize = 20

// ImportHeader is the IMPORT_OBJECT_HEADER of a short import-library member.
type ImportHeader struct {
	Sig1          uint16 // Always 0
	Sig2          uint16 // Always 0xffff
	Version       uint16 // Always 0
	Machine       uint16
	TimeDateStamp uint32
	SizeOfData    uint32 // Bytes of strings following the header
	OrdinalOrHint uint16
	TypeInfo      uint16 // Type:2, NameType:3, reserved:11
}

// Type returns the import type (code, data or const).
func (h *ImportHeader) Type() uint16 {
	return h.TypeInfo & 0x3
}

// NameType returns how the import name is derived from the symbol name.
func (h *ImportHeader) NameType() uint16 {
	return (h.TypeInfo >> 2) & 0x7
}

// ImportObject is a decoded short import object.
type ImportObject struct {
	Header     ImportHeader
	SymbolName string
	DLLName    string
	ExportName string // Only with ImportNameExportAs
}

// ImportName returns the name the loader looks up in the exporting DLL.
func (o *ImportObject) ImportName() string {
	name := o.SymbolName
	switch o.Header.NameType() {
	case ImportOrdinal:
		return ""
	case ImportNameExportAs:
		return o.ExportName
	case ImportNameNoPrefix:
		return trimPrefixChar(name)
	case ImportNameUndecorate:
		name = trimPrefixChar(name)
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
	}
	return name
}

func trimPrefixChar(s string) string {
	if s != "" && (s[0] == '?' || s[0] == '@' || s[0] == '_') {
		return s[1:]
	}
	return s
}

// MachineName returns the human-readable name for a machine type.
func MachineName(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM, MachineARMNT:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineARM64EC:
		return "ARM64EC"
	case MachineIA64:
		return "IA64"
	case MachineUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}
