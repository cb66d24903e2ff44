// Package pe provides the Portable Executable record catalog and a navigator
// over PE images in either their on-disk or loader-mapped layout.
package pe

import (
	"bytes"
	"encoding/binary"
)

// Signatures
const (
	DOSMagic       = 0x5a4d     // "MZ"
	NTSignature    = 0x00004550 // "PE\0\0"
	Magic32        = 0x10b
	Magic64        = 0x20b
	DOSHeaderSize  = 64
	lfanewOffset   = 0x3c
	signatureSize  = 4
	checksumOffset = 64
)

// Data directory indices
const (
	DirExport = iota
	DirImport
	DirResource
	DirException
	DirSecurity
	DirBaseReloc
	DirDebug
	DirArchitecture
	DirGlobalPtr
	DirTLS
	DirLoadConfig
	DirBoundImport
	DirIAT
	DirDelayImport
	DirCLR
	DirReserved

	NumDirectories = 16
)

var directoryNames = [NumDirectories]string{
	"export", "import", "resource", "exception", "security", "basereloc",
	"debug", "architecture", "globalptr", "tls", "loadconfig", "boundimport",
	"iat", "delayimport", "clr", "reserved",
}

// DirectoryName returns a short name for a data directory index.
func DirectoryName(id int) string {
	if id < 0 || id >= NumDirectories {
		return "unknown"
	}
	return directoryNames[id]
}

// Subsystems
const (
	SubsystemUnknown        = 0
	SubsystemNative         = 1
	SubsystemWindowsGUI     = 2
	SubsystemWindowsCUI     = 3
	SubsystemEFIApplication = 10
)

// DLL characteristics
const (
	DllHighEntropyVA       = 0x0020
	DllDynamicBase         = 0x0040
	DllForceIntegrity      = 0x0080
	DllNXCompat            = 0x0100
	DllNoSEH               = 0x0400
	DllAppContainer        = 0x1000
	DllGuardCF             = 0x4000
	DllTerminalServerAware = 0x8000
)

// DOSHeader is the IMAGE_DOS_HEADER.
type DOSHeader struct {
	Magic    uint16
	Cblp     uint16
	Cp       uint16
	Crlc     uint16
	Cparhdr  uint16
	MinAlloc uint16
	MaxAlloc uint16
	SS       uint16
	SP       uint16
	Csum     uint16
	IP       uint16
	CS       uint16
	Lfarlc   uint16
	Ovno     uint16
	Res      [4]uint16
	OEMID    uint16
	OEMInfo  uint16
	Res2     [10]uint16
	Lfanew   uint32 // File offset of the NT headers
}

// DataDirectory describes one of the well-known tables. For DirSecurity
// VirtualAddress is a file offset.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// Present reports whether the directory is in use.
func (d DataDirectory) Present() bool {
	return d.Size != 0
}

// OptionalHeader32 is the IMAGE_OPTIONAL_HEADER32.
type OptionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [NumDirectories]DataDirectory
}

// OptionalHeader64 is the IMAGE_OPTIONAL_HEADER64.
type OptionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [NumDirectories]DataDirectory
}

// Optional header sizes, data directories included
const (
	OptionalHeader32Size = 224
	OptionalHeader64Size = 240
)

// OptionalHeader holds exactly one of the 32- or 64-bit layouts.
type OptionalHeader struct {
	H32 *OptionalHeader32
	H64 *OptionalHeader64
}

// readOptionalHeader decodes the optional header in b, whose length is
// SizeOfOptionalHeader. Directories beyond NumberOfRvaAndSizes or beyond the
// end of b read as absent.
func readOptionalHeader(b []byte) (OptionalHeader, bool) {
	if len(b) < 2 {
		return OptionalHeader{}, false
	}
	var full [OptionalHeader64Size]byte
	copy(full[:], b)
	r := bytes.NewReader(full[:])
	var oh OptionalHeader
	var dirOff int
	var dirs *[NumDirectories]DataDirectory
	var n uint32
	switch binary.LittleEndian.Uint16(b) {
	case Magic32:
		oh.H32 = new(OptionalHeader32)
		if err := binary.Read(r, binary.LittleEndian, oh.H32); err != nil {
			return OptionalHeader{}, false
		}
		dirOff, dirs, n = 96, &oh.H32.DataDirectory, oh.H32.NumberOfRvaAndSizes
	case Magic64:
		oh.H64 = new(OptionalHeader64)
		if err := binary.Read(r, binary.LittleEndian, oh.H64); err != nil {
			return OptionalHeader{}, false
		}
		dirOff, dirs, n = 112, &oh.H64.DataDirectory, oh.H64.NumberOfRvaAndSizes
	default:
		return OptionalHeader{}, false
	}
	if len(b) < dirOff {
		return OptionalHeader{}, false
	}
	avail := uint32((len(b) - dirOff) / 8)
	if n > avail {
		n = avail
	}
	for i := n; i < NumDirectories; i++ {
		dirs[i] = DataDirectory{}
	}
	return oh, true
}

// Is64 reports a PE32+ header.
func (o OptionalHeader) Is64() bool {
	return o.H64 != nil
}

// Valid reports whether a header is held.
func (o OptionalHeader) Valid() bool {
	return o.H32 != nil || o.H64 != nil
}

// Magic returns 0x10b or 0x20b.
func (o OptionalHeader) Magic() uint16 {
	switch {
	case o.H64 != nil:
		return o.H64.Magic
	case o.H32 != nil:
		return o.H32.Magic
	}
	return 0
}

// ImageBase returns the preferred load address.
func (o OptionalHeader) ImageBase() uint64 {
	switch {
	case o.H64 != nil:
		return o.H64.ImageBase
	case o.H32 != nil:
		return uint64(o.H32.ImageBase)
	}
	return 0
}

// AddressOfEntryPoint returns the entry point RVA.
func (o OptionalHeader) AddressOfEntryPoint() uint32 {
	switch {
	case o.H64 != nil:
		return o.H64.AddressOfEntryPoint
	case o.H32 != nil:
		return o.H32.AddressOfEntryPoint
	}
	return 0
}

// SizeOfImage returns the mapped size of the image.
func (o OptionalHeader) SizeOfImage() uint32 {
	switch {
	case o.H64 != nil:
		return o.H64.SizeOfImage
	case o.H32 != nil:
		return o.H32.SizeOfImage
	}
	return 0
}

// SizeOfHeaders returns the size of the header region.
func (o OptionalHeader) SizeOfHeaders() uint32 {
	switch {
	case o.H64 != nil:
		return o.H64.SizeOfHeaders
	case o.H32 != nil:
		return o.H32.SizeOfHeaders
	}
	return 0
}

// CheckSum returns the stored image checksum.
func (o OptionalHeader) CheckSum() uint32 {
	switch {
	case o.H64 != nil:
		return o.H64.CheckSum
	case o.H32 != nil:
		return o.H32.CheckSum
	}
	return 0
}

// Subsystem returns the subsystem field.
func (o OptionalHeader) Subsystem() uint16 {
	switch {
	case o.H64 != nil:
		return o.H64.Subsystem
	case o.H32 != nil:
		return o.H32.Subsystem
	}
	return 0
}

// DllCharacteristics returns the DLL characteristics field.
func (o OptionalHeader) DllCharacteristics() uint16 {
	switch {
	case o.H64 != nil:
		return o.H64.DllCharacteristics
	case o.H32 != nil:
		return o.H32.DllCharacteristics
	}
	return 0
}

// SectionAlignment returns the in-memory section alignment.
func (o OptionalHeader) SectionAlignment() uint32 {
	switch {
	case o.H64 != nil:
		return o.H64.SectionAlignment
	case o.H32 != nil:
		return o.H32.SectionAlignment
	}
	return 0
}

// FileAlignment returns the on-disk section alignment.
func (o OptionalHeader) FileAlignment() uint32 {
	switch {
	case o.H64 != nil:
		return o.H64.FileAlignment
	case o.H32 != nil:
		return o.H32.FileAlignment
	}
	return 0
}

// Directories returns all 16 directory slots; unused slots are zero.
func (o OptionalHeader) Directories() [NumDirectories]DataDirectory {
	switch {
	case o.H64 != nil:
		return o.H64.DataDirectory
	case o.H32 != nil:
		return o.H32.DataDirectory
	}
	return [NumDirectories]DataDirectory{}
}

// Width returns the pointer width in bytes, 4 or 8.
func (o OptionalHeader) Width() int {
	if o.Is64() {
		return 8
	}
	return 4
}
