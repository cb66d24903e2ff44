package fixture

import (
	"bytes"
	"encoding/binary"
)

const (
	fileAlignment    = 0x200
	sectionAlignment = 0x1000
	ntOffset         = 0x40
)

type optionalHeader64 struct {
	Magic                   uint16
	MajorLinkerVersion      uint8
	MinorLinkerVersion      uint8
	SizeOfCode              uint32
	SizeOfInitializedData   uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint     uint32
	BaseOfCode              uint32
	ImageBase               uint64
	SectionAlignment        uint32
	FileAlignment           uint32
	Versions                [6]uint16 `struc:"[6]uint16"`
	Win32VersionValue       uint32
	SizeOfImage             uint32
	SizeOfHeaders           uint32
	CheckSum                uint32
	Subsystem               uint16
	DllCharacteristics      uint16
	StackHeap               [4]uint64 `struc:"[4]uint64"`
	LoaderFlags             uint32
	NumberOfRvaAndSizes     uint32
	DataDirectory           [32]uint32 `struc:"[32]uint32"`
}

type optionalHeader32 struct {
	Magic                   uint16
	MajorLinkerVersion      uint8
	MinorLinkerVersion      uint8
	SizeOfCode              uint32
	SizeOfInitializedData   uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint     uint32
	BaseOfCode              uint32
	BaseOfData              uint32
	ImageBase               uint32
	SectionAlignment        uint32
	FileAlignment           uint32
	Versions                [6]uint16 `struc:"[6]uint16"`
	Win32VersionValue       uint32
	SizeOfImage             uint32
	SizeOfHeaders           uint32
	CheckSum                uint32
	Subsystem               uint16
	DllCharacteristics      uint16
	StackHeap               [4]uint32 `struc:"[4]uint32"`
	LoaderFlags             uint32
	NumberOfRvaAndSizes     uint32
	DataDirectory           [32]uint32 `struc:"[32]uint32"`
}

// PESection describes one image section. Raw data is padded to the file
// alignment; VirtualSize defaults to len(Data).
type PESection struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Data            []byte
	Characteristics uint32
}

// Dir is a data directory entry.
type Dir struct {
	VirtualAddress uint32
	Size           uint32
}

// Image describes a PE image. Sections must be given in ascending address
// order.
type Image struct {
	PE32          bool
	Machine       uint16
	ImageBase     uint64
	EntryPoint    uint32
	SizeOfHeaders uint32 // Defaults to 0x400
	Sections      []PESection
	Directories   map[int]Dir
	Certificates  []byte // Appended after the sections; fills the security directory
	CheckSum      uint32
}

const dirSecurity = 4

func alignTo(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

func (im *Image) headerSize() uint32 {
	if im.SizeOfHeaders == 0 {
		return 0x400
	}
	return im.SizeOfHeaders
}

func (s *PESection) virtualSize() uint32 {
	if s.VirtualSize != 0 {
		return s.VirtualSize
	}
	return uint32(len(s.Data))
}

// rawOffsets returns the PointerToRawData of each section and the end of
// the last one.
func (im *Image) rawOffsets() ([]uint32, uint32) {
	off := alignTo(im.headerSize(), fileAlignment)
	ptrs := make([]uint32, len(im.Sections))
	for i, s := range im.Sections {
		if len(s.Data) == 0 {
			continue
		}
		ptrs[i] = off
		off += alignTo(uint32(len(s.Data)), fileAlignment)
	}
	return ptrs, off
}

// CertificateOffset returns the file offset the certificate table is
// written at.
func (im Image) CertificateOffset() uint32 {
	_, end := im.rawOffsets()
	return end
}

func (im *Image) sizeOfImage() uint32 {
	end := alignTo(im.headerSize(), sectionAlignment)
	for _, s := range im.Sections {
		end = max(end, alignTo(s.VirtualAddress+s.virtualSize(), sectionAlignment))
	}
	return end
}

func (im *Image) headers(ptrs []uint32) []byte {
	var buf bytes.Buffer
	dos := make([]byte, ntOffset)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], ntOffset)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	var dirs [32]uint32
	for id, d := range im.Directories {
		dirs[2*id], dirs[2*id+1] = d.VirtualAddress, d.Size
	}
	if len(im.Certificates) > 0 {
		dirs[2*dirSecurity], dirs[2*dirSecurity+1] = im.CertificateOffset(), uint32(len(im.Certificates))
	}

	machine := im.Machine
	optSize := uint16(240)
	if im.PE32 {
		optSize = 224
		if machine == 0 {
			machine = 0x14c
		}
	} else if machine == 0 {
		machine = 0x8664
	}
	pack(&buf, &fileHeader{
		Machine:              machine,
		NumberOfSections:     uint16(len(im.Sections)),
		SizeOfOptionalHeader: optSize,
		Characteristics:      0x0022,
	})
	if im.PE32 {
		pack(&buf, &optionalHeader32{
			Magic:               0x10b,
			AddressOfEntryPoint: im.EntryPoint,
			ImageBase:           uint32(im.ImageBase),
			SectionAlignment:    sectionAlignment,
			FileAlignment:       fileAlignment,
			SizeOfImage:         im.sizeOfImage(),
			SizeOfHeaders:       im.headerSize(),
			CheckSum:            im.CheckSum,
			Subsystem:           3,
			NumberOfRvaAndSizes: 16,
			DataDirectory:       dirs,
		})
	} else {
		pack(&buf, &optionalHeader64{
			Magic:               0x20b,
			AddressOfEntryPoint: im.EntryPoint,
			ImageBase:           im.ImageBase,
			SectionAlignment:    sectionAlignment,
			FileAlignment:       fileAlignment,
			SizeOfImage:         im.sizeOfImage(),
			SizeOfHeaders:       im.headerSize(),
			CheckSum:            im.CheckSum,
			Subsystem:           3,
			NumberOfRvaAndSizes: 16,
			DataDirectory:       dirs,
		})
	}
	for i, s := range im.Sections {
		h := sectionHeader{
			VirtualSize:      s.virtualSize(),
			VirtualAddress:   s.VirtualAddress,
			PointerToRawData: ptrs[i],
			Characteristics:  s.Characteristics,
		}
		copy(h.Name[:], s.Name)
		if len(s.Data) > 0 {
			h.SizeOfRawData = alignTo(uint32(len(s.Data)), fileAlignment)
		}
		pack(&buf, &h)
	}
	out := make([]byte, im.headerSize())
	copy(out, buf.Bytes())
	return out
}

// Bytes returns the image in its on-disk layout.
func (im Image) Bytes() []byte {
	ptrs, end := im.rawOffsets()
	out := make([]byte, end, int(end)+len(im.Certificates))
	copy(out, im.headers(ptrs))
	for i, s := range im.Sections {
		copy(out[ptrs[i]:], s.Data)
	}
	return append(out, im.Certificates...)
}

// Mapped returns the image as the loader lays it out in memory.
func (im Image) Mapped() []byte {
	ptrs, _ := im.rawOffsets()
	out := make([]byte, im.sizeOfImage())
	copy(out, im.headers(ptrs))
	for _, s := range im.Sections {
		copy(out[s.VirtualAddress:], s.Data)
	}
	return out
}

// Blob assembles section contents at a known RVA.
type Blob struct {
	base uint32
	buf  bytes.Buffer
}

// NewBlob starts a blob that will be placed at rva.
func NewBlob(rva uint32) *Blob {
	return &Blob{base: rva}
}

// Here returns the RVA of the next byte written.
func (b *Blob) Here() uint32 {
	return b.base + uint32(b.buf.Len())
}

// Align pads with zeros to a multiple of n.
func (b *Blob) Align(n int) *Blob {
	for b.buf.Len()%n != 0 {
		b.buf.WriteByte(0)
	}
	return b
}

// U16 appends a little-endian uint16.
func (b *Blob) U16(v uint16) *Blob {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// U32 appends a little-endian uint32.
func (b *Blob) U32(v uint32) *Blob {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// U64 appends a little-endian uint64.
func (b *Blob) U64(v uint64) *Blob {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// Raw appends p.
func (b *Blob) Raw(p []byte) *Blob {
	b.buf.Write(p)
	return b
}

// CString appends s and a NUL terminator.
func (b *Blob) CString(s string) *Blob {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// PutU32 overwrites the uint32 at rva.
func (b *Blob) PutU32(rva, v uint32) {
	binary.LittleEndian.PutUint32(b.buf.Bytes()[rva-b.base:], v)
}

// PutU64 overwrites the uint64 at rva.
func (b *Blob) PutU64(rva uint32, v uint64) {
	binary.LittleEndian.PutUint64(b.buf.Bytes()[rva-b.base:], v)
}

// Bytes returns the assembled contents.
func (b *Blob) Bytes() []byte {
	return b.buf.Bytes()
}
