package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ExportDirectorySize is the size of ExportDirectory in bytes.
const ExportDirectorySize = 40

// ExportDirectory is the IMAGE_EXPORT_DIRECTORY.
type ExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// Export is one exported function.
type Export struct {
	Ordinal   uint32
	RVA       uint32
	Name      string // Empty when exported by ordinal only
	Forwarder string // "DLL.Function" when RVA points into the export directory
}

// Exports is the decoded export directory.
type Exports struct {
	Directory ExportDirectory
	DLLName   string
	Functions []Export
}

// maxExports bounds table sizes taken from untrusted headers.
const maxExports = 1 << 16

// Exports decodes the export directory.
func (img *Image) Exports() (*Exports, error) {
	b, d, err := img.directory(DirExport)
	if err != nil {
		return nil, err
	}
	if len(b) < ExportDirectorySize {
		return nil, errors.Wrap(ErrMalformed, "export directory too small")
	}
	var ed ExportDirectory
	if err := binary.Read(bytes.NewReader(b[:ExportDirectorySize]), binary.LittleEndian, &ed); err != nil {
		return nil, errors.Wrap(err, "failed to read export directory")
	}
	if ed.NumberOfFunctions > maxExports || ed.NumberOfNames > ed.NumberOfFunctions {
		return nil, errors.Wrapf(ErrMalformed, "export counts %d/%d", ed.NumberOfFunctions, ed.NumberOfNames)
	}
	out := &Exports{Directory: ed}
	out.DLLName, _ = img.stringAt(ed.Name)

	funcs, ok := img.RVAToPtr(ed.AddressOfFunctions, ed.NumberOfFunctions*4)
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "export address table outside image")
	}
	names, ok := img.RVAToPtr(ed.AddressOfNames, ed.NumberOfNames*4)
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "export name table outside image")
	}
	ordinals, ok := img.RVAToPtr(ed.AddressOfNameOrdinals, ed.NumberOfNames*2)
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "export ordinal table outside image")
	}

	byIndex := make(map[uint16]string, ed.NumberOfNames)
	for i := uint32(0); i < ed.NumberOfNames; i++ {
		idx := binary.LittleEndian.Uint16(ordinals[i*2:])
		if name, ok := img.stringAt(binary.LittleEndian.Uint32(names[i*4:])); ok {
			if _, dup := byIndex[idx]; !dup {
				byIndex[idx] = name
			}
		}
	}

	for i := uint32(0); i < ed.NumberOfFunctions; i++ {
		rva := binary.LittleEndian.Uint32(funcs[i*4:])
		if rva == 0 {
			continue
		}
		e := Export{Ordinal: ed.Base + i, RVA: rva, Name: byIndex[uint16(i)]}
		if rva >= d.VirtualAddress && uint64(rva) < uint64(d.VirtualAddress)+uint64(d.Size) {
			e.Forwarder, _ = img.stringAt(rva)
		}
		out.Functions = append(out.Functions, e)
	}
	return out, nil
}

// Lookup returns the export called name.
func (e *Exports) Lookup(name string) (Export, bool) {
	for _, f := range e.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return Export{}, false
}
