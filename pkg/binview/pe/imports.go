package pe

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Record sizes
const (
	ImportDescriptorSize      = 20
	DelayImportDescriptorSize = 32
)

// maxThunks bounds thunk arrays that are not terminated inside the image.
const maxThunks = 1 << 16

// ImportDescriptor is the IMAGE_IMPORT_DESCRIPTOR.
type ImportDescriptor struct {
	OriginalFirstThunk uint32 // Import name table
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32 // Import address table
}

// ImportedFunction is one entry of an import name table.
type ImportedFunction struct {
	Name      string
	Hint      uint16
	Ordinal   uint16
	ByOrdinal bool
	ThunkRVA  uint32 // Slot in the import address table
}

// ImportedDLL groups the functions imported from one DLL.
type ImportedDLL struct {
	Name       string
	Descriptor ImportDescriptor
	Functions  []ImportedFunction
}

// DelayImportDescriptor is the IMAGE_DELAYLOAD_DESCRIPTOR.
type DelayImportDescriptor struct {
	Attributes                 uint32 // Bit 0 set: fields are RVAs, else VAs
	DllNameRVA                 uint32
	ModuleHandleRVA            uint32
	ImportAddressTableRVA      uint32
	ImportNameTableRVA         uint32
	BoundImportAddressTableRVA uint32
	UnloadInformationTableRVA  uint32
	TimeDateStamp              uint32
}

// DelayImportedDLL groups the functions delay-loaded from one DLL.
type DelayImportedDLL struct {
	Name       string
	Descriptor DelayImportDescriptor
	Functions  []ImportedFunction
}

// Imports decodes the import directory.
func (img *Image) Imports() ([]ImportedDLL, error) {
	b, _, err := img.directory(DirImport)
	if err != nil {
		return nil, err
	}
	c := region.NewCursor(b)
	var out []ImportedDLL
	for c.Remaining() >= ImportDescriptorSize {
		var d ImportDescriptor
		d.OriginalFirstThunk, _ = c.Uint32LE()
		d.TimeDateStamp, _ = c.Uint32LE()
		d.ForwarderChain, _ = c.Uint32LE()
		d.Name, _ = c.Uint32LE()
		d.FirstThunk, _ = c.Uint32LE()
		if d == (ImportDescriptor{}) {
			break
		}
		dll := ImportedDLL{Descriptor: d}
		var ok bool
		if dll.Name, ok = img.stringAt(d.Name); !ok {
			return out, errors.Wrapf(ErrMalformed, "import name at %#x", d.Name)
		}
		names := d.OriginalFirstThunk
		if names == 0 {
			names = d.FirstThunk
		}
		if dll.Functions, err = img.thunks(names, d.FirstThunk); err != nil {
			return out, errors.Wrapf(err, "imports of %s", dll.Name)
		}
		out = append(out, dll)
	}
	return out, nil
}

// DelayImports decodes the delay-load import directory.
func (img *Image) DelayImports() ([]DelayImportedDLL, error) {
	b, _, err := img.directory(DirDelayImport)
	if err != nil {
		return nil, err
	}
	c := region.NewCursor(b)
	var out []DelayImportedDLL
	for c.Remaining() >= DelayImportDescriptorSize {
		var d DelayImportDescriptor
		for _, f := range []*uint32{
			&d.Attributes, &d.DllNameRVA, &d.ModuleHandleRVA, &d.ImportAddressTableRVA,
			&d.ImportNameTableRVA, &d.BoundImportAddressTableRVA, &d.UnloadInformationTableRVA, &d.TimeDateStamp,
		} {
			*f, _ = c.Uint32LE()
		}
		if d == (DelayImportDescriptor{}) {
			break
		}
		name, nameTable, addrTable := d.DllNameRVA, d.ImportNameTableRVA, d.ImportAddressTableRVA
		if d.Attributes&1 == 0 {
			var ok1, ok2, ok3 bool
			name, ok1 = img.vaToRVA(uint64(name))
			nameTable, ok2 = img.vaToRVA(uint64(nameTable))
			addrTable, ok3 = img.vaToRVA(uint64(addrTable))
			if !ok1 || !ok2 || !ok3 {
				return out, errors.Wrap(ErrMalformed, "delay import addresses below image base")
			}
		}
		dll := DelayImportedDLL{Descriptor: d}
		var ok bool
		if dll.Name, ok = img.stringAt(name); !ok {
			return out, errors.Wrapf(ErrMalformed, "delay import name at %#x", name)
		}
		if dll.Functions, err = img.thunks(nameTable, addrTable); err != nil {
			return out, errors.Wrapf(err, "delay imports of %s", dll.Name)
		}
		out = append(out, dll)
	}
	return out, nil
}

// thunks walks a zero-terminated thunk array of pointer width entries.
func (img *Image) thunks(names, addrs uint32) ([]ImportedFunction, error) {
	width := uint32(img.opt.Width())
	ordinalFlag := uint64(1) << (width*8 - 1)
	var out []ImportedFunction
	for i := uint32(0); i < maxThunks; i++ {
		b, ok := img.RVAToPtr(names+i*width, width)
		if !ok {
			return out, errors.Wrapf(ErrMalformed, "thunk %d at %#x", i, names+i*width)
		}
		c := region.NewCursor(b)
		v, _ := c.Word(int(width))
		if v == 0 {
			return out, nil
		}
		f := ImportedFunction{ThunkRVA: addrs + i*width}
		if v&ordinalFlag != 0 {
			f.ByOrdinal = true
			f.Ordinal = uint16(v)
		} else {
			rva := uint32(v & 0x7fffffff)
			hint, ok := img.RVAToPtr(rva, 2)
			if !ok {
				return out, errors.Wrapf(ErrMalformed, "hint/name at %#x", rva)
			}
			f.Hint = uint16(hint[0]) | uint16(hint[1])<<8
			if f.Name, ok = img.stringAt(rva + 2); !ok {
				return out, errors.Wrapf(ErrMalformed, "import name at %#x", rva+2)
			}
		}
		out = append(out, f)
	}
	return out, errors.Wrap(ErrMalformed, "unterminated thunk array")
}
