package pe

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

var (
	// ErrNoDirectory is returned when a data directory is absent or does not
	// resolve inside the image.
	ErrNoDirectory = errors.New("pe: directory not present")
	// ErrMalformed is returned when a directory's contents point outside the
	// image or are internally inconsistent.
	ErrMalformed = errors.New("pe: malformed directory")
)

// DirectoryKind names the record shape stored in a data directory. Shapes
// that differ by pointer width have distinct kinds.
type DirectoryKind int

// Directory kinds
const (
	KindUnknown DirectoryKind = iota
	KindExport
	KindImport32
	KindImport64
	KindResource
	KindException
	KindSecurity
	KindBaseReloc
	KindDebug
	KindTLS32
	KindTLS64
	KindLoadConfig32
	KindLoadConfig64
	KindDelayImport32
	KindDelayImport64
	KindBoundImport
	KindIAT
	KindCLR
)

var kindNames = map[DirectoryKind]string{
	KindExport:        "export",
	KindImport32:      "import32",
	KindImport64:      "import64",
	KindResource:      "resource",
	KindException:     "exception",
	KindSecurity:      "security",
	KindBaseReloc:     "basereloc",
	KindDebug:         "debug",
	KindTLS32:         "tls32",
	KindTLS64:         "tls64",
	KindLoadConfig32:  "loadconfig32",
	KindLoadConfig64:  "loadconfig64",
	KindDelayImport32: "delayimport32",
	KindDelayImport64: "delayimport64",
	KindBoundImport:   "boundimport",
	KindIAT:           "iat",
	KindCLR:           "clr",
}

func (k DirectoryKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

type kindKey struct {
	id    int
	width int
}

// directoryKinds maps (directory id, pointer width) to a record shape. A
// zero width matches either width.
var directoryKinds = map[kindKey]DirectoryKind{
	{DirExport, 0}:      KindExport,
	{DirImport, 4}:      KindImport32,
	{DirImport, 8}:      KindImport64,
	{DirResource, 0}:    KindResource,
	{DirException, 0}:   KindException,
	{DirSecurity, 0}:    KindSecurity,
	{DirBaseReloc, 0}:   KindBaseReloc,
	{DirDebug, 0}:       KindDebug,
	{DirTLS, 4}:         KindTLS32,
	{DirTLS, 8}:         KindTLS64,
	{DirLoadConfig, 4}:  KindLoadConfig32,
	{DirLoadConfig, 8}:  KindLoadConfig64,
	{DirBoundImport, 0}: KindBoundImport,
	{DirIAT, 0}:         KindIAT,
	{DirDelayImport, 4}: KindDelayImport32,
	{DirDelayImport, 8}: KindDelayImport64,
	{DirCLR, 0}:         KindCLR,
}

// KindOf returns the record shape of directory id in an image whose pointers
// are width bytes wide.
func KindOf(id, width int) DirectoryKind {
	if k, ok := directoryKinds[kindKey{id, width}]; ok {
		return k
	}
	return directoryKinds[kindKey{id, 0}]
}

// DirectoryKind returns the record shape of directory id in this image.
func (img *Image) DirectoryKind(id int) DirectoryKind {
	return KindOf(id, img.opt.Width())
}

// Decode decodes directory id into its typed representation: Exports,
// []ImportedDLL, []DelayImportedDLL, []DebugEntry, *TLSDirectory,
// *LoadConfig, []BaseRelocBlock, []Certificate, resource.Cursor or, for
// shapes without a decoder, the raw directory bytes.
func (img *Image) Decode(id int) (interface{}, error) {
	switch img.DirectoryKind(id) {
	case KindExport:
		return img.Exports()
	case KindImport32, KindImport64:
		return img.Imports()
	case KindDelayImport32, KindDelayImport64:
		return img.DelayImports()
	case KindDebug:
		return img.DebugEntries()
	case KindTLS32, KindTLS64:
		return img.TLS()
	case KindLoadConfig32, KindLoadConfig64:
		return img.LoadConfig()
	case KindBaseReloc:
		return img.BaseRelocations()
	case KindSecurity:
		return img.Certificates()
	case KindResource:
		return img.Resources()
	}
	b, ok := img.DirectoryBytes(id)
	if !ok {
		return nil, errors.Wrapf(ErrNoDirectory, "%s", DirectoryName(id))
	}
	return b, nil
}

// directory returns the bytes of directory id or a wrapped ErrNoDirectory.
func (img *Image) directory(id int) ([]byte, DataDirectory, error) {
	d, ok := img.Directory(id)
	if !ok {
		return nil, d, errors.Wrapf(ErrNoDirectory, "%s", DirectoryName(id))
	}
	b, ok := img.DirectoryBytes(id)
	if !ok {
		return nil, d, errors.Wrapf(ErrMalformed, "%s directory at %#x+%#x outside image", DirectoryName(id), d.VirtualAddress, d.Size)
	}
	return b, d, nil
}

// stringAt reads a NUL-terminated string at rva, bounded by the section or
// header region containing it.
func (img *Image) stringAt(rva uint32) (string, bool) {
	var b []byte
	if i, ok := img.RVAToSection(rva); ok {
		s := &img.sections[i]
		limit := s.VirtualExtent()
		if img.layout == LayoutFile {
			limit = rawBacked(s)
		}
		b, ok = img.RVAToPtr(rva, s.VirtualAddress+limit-rva)
		if !ok {
			return "", false
		}
	} else {
		hdr := img.sizeOfHeaders()
		if rva >= hdr {
			return "", false
		}
		if b, ok = img.RVAToPtr(rva, hdr-rva); !ok {
			return "", false
		}
	}
	c := region.NewCursor(b)
	return c.CString()
}

// vaToRVA converts a virtual address to an RVA relative to the image base.
func (img *Image) vaToRVA(va uint64) (uint32, bool) {
	base := img.ImageBase()
	if va < base || va-base > 0xffffffff {
		return 0, false
	}
	return uint32(va - base), true
}
