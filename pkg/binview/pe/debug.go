package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Debug types
const (
	DebugTypeUnknown      = 0
	DebugTypeCOFF         = 1
	DebugTypeCodeView     = 2
	DebugTypeFPO          = 3
	DebugTypeMisc         = 4
	DebugTypeException    = 5
	DebugTypeFixup        = 6
	DebugTypeBorland      = 9
	DebugTypeCLSID        = 11
	DebugTypeRepro        = 16
	DebugTypeExDllCharact = 20
)

// CodeView signatures
const (
	CodeViewRSDS = 0x53445352 // "RSDS", PDB 7.0
	CodeViewNB10 = 0x3031424e // "NB10", PDB 2.0
)

// DebugDirectorySize is the size of DebugDirectory in bytes.
const DebugDirectorySize = 28

// DebugDirectory is the IMAGE_DEBUG_DIRECTORY.
type DebugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// DebugEntry is a debug directory entry with its payload.
type DebugEntry struct {
	Directory DebugDirectory
	Data      []byte
	CodeView  *CodeView // Set for DebugTypeCodeView entries that decode
}

// CodeView is a decoded CodeView PDB reference.
type CodeView struct {
	Signature uint32
	GUID      [16]byte // RSDS only
	Timestamp uint32   // NB10 only
	Age       uint32
	Path      string
}

// GUIDString returns the GUID as a formatted string.
func (cv *CodeView) GUIDString() string {
	return fmt.Sprintf("%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		binary.LittleEndian.Uint32(cv.GUID[0:4]),
		binary.LittleEndian.Uint16(cv.GUID[4:6]),
		binary.LittleEndian.Uint16(cv.GUID[6:8]),
		cv.GUID[8], cv.GUID[9], cv.GUID[10], cv.GUID[11],
		cv.GUID[12], cv.GUID[13], cv.GUID[14], cv.GUID[15])
}

// SymbolServerKey returns the directory name a symbol server stores the PDB
// under.
func (cv *CodeView) SymbolServerKey() string {
	if cv.Signature == CodeViewNB10 {
		return fmt.Sprintf("%08X%X", cv.Timestamp, cv.Age)
	}
	return strings.ReplaceAll(cv.GUIDString(), "-", "") + fmt.Sprintf("%X", cv.Age)
}

// ParseCodeView decodes an RSDS or NB10 record.
func ParseCodeView(b []byte) (*CodeView, bool) {
	c := region.NewCursor(b)
	sig, ok := c.Uint32LE()
	if !ok {
		return nil, false
	}
	cv := &CodeView{Signature: sig}
	switch sig {
	case CodeViewRSDS:
		g, ok := c.Bytes(16)
		if !ok {
			return nil, false
		}
		copy(cv.GUID[:], g)
	case CodeViewNB10:
		if _, ok := c.Uint32LE(); !ok { // Offset, always 0
			return nil, false
		}
		if cv.Timestamp, ok = c.Uint32LE(); !ok {
			return nil, false
		}
	default:
		return nil, false
	}
	if cv.Age, ok = c.Uint32LE(); !ok {
		return nil, false
	}
	cv.Path = region.CString(c.Rest())
	return cv, true
}

// DebugEntries decodes the debug directory. Entries whose payload lies
// outside the image are returned without data.
func (img *Image) DebugEntries() ([]DebugEntry, error) {
	b, _, err := img.directory(DirDebug)
	if err != nil {
		return nil, err
	}
	n := len(b) / DebugDirectorySize
	if n == 0 {
		return nil, errors.Wrap(ErrMalformed, "debug directory too small")
	}
	dirs := make([]DebugDirectory, n)
	if err := binary.Read(bytes.NewReader(b[:n*DebugDirectorySize]), binary.LittleEndian, dirs); err != nil {
		return nil, errors.Wrap(err, "failed to read debug directory")
	}
	out := make([]DebugEntry, n)
	for i := range out {
		e := &out[i]
		e.Directory = dirs[i]
		d := &e.Directory
		if d.SizeOfData == 0 {
			continue
		}
		var ok bool
		if d.AddressOfRawData != 0 {
			e.Data, ok = img.RVAToPtr(d.AddressOfRawData, d.SizeOfData)
		}
		if !ok && d.PointerToRawData != 0 {
			e.Data, _ = img.FOToPtr(d.PointerToRawData, d.SizeOfData)
		}
		if d.Type == DebugTypeCodeView && e.Data != nil {
			e.CodeView, _ = ParseCodeView(e.Data)
		}
	}
	return out, nil
}

// CodeView returns the first CodeView reference in the debug directory.
func (img *Image) CodeView() (*CodeView, bool) {
	entries, err := img.DebugEntries()
	if err != nil {
		return nil, false
	}
	for _, e := range entries {
		if e.CodeView != nil {
			return e.CodeView, true
		}
	}
	return nil, false
}
