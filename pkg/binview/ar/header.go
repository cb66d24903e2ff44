// Package ar implements read-only navigation of Unix `ar` archives,
// including the System V symbol table and the `//` long-name table used by
// GNU and Microsoft toolchains.
package ar

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// Magic is the 8-byte signature at the start of every archive.
const Magic = "!<arch>\n"

// HeaderSize is the size of a member header in bytes.
const HeaderSize = 60

// Terminator is the little-endian value of the two bytes ("`\n") closing
// every member header.
const Terminator = 0x0A60

// Special member identifiers.
const (
	SymbolTableName   = "/"
	SymbolTable64Name = "/SYM64/"
	StringTableName   = "//"
	ECSymbolsName     = "/<ECSYMBOLS>/"
	BSDSymbolTable    = "__.SYMDEF"
	BSDSymbolSorted   = "__.SYMDEF SORTED"
	bsdLongNamePrefix = "#1/"
)

// Header is the fixed 60-byte member header. All fields are space-padded
// ASCII.
type Header struct {
	Name       [16]byte // Identifier, "/" + decimal offset for long names
	Date       [12]byte // Decimal modification time
	UID        [6]byte  // Decimal owner id
	GID        [6]byte  // Decimal group id
	Mode       [8]byte  // Octal file mode
	Size       [10]byte // Decimal payload size
	Terminator [2]byte  // "`\n"
}

func parseHeader(b []byte) Header {
	var h Header
	copy(h.Name[:], b[0:16])
	copy(h.Date[:], b[16:28])
	copy(h.UID[:], b[28:34])
	copy(h.GID[:], b[34:40])
	copy(h.Mode[:], b[40:48])
	copy(h.Size[:], b[48:58])
	copy(h.Terminator[:], b[58:60])
	return h
}

func field(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}

// Identifier returns the raw identifier with padding removed.
func (h *Header) Identifier() string {
	return field(h.Name[:])
}

// Valid reports whether the header ends with the expected terminator.
func (h *Header) Valid() bool {
	return binary.LittleEndian.Uint16(h.Terminator[:]) == Terminator
}

// PayloadSize parses the decimal payload size.
func (h *Header) PayloadSize() (uint64, bool) {
	v, err := strconv.ParseUint(field(h.Size[:]), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ModTime parses the decimal timestamp. Blank fields report zero.
func (h *Header) ModTime() int64 {
	v, _ := strconv.ParseInt(field(h.Date[:]), 10, 64)
	return v
}

// Owner parses the decimal owner id.
func (h *Header) Owner() uint32 {
	v, _ := strconv.ParseUint(field(h.UID[:]), 10, 32)
	return uint32(v)
}

// Group parses the decimal group id.
func (h *Header) Group() uint32 {
	v, _ := strconv.ParseUint(field(h.GID[:]), 10, 32)
	return uint32(v)
}

// FileMode parses the octal mode.
func (h *Header) FileMode() uint32 {
	v, _ := strconv.ParseUint(field(h.Mode[:]), 8, 32)
	return uint32(v)
}

// IsSpecial reports whether id names one of the index members that normal
// iteration skips.
func IsSpecial(id string) bool {
	switch id {
	case SymbolTableName, SymbolTable64Name, StringTableName, ECSymbolsName,
		BSDSymbolTable, BSDSymbolSorted:
		return true
	}
	return false
}
