package ar

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

var (
	// ErrTruncated is reported when a header or payload runs past the buffer.
	ErrTruncated = errors.New("ar: truncated member")
	// ErrMalformed is reported for unparsable header fields.
	ErrMalformed = errors.New("ar: malformed member header")
)

// Entry is one archive member.
type Entry struct {
	Header  Header
	Name    string // Resolved member name
	Offset  uint64 // File offset of the member header
	Payload []byte // Member contents, without padding
}

// Archive is a view over an `ar` container. An Archive built from bytes that
// do not start with Magic is empty.
type Archive struct {
	data  region.Region
	valid bool

	first    uint64 // Offset of the first member after the leading index members
	symtab   []byte
	symtab64 []byte
	strtab   []byte
}

// New wraps data as an archive.
func New(data []byte) *Archive {
	a := &Archive{data: region.New(data)}
	if len(data) < len(Magic) || string(data[:len(Magic)]) != Magic {
		return a
	}
	a.valid = true
	a.first = uint64(len(Magic))
	a.scanIndexMembers()
	return a
}

// Valid reports whether the buffer carried the archive signature.
func (a *Archive) Valid() bool {
	return a.valid
}

// scanIndexMembers records every special member and the offset of the
// first regular one. Iteration never changes the Archive afterwards.
func (a *Archive) scanIndexMembers() {
	leading := true
	for off := a.first; off+1 < uint64(a.data.Len()); {
		e, next, err := a.entryAt(off)
		if err != nil {
			return
		}
		id := e.Header.Identifier()
		if IsSpecial(id) {
			a.keepSpecial(id, e.Payload)
		} else {
			leading = false
		}
		off = next
		if leading {
			a.first = next
		}
	}
}

func (a *Archive) keepSpecial(id string, payload []byte) {
	switch id {
	case SymbolTableName:
		// Microsoft archives carry a second little-endian linker member
		// under the same name; only the first is the System V table.
		if a.symtab == nil {
			a.symtab = payload
		}
	case SymbolTable64Name:
		if a.symtab64 == nil {
			a.symtab64 = payload
		}
	case StringTableName:
		if a.strtab == nil {
			a.strtab = payload
		}
	}
}

// entryAt decodes the member whose header starts at off and returns the
// offset of the following header.
func (a *Archive) entryAt(off uint64) (Entry, uint64, error) {
	hb, ok := a.data.Slice(off, HeaderSize)
	if !ok {
		return Entry{}, 0, errors.Wrapf(ErrTruncated, "header at %#x", off)
	}
	h := parseHeader(hb)
	if !h.Valid() {
		return Entry{}, 0, errors.Wrapf(ErrMalformed, "terminator at %#x", off)
	}
	size, ok := h.PayloadSize()
	if !ok {
		return Entry{}, 0, errors.Wrapf(ErrMalformed, "size field at %#x", off)
	}
	payload, ok := a.data.Slice(off+HeaderSize, size)
	if !ok {
		return Entry{}, 0, errors.Wrapf(ErrTruncated, "payload of %d bytes at %#x", size, off+HeaderSize)
	}
	next := off + HeaderSize + region.Even(size)
	return Entry{Header: h, Offset: off, Payload: payload}, next, nil
}

// StringTable returns the `//` long-name table, if any.
func (a *Archive) StringTable() []byte {
	return a.strtab
}

// SymbolTable returns the raw System V symbol table, if any.
func (a *Archive) SymbolTable() []byte {
	return a.symtab
}

// ResolveName maps a member identifier to its name. Long names are looked up
// in the `//` table; short GNU names lose their trailing slash.
func (a *Archive) ResolveName(id string) (string, bool) {
	if len(id) > 1 && id[0] == '/' && isDigits(id[1:]) {
		off, err := strconv.ParseUint(id[1:], 10, 64)
		if err != nil || off >= uint64(len(a.strtab)) {
			return "", false
		}
		name := a.strtab[off:]
		if i := bytes.IndexAny(name, "\n\x00"); i >= 0 {
			name = name[:i]
		}
		return strings.TrimSuffix(string(name), "/"), true
	}
	if id != "/" && id != "//" {
		id = strings.TrimSuffix(id, "/")
	}
	return id, true
}

// resolve fills in e.Name, consuming an inline BSD long name when present.
func (a *Archive) resolve(e *Entry) bool {
	id := e.Header.Identifier()
	if strings.HasPrefix(id, bsdLongNamePrefix) {
		n, err := strconv.ParseUint(id[len(bsdLongNamePrefix):], 10, 64)
		if err != nil || n > uint64(len(e.Payload)) {
			return false
		}
		e.Name = region.CString(e.Payload[:n])
		e.Payload = e.Payload[n:]
		return true
	}
	name, ok := a.ResolveName(id)
	e.Name = name
	return ok
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// Entries returns an iterator over the regular members.
func (a *Archive) Entries() *Iterator {
	it := &Iterator{a: a, off: a.first}
	if !a.valid {
		it.done = true
	}
	return it
}

// Members collects every regular member. Iteration errors end the list.
func (a *Archive) Members() []Entry {
	var out []Entry
	it := a.Entries()
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out
}

// Iterator walks archive members in file order.
type Iterator struct {
	a    *Archive
	off  uint64
	cur  Entry
	err  error
	done bool
}

// Next advances to the next regular member.
func (it *Iterator) Next() bool {
	for !it.done {
		// A single pad byte may trail the last member.
		if it.off+1 >= uint64(it.a.data.Len()) {
			it.done = true
			return false
		}
		e, next, err := it.a.entryAt(it.off)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.off = next
		id := e.Header.Identifier()
		if IsSpecial(id) {
			continue
		}
		if !it.a.resolve(&e) {
			it.err = errors.Wrapf(ErrMalformed, "unresolvable name %q at %#x", id, e.Offset)
			it.done = true
			return false
		}
		it.cur = e
		return true
	}
	return false
}

// Entry returns the current member.
func (it *Iterator) Entry() Entry {
	return it.cur
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
