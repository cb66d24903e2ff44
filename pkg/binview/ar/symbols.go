package ar

import (
	"github.com/elliotchance/orderedmap"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// SymbolIndex maps symbol names to the members defining them, in symbol
// table order. A name may map to several members.
type SymbolIndex struct {
	m *orderedmap.OrderedMap // string -> []Entry
}

func newSymbolIndex() *SymbolIndex {
	return &SymbolIndex{m: orderedmap.NewOrderedMap()}
}

func (s *SymbolIndex) add(name string, e Entry) {
	var list []Entry
	if v, ok := s.m.Get(name); ok {
		list = v.([]Entry)
	}
	s.m.Set(name, append(list, e))
}

// Len returns the number of distinct names.
func (s *SymbolIndex) Len() int {
	return s.m.Len()
}

// Names returns the distinct names in table order.
func (s *SymbolIndex) Names() []string {
	keys := s.m.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.(string)
	}
	return names
}

// Lookup returns the members defining name.
func (s *SymbolIndex) Lookup(name string) []Entry {
	v, ok := s.m.Get(name)
	if !ok {
		return nil
	}
	return v.([]Entry)
}

// ReadSymbols parses the System V symbol table (or its /SYM64/ form) and
// resolves every offset to its member. Any inconsistency yields an empty
// index; partial results are never returned.
func (a *Archive) ReadSymbols() *SymbolIndex {
	switch {
	case a.symtab != nil:
		if idx, ok := a.readSymbols(a.symtab, 4); ok {
			return idx
		}
	case a.symtab64 != nil:
		if idx, ok := a.readSymbols(a.symtab64, 8); ok {
			return idx
		}
	}
	return newSymbolIndex()
}

// Lookup returns the members whose symbol table entries name sym.
func (a *Archive) Lookup(sym string) []Entry {
	return a.ReadSymbols().Lookup(sym)
}

func (a *Archive) readSymbols(table []byte, width int) (*SymbolIndex, bool) {
	c := region.NewCursor(table)
	word := func() (uint64, bool) {
		if width == 8 {
			return c.Uint64BE()
		}
		v, ok := c.Uint32BE()
		return uint64(v), ok
	}

	count, ok := word()
	if !ok || count > uint64(c.Remaining())/uint64(width) {
		return nil, false
	}
	offsets := make([]uint64, count)
	for i := range offsets {
		if offsets[i], ok = word(); !ok {
			return nil, false
		}
	}

	idx := newSymbolIndex()
	members := make(map[uint64]Entry)
	for _, off := range offsets {
		name, ok := c.CString()
		if !ok {
			return nil, false
		}
		e, seen := members[off]
		if !seen {
			var err error
			e, _, err = a.entryAt(off)
			if err != nil || IsSpecial(e.Header.Identifier()) || !a.resolve(&e) {
				return nil, false
			}
			members[off] = e
		}
		idx.add(name, e)
	}
	return idx, true
}
