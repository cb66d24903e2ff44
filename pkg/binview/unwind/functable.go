package unwind

import (
	"encoding/binary"
	"sort"
)

// RuntimeFunctionSize is the size of an x64 RUNTIME_FUNCTION entry.
const RuntimeFunctionSize = 12

// RuntimeFunction is one exception-directory entry: the half-open code
// range [Begin, End) and the RVA of its unwind information.
type RuntimeFunction struct {
	Begin      uint32
	End        uint32
	UnwindInfo uint32
}

// Contains reports whether rva lies in [Begin, End).
func (f RuntimeFunction) Contains(rva uint32) bool {
	return rva >= f.Begin && rva < f.End
}

func readRuntimeFunction(b []byte) RuntimeFunction {
	return RuntimeFunction{
		Begin:      binary.LittleEndian.Uint32(b[0:]),
		End:        binary.LittleEndian.Uint32(b[4:]),
		UnwindInfo: binary.LittleEndian.Uint32(b[8:]),
	}
}

// FunctionTable indexes an exception directory. Entries are expected in
// ascending Begin order with disjoint ranges, as linkers emit them.
type FunctionTable struct {
	b []byte
	n int
}

// NewFunctionTable wraps the exception directory bytes b. A trailing
// partial entry is ignored.
func NewFunctionTable(b []byte) *FunctionTable {
	n := len(b) / RuntimeFunctionSize
	return &FunctionTable{b: b[:n*RuntimeFunctionSize], n: n}
}

// Len returns the number of entries.
func (t *FunctionTable) Len() int {
	return t.n
}

// At returns entry i.
func (t *FunctionTable) At(i int) (RuntimeFunction, bool) {
	if i < 0 || i >= t.n {
		return RuntimeFunction{}, false
	}
	return readRuntimeFunction(t.b[i*RuntimeFunctionSize:]), true
}

func (t *FunctionTable) end(i int) uint32 {
	return binary.LittleEndian.Uint32(t.b[i*RuntimeFunctionSize+4:])
}

// upperBound returns the first entry whose End is above rva, or Len().
// probe, when set, is called once per comparison.
func (t *FunctionTable) upperBound(rva uint32, probe func()) int {
	return sort.Search(t.n, func(i int) bool {
		if probe != nil {
			probe()
		}
		return t.end(i) > rva
	})
}

// FindOverlapping returns the index of the entry whose range contains rva.
// On failure the index is where such an entry would be.
func (t *FunctionTable) FindOverlapping(rva uint32) (int, bool) {
	i := t.upperBound(rva, nil)
	if i == t.n {
		return i, false
	}
	f, _ := t.At(i)
	return i, f.Contains(rva)
}

// Find returns the index of the entry that starts exactly at rva.
func (t *FunctionTable) Find(rva uint32) (int, bool) {
	i := t.upperBound(rva, nil)
	if i == t.n {
		return i, false
	}
	f, _ := t.At(i)
	return i, f.Begin == rva
}

// Lookup returns the entry containing rva.
func (t *FunctionTable) Lookup(rva uint32) (RuntimeFunction, bool) {
	i, ok := t.FindOverlapping(rva)
	if !ok {
		return RuntimeFunction{}, false
	}
	return t.At(i)
}
