package coff

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/internal/fixture"
)

func TestAlignmentTable(t *testing.T) {
	tests := []struct {
		flag  uint8
		align uint32
	}{
		{0, 16}, {1, 1}, {2, 2}, {3, 4}, {4, 8}, {5, 16}, {6, 32}, {7, 64},
		{8, 128}, {9, 256}, {10, 512}, {11, 1024}, {12, 2048}, {13, 4096},
		{14, 8192}, {15, 0},
	}
	for _, tt := range tests {
		if got := ConvertAlignment(tt.flag); got != tt.align {
			t.Errorf("ConvertAlignment(%d) = %d, want %d", tt.flag, got, tt.align)
		}
	}
	for flag := uint8(1); flag < 15; flag++ {
		if got := ReflectAlignment(ConvertAlignment(flag)); got != flag {
			t.Errorf("ReflectAlignment(ConvertAlignment(%d)) = %d", flag, got)
		}
	}
	if got := ReflectAlignment(16); got != 5 {
		t.Errorf("ReflectAlignment(16) = %d, want 5", got)
	}
	if got := ReflectAlignment(3); got != 0 {
		t.Errorf("ReflectAlignment(3) = %d, want 0", got)
	}

	h := SectionHeader{Characteristics: 0x00700000 | SectionCntCode}
	if h.Alignment() != 64 {
		t.Errorf("Alignment() = %d, want 64", h.Alignment())
	}
}

func TestLongNameOffset(t *testing.T) {
	tests := []struct {
		name string
		off  uint32
		ok   bool
	}{
		{"/4", 4, true},
		{"/1234567", 1234567, true},
		{"//AAAAAE", 4, true},
		{"//AAAABA", 64, true},
		{".text", 0, false},
		{"/abc", 0, false},
		{"//A*AAAA", 0, false},
	}
	for _, tt := range tests {
		var n [8]byte
		copy(n[:], tt.name)
		off, ok := longNameOffset(n)
		if ok != tt.ok || off != tt.off {
			t.Errorf("longNameOffset(%q) = (%d, %v), want (%d, %v)", tt.name, off, ok, tt.off, tt.ok)
		}
	}
}

func TestStringTable(t *testing.T) {
	b := []byte{0, 0, 0, 0, 'a', 'b', 0, 'c', 0}
	binary.LittleEndian.PutUint32(b, uint32(len(b)))
	st := ReadStringTable(b, 0)
	if st.Size() != 9 {
		t.Fatalf("Size() = %d", st.Size())
	}
	if s, ok := st.String(4); !ok || s != "ab" {
		t.Errorf("String(4) = %q, %v", s, ok)
	}
	if s, ok := st.String(7); !ok || s != "c" {
		t.Errorf("String(7) = %q, %v", s, ok)
	}
	for _, off := range []uint32{0, 3, 9, 100} {
		if _, ok := st.String(off); ok {
			t.Errorf("String(%d) succeeded", off)
		}
	}

	// Size field overrunning the buffer is clamped.
	binary.LittleEndian.PutUint32(b, 1000)
	if st := ReadStringTable(b, 0); len(st) != len(b) {
		t.Errorf("clamped table has %d bytes, want %d", len(st), len(b))
	}
	if st := ReadStringTable(b, 7); st != nil {
		t.Errorf("table at 7 = %v, want empty", st)
	}
}

func sampleObject(big bool) []byte {
	fileAux := []byte("a_rather_long_source_file_name.c")
	return fixture.Object{
		Machine: MachineAMD64,
		BigObj:  big,
		Sections: []fixture.Section{
			{Name: ".text", Data: []byte{0xc3, 0x90, 0x90, 0x90}, Characteristics: SectionCntCode | SectionMemExecute | SectionMemRead, Relocations: 3, Linenumbers: 2},
			{Name: ".debug$S_long", Data: []byte("debug"), Characteristics: SectionMemDiscardable},
			{Name: ".bss", Characteristics: SectionCntUninitialized, VirtualSize: 64},
		},
		Symbols: []fixture.Symbol{
			{Name: ".file", Section: SectionDebug, Class: ClassFile, Aux: [][]byte{fileAux[:18], fileAux[18:]}},
			{Name: ".text", Section: 1, Class: ClassStatic, Aux: [][]byte{sectionAux(4, 3, 2)}},
			{Name: "main", Section: 1, Type: DerivedFunction << 4, Class: ClassExternal, Aux: [][]byte{funcAux(7, 4)}},
			{Name: "a_symbol_with_a_long_name", Value: 2, Section: 1, Class: ClassExternal},
			{Name: "weak", Class: ClassWeakExternal, Aux: [][]byte{weakAux(3, WeakSearchAlias)}},
			{Name: "abs", Value: 0x1234, Section: SectionAbsolute, Class: ClassStatic},
		},
	}.Bytes()
}

func sectionAux(length uint32, nreloc, nline uint16) []byte {
	b := make([]byte, 18)
	binary.LittleEndian.PutUint32(b[0:], length)
	binary.LittleEndian.PutUint16(b[4:], nreloc)
	binary.LittleEndian.PutUint16(b[6:], nline)
	binary.LittleEndian.PutUint16(b[12:], 0)
	b[14] = SelectAny
	return b
}

func funcAux(tag, size uint32) []byte {
	b := make([]byte, 18)
	binary.LittleEndian.PutUint32(b[0:], tag)
	binary.LittleEndian.PutUint32(b[4:], size)
	return b
}

func weakAux(tag, ch uint32) []byte {
	b := make([]byte, 18)
	binary.LittleEndian.PutUint32(b[0:], tag)
	binary.LittleEndian.PutUint32(b[4:], ch)
	return b
}

func TestObjectSections(t *testing.T) {
	for _, big := range []bool{false, true} {
		o := NewObject(sampleObject(big))
		want := KindObject
		if big {
			want = KindBigObject
		}
		if o.Kind() != want {
			t.Fatalf("big=%v: Kind() = %v, want %v", big, o.Kind(), want)
		}
		if got := MachineName(o.FileHeader().Machine); got != "x64" {
			t.Errorf("machine = %s", got)
		}
		secs := o.Sections()
		if len(secs) != 3 {
			t.Fatalf("got %d sections", len(secs))
		}
		names := []string{".text", ".debug$S_long", ".bss"}
		for i, n := range names {
			if got := o.SectionName(&secs[i]); got != n {
				t.Errorf("section %d name = %q, want %q", i, got, n)
			}
		}
		if secs[1].RawName()[0] != '/' {
			t.Errorf("long section name stored inline: %q", secs[1].RawName())
		}
		if i, ok := o.SectionByName(".bss"); !ok || i != 2 {
			t.Errorf("SectionByName(.bss) = %d, %v", i, ok)
		}
		if d, ok := o.SectionData(0); !ok || len(d) != 4 || d[0] != 0xc3 {
			t.Errorf("SectionData(0) = %x, %v", d, ok)
		}
		if _, ok := o.SectionData(2); ok {
			t.Error("uninitialized section has data")
		}
		if secs[2].VirtualExtent() != 64 {
			t.Errorf(".bss extent = %d", secs[2].VirtualExtent())
		}
		if !secs[0].Executable() || secs[0].Writable() || !secs[1].Discardable() {
			t.Error("characteristic predicates wrong")
		}
		relocs, ok := o.Relocations(0)
		if !ok || len(relocs) != 3 {
			t.Fatalf("Relocations(0) = %d, %v", len(relocs), ok)
		}
		if relocs[2].VirtualAddress != 2 || relocs[2].Type != 4 {
			t.Errorf("relocation 2 = %+v", relocs[2])
		}
		lines, ok := o.Linenumbers(0)
		if !ok || len(lines) != 2 || lines[1].Linenumber != 2 || lines[1].Addr != 0x10 {
			t.Errorf("Linenumbers(0) = %+v, %v", lines, ok)
		}
		if _, ok := o.Section(3); ok {
			t.Error("Section(3) succeeded")
		}
	}
}

func TestRelocationOverflow(t *testing.T) {
	const n = 0x10000
	o := NewObject(fixture.Object{
		Machine:  MachineAMD64,
		Sections: []fixture.Section{{Name: ".text", Data: []byte{0xc3}, Relocations: n}},
	}.Bytes())
	h, _ := o.Section(0)
	if h.NumberOfRelocations != 0xffff || !h.Is(SectionLnkNRelocOvfl) {
		t.Fatalf("header does not use overflow: %+v", h)
	}
	relocs, ok := o.Relocations(0)
	if !ok || len(relocs) != n {
		t.Fatalf("got %d relocations, want %d", len(relocs), n)
	}
	if relocs[0].VirtualAddress != 0 || relocs[n-1].VirtualAddress != n-1 {
		t.Errorf("first/last = %+v %+v", relocs[0], relocs[n-1])
	}
}

func TestSymbolIteration(t *testing.T) {
	for _, big := range []bool{false, true} {
		o := NewObject(sampleObject(big))
		syms := o.Symbols()
		wantSize := SymbolSize
		if big {
			wantSize = BigObjSymbolSize
		}
		if syms.RecordSize() != wantSize {
			t.Errorf("RecordSize() = %d", syms.RecordSize())
		}
		if syms.Len() != 11 {
			t.Errorf("Len() = %d, want 11", syms.Len())
		}

		var names []string
		var idx []uint32
		it := syms.Iter()
		for it.Next() {
			names = append(names, it.Name())
			idx = append(idx, it.Index())
		}
		want := []string{".file", ".text", "main", "a_symbol_with_a_long_name", "weak", "abs"}
		wantIdx := []uint32{0, 3, 5, 7, 8, 10}
		if len(names) != len(want) {
			t.Fatalf("big=%v: names = %v", big, names)
		}
		for i := range want {
			if names[i] != want[i] || idx[i] != wantIdx[i] {
				t.Errorf("symbol %d = %q@%d, want %q@%d", i, names[i], idx[i], want[i], wantIdx[i])
			}
		}

		abs, _ := o.Symbol(10)
		if !abs.IsAbsolute() || abs.Value != 0x1234 {
			t.Errorf("abs = %+v", abs)
		}
		file, _ := o.Symbol(0)
		if !file.IsDebug() {
			t.Errorf(".file section = %d", file.SectionNumber)
		}
		main, _ := o.Symbol(5)
		if !main.IsFunction() || main.BaseType() != TypeNull {
			t.Errorf("main type = %#x", main.Type)
		}
	}
}

func TestAuxRecords(t *testing.T) {
	o := NewObject(sampleObject(false))
	syms := o.Symbols()

	aux, err := syms.Aux(0)
	if err != nil || len(aux) != 1 {
		t.Fatalf("file aux = %v, %v", aux, err)
	}
	if f, ok := aux[0].(AuxFile); !ok || f.Name != "a_rather_long_source_file_name.c" {
		t.Errorf("file aux = %#v", aux[0])
	}

	aux, err = syms.Aux(3)
	if err != nil || len(aux) != 1 {
		t.Fatalf("section aux = %v, %v", aux, err)
	}
	sd := aux[0].(AuxSectionDefinition)
	if sd.Length != 4 || sd.NumberOfRelocations != 3 || sd.NumberOfLinenumbers != 2 || sd.Selection != SelectAny {
		t.Errorf("section aux = %+v", sd)
	}

	aux, err = syms.Aux(5)
	if err != nil {
		t.Fatal(err)
	}
	if fd := aux[0].(AuxFunctionDefinition); fd.TagIndex != 7 || fd.TotalSize != 4 {
		t.Errorf("function aux = %+v", fd)
	}

	aux, err = syms.Aux(8)
	if err != nil {
		t.Fatal(err)
	}
	if w := aux[0].(AuxWeakExternal); w.TagIndex != 3 || w.Characteristics != WeakSearchAlias {
		t.Errorf("weak aux = %+v", w)
	}

	if aux, err := syms.Aux(7); err != nil || aux != nil {
		t.Errorf("symbol without aux = %v, %v", aux, err)
	}
	if _, err := syms.Aux(100); !errors.Is(err, ErrNoSymbol) {
		t.Errorf("Aux(100) err = %v", err)
	}
}

func TestDecodeAuxMismatch(t *testing.T) {
	raw := make([]byte, SymbolSize)
	static := Symbol{StorageClass: ClassStatic, SectionNumber: 1}
	if _, err := DecodeAux(AuxKindFunctionDefinition, &static, ".text", raw); !errors.Is(err, ErrAuxMismatch) {
		t.Errorf("function aux on static symbol: err = %v", err)
	}
	fn := Symbol{StorageClass: ClassFunction}
	if _, err := DecodeAux(AuxKindFunctionDelimiter, &fn, ".bf", raw); err != nil {
		t.Errorf(".bf delimiter: %v", err)
	}
	if _, err := DecodeAux(AuxKindFunctionDelimiter, &fn, "other", raw); !errors.Is(err, ErrAuxMismatch) {
		t.Errorf("delimiter on non-.bf name: err = %v", err)
	}
	if _, err := DecodeAux(AuxKindSectionDefinition, &static, ".text", raw[:4]); !errors.Is(err, ErrAuxOverrun) {
		t.Errorf("short record: err = %v", err)
	}
	if k, ok := AuxKindOf(&fn, ".ef"); !ok || k != AuxKindFunctionDelimiter {
		t.Errorf("AuxKindOf(.ef) = %v, %v", k, ok)
	}
}

func TestAuxOverrun(t *testing.T) {
	data := fixture.Object{
		Machine: MachineI386,
		Symbols: []fixture.Symbol{{Name: "x", Section: 1, Class: ClassStatic, Aux: [][]byte{nil}}},
	}.Bytes()
	// Claim three auxiliary records where only one exists.
	h, _ := ReadFileHeader(data)
	data[h.PointerToSymbolTable+17] = 3
	o := NewObject(data)
	if _, err := o.Symbols().Aux(0); !errors.Is(err, ErrAuxOverrun) {
		t.Errorf("err = %v, want ErrAuxOverrun", err)
	}
	if it := o.Symbols().Iter(); it.Next() {
		t.Error("iterator yielded a symbol whose aux records overrun the table")
	}
}

func TestImportObject(t *testing.T) {
	o := NewObject(fixture.ImportObject(MachineAMD64, "__imp__Sleep@4", "KERNEL32.dll", ImportCode, ImportNameUndecorate, 42))
	if o.Kind() != KindImport {
		t.Fatalf("Kind() = %v", o.Kind())
	}
	imp, ok := o.Import()
	if !ok {
		t.Fatal("Import() failed")
	}
	if imp.SymbolName != "__imp__Sleep@4" || imp.DLLName != "KERNEL32.dll" {
		t.Errorf("import = %+v", imp)
	}
	if imp.Header.Type() != ImportCode || imp.Header.NameType() != ImportNameUndecorate || imp.Header.OrdinalOrHint != 42 {
		t.Errorf("header = %+v", imp.Header)
	}
	if got := imp.ImportName(); got != "_imp__Sleep" {
		t.Errorf("ImportName() = %q", got)
	}
	if h, ok := o.ImportHeader(); !ok || h.Machine != MachineAMD64 {
		t.Errorf("ImportHeader() = %+v, %v", h, ok)
	}
	if len(o.Sections()) != 0 || o.Symbols().Len() != 0 {
		t.Error("import object has sections or symbols")
	}

	byOrdinal := NewObject(fixture.ImportObject(MachineI386, "_f", "a.dll", ImportData, ImportOrdinal, 7))
	if imp, _ := byOrdinal.Import(); imp.ImportName() != "" || imp.Header.Type() != ImportData {
		t.Errorf("ordinal import = %+v", imp)
	}
}

func TestInvalidObject(t *testing.T) {
	inputs := map[string][]byte{
		"empty":     nil,
		"short":     {0x64, 0x86, 1},
		"sections":  {0x64, 0x86, 0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		"bad-sig":   {0, 0, 0xff, 0xff, 1, 0, 0, 0},
		"imp-short": {0, 0, 0xff, 0xff, 0, 0, 0x64, 0x86, 0, 0, 0, 0, 0xff, 0, 0, 0, 0, 0, 0, 0},
	}
	for name, b := range inputs {
		t.Run(name, func(t *testing.T) {
			o := NewObject(b)
			if o.Valid() || o.Kind() != KindInvalid {
				t.Errorf("Kind() = %v", o.Kind())
			}
			if len(o.Sections()) != 0 || o.Symbols().Len() != 0 {
				t.Error("invalid object is not empty")
			}
			if _, ok := o.Symbol(0); ok {
				t.Error("Symbol(0) succeeded")
			}
		})
	}
}
