package pe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/internal/fixture"
)

var testGUID = [16]byte{
	0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66,
	0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
}

const pdbPath = `C:\build\test.pdb`

func imageBase(width int) uint64 {
	if width == 8 {
		return 0x140000000
	}
	return 0x400000
}

// buildRData lays out import, export, debug, TLS, load config and delay
// import tables at RVA 0x2000.
func buildRData(width int) (*fixture.Blob, map[int]fixture.Dir) {
	base := imageBase(width)
	b := fixture.NewBlob(0x2000)
	dirs := map[int]fixture.Dir{}
	word := func(v uint64) {
		if width == 8 {
			b.U64(v)
		} else {
			b.U32(uint32(v))
		}
	}
	ordinalFlag := uint64(1) << (width*8 - 1)

	imp := b.Here()
	b.Raw(make([]byte, 2*ImportDescriptorSize))
	dirs[DirImport] = fixture.Dir{VirtualAddress: imp, Size: 2 * ImportDescriptorSize}
	dll := b.Here()
	b.CString("KERNEL32.dll").Align(2)
	hint := b.Here()
	b.U16(0x123).CString("ExitProcess").Align(8)
	names := b.Here()
	word(uint64(hint))
	word(ordinalFlag | 7)
	word(0)
	iat := b.Here()
	word(uint64(hint))
	word(ordinalFlag | 7)
	word(0)
	b.PutU32(imp, names)
	b.PutU32(imp+12, dll)
	b.PutU32(imp+16, iat)

	b.Align(4)
	exp := b.Here()
	b.Raw(make([]byte, ExportDirectorySize))
	expName := b.Here()
	b.CString("test.dll")
	alpha := b.Here()
	b.CString("alpha")
	beta := b.Here()
	b.CString("beta")
	fwd := b.Here()
	b.CString("KERNEL32.Sleep").Align(4)
	funcs := b.Here()
	b.U32(0x1000).U32(0x1010).U32(fwd).U32(0)
	nameTable := b.Here()
	b.U32(alpha).U32(beta)
	ords := b.Here()
	b.U16(0).U16(2)
	dirs[DirExport] = fixture.Dir{VirtualAddress: exp, Size: b.Here() - exp}
	b.PutU32(exp+12, expName)
	b.PutU32(exp+16, 5)
	b.PutU32(exp+20, 4)
	b.PutU32(exp+24, 2)
	b.PutU32(exp+28, funcs)
	b.PutU32(exp+32, nameTable)
	b.PutU32(exp+36, ords)

	b.Align(4)
	cv := b.Here()
	b.U32(CodeViewRSDS).Raw(testGUID[:]).U32(3).CString(pdbPath).Align(4)
	dbg := b.Here()
	b.U32(0).U32(0).U16(0).U16(0).U32(DebugTypeCodeView).U32(dbg - cv).U32(cv).U32(0)
	dirs[DirDebug] = fixture.Dir{VirtualAddress: dbg, Size: DebugDirectorySize}

	b.Align(8)
	cbs := b.Here()
	word(base + 0x1000)
	word(base + 0x1010)
	word(0)
	tls := b.Here()
	word(base + 0x2000)
	word(base + 0x2010)
	word(base + 0x2020)
	word(base + uint64(cbs))
	b.U32(0x40).U32(0)
	dirs[DirTLS] = fixture.Dir{VirtualAddress: tls, Size: b.Here() - tls}

	b.Align(8)
	lc := make([]byte, LoadConfig64Size)
	size, cookieOff := 96, 88
	if width == 4 {
		size, cookieOff = 64, 60
	}
	binary.LittleEndian.PutUint32(lc, uint32(size))
	binary.LittleEndian.PutUint32(lc[cookieOff:], 0xc0ffee)
	binary.LittleEndian.PutUint32(lc[size:], 0xdeadbeef)
	dirs[DirLoadConfig] = fixture.Dir{VirtualAddress: b.Here(), Size: LoadConfig64Size}
	b.Raw(lc)

	b.Align(4)
	dly := b.Here()
	b.Raw(make([]byte, 2*DelayImportDescriptorSize))
	dirs[DirDelayImport] = fixture.Dir{VirtualAddress: dly, Size: 2 * DelayImportDescriptorSize}
	dname := b.Here()
	b.CString("USER32.dll").Align(2)
	mb := b.Here()
	b.U16(0).CString("MessageBoxW").Align(8)
	dint := b.Here()
	word(uint64(mb))
	word(0)
	diat := b.Here()
	word(0)
	word(0)
	b.PutU32(dly, 1)
	b.PutU32(dly+4, dname)
	b.PutU32(dly+12, diat)
	b.PutU32(dly+16, dint)
	return b, dirs
}

func certificates() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(13))
	binary.Write(&buf, binary.LittleEndian, uint16(CertRevision2))
	binary.Write(&buf, binary.LittleEndian, uint16(CertTypePKCSSigned))
	buf.WriteString("ABCDE\x00\x00\x00")
	binary.Write(&buf, binary.LittleEndian, uint32(10))
	binary.Write(&buf, binary.LittleEndian, uint16(CertRevision2))
	binary.Write(&buf, binary.LittleEndian, uint16(CertTypeX509))
	buf.WriteString("XY\x00\x00\x00\x00\x00\x00")
	return buf.Bytes()
}

func testImage(width int) fixture.Image {
	rdata, dirs := buildRData(width)
	reloc := fixture.NewBlob(0x3000)
	reloc.U32(0x1000).U32(16).U16(0xa010).U16(0xa020).U16(0xa030).U16(0)
	reloc.U32(0x2000).U32(12).U16(0x3004).U16(0x3008)
	dirs[DirBaseReloc] = fixture.Dir{VirtualAddress: 0x3000, Size: 28}
	return fixture.Image{
		PE32:        width == 4,
		ImageBase:   imageBase(width),
		EntryPoint:  0x1000,
		Directories: dirs,
		Sections: []fixture.PESection{
			{Name: ".text", VirtualAddress: 0x1000, Data: bytes.Repeat([]byte{0xcc}, 0x100), Characteristics: 0x60000020},
			{Name: ".rdata", VirtualAddress: 0x2000, Data: rdata.Bytes(), Characteristics: 0x40000040},
			{Name: ".reloc", VirtualAddress: 0x3000, Data: reloc.Bytes(), Characteristics: 0x42000040},
			{Name: ".bss", VirtualAddress: 0x4000, VirtualSize: 0x800, Characteristics: 0xc0000080},
		},
		Certificates: certificates(),
	}
}

func TestHeaders(t *testing.T) {
	for _, width := range []int{4, 8} {
		img := NewImage(testImage(width).Bytes(), LayoutFile)
		if !img.Valid() {
			t.Fatalf("width %d: image not recognized", width)
		}
		if img.Is64() != (width == 8) || img.OptionalHeader().Width() != width {
			t.Errorf("width %d: Is64() = %v", width, img.Is64())
		}
		if img.ImageBase() != imageBase(width) {
			t.Errorf("ImageBase() = %#x", img.ImageBase())
		}
		if img.OptionalHeader().AddressOfEntryPoint() != 0x1000 {
			t.Errorf("entry = %#x", img.OptionalHeader().AddressOfEntryPoint())
		}
		if img.OptionalHeader().SizeOfHeaders() != 0x400 {
			t.Errorf("SizeOfHeaders() = %#x", img.OptionalHeader().SizeOfHeaders())
		}
		if img.DOSHeader().Lfanew != 0x40 {
			t.Errorf("Lfanew = %#x", img.DOSHeader().Lfanew)
		}
		secs := img.Sections()
		if len(secs) != 4 || img.SectionName(&secs[1]) != ".rdata" {
			t.Fatalf("sections = %+v", secs)
		}
		if _, ok := img.Directory(DirResource); ok {
			t.Error("resource directory reported present")
		}
		if d, ok := img.Directory(DirSecurity); !ok || d.Size != 32 {
			t.Errorf("security directory = %+v, %v", d, ok)
		}
	}
}

func TestInvalidImage(t *testing.T) {
	good := testImage(8).Bytes()
	badOpt := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(badOpt[0x40+4+20:], 0x107)
	farLfanew := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(farLfanew[0x3c:], 0xfffffff0)
	inputs := map[string][]byte{
		"empty":    nil,
		"no-mz":    append([]byte("ZM"), good[2:]...),
		"lfanew":   farLfanew,
		"opt":      badOpt,
		"headers":  good[:0x60],
		"archive!": []byte("!<arch>\n"),
	}
	for name, b := range inputs {
		t.Run(name, func(t *testing.T) {
			img := NewImage(b, LayoutFile)
			if img.Valid() {
				t.Fatal("image accepted")
			}
			if len(img.Sections()) != 0 {
				t.Error("invalid image has sections")
			}
			if _, ok := img.RVAToPtr(0, 2); ok {
				t.Error("RVAToPtr succeeded")
			}
			if _, ok := img.Directory(DirImport); ok {
				t.Error("Directory succeeded")
			}
			if _, ok := img.RawLimit(); ok {
				t.Error("RawLimit succeeded")
			}
			if _, err := img.Imports(); !errors.Is(err, ErrNoDirectory) {
				t.Errorf("Imports() err = %v", err)
			}
		})
	}
}

func TestAddressTranslation(t *testing.T) {
	data := testImage(8).Bytes()
	img := NewImage(data, LayoutFile)
	rdata, _ := img.Section(1)

	tests := []struct {
		rva     uint32
		section int
		ok      bool
	}{
		{0x1000, 0, true},
		{0x10ff, 0, true},
		{0x1100, -1, false},
		{0x2000, 1, true},
		{0x4000, 3, true},
		{0x47ff, 3, true},
		{0x4800, -1, false},
		{0x10, -1, false},
	}
	for _, tt := range tests {
		i, ok := img.RVAToSection(tt.rva)
		if i != tt.section || ok != tt.ok {
			t.Errorf("RVAToSection(%#x) = %d, %v", tt.rva, i, ok)
		}
	}

	// Header region maps to itself.
	if b, ok := img.RVAToPtr(0x3c, 4); !ok || binary.LittleEndian.Uint32(b) != 0x40 {
		t.Errorf("RVAToPtr(0x3c) = %x, %v", b, ok)
	}
	if fo, ok := img.RVAToFO(0x10); !ok || fo != 0x10 {
		t.Errorf("RVAToFO(0x10) = %#x, %v", fo, ok)
	}
	// A range straddling the end of .text is rejected.
	if _, ok := img.RVAToPtr(0x10f0, 0x20); ok {
		t.Error("RVAToPtr across section end succeeded")
	}
	if b, ok := img.RVAToPtr(0x10f0, 0x10); !ok || b[0] != 0xcc {
		t.Errorf("RVAToPtr(0x10f0) = %x, %v", b, ok)
	}
	// .bss has no file backing.
	if _, ok := img.RVAToFO(0x4000); ok {
		t.Error("RVAToFO(.bss) succeeded")
	}
	if _, ok := img.RVAToPtr(0x4000, 4); ok {
		t.Error("RVAToPtr(.bss) succeeded in file layout")
	}

	limit, ok := img.RawLimit()
	if !ok || limit != uint64(len(data)) {
		t.Errorf("RawLimit() = %#x, %v; file is %#x bytes", limit, ok, len(data))
	}
	if img.Truncated() {
		t.Error("complete image reported truncated")
	}
	if _, ok := img.RVAToPtr(uint32(limit), 1); ok {
		t.Error("RVAToPtr at raw limit succeeded")
	}
	if _, ok := img.RVAToPtr(0x9000, 1); ok {
		t.Error("RVAToPtr past image succeeded")
	}

	// File offset -> RVA -> file offset over the whole .rdata raw range.
	for x := rdata.PointerToRawData; x < rdata.PointerToRawData+rdata.VirtualSize; x++ {
		rva, ok := img.FOToRVA(x)
		if !ok {
			t.Fatalf("FOToRVA(%#x) failed", x)
		}
		if fo, ok := img.RVAToFO(rva); !ok || fo != x {
			t.Fatalf("RVAToFO(FOToRVA(%#x)) = %#x, %v", x, fo, ok)
		}
	}
	if i, ok := img.FOToSection(rdata.PointerToRawData); !ok || i != 1 {
		t.Errorf("FOToSection(.rdata) = %d, %v", i, ok)
	}

	b, _ := img.RVAToPtr(0x2004, 4)
	if off, ok := img.PtrToRaw(b); !ok || off != uint64(rdata.PointerToRawData)+4 {
		t.Errorf("PtrToRaw = %#x, %v", off, ok)
	}
	if rva, ok := img.PtrToRVA(b); !ok || rva != 0x2004 {
		t.Errorf("PtrToRVA = %#x, %v", rva, ok)
	}
	if _, ok := img.PtrToRaw(make([]byte, 4)); ok {
		t.Error("PtrToRaw accepted a foreign slice")
	}
	if b, ok := img.FOToPtr(rdata.PointerToRawData, 4); !ok || !bytes.Equal(b, mustRVA(t, img, 0x2000, 4)) {
		t.Errorf("FOToPtr(.rdata) = %x, %v", b, ok)
	}
}

func mustRVA(t *testing.T, img *Image, rva, n uint32) []byte {
	t.Helper()
	b, ok := img.RVAToPtr(rva, n)
	if !ok {
		t.Fatalf("RVAToPtr(%#x, %d) failed", rva, n)
	}
	return b
}

func TestTruncated(t *testing.T) {
	data := testImage(8).Bytes()
	img := NewImage(data[:len(data)-0x40], LayoutFile)
	if !img.Valid() {
		t.Fatal("truncated image rejected outright")
	}
	if !img.Truncated() {
		t.Error("Truncated() = false")
	}
	if _, err := img.Certificates(); err == nil {
		t.Error("certificates decoded from a truncated image")
	}
}

func TestMappedLayout(t *testing.T) {
	fi := testImage(8)
	file := NewImage(fi.Bytes(), LayoutFile)
	mapped := NewImage(fi.Mapped(), LayoutMapped)
	if !mapped.Valid() || mapped.Layout() != LayoutMapped {
		t.Fatal("mapped image not recognized")
	}
	for _, rva := range []uint32{0x1000, 0x2000, 0x2010, 0x3000} {
		a := mustRVA(t, file, rva, 16)
		b := mustRVA(t, mapped, rva, 16)
		if !bytes.Equal(a, b) {
			t.Errorf("RVA %#x: file %x, mapped %x", rva, a, b)
		}
	}
	if b, ok := mapped.RVAToPtr(0x4000, 0x10); !ok || !bytes.Equal(b, make([]byte, 0x10)) {
		t.Errorf("mapped .bss = %x, %v", b, ok)
	}
	b := mustRVA(t, mapped, 0x2008, 4)
	if off, ok := mapped.PtrToRaw(b); !ok || off != 0x2008 {
		t.Errorf("mapped PtrToRaw = %#x, %v", off, ok)
	}
	if rva, ok := mapped.PtrToRVA(b); !ok || rva != 0x2008 {
		t.Errorf("mapped PtrToRVA = %#x, %v", rva, ok)
	}
	fi1, _ := file.Imports()
	mi, err := mapped.Imports()
	if err != nil || len(mi) != 1 || mi[0].Name != fi1[0].Name {
		t.Errorf("mapped imports = %+v, %v", mi, err)
	}
	if _, err := mapped.Certificates(); !errors.Is(err, ErrNoDirectory) {
		t.Errorf("mapped certificates err = %v", err)
	}
}

func referenceChecksum(b []byte, off int) uint32 {
	c := append([]byte(nil), b...)
	binary.LittleEndian.PutUint32(c[off:], 0)
	if len(c)%2 == 1 {
		c = append(c, 0)
	}
	var sum uint64
	for i := 0; i < len(c); i += 2 {
		sum += uint64(binary.LittleEndian.Uint16(c[i:]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint32(sum) + uint32(len(b))
}

func TestChecksum(t *testing.T) {
	if got := Checksum([]byte{1, 0, 2, 0, 3}, 100); got != 1+2+3+5 {
		t.Errorf("Checksum(small) = %d, want 11", got)
	}
	if got := Checksum([]byte{0xff, 0xff, 0x02, 0x00}, 100); got != 2+4 {
		t.Errorf("Checksum(carry) = %d, want 6", got)
	}

	fi := testImage(8)
	data := fi.Bytes()
	img := NewImage(data, LayoutFile)
	off, ok := img.ChecksumOffset()
	if !ok || off != 0x40+4+20+64 {
		t.Fatalf("ChecksumOffset() = %#x, %v", off, ok)
	}
	sum, _ := img.Checksum()
	if want := referenceChecksum(data, int(off)); sum != want {
		t.Errorf("Checksum() = %#x, want %#x", sum, want)
	}

	// The stored value does not influence the result.
	fi.CheckSum = sum
	stamped := NewImage(fi.Bytes(), LayoutFile)
	if stamped.OptionalHeader().CheckSum() != sum {
		t.Fatalf("stored checksum = %#x", stamped.OptionalHeader().CheckSum())
	}
	if again, _ := stamped.Checksum(); again != sum {
		t.Errorf("Checksum() with stored value = %#x, want %#x", again, sum)
	}
}

func TestDirectoryKinds(t *testing.T) {
	tests := []struct {
		id, width int
		want      DirectoryKind
	}{
		{DirImport, 4, KindImport32},
		{DirImport, 8, KindImport64},
		{DirTLS, 4, KindTLS32},
		{DirTLS, 8, KindTLS64},
		{DirLoadConfig, 8, KindLoadConfig64},
		{DirDelayImport, 4, KindDelayImport32},
		{DirExport, 4, KindExport},
		{DirExport, 8, KindExport},
		{DirSecurity, 8, KindSecurity},
		{DirReserved, 8, KindUnknown},
		{99, 8, KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.id, tt.width); got != tt.want {
			t.Errorf("KindOf(%s, %d) = %v, want %v", DirectoryName(tt.id), tt.width, got, tt.want)
		}
	}

	img := NewImage(testImage(8).Bytes(), LayoutFile)
	v, err := img.Decode(DirImport)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.([]ImportedDLL); !ok {
		t.Errorf("Decode(import) = %T", v)
	}
	if _, err := img.Decode(DirResource); !errors.Is(err, ErrNoDirectory) {
		t.Errorf("Decode(resource) err = %v", err)
	}
}

func TestImports(t *testing.T) {
	for _, width := range []int{4, 8} {
		img := NewImage(testImage(width).Bytes(), LayoutFile)
		dlls, err := img.Imports()
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if len(dlls) != 1 || dlls[0].Name != "KERNEL32.dll" {
			t.Fatalf("imports = %+v", dlls)
		}
		fns := dlls[0].Functions
		if len(fns) != 2 {
			t.Fatalf("functions = %+v", fns)
		}
		if fns[0].Name != "ExitProcess" || fns[0].Hint != 0x123 || fns[0].ByOrdinal {
			t.Errorf("function 0 = %+v", fns[0])
		}
		if !fns[1].ByOrdinal || fns[1].Ordinal != 7 {
			t.Errorf("function 1 = %+v", fns[1])
		}
		if fns[1].ThunkRVA != dlls[0].Descriptor.FirstThunk+uint32(width) {
			t.Errorf("thunk RVA = %#x", fns[1].ThunkRVA)
		}

		delayed, err := img.DelayImports()
		if err != nil {
			t.Fatal(err)
		}
		if len(delayed) != 1 || delayed[0].Name != "USER32.dll" || len(delayed[0].Functions) != 1 || delayed[0].Functions[0].Name != "MessageBoxW" {
			t.Errorf("delay imports = %+v", delayed)
		}
	}
}

func TestExports(t *testing.T) {
	img := NewImage(testImage(8).Bytes(), LayoutFile)
	exp, err := img.Exports()
	if err != nil {
		t.Fatal(err)
	}
	if exp.DLLName != "test.dll" || len(exp.Functions) != 3 {
		t.Fatalf("exports = %+v", exp)
	}
	want := []Export{
		{Ordinal: 5, RVA: 0x1000, Name: "alpha"},
		{Ordinal: 6, RVA: 0x1010},
		{Ordinal: 7, Name: "beta", Forwarder: "KERNEL32.Sleep"},
	}
	for i, w := range want {
		got := exp.Functions[i]
		if w.RVA == 0 {
			w.RVA = got.RVA
		}
		if got != w {
			t.Errorf("export %d = %+v, want %+v", i, got, w)
		}
	}
	if e, ok := exp.Lookup("alpha"); !ok || e.RVA != 0x1000 {
		t.Errorf("Lookup(alpha) = %+v, %v", e, ok)
	}
}

func TestDebugDirectory(t *testing.T) {
	img := NewImage(testImage(8).Bytes(), LayoutFile)
	entries, err := img.DebugEntries()
	if err != nil || len(entries) != 1 {
		t.Fatalf("debug entries = %+v, %v", entries, err)
	}
	cv, ok := img.CodeView()
	if !ok {
		t.Fatal("no CodeView record")
	}
	if cv.Path != pdbPath || cv.Age != 3 {
		t.Errorf("codeview = %+v", cv)
	}
	if got := cv.GUIDString(); got != "00112233-4455-6677-8899-AABBCCDDEEFF" {
		t.Errorf("GUIDString() = %s", got)
	}
	if got := cv.SymbolServerKey(); got != "00112233445566778899AABBCCDDEEFF3" {
		t.Errorf("SymbolServerKey() = %s", got)
	}

	nb10 := []byte("NB10\x00\x00\x00\x00\x78\x56\x34\x12\x02\x00\x00\x00old.pdb\x00")
	cv, ok = ParseCodeView(nb10)
	if !ok || cv.Timestamp != 0x12345678 || cv.Age != 2 || cv.Path != "old.pdb" {
		t.Errorf("NB10 = %+v, %v", cv, ok)
	}
	if cv.SymbolServerKey() != "123456782" {
		t.Errorf("NB10 key = %s", cv.SymbolServerKey())
	}
	if _, ok := ParseCodeView([]byte("RSDS\x00")); ok {
		t.Error("short RSDS accepted")
	}
}

func TestTLSAndLoadConfig(t *testing.T) {
	for _, width := range []int{4, 8} {
		base := imageBase(width)
		img := NewImage(testImage(width).Bytes(), LayoutFile)
		tls, err := img.TLS()
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if tls.StartAddressOfRawData != base+0x2000 || tls.SizeOfZeroFill != 0x40 {
			t.Errorf("tls = %+v", tls)
		}
		if len(tls.Callbacks) != 2 || tls.Callbacks[1] != base+0x1010 {
			t.Errorf("callbacks = %#x", tls.Callbacks)
		}

		lc, err := img.LoadConfig()
		if err != nil {
			t.Fatal(err)
		}
		if lc.SecurityCookie != 0xc0ffee {
			t.Errorf("width %d: SecurityCookie = %#x", width, lc.SecurityCookie)
		}
		if lc.SEHandlerTable != 0 {
			t.Errorf("width %d: field past Size decoded: %#x", width, lc.SEHandlerTable)
		}
	}
}

func TestBaseRelocations(t *testing.T) {
	img := NewImage(testImage(8).Bytes(), LayoutFile)
	blocks, err := img.BaseRelocations()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v", blocks)
	}
	if blocks[0].PageRVA != 0x1000 || len(blocks[0].Entries) != 4 {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	e := blocks[0].Entries[1]
	if e.Type != RelBasedDir64 || e.RVA(blocks[0].PageRVA) != 0x1020 {
		t.Errorf("entry = %+v", e)
	}
	if blocks[0].Entries[3].Type != RelBasedAbsolute {
		t.Errorf("padding entry = %+v", blocks[0].Entries[3])
	}
	if blocks[1].Entries[0].Type != RelBasedHighLow {
		t.Errorf("block 1 = %+v", blocks[1])
	}

	// A block claiming more bytes than remain stops iteration with an error.
	bad := []byte{0, 0x10, 0, 0, 0x40, 0, 0, 0, 0x10, 0xa0}
	it := NewBaseRelocIterator(bad)
	if it.Next() {
		t.Error("oversized block decoded")
	}
	if it.Err() == nil {
		t.Error("no error for oversized block")
	}
}

func TestCertificates(t *testing.T) {
	fi := testImage(8)
	img := NewImage(fi.Bytes(), LayoutFile)
	certs, err := img.Certificates()
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 2 {
		t.Fatalf("certificates = %+v", certs)
	}
	if certs[0].CertificateType != CertTypePKCSSigned || string(certs[0].Data) != "ABCDE" {
		t.Errorf("cert 0 = %+v", certs[0])
	}
	if certs[1].CertificateType != CertTypeX509 || string(certs[1].Data) != "XY" {
		t.Errorf("cert 1 = %+v", certs[1])
	}
	b, ok := img.DirectoryBytes(DirSecurity)
	if !ok {
		t.Fatal("security directory bytes missing")
	}
	if off, _ := img.PtrToRaw(b); off != uint64(fi.CertificateOffset()) {
		t.Errorf("security directory at %#x, want %#x", off, fi.CertificateOffset())
	}
}
