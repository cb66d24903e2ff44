package resource

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/internal/fixture"
)

const treeRVA = 0x5000

func id(n uint32) fixture.ResourceID { return fixture.ResourceID{ID: n} }
func named(s string) fixture.ResourceID { return fixture.ResourceID{Name: s} }

func utf16(t *testing.T, s string) []byte {
	t.Helper()
	b, err := utf16le.NewEncoder().String(s)
	if err != nil {
		t.Fatal(err)
	}
	return []byte(b)
}

func sampleTree(t *testing.T) []byte {
	return fixture.ResourceTree(treeRVA, []fixture.ResourceLeaf{
		{Type: id(TypeVersion), Name: id(1), Lang: id(1033), Data: []byte("v1")},
		{Type: id(TypeManifest), Name: id(1), Lang: id(1033), Data: []byte("<assembly/>"), CodePage: CodePageUTF8},
		{Type: named("CONFIG"), Name: named("MAIN"), Lang: id(0), Data: utf16(t, "hi"), CodePage: CodePageUTF16LE},
		{Type: id(TypeString), Name: id(1), Lang: id(1033), Data: []byte("en")},
		{Type: id(TypeString), Name: id(1), Lang: id(1049), Data: []byte("ru")},
	})
}

func payload(b []byte, d DataEntry) string {
	off := d.OffsetToData - treeRVA
	return string(b[off : off+d.Size])
}

func TestNavigate(t *testing.T) {
	b := sampleTree(t)
	root := New(b)
	if root.Len() != 4 || root.Depth() != 0 {
		t.Fatalf("root: Len() = %d, Depth() = %d", root.Len(), root.Depth())
	}
	if d := root.Directory(); d.NumberOfNamedEntries != 1 || d.NumberOfIDEntries != 3 {
		t.Errorf("root directory = %+v", d)
	}
	e, ok := root.Entry(0)
	if !ok || !e.Named || e.Name != "CONFIG" || !e.Subdirectory {
		t.Errorf("Entry(0) = %+v, %v", e, ok)
	}
	if _, ok := root.Entry(4); ok {
		t.Error("Entry(4) succeeded")
	}

	i, ok := root.Find(TypeManifest)
	if !ok || i != 2 {
		t.Errorf("Find(MANIFEST) = %d, %v", i, ok)
	}
	if _, ok := root.Find(TypeBitmap); ok {
		t.Error("Find(BITMAP) succeeded")
	}
	if i, ok := root.FindName("CONFIG"); !ok || i != 0 {
		t.Errorf("FindName(CONFIG) = %d, %v", i, ok)
	}
	if _, ok := root.FindName("config"); ok {
		t.Error("FindName is case-insensitive")
	}
	if _, ok := root.Data(0); ok {
		t.Error("Data on a subdirectory succeeded")
	}

	i, _ = root.Find(TypeString)
	names, ok := root.Descend(i)
	if !ok || names.Len() != 1 || names.Depth() != 1 {
		t.Fatalf("STRING names: %v, Len() = %d", ok, names.Len())
	}
	langs, ok := names.Descend(0)
	if !ok || langs.Len() != 2 || langs.Depth() != 2 {
		t.Fatalf("STRING langs: %v, Len() = %d", ok, langs.Len())
	}
	j, ok := langs.Find(1049)
	if !ok {
		t.Fatal("Find(1049) failed")
	}
	if _, ok := langs.Descend(j); ok {
		t.Error("Descend on a leaf succeeded")
	}
	d, ok := langs.Data(j)
	if !ok || d.Size != 2 || payload(b, d) != "ru" {
		t.Errorf("Data = %+v, %v", d, ok)
	}
}

func TestWalk(t *testing.T) {
	b := sampleTree(t)
	var got []string
	err := New(b).Walk(func(path []Entry, d DataEntry) error {
		parts := make([]string, len(path))
		for i, e := range path {
			parts[i] = e.String()
		}
		got = append(got, strings.Join(parts, "/")+"="+payload(b, d))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"CONFIG/MAIN/0=h\x00i\x00",
		"16/1/1033=v1",
		"24/1/1033=<assembly/>",
		"6/1/1033=en",
		"6/1/1049=ru",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("Walk visited\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}

	stop := errors.New("stop")
	n := 0
	err = New(b).Walk(func([]Entry, DataEntry) error {
		n++
		return stop
	})
	if err != stop || n != 1 {
		t.Errorf("Walk returned %v after %d calls", err, n)
	}
}

func TestTruncatedTree(t *testing.T) {
	b := sampleTree(t)
	if c := New(b[:DirectorySize-1]); c.Len() != 0 {
		t.Errorf("short header: Len() = %d", c.Len())
	}
	// The root claims four entries but only one fits.
	c := New(b[:DirectorySize+EntrySize+3])
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if _, ok := c.Descend(0); ok {
		t.Error("Descend into missing subdirectory succeeded")
	}
	if e, ok := c.Entry(0); !ok || e.Name != "" {
		t.Errorf("Entry(0) with unreadable name = %+v, %v", e, ok)
	}
}

func TestCyclicTree(t *testing.T) {
	b := make([]byte, DirectorySize+EntrySize)
	binary.LittleEndian.PutUint16(b[14:], 1)
	binary.LittleEndian.PutUint32(b[16:], 1)
	binary.LittleEndian.PutUint32(b[20:], dataIsDirectory)

	c := New(b)
	for depth := 0; depth < maxDepth; depth++ {
		var ok bool
		if c, ok = c.Descend(0); !ok {
			t.Fatalf("Descend failed at depth %d", depth)
		}
	}
	if _, ok := c.Descend(0); ok {
		t.Error("Descend beyond depth limit succeeded")
	}
	err := New(b).Walk(func([]Entry, DataEntry) error { return nil })
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Walk() = %v", err)
	}
}

func TestFanOutCycle(t *testing.T) {
	const fanOut = 8
	leaf := DirectorySize + fanOut*EntrySize
	b := make([]byte, leaf+DataEntrySize)
	binary.LittleEndian.PutUint16(b[14:], fanOut)
	for i := 0; i < fanOut; i++ {
		e := b[DirectorySize+i*EntrySize:]
		binary.LittleEndian.PutUint32(e, uint32(i+1))
		binary.LittleEndian.PutUint32(e[4:], dataIsDirectory)
	}
	binary.LittleEndian.PutUint32(b[DirectorySize+(fanOut-1)*EntrySize+4:], uint32(leaf))
	binary.LittleEndian.PutUint32(b[leaf+4:], 3)

	var leaves []uint32
	err := New(b).Walk(func(path []Entry, d DataEntry) error {
		leaves = append(leaves, path[len(path)-1].ID)
		if d.Size != 3 {
			t.Errorf("leaf size = %d", d.Size)
		}
		return nil
	})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Walk() = %v", err)
	}
	if len(leaves) != 1 || leaves[0] != fanOut {
		t.Errorf("leaves = %v", leaves)
	}
}

func TestSharedSubdirectory(t *testing.T) {
	// Two root entries name the same directory, which holds one leaf.
	sub := DirectorySize + 2*EntrySize
	data := sub + DirectorySize + EntrySize
	b := make([]byte, data+DataEntrySize)
	binary.LittleEndian.PutUint16(b[14:], 2)
	for i := 0; i < 2; i++ {
		e := b[DirectorySize+i*EntrySize:]
		binary.LittleEndian.PutUint32(e, uint32(i+1))
		binary.LittleEndian.PutUint32(e[4:], dataIsDirectory|uint32(sub))
	}
	binary.LittleEndian.PutUint16(b[sub+14:], 1)
	binary.LittleEndian.PutUint32(b[sub+DirectorySize+4:], uint32(data))

	n := 0
	err := New(b).Walk(func([]Entry, DataEntry) error { n++; return nil })
	if !errors.Is(err, ErrMalformed) || n != 1 {
		t.Errorf("Walk() = %v after %d leaves", err, n)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		codePage uint32
		in       []byte
		want     string
	}{
		{CodePageDefault, utf16(t, "Bücher"), "Bücher"},
		{CodePageUTF16LE, append(utf16(t, "ok"), 0x41), "ok"},
		{CodePageUTF8, []byte("naïve"), "naïve"},
		{1252, []byte{0x80, 'x'}, "€x"},
		{1251, []byte{0xc0}, "А"},
		{437, []byte{0xb0}, "░"},
	}
	for _, tt := range tests {
		got, err := DataEntry{CodePage: tt.codePage}.Decode(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("Decode(cp %d) = %q, %v; want %q", tt.codePage, got, err, tt.want)
		}
	}
	if _, err := (DataEntry{CodePage: 12345}).Decode([]byte("x")); !errors.Is(err, ErrCodePage) {
		t.Errorf("unknown code page err = %v", err)
	}
	if _, err := (DataEntry{CodePage: CodePageUTF8}).Decode([]byte{0xff}); err == nil {
		t.Error("invalid UTF-8 accepted")
	}
}

func TestTypeName(t *testing.T) {
	if TypeName(TypeManifest) != "MANIFEST" || TypeName(13) != "" {
		t.Errorf("TypeName = %q, %q", TypeName(TypeManifest), TypeName(13))
	}
}
