package binview

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/internal/mmfile"
	"github.com/jtang613/gobinview/pkg/binview/ar"
	"github.com/jtang613/gobinview/pkg/binview/coff"
	"github.com/jtang613/gobinview/pkg/binview/pe"
	"github.com/jtang613/gobinview/pkg/binview/resource"
	"github.com/jtang613/gobinview/pkg/binview/unwind"
)

// Kind identifies the container format of a file.
type Kind int

// File kinds
const (
	KindUnknown Kind = iota
	KindArchive
	KindObject
	KindBigObject
	KindImport
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindObject:
		return "coff"
	case KindBigObject:
		return "coff-bigobj"
	case KindImport:
		return "coff-import"
	case KindImage:
		return "pe"
	}
	return "unknown"
}

// ErrUnknownFormat is returned for files that are neither archives, COFF
// objects nor PE images.
var ErrUnknownFormat = errors.New("binview: unrecognized file format")

// ErrNotImage is returned by image-only queries on other kinds of file.
var ErrNotImage = errors.New("binview: not a PE image")

// Detect identifies the container format of data.
func Detect(data []byte) Kind {
	switch {
	case bytes.HasPrefix(data, []byte(ar.Magic)):
		return KindArchive
	case pe.IsImage(data):
		return KindImage
	}
	switch coff.Identify(data) {
	case coff.KindObject:
		return KindObject
	case coff.KindBigObject:
		return KindBigObject
	case coff.KindImport:
		return KindImport
	}
	return KindUnknown
}

// File represents an opened archive, object or image.
type File struct {
	data  []byte
	unmap func() error
	kind  Kind

	archive *ar.Archive
	object  *coff.Object
	image   *pe.Image

	// Cached results
	table   *unwind.FunctionTable
	walker  *unwind.Walker
	exports map[uint32]string
}

// Open maps the file at path and parses its headers. Images are read in
// layout, which is pe.LayoutMapped only for memory dumps of loaded modules.
func Open(path string, layout pe.Layout) (*File, error) {
	data, unmap, err := mmfile.Map(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	f, err := New(data, layout)
	if err != nil {
		_ = unmap()
		return nil, err
	}
	f.unmap = unmap
	return f, nil
}

// New parses data, which must stay unmodified while the File is in use.
func New(data []byte, layout pe.Layout) (*File, error) {
	f := &File{data: data, kind: Detect(data)}
	switch f.kind {
	case KindArchive:
		f.archive = ar.New(data)
	case KindImage:
		f.image = pe.NewImage(data, layout)
		if !f.image.Valid() {
			return nil, errors.Wrap(ErrUnknownFormat, "malformed PE headers")
		}
	case KindObject, KindBigObject, KindImport:
		f.object = coff.NewObject(data)
		if !f.object.Valid() {
			return nil, errors.Wrap(ErrUnknownFormat, "malformed COFF headers")
		}
	default:
		return nil, ErrUnknownFormat
	}
	return f, nil
}

// Close releases the file mapping.
func (f *File) Close() error {
	if f.unmap == nil {
		return nil
	}
	unmap := f.unmap
	f.unmap = nil
	return unmap()
}

// Kind returns the container format.
func (f *File) Kind() Kind {
	return f.kind
}

// Archive returns the archive view, or nil.
func (f *File) Archive() *ar.Archive {
	return f.archive
}

// Object returns the COFF object view, or nil.
func (f *File) Object() *coff.Object {
	return f.object
}

// Image returns the PE image view, or nil.
func (f *File) Image() *pe.Image {
	return f.image
}

func (f *File) symbolTable() *coff.SymbolTable {
	switch {
	case f.image != nil:
		return f.image.Symbols()
	case f.object != nil:
		return f.object.Symbols()
	}
	return nil
}

func (f *File) sectionHeaders() []coff.SectionHeader {
	switch {
	case f.image != nil:
		return f.image.Sections()
	case f.object != nil:
		return f.object.Sections()
	}
	return nil
}

func (f *File) sectionName(h *coff.SectionHeader) string {
	if f.image != nil {
		return f.image.SectionName(h)
	}
	return f.object.SectionName(h)
}

// Info returns basic file information.
func (f *File) Info() *FileInfo {
	info := &FileInfo{
		Kind:     f.kind.String(),
		Size:     len(f.data),
		Sections: len(f.sectionHeaders()),
	}
	if st := f.symbolTable(); st != nil {
		info.Symbols = st.Len()
	}

	switch {
	case f.archive != nil:
		info.Members = len(f.archive.Members())

	case f.image != nil:
		img := f.image
		opt := img.OptionalHeader()
		info.Machine = coff.MachineName(img.FileHeader().Machine)
		info.Layout = img.Layout().String()
		info.Is64 = img.Is64()
		info.ImageBase = img.ImageBase()
		info.EntryPoint = opt.AddressOfEntryPoint()
		info.SizeOfImage = opt.SizeOfImage()
		info.Subsystem = opt.Subsystem()
		info.CheckSum = opt.CheckSum()
		info.ComputedCheckSum, _ = img.Checksum()
		info.Truncated = img.Truncated()

	case f.object != nil:
		if imp, ok := f.object.Import(); ok {
			info.Machine = coff.MachineName(imp.Header.Machine)
			info.Import = &ImportObjectInfo{
				Symbol:     imp.SymbolName,
				DLL:        imp.DLLName,
				ImportName: imp.ImportName(),
				Type:       imp.Header.Type(),
				NameType:   imp.Header.NameType(),
				Ordinal:    imp.Header.OrdinalOrHint,
			}
		} else {
			info.Machine = coff.MachineName(f.object.FileHeader().Machine)
		}
	}
	return info
}

// Sections returns the section table.
func (f *File) Sections() []SectionInfo {
	headers := f.sectionHeaders()
	sections := make([]SectionInfo, len(headers))
	for i := range headers {
		h := &headers[i]
		s := SectionInfo{
			Index:           i + 1,
			Name:            f.sectionName(h),
			VirtualAddress:  h.VirtualAddress,
			VirtualSize:     h.VirtualSize,
			RawOffset:       h.PointerToRawData,
			RawSize:         h.SizeOfRawData,
			Characteristics: h.Characteristics,
		}
		if f.object != nil {
			s.Alignment = h.Alignment()
			if relocs, ok := f.object.Relocations(i); ok {
				s.Relocations = len(relocs)
			}
		}
		sections[i] = s
	}
	return sections
}

// Symbols returns the primary COFF symbols with their auxiliary record
// kinds.
func (f *File) Symbols() []SymbolInfo {
	st := f.symbolTable()
	if st == nil {
		return nil
	}
	symbols := make([]SymbolInfo, 0)
	it := st.Iter()
	for it.Next() {
		s := it.Symbol()
		name := it.Name()
		info := SymbolInfo{
			Index:        it.Index(),
			Name:         name,
			Value:        s.Value,
			Section:      s.SectionNumber,
			Type:         s.Type,
			StorageClass: s.StorageClass,
			IsFunction:   s.IsFunction(),
		}
		if d := DemangleFull(name); d.Name != name {
			info.DemangledName = d.Name
			info.Prototype = d.Prototype
		}
		if aux, err := st.Aux(it.Index()); err == nil {
			for _, a := range aux {
				info.Aux = append(info.Aux, a.Kind().String())
			}
		}
		symbols = append(symbols, info)
	}
	return symbols
}

// Members returns the archive members in file order.
func (f *File) Members() ([]MemberInfo, error) {
	if f.archive == nil {
		return nil, nil
	}
	members := make([]MemberInfo, 0)
	it := f.archive.Entries()
	for it.Next() {
		e := it.Entry()
		members = append(members, MemberInfo{
			Name:   e.Name,
			Offset: e.Offset,
			Size:   len(e.Payload),
			Date:   e.Header.ModTime(),
			Mode:   e.Header.FileMode(),
			Kind:   coff.Identify(e.Payload).String(),
		})
	}
	return members, it.Err()
}

// ArchiveSymbols returns the archive symbol index in table order.
func (f *File) ArchiveSymbols() []ArchiveSymbol {
	if f.archive == nil {
		return nil
	}
	idx := f.archive.ReadSymbols()
	symbols := make([]ArchiveSymbol, 0, idx.Len())
	for _, name := range idx.Names() {
		sym := ArchiveSymbol{Name: name}
		if d := Demangle(name); d != name {
			sym.DemangledName = d
		}
		for _, e := range idx.Lookup(name) {
			sym.Members = append(sym.Members, e.Name)
		}
		symbols = append(symbols, sym)
	}
	return symbols
}

// Directories returns the present data directories of an image.
func (f *File) Directories() ([]DirectoryInfo, error) {
	if f.image == nil {
		return nil, ErrNotImage
	}
	dirs := make([]DirectoryInfo, 0)
	for id := 0; id < pe.NumDirectories; id++ {
		d, ok := f.image.Directory(id)
		if !ok {
			continue
		}
		info := DirectoryInfo{
			Index:          id,
			Name:           pe.DirectoryName(id),
			Kind:           f.image.DirectoryKind(id).String(),
			VirtualAddress: d.VirtualAddress,
			Size:           d.Size,
		}
		if id != pe.DirSecurity {
			if i, ok := f.image.RVAToSection(d.VirtualAddress); ok {
				s, _ := f.image.Section(i)
				info.Section = f.image.SectionName(&s)
			}
		}
		dirs = append(dirs, info)
	}
	return dirs, nil
}

// FunctionTable returns the exception directory index.
func (f *File) FunctionTable() (*unwind.FunctionTable, error) {
	if f.table != nil {
		return f.table, nil
	}
	if f.image == nil {
		return nil, ErrNotImage
	}
	b, err := f.image.Decode(pe.DirException)
	if err != nil {
		return nil, err
	}
	raw, ok := b.([]byte)
	if !ok {
		return nil, errors.Wrap(pe.ErrMalformed, "exception directory")
	}
	f.table = unwind.NewFunctionTable(raw)
	return f.table, nil
}

// Walker returns an unwinder for the image loaded at its preferred base.
func (f *File) Walker() (*unwind.Walker, error) {
	if f.walker != nil {
		return f.walker, nil
	}
	table, err := f.FunctionTable()
	if err != nil {
		return nil, err
	}
	w, err := unwind.NewWalker(f.image, table, f.image.ImageBase())
	if err != nil {
		return nil, err
	}
	f.walker = w
	return w, nil
}

func (f *File) exportNames() map[uint32]string {
	if f.exports != nil {
		return f.exports
	}
	f.exports = make(map[uint32]string)
	if exp, err := f.image.Exports(); err == nil {
		for _, e := range exp.Functions {
			if e.Name != "" && e.Forwarder == "" {
				f.exports[e.RVA] = e.Name
			}
		}
	}
	return f.exports
}

func (f *File) functionInfo(fn unwind.RuntimeFunction) FunctionInfo {
	return FunctionInfo{
		Begin:      fn.Begin,
		End:        fn.End,
		UnwindInfo: fn.UnwindInfo,
		Name:       f.exportNames()[fn.Begin],
	}
}

// Functions returns the exception directory entries.
func (f *File) Functions() ([]FunctionInfo, error) {
	table, err := f.FunctionTable()
	if err != nil {
		return nil, err
	}
	functions := make([]FunctionInfo, table.Len())
	for i := range functions {
		fn, _ := table.At(i)
		functions[i] = f.functionInfo(fn)
	}
	return functions, nil
}

// maxChainDepth bounds the chained records reported by Unwind.
const maxChainDepth = 32

// Unwind describes the unwind info of the function containing rva.
func (f *File) Unwind(rva uint32) (*UnwindInfo, error) {
	w, err := f.Walker()
	if err != nil {
		return nil, err
	}
	fn, ok := f.table.Lookup(rva)
	if !ok {
		return nil, errors.Wrapf(unwind.ErrNoUnwindInfo, "no function contains %#x", rva)
	}

	var root *UnwindInfo
	for depth := 0; ; depth++ {
		if depth > maxChainDepth {
			return nil, errors.Wrapf(unwind.ErrBadInfo, "unwind chain from %#x too long", rva)
		}
		info, err := w.Info(fn.UnwindInfo)
		if err != nil {
			return nil, err
		}
		u := unwindInfo(info)
		u.Function = f.functionInfo(fn)
		if root == nil {
			root = u
		} else {
			root.Chained = append(root.Chained, u)
		}
		if info.Chained == nil {
			break
		}
		fn = *info.Chained
	}
	return root, nil
}

func unwindInfo(info *unwind.Info) *UnwindInfo {
	u := &UnwindInfo{
		Version:      info.Version,
		Flags:        info.Flags,
		SizeOfProlog: info.SizeOfProlog,
		Codes:        make([]UnwindCode, len(info.Codes)),
		Handler:      info.Handler,
	}
	if info.HasFrameRegister() {
		u.FrameRegister = info.FrameRegister.String()
		u.FrameOffset = info.FrameOffset
	}
	for i, c := range info.Codes {
		u.Codes[i] = UnwindCode{Offset: c.CodeOffset, Op: c.Op.String(), Slots: c.Op.Slots()}
	}
	return u
}

// Resources returns every leaf of the resource tree, sorted by path.
func (f *File) Resources() ([]ResourceInfo, error) {
	if f.image == nil {
		return nil, ErrNotImage
	}
	root, err := f.image.Resources()
	if err != nil {
		return nil, err
	}
	resources := make([]ResourceInfo, 0)
	err = root.Walk(func(path []resource.Entry, d resource.DataEntry) error {
		r := ResourceInfo{RVA: d.OffsetToData, Size: d.Size, CodePage: d.CodePage}
		for i, e := range path {
			s := e.String()
			switch i {
			case 0:
				if !e.Named {
					s = resource.TypeName(e.ID)
				}
				r.Type = s
			case 1:
				r.Name = s
			case 2:
				r.Language = s
			}
		}
		resources = append(resources, r)
		return nil
	})
	return resources, err
}

// Imports returns the imported and delay-loaded functions of an image.
func (f *File) Imports() ([]ImportInfo, error) {
	if f.image == nil {
		return nil, ErrNotImage
	}
	imports := make([]ImportInfo, 0)
	dlls, err := f.image.Imports()
	if err != nil && !errors.Is(err, pe.ErrNoDirectory) {
		return nil, err
	}
	for _, dll := range dlls {
		imports = append(imports, ImportInfo{DLL: dll.Name, Functions: importedNames(dll.Functions)})
	}
	delayed, err := f.image.DelayImports()
	if err != nil && !errors.Is(err, pe.ErrNoDirectory) {
		return nil, err
	}
	for _, dll := range delayed {
		imports = append(imports, ImportInfo{DLL: dll.Name, Delayed: true, Functions: importedNames(dll.Functions)})
	}
	return imports, nil
}

func importedNames(fns []pe.ImportedFunction) []ImportedName {
	names := make([]ImportedName, len(fns))
	for i, fn := range fns {
		n := ImportedName{ThunkRVA: fn.ThunkRVA}
		if fn.ByOrdinal {
			n.Ordinal = fn.Ordinal
		} else {
			n.Name = fn.Name
			n.Hint = fn.Hint
			if d := Demangle(fn.Name); d != fn.Name {
				n.DemangledName = d
			}
		}
		names[i] = n
	}
	return names
}

// Exports returns the exported functions of an image, ordered by ordinal.
func (f *File) Exports() ([]ExportInfo, error) {
	if f.image == nil {
		return nil, ErrNotImage
	}
	exp, err := f.image.Exports()
	if err != nil {
		return nil, err
	}
	exports := make([]ExportInfo, 0, len(exp.Functions))
	for _, e := range exp.Functions {
		info := ExportInfo{Ordinal: e.Ordinal, Name: e.Name, Forwarder: e.Forwarder}
		if e.Forwarder == "" {
			info.RVA = e.RVA
		}
		if d := Demangle(e.Name); d != e.Name {
			info.DemangledName = d
		}
		exports = append(exports, info)
	}
	sort.SliceStable(exports, func(i, j int) bool { return exports[i].Ordinal < exports[j].Ordinal })
	return exports, nil
}

// Debug returns the debug directory and the PDB it references.
func (f *File) Debug() (*DebugInfo, error) {
	if f.image == nil {
		return nil, ErrNotImage
	}
	entries, err := f.image.DebugEntries()
	if err != nil {
		return nil, err
	}
	info := &DebugInfo{Entries: make([]DebugEntryInfo, len(entries))}
	for i, e := range entries {
		d := e.Directory
		info.Entries[i] = DebugEntryInfo{
			Type:             d.Type,
			TimeDateStamp:    d.TimeDateStamp,
			SizeOfData:       d.SizeOfData,
			AddressOfRawData: d.AddressOfRawData,
			PointerToRawData: d.PointerToRawData,
		}
		if cv := e.CodeView; cv != nil && info.PDB == nil {
			ref := &PDBReference{Path: cv.Path, Age: cv.Age, Key: cv.SymbolServerKey()}
			if cv.Signature != pe.CodeViewNB10 {
				ref.GUID = cv.GUIDString()
			}
			info.PDB = ref
		}
	}
	return info, nil
}
