// Package binview provides high-level access to ar archives, COFF objects
// and PE images.
package binview

// FileInfo contains basic information about an opened file.
type FileInfo struct {
	Kind     string `json:"kind"`
	Size     int    `json:"size"`
	Machine  string `json:"machine,omitempty"`
	Sections int    `json:"sections"`
	Symbols  int    `json:"symbols"`
	Members  int    `json:"members,omitempty"`

	// PE images only
	Layout           string `json:"layout,omitempty"`
	Is64             bool   `json:"is64,omitempty"`
	ImageBase        uint64 `json:"image_base,omitempty"`
	EntryPoint       uint32 `json:"entry_point,omitempty"`
	SizeOfImage      uint32 `json:"size_of_image,omitempty"`
	Subsystem        uint16 `json:"subsystem,omitempty"`
	CheckSum         uint32 `json:"checksum,omitempty"`
	ComputedCheckSum uint32 `json:"computed_checksum,omitempty"`
	Truncated        bool   `json:"truncated,omitempty"`

	// Import objects only
	Import *ImportObjectInfo `json:"import,omitempty"`
}

// ImportObjectInfo describes a short import-library member.
type ImportObjectInfo struct {
	Symbol     string `json:"symbol"`
	DLL        string `json:"dll"`
	ImportName string `json:"import_name,omitempty"`
	Type       uint16 `json:"type"`
	NameType   uint16 `json:"name_type"`
	Ordinal    uint16 `json:"ordinal_or_hint"`
}

// SectionInfo represents a COFF or PE section.
type SectionInfo struct {
	Index           int    `json:"index"` // 1-based section index
	Name            string `json:"name"`
	VirtualAddress  uint32 `json:"virtual_address"`
	VirtualSize     uint32 `json:"virtual_size"`
	RawOffset       uint32 `json:"raw_offset"`
	RawSize         uint32 `json:"raw_size"`
	Alignment       uint32 `json:"alignment,omitempty"`
	Characteristics uint32 `json:"characteristics"`
	Relocations     int    `json:"relocations,omitempty"`
}

// SymbolInfo represents a COFF symbol table record.
type SymbolInfo struct {
	Index         uint32   `json:"index"`
	Name          string   `json:"name"`
	DemangledName string   `json:"demangled_name,omitempty"`
	Prototype     string   `json:"prototype,omitempty"`
	Value         uint32   `json:"value"`
	Section       int32    `json:"section"`
	Type          uint16   `json:"type"`
	StorageClass  uint8    `json:"storage_class"`
	IsFunction    bool     `json:"is_function"`
	Aux           []string `json:"aux,omitempty"` // Kinds of decoded auxiliary records
}

// MemberInfo represents an archive member.
type MemberInfo struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
	Size   int    `json:"size"`
	Date   int64  `json:"date"`
	Mode   uint32 `json:"mode"`
	Kind   string `json:"kind"` // Object layout of the payload
}

// ArchiveSymbol maps an archive symbol to the members defining it.
type ArchiveSymbol struct {
	Name          string   `json:"name"`
	DemangledName string   `json:"demangled_name,omitempty"`
	Members       []string `json:"members"`
}

// DirectoryInfo represents a PE data directory.
type DirectoryInfo struct {
	Index          int    `json:"index"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	VirtualAddress uint32 `json:"virtual_address"`
	Size           uint32 `json:"size"`
	Section        string `json:"section,omitempty"`
}

// FunctionInfo represents an exception directory entry.
type FunctionInfo struct {
	Begin      uint32 `json:"begin"`
	End        uint32 `json:"end"`
	UnwindInfo uint32 `json:"unwind_info"`
	Name       string `json:"name,omitempty"` // From the export directory
}

// UnwindInfo describes the unwind info covering an address, with any
// chained parents.
type UnwindInfo struct {
	Function      FunctionInfo  `json:"function"`
	Version       uint8         `json:"version"`
	Flags         uint8         `json:"flags"`
	SizeOfProlog  uint8         `json:"size_of_prolog"`
	FrameRegister string        `json:"frame_register,omitempty"`
	FrameOffset   uint32        `json:"frame_offset,omitempty"`
	Codes         []UnwindCode  `json:"codes"`
	Handler       uint32        `json:"handler,omitempty"`
	Chained       []*UnwindInfo `json:"chained,omitempty"`
}

// UnwindCode is one decoded unwind operation.
type UnwindCode struct {
	Offset uint8  `json:"offset"`
	Op     string `json:"op"`
	Slots  int    `json:"slots"`
}

// ResourceInfo represents one leaf of the resource tree.
type ResourceInfo struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Language string `json:"language"`
	RVA      uint32 `json:"rva"`
	Size     uint32 `json:"size"`
	CodePage uint32 `json:"code_page,omitempty"`
}

// ImportInfo represents the functions imported from one DLL.
type ImportInfo struct {
	DLL       string         `json:"dll"`
	Delayed   bool           `json:"delayed,omitempty"`
	Functions []ImportedName `json:"functions"`
}

// ImportedName is one imported function.
type ImportedName struct {
	Name          string `json:"name,omitempty"`
	DemangledName string `json:"demangled_name,omitempty"`
	Ordinal       uint16 `json:"ordinal,omitempty"`
	Hint          uint16 `json:"hint,omitempty"`
	ThunkRVA      uint32 `json:"thunk_rva"`
}

// ExportInfo represents one exported function.
type ExportInfo struct {
	Ordinal       uint32 `json:"ordinal"`
	RVA           uint32 `json:"rva,omitempty"`
	Name          string `json:"name,omitempty"`
	DemangledName string `json:"demangled_name,omitempty"`
	Forwarder     string `json:"forwarder,omitempty"`
}

// DebugInfo summarizes the debug directory.
type DebugInfo struct {
	Entries []DebugEntryInfo `json:"entries"`
	PDB     *PDBReference    `json:"pdb,omitempty"`
}

// DebugEntryInfo represents one debug directory entry.
type DebugEntryInfo struct {
	Type             uint32 `json:"type"`
	TimeDateStamp    uint32 `json:"timestamp"`
	SizeOfData       uint32 `json:"size"`
	AddressOfRawData uint32 `json:"rva,omitempty"`
	PointerToRawData uint32 `json:"offset,omitempty"`
}

// PDBReference is the CodeView record naming the matching PDB.
type PDBReference struct {
	Path string `json:"path"`
	GUID string `json:"guid,omitempty"`
	Age  uint32 `json:"age"`
	Key  string `json:"symbol_server_key"`
}
