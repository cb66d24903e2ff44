package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// TLS directory sizes
const (
	TLSDirectory32Size = 24
	TLSDirectory64Size = 40
)

// maxCallbacks bounds the TLS callback array.
const maxCallbacks = 1024

// TLSDirectory is the IMAGE_TLS_DIRECTORY, widened to 64-bit addresses.
type TLSDirectory struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
	Callbacks             []uint64 // Virtual addresses of the callbacks
}

// TLS decodes the thread-local storage directory.
func (img *Image) TLS() (*TLSDirectory, error) {
	b, _, err := img.directory(DirTLS)
	if err != nil {
		return nil, err
	}
	width := img.opt.Width()
	size := TLSDirectory32Size
	if width == 8 {
		size = TLSDirectory64Size
	}
	if len(b) < size {
		return nil, errors.Wrapf(ErrMalformed, "tls directory of %d bytes", len(b))
	}
	c := region.NewCursor(b)
	t := &TLSDirectory{}
	t.StartAddressOfRawData, _ = c.Word(width)
	t.EndAddressOfRawData, _ = c.Word(width)
	t.AddressOfIndex, _ = c.Word(width)
	t.AddressOfCallBacks, _ = c.Word(width)
	t.SizeOfZeroFill, _ = c.Uint32LE()
	t.Characteristics, _ = c.Uint32LE()

	if t.AddressOfCallBacks == 0 {
		return t, nil
	}
	rva, ok := img.vaToRVA(t.AddressOfCallBacks)
	if !ok {
		return t, errors.Wrapf(ErrMalformed, "tls callbacks at %#x", t.AddressOfCallBacks)
	}
	for i := 0; i < maxCallbacks; i++ {
		p, ok := img.RVAToPtr(rva+uint32(i*width), uint32(width))
		if !ok {
			return t, errors.Wrapf(ErrMalformed, "tls callback %d", i)
		}
		pc := region.NewCursor(p)
		va, _ := pc.Word(width)
		if va == 0 {
			break
		}
		t.Callbacks = append(t.Callbacks, va)
	}
	return t, nil
}

// loadConfig32 is the IMAGE_LOAD_CONFIG_DIRECTORY32 prefix up to GuardFlags.
type loadConfig32 struct {
	Size                           uint32
	TimeDateStamp                  uint32
	MajorVersion                   uint16
	MinorVersion                   uint16
	GlobalFlagsClear               uint32
	GlobalFlagsSet                 uint32
	CriticalSectionDefaultTimeout  uint32
	DeCommitFreeBlockThreshold     uint32
	DeCommitTotalFreeThreshold     uint32
	LockPrefixTable                uint32
	MaximumAllocationSize          uint32
	VirtualMemoryThreshold         uint32
	ProcessHeapFlags               uint32
	ProcessAffinityMask            uint32
	CSDVersion                     uint16
	DependentLoadFlags             uint16
	EditList                       uint32
	SecurityCookie                 uint32
	SEHandlerTable                 uint32
	SEHandlerCount                 uint32
	GuardCFCheckFunctionPointer    uint32
	GuardCFDispatchFunctionPointer uint32
	GuardCFFunctionTable           uint32
	GuardCFFunctionCount           uint32
	GuardFlags                     uint32
}

// Load config layout sizes up to GuardFlags
const (
	LoadConfig32Size = 92
	LoadConfig64Size = 148
)

// LoadConfig is the IMAGE_LOAD_CONFIG_DIRECTORY64 prefix up to GuardFlags.
// 32-bit directories are widened into it. Fields beyond the recorded Size
// are zero.
type LoadConfig struct {
	Size                           uint32
	TimeDateStamp                  uint32
	MajorVersion                   uint16
	MinorVersion                   uint16
	GlobalFlagsClear               uint32
	GlobalFlagsSet                 uint32
	CriticalSectionDefaultTimeout  uint32
	DeCommitFreeBlockThreshold     uint64
	DeCommitTotalFreeThreshold     uint64
	LockPrefixTable                uint64
	MaximumAllocationSize          uint64
	VirtualMemoryThreshold         uint64
	ProcessAffinityMask            uint64
	ProcessHeapFlags               uint32
	CSDVersion                     uint16
	DependentLoadFlags             uint16
	EditList                       uint64
	SecurityCookie                 uint64
	SEHandlerTable                 uint64
	SEHandlerCount                 uint64
	GuardCFCheckFunctionPointer    uint64
	GuardCFDispatchFunctionPointer uint64
	GuardCFFunctionTable           uint64
	GuardCFFunctionCount           uint64
	GuardFlags                     uint32
}

func (r *loadConfig32) widen() *LoadConfig {
	return &LoadConfig{
		Size:                           r.Size,
		TimeDateStamp:                  r.TimeDateStamp,
		MajorVersion:                   r.MajorVersion,
		MinorVersion:                   r.MinorVersion,
		GlobalFlagsClear:               r.GlobalFlagsClear,
		GlobalFlagsSet:                 r.GlobalFlagsSet,
		CriticalSectionDefaultTimeout:  r.CriticalSectionDefaultTimeout,
		DeCommitFreeBlockThreshold:     uint64(r.DeCommitFreeBlockThreshold),
		DeCommitTotalFreeThreshold:     uint64(r.DeCommitTotalFreeThreshold),
		LockPrefixTable:                uint64(r.LockPrefixTable),
		MaximumAllocationSize:          uint64(r.MaximumAllocationSize),
		VirtualMemoryThreshold:         uint64(r.VirtualMemoryThreshold),
		ProcessAffinityMask:            uint64(r.ProcessAffinityMask),
		ProcessHeapFlags:               r.ProcessHeapFlags,
		CSDVersion:                     r.CSDVersion,
		DependentLoadFlags:             r.DependentLoadFlags,
		EditList:                       uint64(r.EditList),
		SecurityCookie:                 uint64(r.SecurityCookie),
		SEHandlerTable:                 uint64(r.SEHandlerTable),
		SEHandlerCount:                 uint64(r.SEHandlerCount),
		GuardCFCheckFunctionPointer:    uint64(r.GuardCFCheckFunctionPointer),
		GuardCFDispatchFunctionPointer: uint64(r.GuardCFDispatchFunctionPointer),
		GuardCFFunctionTable:           uint64(r.GuardCFFunctionTable),
		GuardCFFunctionCount:           uint64(r.GuardCFFunctionCount),
		GuardFlags:                     r.GuardFlags,
	}
}

// LoadConfig decodes the load configuration directory. Its layout grows with
// each OS release; the leading Size field says how much is present.
func (img *Image) LoadConfig() (*LoadConfig, error) {
	b, _, err := img.directory(DirLoadConfig)
	if err != nil {
		return nil, err
	}
	size, ok := region.New(b).Uint32(0)
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "load config too small")
	}
	limit := min(int(size), len(b))
	if limit < 4 {
		return nil, errors.Wrapf(ErrMalformed, "load config size %d", size)
	}

	var buf [LoadConfig64Size]byte
	copy(buf[:], b[:limit])
	rd := bytes.NewReader(buf[:])
	if img.Is64() {
		lc := &LoadConfig{}
		if err := binary.Read(rd, binary.LittleEndian, lc); err != nil {
			return nil, errors.Wrap(err, "failed to read load config")
		}
		return lc, nil
	}
	var raw loadConfig32
	if err := binary.Read(rd, binary.LittleEndian, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to read load config")
	}
	return raw.widen(), nil
}
