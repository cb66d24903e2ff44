package unwind

import (
	"github.com/elastic/go-freelru"
	"github.com/pkg/errors"
)

// Module is the image a walker reads unwind info from.
type Module interface {
	RVAToPtr(rva, n uint32) ([]byte, bool)
}

// maxChain bounds chained unwind info so a cycle cannot loop forever.
const maxChain = 32

const defaultCacheSize = 256

// Option configures a Walker.
type Option func(*Walker)

// WithCacheSize sets how many decoded unwind info records are kept.
func WithCacheSize(n uint32) Option {
	return func(w *Walker) {
		w.cacheSize = n
	}
}

// Walker unwinds frames of one loaded module.
type Walker struct {
	mod       Module
	table     *FunctionTable
	base      uint64
	cacheSize uint32
	cache     *freelru.SyncedLRU[uint32, *Info]
}

func hashRVA(rva uint32) uint32 {
	return rva * 0x9e3779b1
}

// NewWalker returns a walker for mod loaded at base, whose exception
// directory is indexed by table.
func NewWalker(mod Module, table *FunctionTable, base uint64, opts ...Option) (*Walker, error) {
	w := &Walker{mod: mod, table: table, base: base, cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(w)
	}
	cache, err := freelru.NewSynced[uint32, *Info](w.cacheSize, hashRVA)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create unwind info cache")
	}
	w.cache = cache
	return w, nil
}

// Info decodes the unwind info at rva, using the cache when possible.
func (w *Walker) Info(rva uint32) (*Info, error) {
	if info, ok := w.cache.Get(rva); ok {
		return info, nil
	}
	hdr, ok := w.mod.RVAToPtr(rva, infoHeaderSize)
	if !ok {
		return nil, errors.Wrapf(ErrNoUnwindInfo, "unwind info at %#x outside image", rva)
	}
	n, _ := InfoSize(hdr)
	b, ok := w.mod.RVAToPtr(rva, uint32(n))
	if !ok {
		return nil, errors.Wrapf(ErrBadInfo, "unwind info at %#x truncated", rva)
	}
	info, err := ParseInfo(b)
	if err != nil {
		return nil, errors.Wrapf(err, "unwind info at %#x", rva)
	}
	w.cache.Add(rva, info)
	return info, nil
}

// Frame is the result of one Step.
type Frame struct {
	Function  RuntimeFunction // Zero for leaf frames
	Leaf      bool
	Chain     int      // Chained records followed
	Call      CallSite // Set for leaf frames
	MachFrame bool
}

// Step unwinds m by one frame, leaving RIP and RSP at the caller's values.
// A RIP no entry covers is treated as a leaf function.
func (w *Walker) Step(m *Machine) (Frame, error) {
	rip := m.Regs.Reg(RIP)
	if rip < w.base || rip-w.base > 0xffffffff {
		return Frame{}, errors.Wrapf(ErrNoUnwindInfo, "rip %#x outside module", rip)
	}
	rva := uint32(rip - w.base)
	fn, ok := w.table.Lookup(rva)
	if !ok {
		call, err := UnwindCall(m)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Leaf: true, Call: call}, nil
	}

	f := Frame{Function: fn}
	offset := rva - fn.Begin
	cur := fn
	for {
		info, err := w.Info(cur.UnwindInfo)
		if err != nil {
			return f, err
		}
		mf, err := info.Unwind(m, offset)
		if err != nil {
			return f, err
		}
		f.MachFrame = f.MachFrame || mf
		if info.Chained == nil {
			break
		}
		if f.Chain++; f.Chain > maxChain {
			return f, errors.Wrapf(ErrBadInfo, "unwind chain from %#x too long", fn.Begin)
		}
		// The parent's prolog has fully run.
		cur = *info.Chained
		offset = ^uint32(0)
	}
	if !f.MachFrame {
		if err := m.pop(RIP); err != nil {
			return f, errors.Wrap(err, "failed to pop return address")
		}
	}
	return f, nil
}

// Walk steps m until RIP leaves the module or fn returns false, for at
// most limit frames.
func (w *Walker) Walk(m *Machine, limit int, fn func(Frame) bool) error {
	for i := 0; i < limit; i++ {
		rip := m.Regs.Reg(RIP)
		if rip == 0 || rip < w.base || rip-w.base > 0xffffffff {
			return nil
		}
		f, err := w.Step(m)
		if err != nil {
			return err
		}
		if !fn(f) {
			return nil
		}
	}
	return nil
}
