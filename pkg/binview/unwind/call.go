package unwind

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// CallKind classifies the instruction that produced a return address.
type CallKind int

// Call site kinds
const (
	CallUnknown CallKind = iota
	CallNear
	CallFar
	CallInterrupt  // int imm8
	CallBreakpoint // int3
)

func (k CallKind) String() string {
	switch k {
	case CallNear:
		return "call"
	case CallFar:
		return "lcall"
	case CallInterrupt:
		return "int"
	case CallBreakpoint:
		return "int3"
	}
	return "unknown"
}

// maxCallLen is the longest call encoding looked for before a return
// address.
const maxCallLen = 7

// CallSite describes the instruction preceding a return address.
type CallSite struct {
	Kind          CallKind
	Address       uint64 // Of the call instruction
	ReturnAddress uint64
	Len           int
	Inst          x86asm.Inst
}

// ErrNoCallSite is returned by UnwindCall when no call instruction ends at
// the return address.
var ErrNoCallSite = errors.New("return address does not follow a call")

// ClassifyCall decodes the bytes before ret, the last of which is
// code[len(code)-1], as a call or interrupt instruction ending at ret.
// Calls are tried first: the common five-byte rel32 form, then every
// encoding from the longest down, so that a call whose operand ends in
// bytes that also decode as a shorter call is reported whole.
func ClassifyCall(code []byte, ret uint64) (CallSite, bool) {
	n := len(code)
	decode := func(k int) (x86asm.Inst, bool) {
		if k > n {
			return x86asm.Inst{}, false
		}
		inst, err := x86asm.Decode(code[n-k:], 64)
		if err != nil || inst.Len != k {
			return x86asm.Inst{}, false
		}
		return inst, true
	}
	site := func(kind CallKind, k int, inst x86asm.Inst) CallSite {
		return CallSite{Kind: kind, Address: ret - uint64(k), ReturnAddress: ret, Len: k, Inst: inst}
	}

	if n >= 5 && code[n-5] == 0xe8 {
		if inst, ok := decode(5); ok && inst.Op == x86asm.CALL {
			return site(CallNear, 5, inst), true
		}
	}
	for k := maxCallLen; k >= 2; k-- {
		inst, ok := decode(k)
		if !ok {
			continue
		}
		switch inst.Op {
		case x86asm.CALL:
			return site(CallNear, k, inst), true
		case x86asm.LCALL:
			return site(CallFar, k, inst), true
		}
	}
	if inst, ok := decode(2); ok && code[n-2] == 0xcd && inst.Op == x86asm.INT {
		return site(CallInterrupt, 2, inst), true
	}
	if n >= 1 && code[n-1] == 0xcc {
		inst, _ := decode(1)
		return site(CallBreakpoint, 1, inst), true
	}
	return CallSite{}, false
}

// UnwindCall pops the return frame at RSP when no unwind info covers the
// current function, treating it as a leaf. The bytes before the return
// address are classified to tell how the frame was entered: a near call
// pushed only RIP, a far call RIP and CS, and an interrupt a full machine
// frame. RIP is left at the return address.
func UnwindCall(m *Machine) (CallSite, error) {
	sp := m.rsp()
	ret, err := m.read64(sp)
	if err != nil {
		return CallSite{}, errors.Wrap(err, "failed to read return address")
	}
	if ret < maxCallLen {
		return CallSite{}, errors.Wrapf(ErrNoCallSite, "%#x", ret)
	}
	code := make([]byte, maxCallLen)
	if err := m.mem().ReadMemory(ret-maxCallLen, code); err != nil {
		return CallSite{}, errors.Wrapf(err, "failed to read code before %#x", ret)
	}
	cs, ok := ClassifyCall(code, ret)
	if !ok {
		return CallSite{}, errors.Wrapf(ErrNoCallSite, "%#x", ret)
	}
	switch cs.Kind {
	case CallNear:
		err = m.pop(RIP)
	case CallFar:
		if err = m.pop(RIP); err == nil {
			err = m.pop(CS)
		}
	default:
		err = PushMachFrame{}.Unwind(m)
	}
	if err != nil {
		return CallSite{}, errors.Wrapf(err, "failed to pop %s frame", cs.Kind)
	}
	return cs, nil
}
