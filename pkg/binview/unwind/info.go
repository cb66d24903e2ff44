// Package unwind decodes x64 exception directories and interprets their
// unwind codes to step a register context from a function back to its
// caller, or forward through its prolog.
package unwind

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Errors
var (
	ErrBadInfo      = errors.New("malformed unwind info")
	ErrNoUnwindInfo = errors.New("no unwind info")
)

// UNWIND_INFO flags
const (
	FlagExceptionHandler   = 0x1
	FlagTerminationHandler = 0x2
	FlagChainInfo          = 0x4
)

// infoHeaderSize is the fixed part of UNWIND_INFO.
const infoHeaderSize = 4

// OpCode is the 4-bit operation of an unwind code slot.
type OpCode uint8

// Unwind operations. Codes 6 and 7 changed meaning in version 2.
const (
	OpPushNonvol    OpCode = 0
	OpAllocLarge    OpCode = 1
	OpAllocSmall    OpCode = 2
	OpSetFPReg      OpCode = 3
	OpSaveNonvol    OpCode = 4
	OpSaveNonvolFar OpCode = 5
	OpEpilog        OpCode = 6 // Version 2
	OpSpare         OpCode = 7 // Version 2
	OpSaveXMM128    OpCode = 8
	OpSaveXMM128Far OpCode = 9
	OpPushMachFrame OpCode = 10

	OpSaveXMM    = OpEpilog // Version 1
	OpSaveXMMFar = OpSpare  // Version 1
)

var opNames = map[OpCode]string{
	OpPushNonvol:    "push_nonvol",
	OpAllocLarge:    "alloc_large",
	OpAllocSmall:    "alloc_small",
	OpSetFPReg:      "set_fpreg",
	OpSaveNonvol:    "save_nonvol",
	OpSaveNonvolFar: "save_nonvol_far",
	OpEpilog:        "epilog",
	OpSpare:         "spare",
	OpSaveXMM128:    "save_xmm128",
	OpSaveXMM128Far: "save_xmm128_far",
	OpPushMachFrame: "push_machframe",
}

func (o OpCode) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op%d", uint8(o))
}

// Code is one decoded unwind code.
type Code struct {
	CodeOffset uint8 // Offset of the end of the prolog instruction
	OpCode     OpCode
	OpInfo     uint8
	Op         Op
}

// Info is a decoded UNWIND_INFO record.
type Info struct {
	Version       uint8
	Flags         uint8
	SizeOfProlog  uint8
	CountOfCodes  uint8
	FrameRegister Register
	FrameOffset   uint32 // Scaled by 16
	Codes         []Code // In unwind order, last prolog instruction first
	Handler       uint32
	HandlerData   []byte
	Chained       *RuntimeFunction
}

// HasFrameRegister reports whether the function establishes a frame
// pointer.
func (info *Info) HasFrameRegister() bool {
	return info.FrameRegister != 0
}

// InfoSize returns the size of the unwind info record starting at b,
// excluding handler data, from its four-byte header.
func InfoSize(b []byte) (int, bool) {
	if len(b) < infoHeaderSize {
		return 0, false
	}
	n := infoHeaderSize + int(region.Even(uint(b[2])))*2
	switch flags := b[0] >> 3; {
	case flags&FlagChainInfo != 0:
		n += RuntimeFunctionSize
	case flags&(FlagExceptionHandler|FlagTerminationHandler) != 0:
		n += 4
	}
	return n, true
}

// ParseInfo decodes the unwind info record at the start of b. Bytes past
// the handler RVA are returned as HandlerData.
func ParseInfo(b []byte) (*Info, error) {
	c := region.NewCursor(b)
	vf, ok := c.Uint8()
	if !ok {
		return nil, errors.Wrap(ErrBadInfo, "truncated header")
	}
	info := &Info{Version: vf & 0x7, Flags: vf >> 3}
	if info.Version != 1 && info.Version != 2 {
		return nil, errors.Wrapf(ErrBadInfo, "version %d", info.Version)
	}
	info.SizeOfProlog, _ = c.Uint8()
	info.CountOfCodes, _ = c.Uint8()
	frame, ok := c.Uint8()
	if !ok {
		return nil, errors.Wrap(ErrBadInfo, "truncated header")
	}
	info.FrameRegister = Register(frame & 0xf)
	info.FrameOffset = uint32(frame>>4) * 16

	slots := make([]uint16, region.Even(uint(info.CountOfCodes)))
	for i := range slots {
		if slots[i], ok = c.Uint16LE(); !ok {
			return nil, errors.Wrapf(ErrBadInfo, "truncated code slot %d", i)
		}
	}
	codes, err := info.decodeCodes(slots[:info.CountOfCodes])
	if err != nil {
		return nil, err
	}
	info.Codes = codes

	switch {
	case info.Flags&FlagChainInfo != 0:
		rf, ok := c.Bytes(RuntimeFunctionSize)
		if !ok {
			return nil, errors.Wrap(ErrBadInfo, "truncated chained function")
		}
		f := readRuntimeFunction(rf)
		info.Chained = &f
	case info.Flags&(FlagExceptionHandler|FlagTerminationHandler) != 0:
		if info.Handler, ok = c.Uint32LE(); !ok {
			return nil, errors.Wrap(ErrBadInfo, "truncated handler")
		}
		info.HandlerData = c.Rest()
	}
	return info, nil
}

func (info *Info) decodeCodes(slots []uint16) ([]Code, error) {
	var codes []Code
	for i := 0; i < len(slots); {
		s := slots[i]
		code := Code{
			CodeOffset: uint8(s),
			OpCode:     OpCode(s>>8) & 0xf,
			OpInfo:     uint8(s >> 12),
		}
		// operand returns slot i+k, the extra slots some codes carry.
		operand := func(k int) (uint32, error) {
			if i+k >= len(slots) {
				return 0, errors.Wrapf(ErrBadInfo, "%s at slot %d is missing operands", code.OpCode, i)
			}
			return uint32(slots[i+k]), nil
		}
		far := func() (uint32, error) {
			lo, err := operand(1)
			if err != nil {
				return 0, err
			}
			hi, err := operand(2)
			return lo | hi<<16, err
		}
		var err error
		switch code.OpCode {
		case OpPushNonvol:
			code.Op = PushNonvol{Reg: Register(code.OpInfo)}
		case OpAllocLarge:
			switch code.OpInfo {
			case 0:
				var v uint32
				v, err = operand(1)
				code.Op = Alloc{Size: v * 8, Large: true, slots: 2}
			case 1:
				var v uint32
				v, err = far()
				code.Op = Alloc{Size: v, Large: true, slots: 3}
			default:
				err = errors.Wrapf(ErrBadInfo, "alloc_large info %d", code.OpInfo)
			}
		case OpAllocSmall:
			code.Op = Alloc{Size: uint32(code.OpInfo)*8 + 8, slots: 1}
		case OpSetFPReg:
			if !info.HasFrameRegister() {
				err = errors.Wrap(ErrBadInfo, "set_fpreg without a frame register")
			}
			code.Op = SetFPReg{Reg: info.FrameRegister, Offset: info.FrameOffset}
		case OpSaveNonvol:
			var v uint32
			v, err = operand(1)
			code.Op = SaveNonvol{Reg: Register(code.OpInfo), Offset: v * 8}
		case OpSaveNonvolFar:
			var v uint32
			v, err = far()
			code.Op = SaveNonvol{Reg: Register(code.OpInfo), Offset: v, Far: true}
		case OpEpilog:
			if info.Version == 1 {
				var v uint32
				v, err = operand(1)
				code.Op = SaveXMM{Reg: code.OpInfo, Offset: v * 8, Legacy: true}
			} else {
				code.Op = Nop{Code: OpEpilog, slots: 2}
			}
		case OpSpare:
			if info.Version == 1 {
				var v uint32
				v, err = far()
				code.Op = SaveXMM{Reg: code.OpInfo, Offset: v, Far: true, Legacy: true}
			} else {
				code.Op = Nop{Code: OpSpare, slots: 3}
			}
		case OpSaveXMM128:
			var v uint32
			v, err = operand(1)
			code.Op = SaveXMM{Reg: code.OpInfo, Offset: v * 16}
		case OpSaveXMM128Far:
			var v uint32
			v, err = far()
			code.Op = SaveXMM{Reg: code.OpInfo, Offset: v, Far: true}
		case OpPushMachFrame:
			if code.OpInfo > 1 {
				err = errors.Wrapf(ErrBadInfo, "push_machframe info %d", code.OpInfo)
			}
			code.Op = PushMachFrame{ErrorCode: code.OpInfo == 1}
		default:
			err = errors.Wrapf(ErrBadInfo, "unknown operation %d at slot %d", code.OpCode, i)
		}
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		i += code.Op.Slots()
	}
	return codes, nil
}

// Slots returns the number of code slots used, before padding.
func (info *Info) Slots() int {
	n := 0
	for _, c := range info.Codes {
		n += c.Op.Slots()
	}
	return n
}

// Unwind undoes the prolog of the function against m, given the offset of
// the instruction pointer from the function start. Inside the prolog only
// the codes for instructions that already ran are applied. It reports
// whether a machine frame was popped, which also restores RIP.
func (info *Info) Unwind(m *Machine, offset uint32) (bool, error) {
	inProlog := offset < uint32(info.SizeOfProlog)
	ran := func(c Code) bool {
		return !inProlog || uint32(c.CodeOffset) <= offset
	}
	// Saves recorded after the frame pointer was set are relative to the
	// RSP it was derived from, not to the current RSP.
	for _, c := range info.Codes {
		if fp, ok := c.Op.(SetFPReg); ok && ran(c) {
			m.Regs.SetReg(RSP, m.Regs.Reg(fp.Reg)-uint64(fp.Offset))
			break
		}
	}
	machframe := false
	for i, c := range info.Codes {
		if !ran(c) {
			continue
		}
		if err := c.Op.Unwind(m); err != nil {
			return machframe, errors.Wrapf(err, "unwind code %d (%s)", i, c.OpCode)
		}
		if _, ok := c.Op.(PushMachFrame); ok {
			machframe = true
		}
	}
	return machframe, nil
}

// Rewind replays the whole prolog against m, first instruction first.
func (info *Info) Rewind(m *Machine) error {
	for i := len(info.Codes) - 1; i >= 0; i-- {
		c := info.Codes[i]
		if err := c.Op.Rewind(m); err != nil {
			return errors.Wrapf(err, "rewind code %d (%s)", i, c.OpCode)
		}
	}
	return nil
}

// Encode appends the slot encoding of codes to b.
func Encode(b []byte, codes []Code) []byte {
	for _, c := range codes {
		b = binary.LittleEndian.AppendUint16(b, uint16(c.CodeOffset)|uint16(c.OpCode)<<8|uint16(c.OpInfo)<<12)
		switch op := c.Op.(type) {
		case Alloc:
			if op.Slots() == 2 {
				b = binary.LittleEndian.AppendUint16(b, uint16(op.Size/8))
			} else if op.Slots() == 3 {
				b = binary.LittleEndian.AppendUint32(b, op.Size)
			}
		case SaveNonvol:
			if op.Far {
				b = binary.LittleEndian.AppendUint32(b, op.Offset)
			} else {
				b = binary.LittleEndian.AppendUint16(b, uint16(op.Offset/8))
			}
		case SaveXMM:
			scale := uint32(16)
			if op.Legacy {
				scale = 8
			}
			if op.Far {
				b = binary.LittleEndian.AppendUint32(b, op.Offset)
			} else {
				b = binary.LittleEndian.AppendUint16(b, uint16(op.Offset/scale))
			}
		case Nop:
			for k := 1; k < op.slots; k++ {
				b = binary.LittleEndian.AppendUint16(b, 0)
			}
		}
	}
	return b
}
