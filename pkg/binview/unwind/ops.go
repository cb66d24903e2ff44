package unwind

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned for operations that have no inverse.
var ErrUnsupported = errors.New("unsupported unwind operation")

// Op is one decoded unwind code. Unwind undoes the prolog instruction it
// describes; Rewind performs it again.
type Op interface {
	fmt.Stringer
	Unwind(m *Machine) error
	Rewind(m *Machine) error
	Slots() int
}

// PushNonvol describes push reg.
type PushNonvol struct {
	Reg Register
}

func (PushNonvol) Slots() int { return 1 }

func (o PushNonvol) Unwind(m *Machine) error {
	return m.pop(o.Reg)
}

func (o PushNonvol) Rewind(m *Machine) error {
	sp := m.rsp() - 8
	if err := m.write64(sp, m.Regs.Reg(o.Reg)); err != nil {
		return err
	}
	m.Regs.SetReg(RSP, sp)
	return nil
}

func (o PushNonvol) String() string {
	return fmt.Sprintf("push %s", o.Reg)
}

// Alloc describes sub rsp, Size. Large allocations use two or three slots.
type Alloc struct {
	Size  uint32
	Large bool
	slots int
}

func (o Alloc) Slots() int {
	if o.slots == 0 {
		return 1
	}
	return o.slots
}

func (o Alloc) Unwind(m *Machine) error {
	m.Regs.SetReg(RSP, m.rsp()+uint64(o.Size))
	return nil
}

func (o Alloc) Rewind(m *Machine) error {
	m.Regs.SetReg(RSP, m.rsp()-uint64(o.Size))
	return nil
}

func (o Alloc) String() string {
	return fmt.Sprintf("sub rsp, %#x", o.Size)
}

// SetFPReg describes lea Reg, [rsp+Offset].
type SetFPReg struct {
	Reg    Register
	Offset uint32
}

func (SetFPReg) Slots() int { return 1 }

func (o SetFPReg) Unwind(m *Machine) error {
	m.Regs.SetReg(RSP, m.Regs.Reg(o.Reg)-uint64(o.Offset))
	return nil
}

func (o SetFPReg) Rewind(m *Machine) error {
	m.Regs.SetReg(o.Reg, m.rsp()+uint64(o.Offset))
	return nil
}

func (o SetFPReg) String() string {
	return fmt.Sprintf("lea %s, [rsp+%#x]", o.Reg, o.Offset)
}

// SaveNonvol describes mov [rsp+Offset], reg.
type SaveNonvol struct {
	Reg    Register
	Offset uint32
	Far    bool
}

func (o SaveNonvol) Slots() int {
	if o.Far {
		return 3
	}
	return 2
}

func (o SaveNonvol) Unwind(m *Machine) error {
	v, err := m.read64(m.rsp() + uint64(o.Offset))
	if err != nil {
		return err
	}
	m.Regs.SetReg(o.Reg, v)
	return nil
}

func (o SaveNonvol) Rewind(m *Machine) error {
	return m.write64(m.rsp()+uint64(o.Offset), m.Regs.Reg(o.Reg))
}

func (o SaveNonvol) String() string {
	return fmt.Sprintf("mov [rsp+%#x], %s", o.Offset, o.Reg)
}

// SaveXMM describes a vector register spill to [rsp+Offset]. Version 1
// records may use the legacy form, which saves only the low quadword.
type SaveXMM struct {
	Reg    uint8
	Offset uint32
	Far    bool
	Legacy bool
}

func (o SaveXMM) Slots() int {
	if o.Far {
		return 3
	}
	return 2
}

func (o SaveXMM) Unwind(m *Machine) error {
	addr := m.rsp() + uint64(o.Offset)
	if o.Legacy {
		lo, err := m.read64(addr)
		if err != nil {
			return err
		}
		v := m.Regs.XMM(o.Reg)
		v[0] = lo
		m.Regs.SetXMM(o.Reg, v)
		return nil
	}
	v, err := m.read128(addr)
	if err != nil {
		return err
	}
	m.Regs.SetXMM(o.Reg, v)
	return nil
}

func (o SaveXMM) Rewind(m *Machine) error {
	addr := m.rsp() + uint64(o.Offset)
	if o.Legacy {
		return m.write64(addr, m.Regs.XMM(o.Reg)[0])
	}
	return m.write128(addr, m.Regs.XMM(o.Reg))
}

func (o SaveXMM) String() string {
	if o.Legacy {
		return fmt.Sprintf("movsd [rsp+%#x], xmm%d", o.Offset, o.Reg)
	}
	return fmt.Sprintf("movaps [rsp+%#x], xmm%d", o.Offset, o.Reg)
}

// Nop is an epilog descriptor or spare code. It has no effect on the
// context.
type Nop struct {
	Code  OpCode
	slots int
}

func (o Nop) Slots() int { return o.slots }
func (Nop) Unwind(m *Machine) error { return nil }
func (Nop) Rewind(m *Machine) error { return nil }

func (o Nop) String() string {
	return o.Code.String()
}

// PushMachFrame marks a hardware interrupt or exception frame: RIP, CS,
// RFLAGS, the old RSP and SS, optionally preceded by an error code.
type PushMachFrame struct {
	ErrorCode bool
}

func (PushMachFrame) Slots() int { return 1 }

func (o PushMachFrame) Unwind(m *Machine) error {
	sp := m.rsp()
	if o.ErrorCode {
		sp += 8
	}
	var frame [5]uint64
	for i := range frame {
		v, err := m.read64(sp + uint64(i)*8)
		if err != nil {
			return err
		}
		frame[i] = v
	}
	m.Regs.SetReg(RIP, frame[0])
	m.Regs.SetReg(CS, frame[1])
	m.Regs.SetReg(EFLAGS, frame[2])
	m.Regs.SetReg(RSP, frame[3])
	m.Regs.SetReg(SS, frame[4])
	return nil
}

func (PushMachFrame) Rewind(m *Machine) error {
	return errors.Wrap(ErrUnsupported, "machine frame cannot be replayed")
}

func (o PushMachFrame) String() string {
	if o.ErrorCode {
		return "machframe (error code)"
	}
	return "machframe"
}
