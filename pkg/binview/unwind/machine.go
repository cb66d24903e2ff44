package unwind

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
)

// Register identifies a general purpose or control register of the x64
// context. The first sixteen values follow the unwind-code encoding.
type Register uint8

// Registers
const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RIP
	EFLAGS
	CS
	SS
	NumRegisters
)

var registerNames = [NumRegisters]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rip", "eflags", "cs", "ss",
}

func (r Register) String() string {
	if r < NumRegisters {
		return registerNames[r]
	}
	return fmt.Sprintf("reg%d", uint8(r))
}

// NumXMM is the number of vector registers unwind codes can name.
const NumXMM = 16

// XMM is a 128-bit vector register as low and high quadwords.
type XMM [2]uint64

// Registers is the register file an unwind operates on.
type Registers interface {
	Reg(r Register) uint64
	SetReg(r Register, v uint64)
	XMM(n uint8) XMM
	SetXMM(n uint8, v XMM)
}

// Memory gives access to the unwound thread's address space.
type Memory interface {
	ReadMemory(addr uint64, p []byte) error
	WriteMemory(addr uint64, p []byte) error
}

// Context is a plain register file.
type Context struct {
	Regs [NumRegisters]uint64
	Xmm  [NumXMM]XMM
}

// Reg returns register r.
func (c *Context) Reg(r Register) uint64 {
	if r >= NumRegisters {
		return 0
	}
	return c.Regs[r]
}

// SetReg sets register r.
func (c *Context) SetReg(r Register, v uint64) {
	if r < NumRegisters {
		c.Regs[r] = v
	}
}

// XMM returns vector register n.
func (c *Context) XMM(n uint8) XMM {
	if n >= NumXMM {
		return XMM{}
	}
	return c.Xmm[n]
}

// SetXMM sets vector register n.
func (c *Context) SetXMM(n uint8, v XMM) {
	if n < NumXMM {
		c.Xmm[n] = v
	}
}

// ErrFault is returned by Buffer for accesses outside its range.
var ErrFault = errors.New("memory access out of range")

// Buffer is Memory backed by a byte slice mapped at Base.
type Buffer struct {
	Base uint64
	Data []byte
}

func (m *Buffer) span(addr uint64, n int) ([]byte, error) {
	if addr < m.Base || addr-m.Base > uint64(len(m.Data)) || uint64(n) > uint64(len(m.Data))-(addr-m.Base) {
		return nil, errors.Wrapf(ErrFault, "%#x+%d", addr, n)
	}
	off := addr - m.Base
	return m.Data[off : off+uint64(n)], nil
}

// ReadMemory copies len(p) bytes at addr into p.
func (m *Buffer) ReadMemory(addr uint64, p []byte) error {
	b, err := m.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

// WriteMemory copies p to addr.
func (m *Buffer) WriteMemory(addr uint64, p []byte) error {
	b, err := m.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

// SelfMemory dereferences addresses in the current process. It is only
// meaningful when unwinding a stack of this process and faults like any
// other wild pointer access.
type SelfMemory struct{}

func self(addr uint64, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}

// ReadMemory copies len(p) bytes at addr into p.
func (SelfMemory) ReadMemory(addr uint64, p []byte) error {
	if addr == 0 {
		return errors.Wrap(ErrFault, "nil address")
	}
	copy(p, self(addr, len(p)))
	return nil
}

// WriteMemory copies p to addr.
func (SelfMemory) WriteMemory(addr uint64, p []byte) error {
	if addr == 0 {
		return errors.Wrap(ErrFault, "nil address")
	}
	copy(self(addr, len(p)), p)
	return nil
}

// Machine couples a register file with the memory it refers to. A nil Mem
// reads and writes this process directly.
type Machine struct {
	Regs Registers
	Mem  Memory
}

func (m *Machine) mem() Memory {
	if m.Mem == nil {
		return SelfMemory{}
	}
	return m.Mem
}

func (m *Machine) read64(addr uint64) (uint64, error) {
	var b [8]byte
	if err := m.mem().ReadMemory(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (m *Machine) write64(addr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.mem().WriteMemory(addr, b[:])
}

func (m *Machine) read128(addr uint64) (XMM, error) {
	var b [16]byte
	if err := m.mem().ReadMemory(addr, b[:]); err != nil {
		return XMM{}, err
	}
	return XMM{binary.LittleEndian.Uint64(b[:]), binary.LittleEndian.Uint64(b[8:])}, nil
}

func (m *Machine) write128(addr uint64, v XMM) error {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:], v[0])
	binary.LittleEndian.PutUint64(b[8:], v[1])
	return m.mem().WriteMemory(addr, b[:])
}

func (m *Machine) rsp() uint64 {
	return m.Regs.Reg(RSP)
}

// pop reads the quadword at RSP into r and advances RSP.
func (m *Machine) pop(r Register) error {
	v, err := m.read64(m.rsp())
	if err != nil {
		return err
	}
	m.Regs.SetReg(r, v)
	m.Regs.SetReg(RSP, m.rsp()+8)
	return nil
}
