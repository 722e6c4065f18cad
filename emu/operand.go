package emu

import (
	"github.com/sarchlab/x64sim/insts"
)

// OperandKind is the kind of a resolved operand.
type OperandKind uint8

// Resolved operand kinds.
const (
	OperandRegister OperandKind = iota + 1
	OperandMemory
	OperandImmediate
)

func (k OperandKind) String() string {
	switch k {
	case OperandRegister:
		return "register"
	case OperandMemory:
		return "memory"
	case OperandImmediate:
		return "immediate"
	default:
		return "invalid"
	}
}

// Operand is an instruction operand resolved against the current machine
// state. It is recomputed for every executed instruction.
type Operand struct {
	Kind OperandKind
	Reg  insts.Reg
	Addr uint64    // Effective address of a memory operand
	Imm  insts.Imm // Immediate as encoded
}

// ResolveOperand resolves operand i of inst.
func (e *Emulator) ResolveOperand(inst *insts.Instruction, i int) (Operand, error) {
	op := inst.Operand(i)

	switch op.Kind {
	case insts.OperandReg:
		if op.Reg == insts.RegNone || op.Reg == insts.RIP {
			return Operand{}, invalidOperand(inst, i, "unsupported register")
		}
		return Operand{Kind: OperandRegister, Reg: op.Reg}, nil
	case insts.OperandMem:
		return Operand{Kind: OperandMemory, Addr: e.EffectiveAddress(inst, op.Mem)}, nil
	case insts.OperandImm:
		return Operand{Kind: OperandImmediate, Imm: op.Imm}, nil
	case insts.OperandNearBranch:
		return Operand{}, invalidOperand(inst, i, "near branch used as a data operand")
	default:
		return Operand{}, invalidOperand(inst, i, "missing operand")
	}
}

// ResolveOperands2 resolves the first two operands of inst.
func (e *Emulator) ResolveOperands2(inst *insts.Instruction) (Operand, Operand, error) {
	dst, err := e.ResolveOperand(inst, 0)
	if err != nil {
		return Operand{}, Operand{}, err
	}

	src, err := e.ResolveOperand(inst, 1)
	if err != nil {
		return Operand{}, Operand{}, err
	}

	return dst, src, nil
}

// EffectiveAddress computes base + index*scale + displacement for a memory
// operand of inst. RIP-relative operands use the address of the next
// instruction as base.
func (e *Emulator) EffectiveAddress(inst *insts.Instruction, m insts.Mem) uint64 {
	var addr uint64

	switch {
	case m.RIPRelative:
		addr = inst.NextIP()
	case m.Base != insts.RegNone:
		addr = e.regFile.Read(m.Base)
	}

	if m.Index != insts.RegNone {
		addr += e.regFile.Read(m.Index) * uint64(m.Scale)
	}

	addr += uint64(m.Disp)

	if inst.AddressSize == insts.Width32 {
		addr &= 0xFFFFFFFF
	}

	return addr
}

// readOperand reads the value of op at width w. Immediates are
// sign-extended from their encoded size.
func (e *Emulator) readOperand(op Operand, w insts.Width) (uint64, error) {
	switch op.Kind {
	case OperandRegister:
		return e.regFile.Read(op.Reg) & w.Mask(), nil
	case OperandMemory:
		return e.memory.readWidth(op.Addr, w.Bytes())
	default:
		return insts.SignExtend(op.Imm.Raw, insts.Width(op.Imm.Size*8)) & w.Mask(), nil
	}
}

// writeOperand stores value into op at width w.
func (e *Emulator) writeOperand(op Operand, w insts.Width, value uint64) error {
	switch op.Kind {
	case OperandRegister:
		e.regFile.Write(op.Reg, value)
		return nil
	case OperandMemory:
		return e.memory.writeWidth(op.Addr, w.Bytes(), value)
	default:
		// The templates reject immediate destinations before getting here.
		panic("write to an immediate operand")
	}
}
