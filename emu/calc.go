package emu

import (
	"github.com/sarchlab/x64sim/insts"
)

// binaryOp computes dst OP src at width w. It returns the result and the
// flags among CF, OF and AF that are set by the operation.
type binaryOp func(dst, src uint64, w insts.Width) (uint64, Flags)

// unaryOp computes OP v at width w, like binaryOp.
type unaryOp func(v uint64, w insts.Width) (uint64, Flags)

// calcRmR executes a two-operand instruction with an r/m destination and a
// register source.
func (e *Emulator) calcRmR(inst *insts.Instruction, w insts.Width, op binaryOp, spec FlagSpec) error {
	dst, src, err := e.ResolveOperands2(inst)
	if err != nil {
		return err
	}
	if dst.Kind == OperandImmediate {
		return invalidOperand(inst, 0, "immediate destination")
	}
	if src.Kind != OperandRegister {
		return invalidOperand(inst, 1, "expected a register, got %v", src.Kind)
	}

	return e.calcBinary(w, dst, src, op, spec)
}

// calcRRm executes a two-operand instruction with a register destination
// and an r/m source.
func (e *Emulator) calcRRm(inst *insts.Instruction, w insts.Width, op binaryOp, spec FlagSpec) error {
	dst, src, err := e.ResolveOperands2(inst)
	if err != nil {
		return err
	}
	if dst.Kind != OperandRegister {
		return invalidOperand(inst, 0, "expected a register, got %v", dst.Kind)
	}
	if src.Kind == OperandImmediate {
		return invalidOperand(inst, 1, "expected register or memory, got immediate")
	}

	return e.calcBinary(w, dst, src, op, spec)
}

// calcRmImm executes a two-operand instruction with an r/m destination and
// an immediate source of immSize bytes, sign-extended to w.
func (e *Emulator) calcRmImm(
	inst *insts.Instruction,
	w insts.Width,
	immSize int,
	op binaryOp,
	spec FlagSpec,
) error {
	dst, src, err := e.ResolveOperands2(inst)
	if err != nil {
		return err
	}
	if dst.Kind == OperandImmediate {
		return invalidOperand(inst, 0, "immediate destination")
	}
	if src.Kind != OperandImmediate {
		return invalidOperand(inst, 1, "expected an immediate, got %v", src.Kind)
	}
	if src.Imm.Size != immSize {
		return invalidOperand(inst, 1, "immediate is %d bytes, form needs %d",
			src.Imm.Size, immSize)
	}

	return e.calcBinary(w, dst, src, op, spec)
}

// calcRm executes a single-operand read-modify-write instruction.
func (e *Emulator) calcRm(inst *insts.Instruction, w insts.Width, op unaryOp, spec FlagSpec) error {
	dst, err := e.ResolveOperand(inst, 0)
	if err != nil {
		return err
	}
	if dst.Kind == OperandImmediate {
		return invalidOperand(inst, 0, "immediate destination")
	}

	v, err := e.readOperand(dst, w)
	if err != nil {
		return err
	}

	result, opFlags := op(v, w)
	return e.commit(dst, w, result&w.Mask(), opFlags, spec)
}

func (e *Emulator) calcBinary(w insts.Width, dst, src Operand, op binaryOp, spec FlagSpec) error {
	var a uint64
	if !spec.NoReadDst {
		var err error
		if a, err = e.readOperand(dst, w); err != nil {
			return err
		}
	}

	b, err := e.readOperand(src, w)
	if err != nil {
		return err
	}

	result, opFlags := op(a, b, w)
	return e.commit(dst, w, result&w.Mask(), opFlags, spec)
}

// commit writes the result back unless suppressed, then updates RFLAGS.
// A failed write leaves RFLAGS untouched.
func (e *Emulator) commit(dst Operand, w insts.Width, result uint64, opFlags Flags, spec FlagSpec) error {
	if !spec.NoWriteBack {
		if err := e.writeOperand(dst, w, result); err != nil {
			return err
		}
	}

	e.regFile.applyFlags(spec, result, w, opFlags)
	return nil
}
