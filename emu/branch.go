// Package emu provides functional x86-64 emulation.
package emu

import "github.com/sarchlab/x64sim/insts"

// BranchUnit implements x86-64 control transfers.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// Jump sets RIP to target. Near branches have a 64-bit operand size in long
// mode, so the target is never truncated.
func (b *BranchUnit) Jump(target uint64) {
	b.regFile.RIP = target
}

// JumpIf jumps to target if cond holds. RIP is left as is otherwise.
func (b *BranchUnit) JumpIf(cond insts.Cond, target uint64) bool {
	if !b.CheckCondition(cond) {
		return false
	}
	b.Jump(target)
	return true
}

// CheckCondition evaluates an x86 condition code against RFLAGS.
func (b *BranchUnit) CheckCondition(cond insts.Cond) bool {
	return CheckCondition(cond, b.regFile.RFLAGS)
}

// CheckCondition evaluates an x86 condition code against flags.
func CheckCondition(cond insts.Cond, flags Flags) bool {
	cf := flags&FlagCF != 0
	pf := flags&FlagPF != 0
	zf := flags&FlagZF != 0
	sf := flags&FlagSF != 0
	of := flags&FlagOF != 0

	switch cond & 0xF {
	case insts.CondO:
		return of
	case insts.CondNO:
		return !of
	case insts.CondB:
		return cf
	case insts.CondAE:
		return !cf
	case insts.CondE:
		return zf
	case insts.CondNE:
		return !zf
	case insts.CondBE:
		return cf || zf
	case insts.CondA:
		return !cf && !zf
	case insts.CondS:
		return sf
	case insts.CondNS:
		return !sf
	case insts.CondP:
		return pf
	case insts.CondNP:
		return !pf
	case insts.CondL:
		return sf != of
	case insts.CondGE:
		return sf == of
	case insts.CondLE:
		return zf || sf != of
	default: // CondG
		return !zf && sf == of
	}
}

// branchTarget returns the target of a relative branch.
func branchTarget(inst *insts.Instruction) (uint64, error) {
	op := inst.Operand(0)
	if op.Kind != insts.OperandNearBranch {
		return 0, invalidOperand(inst, 0, "expected a near branch, got %v", op.Kind)
	}
	return op.Target, nil
}

func isRelForm(f insts.Form) bool {
	switch f.Encoding {
	case insts.EncodingRel8, insts.EncodingRel32:
		return true
	default:
		return false
	}
}

func (e *Emulator) executeJCC(inst *insts.Instruction) error {
	if !isRelForm(inst.Form) {
		return notImplemented(inst)
	}

	target, err := branchTarget(inst)
	if err != nil {
		return err
	}

	e.branchUnit.JumpIf(inst.Cond, target)
	return nil
}

// executeJRCXZ jumps if RCX, or ECX with a 32-bit address size, is zero.
func (e *Emulator) executeJRCXZ(inst *insts.Instruction) error {
	if inst.Form.Encoding != insts.EncodingRel8 {
		return notImplemented(inst)
	}

	target, err := branchTarget(inst)
	if err != nil {
		return err
	}

	counter := insts.RCX
	if inst.AddressSize == insts.Width32 {
		counter = insts.ECX
	}

	if e.regFile.Read(counter) == 0 {
		e.branchUnit.Jump(target)
	}
	return nil
}

func (e *Emulator) executeJMP(inst *insts.Instruction) error {
	switch inst.Form.Encoding {
	case insts.EncodingRel8, insts.EncodingRel32:
		target, err := branchTarget(inst)
		if err != nil {
			return err
		}
		e.branchUnit.Jump(target)
		return nil

	case insts.EncodingRm:
		op, err := e.ResolveOperand(inst, 0)
		if err != nil {
			return err
		}
		if op.Kind == OperandImmediate {
			return invalidOperand(inst, 0, "immediate jump target")
		}
		target, err := e.readOperand(op, insts.Width64)
		if err != nil {
			return err
		}
		e.branchUnit.Jump(target)
		return nil

	default:
		return notImplemented(inst)
	}
}
