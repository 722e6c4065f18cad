// Package emu provides functional x86-64 emulation.
package emu

import "github.com/sarchlab/x64sim/insts"

// Flag updates of the arithmetic instructions.
var (
	arithFlags = FlagSpec{
		Set:   FlagZF | FlagSF | FlagPF,
		Clear: FlagCF | FlagOF | FlagAF,
	}
	cmpFlags = FlagSpec{
		Set:         FlagZF | FlagSF | FlagPF,
		Clear:       FlagCF | FlagOF | FlagAF,
		NoWriteBack: true,
	}
)

func addOp(a, b uint64, w insts.Width) (uint64, Flags) {
	r := (a + b) & w.Mask()

	var f Flags
	if r < a {
		f |= FlagCF
	}
	if (a^r)&(b^r)&w.SignBit() != 0 {
		f |= FlagOF
	}
	if (a^b^r)&0x10 != 0 {
		f |= FlagAF
	}

	return r, f
}

func subOp(a, b uint64, w insts.Width) (uint64, Flags) {
	r := (a - b) & w.Mask()

	var f Flags
	if a < b {
		f |= FlagCF
	}
	if (a^b)&(a^r)&w.SignBit() != 0 {
		f |= FlagOF
	}
	if (a^b^r)&0x10 != 0 {
		f |= FlagAF
	}

	return r, f
}

// binaryForms dispatches the forms shared by the two-operand ALU
// instructions.
func (e *Emulator) binaryForms(inst *insts.Instruction, op binaryOp, spec FlagSpec) error {
	w := inst.Form.OperandSize

	switch inst.Form.Encoding {
	case insts.EncodingRmR:
		return e.calcRmR(inst, w, op, spec)
	case insts.EncodingRRm:
		return e.calcRRm(inst, w, op, spec)
	case insts.EncodingAccImm,
		insts.EncodingRmImm,
		insts.EncodingRmImm8:
		return e.calcRmImm(inst, w, inst.Form.ImmSize(), op, spec)
	default:
		return notImplemented(inst)
	}
}

func (e *Emulator) executeADD(inst *insts.Instruction) error {
	return e.binaryForms(inst, addOp, arithFlags)
}

func (e *Emulator) executeSUB(inst *insts.Instruction) error {
	return e.binaryForms(inst, subOp, arithFlags)
}

func (e *Emulator) executeCMP(inst *insts.Instruction) error {
	return e.binaryForms(inst, subOp, cmpFlags)
}
