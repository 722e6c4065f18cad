package emu

import "github.com/sarchlab/x64sim/insts"

// Flag updates of the logic instructions. AF is left undefined by the
// architecture and kept as is.
var (
	logicFlags = FlagSpec{
		Set:   FlagZF | FlagSF | FlagPF,
		Clear: FlagCF | FlagOF,
	}
	testFlags = FlagSpec{
		Set:         FlagZF | FlagSF | FlagPF,
		Clear:       FlagCF | FlagOF,
		NoWriteBack: true,
	}
)

func xorOp(a, b uint64, _ insts.Width) (uint64, Flags) { return a ^ b, 0 }
func orOp(a, b uint64, _ insts.Width) (uint64, Flags)  { return a | b, 0 }
func andOp(a, b uint64, _ insts.Width) (uint64, Flags) { return a & b, 0 }

func (e *Emulator) executeXOR(inst *insts.Instruction) error {
	return e.binaryForms(inst, xorOp, logicFlags)
}

func (e *Emulator) executeOR(inst *insts.Instruction) error {
	return e.binaryForms(inst, orOp, logicFlags)
}

func (e *Emulator) executeAND(inst *insts.Instruction) error {
	return e.binaryForms(inst, andOp, logicFlags)
}

func (e *Emulator) executeTEST(inst *insts.Instruction) error {
	w := inst.Form.OperandSize

	switch inst.Form.Encoding {
	case insts.EncodingRmR:
		return e.calcRmR(inst, w, andOp, testFlags)
	case insts.EncodingAccImm, insts.EncodingRmImm:
		return e.calcRmImm(inst, w, inst.Form.ImmSize(), andOp, testFlags)
	default:
		return notImplemented(inst)
	}
}
