package emu

import "github.com/sarchlab/x64sim/insts"

var movFlags = FlagSpec{NoReadDst: true}

func movOp(_, src uint64, _ insts.Width) (uint64, Flags) { return src, 0 }

func (e *Emulator) executeMOV(inst *insts.Instruction) error {
	w := inst.Form.OperandSize

	switch inst.Form.Encoding {
	case insts.EncodingRmR:
		return e.calcRmR(inst, w, movOp, movFlags)
	case insts.EncodingRRm:
		return e.calcRRm(inst, w, movOp, movFlags)
	case insts.EncodingRImm, insts.EncodingRmImm:
		return e.calcRmImm(inst, w, inst.Form.ImmSize(), movOp, movFlags)
	default:
		return notImplemented(inst)
	}
}
