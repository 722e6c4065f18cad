package emu

import "github.com/sarchlab/x64sim/insts"

var (
	// INC and DEC leave CF unchanged.
	incDecFlags = FlagSpec{
		Set:   FlagZF | FlagSF | FlagPF,
		Clear: FlagOF | FlagAF,
	}
	negFlags = FlagSpec{
		Set:   FlagZF | FlagSF | FlagPF,
		Clear: FlagCF | FlagOF | FlagAF,
	}
	notFlags = FlagSpec{}
)

func incOp(v uint64, w insts.Width) (uint64, Flags) {
	r := (v + 1) & w.Mask()

	var f Flags
	if r == w.SignBit() {
		f |= FlagOF
	}
	if r&0xF == 0 {
		f |= FlagAF
	}

	return r, f
}

func decOp(v uint64, w insts.Width) (uint64, Flags) {
	r := (v - 1) & w.Mask()

	var f Flags
	if v == w.SignBit() {
		f |= FlagOF
	}
	if v&0xF == 0 {
		f |= FlagAF
	}

	return r, f
}

func negOp(v uint64, w insts.Width) (uint64, Flags) {
	r := (-v) & w.Mask()

	var f Flags
	if v != 0 {
		f |= FlagCF
	}
	if v == w.SignBit() {
		f |= FlagOF
	}
	if (v^r)&0x10 != 0 {
		f |= FlagAF
	}

	return r, f
}

func notOp(v uint64, w insts.Width) (uint64, Flags) {
	return ^v & w.Mask(), 0
}

func (e *Emulator) unaryForms(inst *insts.Instruction, op unaryOp, spec FlagSpec) error {
	if inst.Form.Encoding != insts.EncodingRm {
		return notImplemented(inst)
	}
	return e.calcRm(inst, inst.Form.OperandSize, op, spec)
}

func (e *Emulator) executeINC(inst *insts.Instruction) error {
	return e.unaryForms(inst, incOp, incDecFlags)
}

func (e *Emulator) executeDEC(inst *insts.Instruction) error {
	return e.unaryForms(inst, decOp, incDecFlags)
}

func (e *Emulator) executeNEG(inst *insts.Instruction) error {
	return e.unaryForms(inst, negOp, negFlags)
}

func (e *Emulator) executeNOT(inst *insts.Instruction) error {
	return e.unaryForms(inst, notOp, notFlags)
}

// executeNOP accepts both the one-byte 90 and the multi-byte 0F 1F forms.
// The r/m operand of the long form is never accessed.
func (e *Emulator) executeNOP(inst *insts.Instruction) error {
	switch inst.Form.Encoding {
	case insts.EncodingNone, insts.EncodingRm:
		return nil
	default:
		return notImplemented(inst)
	}
}
