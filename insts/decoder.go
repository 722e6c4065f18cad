package insts

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// OperandKind is the kind of a decoded operand.
type OperandKind uint8

// Operand kinds.
const (
	OperandNone OperandKind = iota
	OperandReg
	OperandMem
	OperandImm
	OperandNearBranch
)

func (k OperandKind) String() string {
	switch k {
	case OperandReg:
		return "register"
	case OperandMem:
		return "memory"
	case OperandImm:
		return "immediate"
	case OperandNearBranch:
		return "near branch"
	default:
		return "none"
	}
}

// Mem describes a memory operand.
type Mem struct {
	Base        Reg
	Index       Reg
	Scale       uint8
	Disp        int64
	RIPRelative bool // Base is the address of the next instruction
}

// Imm is an immediate operand as encoded in the instruction.
type Imm struct {
	Size int    // Encoded size in bytes
	Raw  uint64 // Encoded bits, zero-extended
}

// Operand describes one operand of a decoded instruction.
type Operand struct {
	Kind   OperandKind
	Reg    Reg
	Mem    Mem
	Imm    Imm
	Target uint64 // Absolute target of a relative branch
}

// Instruction represents a decoded x86-64 instruction.
type Instruction struct {
	Op       Op     // Operation
	Form     Form   // Encoding form
	Cond     Cond   // Condition code for OpJCC
	Mnemonic string // Decoder mnemonic, also set for unsupported instructions

	Address     uint64 // Address the instruction was decoded at
	Len         int    // Encoded length in bytes
	AddressSize Width  // Effective address size

	Operands []Operand

	text string
}

// NextIP returns the address of the following instruction.
func (i *Instruction) NextIP() uint64 {
	return i.Address + uint64(i.Len)
}

// Operand returns operand n, or a zero Operand (kind OperandNone) if the
// instruction has fewer operands.
func (i *Instruction) Operand(n int) Operand {
	if n < 0 || n >= len(i.Operands) {
		return Operand{}
	}
	return i.Operands[n]
}

// String returns the instruction in Intel syntax.
func (i *Instruction) String() string {
	if i.text != "" {
		return i.text
	}
	return i.Mnemonic
}

// Decoder decodes x86-64 machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new x86-64 instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes the instruction at the start of code, which is located at
// address in the guest address space.
func (d *Decoder) Decode(code []byte, address uint64) (*Instruction, error) {
	xi, err := x86asm.Decode(code, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot decode instruction at 0x%X: %w", address, err)
	}

	p := scanPrefixes(code[:xi.Len])

	inst := &Instruction{
		Op:          OpUnknown,
		Mnemonic:    strings.ToLower(xi.Op.String()),
		Address:     address,
		Len:         xi.Len,
		AddressSize: Width64,
		text:        x86asm.IntelSyntax(xi, address, nil),
	}
	if p.addr32 {
		inst.AddressSize = Width32
	}

	d.classify(p, inst)

	for _, arg := range xi.Args {
		if arg == nil {
			break
		}
		inst.Operands = append(inst.Operands, d.convertArg(arg, inst))
	}

	return inst, nil
}

// prefixes holds what the form classification needs from the prefix bytes.
type prefixes struct {
	opSize16 bool
	addr32   bool
	rexW     bool
	rexB     bool
	opcode   []byte // opcode bytes and everything after them
}

func scanPrefixes(raw []byte) prefixes {
	var p prefixes
	for i, b := range raw {
		switch {
		case b == 0x66:
			p.opSize16 = true
			p.rexW, p.rexB = false, false
		case b == 0x67:
			p.addr32 = true
			p.rexW, p.rexB = false, false
		case b == 0xF0, b == 0xF2, b == 0xF3,
			b == 0x26, b == 0x2E, b == 0x36, b == 0x3E, b == 0x64, b == 0x65:
			// REX only counts when it immediately precedes the opcode
			p.rexW, p.rexB = false, false
		case b&0xF0 == 0x40:
			p.rexW = b&0x08 != 0
			p.rexB = b&0x01 != 0
		default:
			p.opcode = raw[i:]
			return p
		}
	}
	return p
}

func (p prefixes) operandSize() Width {
	switch {
	case p.rexW:
		return Width64
	case p.opSize16:
		return Width16
	default:
		return Width32
	}
}

// aluOps maps bits 3-5 of opcodes 00-3F, and the ModRM reg field of the
// 80, 81 and 83 groups, to the arithmetic-logic mnemonic. Opcode 82 is
// invalid in 64-bit mode.
var aluOps = [8]Op{OpADD, OpOR, OpUnknown, OpUnknown, OpAND, OpSUB, OpXOR, OpCMP}

func aluForm(low uint8, osz Width) Form {
	switch low {
	case 0:
		return Form{EncodingRmR, Width8}
	case 1:
		return Form{EncodingRmR, osz}
	case 2:
		return Form{EncodingRRm, Width8}
	case 3:
		return Form{EncodingRRm, osz}
	case 4:
		return Form{EncodingAccImm, Width8}
	default:
		return Form{EncodingAccImm, osz}
	}
}

// Near branches always have a 64-bit operand size in long mode. A 66 prefix
// does not shorten the displacement or the target.
var (
	rel8Form  = Form{EncodingRel8, Width64}
	rel32Form = Form{EncodingRel32, Width64}
)

// classify derives the mnemonic and encoding form from the opcode bytes.
// Instructions it does not recognize keep OpUnknown.
func (d *Decoder) classify(p prefixes, inst *Instruction) {
	op := p.opcode
	if len(op) == 0 {
		return
	}

	osz := p.operandSize()
	b0 := op[0]
	reg := -1
	if len(op) > 1 {
		reg = int(op[1]>>3) & 7
	}

	switch {
	case b0 < 0x40 && b0&0x07 <= 5:
		if o := aluOps[b0>>3]; o != OpUnknown {
			inst.Op = o
			inst.Form = aluForm(b0&0x07, osz)
		}

	case (b0 == 0x80 || b0 == 0x81 || b0 == 0x83) && reg >= 0:
		if o := aluOps[reg]; o != OpUnknown {
			inst.Op = o
			switch b0 {
			case 0x80:
				inst.Form = Form{EncodingRmImm, Width8}
			case 0x81:
				inst.Form = Form{EncodingRmImm, osz}
			default:
				inst.Form = Form{EncodingRmImm8, osz}
			}
		}

	case b0 == 0x84 || b0 == 0x85:
		inst.Op = OpTEST
		inst.Form = Form{EncodingRmR, pick(b0 == 0x84, Width8, osz)}

	case b0 == 0xA8 || b0 == 0xA9:
		inst.Op = OpTEST
		inst.Form = Form{EncodingAccImm, pick(b0 == 0xA8, Width8, osz)}

	case b0 >= 0x88 && b0 <= 0x8B:
		inst.Op = OpMOV
		inst.Form = aluForm(b0&0x03, osz)

	case b0 == 0x90 && !p.rexB:
		inst.Op = OpNOP
		inst.Form = Form{EncodingNone, osz}

	case b0 >= 0xB0 && b0 <= 0xBF:
		inst.Op = OpMOV
		inst.Form = Form{EncodingRImm, pick(b0 < 0xB8, Width8, osz)}

	case (b0 == 0xC6 || b0 == 0xC7) && reg == 0:
		inst.Op = OpMOV
		inst.Form = Form{EncodingRmImm, pick(b0 == 0xC6, Width8, osz)}

	case b0 >= 0x70 && b0 <= 0x7F:
		inst.Op = OpJCC
		inst.Cond = Cond(b0 & 0x0F)
		inst.Form = rel8Form

	case b0 == 0xE3:
		inst.Op = OpJRCXZ
		inst.Form = rel8Form

	case b0 == 0xE9:
		inst.Op = OpJMP
		inst.Form = rel32Form

	case b0 == 0xEB:
		inst.Op = OpJMP
		inst.Form = rel8Form

	case (b0 == 0xF6 || b0 == 0xF7) && reg >= 0:
		w := pick(b0 == 0xF6, Width8, osz)
		switch reg {
		case 0:
			inst.Op = OpTEST
			inst.Form = Form{EncodingRmImm, w}
		case 2:
			inst.Op = OpNOT
			inst.Form = Form{EncodingRm, w}
		case 3:
			inst.Op = OpNEG
			inst.Form = Form{EncodingRm, w}
		}

	case (b0 == 0xFE || b0 == 0xFF) && reg >= 0:
		w := pick(b0 == 0xFE, Width8, osz)
		switch reg {
		case 0:
			inst.Op = OpINC
			inst.Form = Form{EncodingRm, w}
		case 1:
			inst.Op = OpDEC
			inst.Form = Form{EncodingRm, w}
		case 4:
			if b0 == 0xFF {
				inst.Op = OpJMP
				inst.Form = Form{EncodingRm, Width64}
			}
		}

	case b0 == 0x0F && len(op) > 1:
		b1 := op[1]
		switch {
		case b1 == 0x05:
			inst.Op = OpSYSCALL
			inst.Form = Form{EncodingNone, Width64}
		case b1 == 0x1F:
			inst.Op = OpNOP
			inst.Form = Form{EncodingRm, osz}
		case b1 >= 0x80 && b1 <= 0x8F:
			inst.Op = OpJCC
			inst.Cond = Cond(b1 & 0x0F)
			inst.Form = rel32Form
		}
	}
}

func pick(cond bool, a, b Width) Width {
	if cond {
		return a
	}
	return b
}

func (d *Decoder) convertArg(arg x86asm.Arg, inst *Instruction) Operand {
	switch a := arg.(type) {
	case x86asm.Reg:
		return Operand{Kind: OperandReg, Reg: fromX86asm[a]}

	case x86asm.Mem:
		m := Mem{
			Base:  fromX86asm[a.Base],
			Index: fromX86asm[a.Index],
			Scale: a.Scale,
			Disp:  a.Disp,
		}
		if a.Base == x86asm.RIP || a.Base == x86asm.EIP {
			m.Base = RegNone
			m.RIPRelative = true
		}
		return Operand{Kind: OperandMem, Mem: m}

	case x86asm.Imm:
		size := inst.Form.ImmSize()
		if size == 0 {
			size = 8
		}
		raw := uint64(int64(a))
		if size < 8 {
			raw &= (uint64(1) << (size * 8)) - 1
		}
		return Operand{Kind: OperandImm, Imm: Imm{Size: size, Raw: raw}}

	case x86asm.Rel:
		return Operand{
			Kind:   OperandNearBranch,
			Target: inst.NextIP() + uint64(int64(a)),
		}

	default:
		return Operand{}
	}
}

var fromX86asm = map[x86asm.Reg]Reg{}

func init() {
	asm64 := []x86asm.Reg{
		x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RBX,
		x86asm.RSP, x86asm.RBP, x86asm.RSI, x86asm.RDI,
		x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11,
		x86asm.R12, x86asm.R13, x86asm.R14, x86asm.R15,
	}
	asm32 := []x86asm.Reg{
		x86asm.EAX, x86asm.ECX, x86asm.EDX, x86asm.EBX,
		x86asm.ESP, x86asm.EBP, x86asm.ESI, x86asm.EDI,
		x86asm.R8L, x86asm.R9L, x86asm.R10L, x86asm.R11L,
		x86asm.R12L, x86asm.R13L, x86asm.R14L, x86asm.R15L,
	}
	asm16 := []x86asm.Reg{
		x86asm.AX, x86asm.CX, x86asm.DX, x86asm.BX,
		x86asm.SP, x86asm.BP, x86asm.SI, x86asm.DI,
		x86asm.R8W, x86asm.R9W, x86asm.R10W, x86asm.R11W,
		x86asm.R12W, x86asm.R13W, x86asm.R14W, x86asm.R15W,
	}
	asm8 := []x86asm.Reg{
		x86asm.AL, x86asm.CL, x86asm.DL, x86asm.BL,
		x86asm.SPB, x86asm.BPB, x86asm.SIB, x86asm.DIB,
		x86asm.R8B, x86asm.R9B, x86asm.R10B, x86asm.R11B,
		x86asm.R12B, x86asm.R13B, x86asm.R14B, x86asm.R15B,
	}

	for i := 0; i < 16; i++ {
		fromX86asm[asm64[i]] = RAX + Reg(i)
		fromX86asm[asm32[i]] = EAX + Reg(i)
		fromX86asm[asm16[i]] = AX + Reg(i)
		fromX86asm[asm8[i]] = AL + Reg(i)
	}

	fromX86asm[x86asm.AH] = AH
	fromX86asm[x86asm.CH] = CH
	fromX86asm[x86asm.DH] = DH
	fromX86asm[x86asm.BH] = BH
	fromX86asm[x86asm.RIP] = RIP
}
