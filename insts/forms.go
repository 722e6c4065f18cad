package insts

import "fmt"

// Op represents an x86-64 mnemonic handled by the emulator.
type Op uint16

// x86-64 mnemonics.
const (
	OpUnknown Op = iota
	OpADD
	OpOR
	OpAND
	OpSUB
	OpXOR
	OpCMP
	OpTEST
	OpMOV
	OpINC
	OpDEC
	OpNEG
	OpNOT
	OpNOP
	OpJMP
	OpJCC   // Conditional jump, condition in Instruction.Cond
	OpJRCXZ // JCXZ/JECXZ/JRCXZ, register picked by address size
	OpSYSCALL
)

var opNames = map[Op]string{
	OpUnknown: "unknown",
	OpADD:     "add",
	OpOR:      "or",
	OpAND:     "and",
	OpSUB:     "sub",
	OpXOR:     "xor",
	OpCMP:     "cmp",
	OpTEST:    "test",
	OpMOV:     "mov",
	OpINC:     "inc",
	OpDEC:     "dec",
	OpNEG:     "neg",
	OpNOT:     "not",
	OpNOP:     "nop",
	OpJMP:     "jmp",
	OpJCC:     "jcc",
	OpJRCXZ:   "jrcxz",
	OpSYSCALL: "syscall",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint16(o))
}

// Encoding identifies the operand layout of an encoding form.
type Encoding uint8

// Operand layouts.
const (
	EncodingNone   Encoding = iota
	EncodingRmR             // r/m, r
	EncodingRRm             // r, r/m
	EncodingAccImm          // AL/AX/EAX/RAX, imm
	EncodingRmImm           // r/m, imm (imm32 sign-extended for 64-bit operands)
	EncodingRmImm8          // r/m, imm8 sign-extended (opcode 83)
	EncodingRImm            // r, imm (opcodes B0+r, B8+r)
	EncodingRm              // r/m
	EncodingRel8
	EncodingRel32
)

// Form is the precise encoding form of an instruction. Together with the
// Op it fixes the widths and kinds of all operands.
type Form struct {
	Encoding    Encoding
	OperandSize Width
}

// ImmSize returns the encoded immediate size in bytes, or 0 if the form
// has no immediate.
func (f Form) ImmSize() int {
	switch f.Encoding {
	case EncodingAccImm, EncodingRmImm:
		if f.OperandSize == Width64 {
			return 4
		}
		return f.OperandSize.Bytes()
	case EncodingRmImm8:
		return 1
	case EncodingRImm:
		return f.OperandSize.Bytes()
	default:
		return 0
	}
}

func accName(w Width) string {
	switch w {
	case Width8:
		return "al"
	case Width16:
		return "ax"
	case Width32:
		return "eax"
	default:
		return "rax"
	}
}

func (f Form) String() string {
	w := int(f.OperandSize)
	switch f.Encoding {
	case EncodingRmR:
		return fmt.Sprintf("rm%d, r%d", w, w)
	case EncodingRRm:
		return fmt.Sprintf("r%d, rm%d", w, w)
	case EncodingAccImm:
		return fmt.Sprintf("%s, imm%d", accName(f.OperandSize), f.ImmSize()*8)
	case EncodingRmImm, EncodingRmImm8:
		return fmt.Sprintf("rm%d, imm%d", w, f.ImmSize()*8)
	case EncodingRImm:
		return fmt.Sprintf("r%d, imm%d", w, w)
	case EncodingRm:
		return fmt.Sprintf("rm%d", w)
	case EncodingRel8:
		return fmt.Sprintf("rel8 (o%d)", w)
	case EncodingRel32:
		return fmt.Sprintf("rel32 (o%d)", w)
	default:
		return fmt.Sprintf("none (o%d)", w)
	}
}

// Cond is an x86 condition code, the low nibble of the Jcc opcode.
type Cond uint8

// x86 condition codes.
const (
	CondO  Cond = 0x0 // Overflow (OF == 1)
	CondNO Cond = 0x1 // No overflow (OF == 0)
	CondB  Cond = 0x2 // Below / carry (CF == 1)
	CondAE Cond = 0x3 // Above or equal / no carry (CF == 0)
	CondE  Cond = 0x4 // Equal / zero (ZF == 1)
	CondNE Cond = 0x5 // Not equal (ZF == 0)
	CondBE Cond = 0x6 // Below or equal (CF == 1 || ZF == 1)
	CondA  Cond = 0x7 // Above (CF == 0 && ZF == 0)
	CondS  Cond = 0x8 // Sign (SF == 1)
	CondNS Cond = 0x9 // No sign (SF == 0)
	CondP  Cond = 0xA // Parity even (PF == 1)
	CondNP Cond = 0xB // Parity odd (PF == 0)
	CondL  Cond = 0xC // Less (SF != OF)
	CondGE Cond = 0xD // Greater or equal (SF == OF)
	CondLE Cond = 0xE // Less or equal (ZF == 1 || SF != OF)
	CondG  Cond = 0xF // Greater (ZF == 0 && SF == OF)
)

var condNames = [16]string{
	"o", "no", "b", "ae", "e", "ne", "be", "a",
	"s", "ns", "p", "np", "l", "ge", "le", "g",
}

func (c Cond) String() string {
	return condNames[c&0xF]
}
