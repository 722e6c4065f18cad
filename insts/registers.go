package insts

import "strings"

// Width is an operand width in bits.
type Width uint8

// Operand widths.
const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

// Bytes returns the width in bytes.
func (w Width) Bytes() int {
	return int(w) / 8
}

// Mask returns a mask covering the low w bits.
func (w Width) Mask() uint64 {
	if w >= Width64 {
		return ^uint64(0)
	}
	return (uint64(1) << w) - 1
}

// SignBit returns the most significant bit at width w.
func (w Width) SignBit() uint64 {
	return uint64(1) << (w - 1)
}

// SignExtend sign-extends the low `from` bits of v to 64 bits.
func SignExtend(v uint64, from Width) uint64 {
	switch from {
	case Width8:
		return uint64(int64(int8(v)))
	case Width16:
		return uint64(int64(int16(v)))
	case Width32:
		return uint64(int64(int32(v)))
	default:
		return v
	}
}

// Reg names an architectural register view. The view carries its width:
// EAX is the low 32 bits of RAX, AH is bits 8-15 of RAX.
type Reg uint8

// General-purpose register views, grouped by width. The order inside each
// group follows the hardware register number.
const (
	RegNone Reg = iota

	RAX
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

	EAX
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	R8D
	R9D
	R10D
	R11D
	R12D
	R13D
	R14D
	R15D

	AX
	CX
	DX
	BX
	SP
	BP
	SI
	DI
	R8W
	R9W
	R10W
	R11W
	R12W
	R13W
	R14W
	R15W

	AL
	CL
	DL
	BL
	SPL
	BPL
	SIL
	DIL
	R8B
	R9B
	R10B
	R11B
	R12B
	R13B
	R14B
	R15B

	AH
	CH
	DH
	BH

	RIP

	numRegs
)

var regNames = [numRegs]string{
	RegNone: "none",
	RAX:     "rax", RCX: "rcx", RDX: "rdx", RBX: "rbx",
	RSP: "rsp", RBP: "rbp", RSI: "rsi", RDI: "rdi",
	R8: "r8", R9: "r9", R10: "r10", R11: "r11",
	R12: "r12", R13: "r13", R14: "r14", R15: "r15",
	EAX: "eax", ECX: "ecx", EDX: "edx", EBX: "ebx",
	ESP: "esp", EBP: "ebp", ESI: "esi", EDI: "edi",
	R8D: "r8d", R9D: "r9d", R10D: "r10d", R11D: "r11d",
	R12D: "r12d", R13D: "r13d", R14D: "r14d", R15D: "r15d",
	AX: "ax", CX: "cx", DX: "dx", BX: "bx",
	SP: "sp", BP: "bp", SI: "si", DI: "di",
	R8W: "r8w", R9W: "r9w", R10W: "r10w", R11W: "r11w",
	R12W: "r12w", R13W: "r13w", R14W: "r14w", R15W: "r15w",
	AL: "al", CL: "cl", DL: "dl", BL: "bl",
	SPL: "spl", BPL: "bpl", SIL: "sil", DIL: "dil",
	R8B: "r8b", R9B: "r9b", R10B: "r10b", R11B: "r11b",
	R12B: "r12b", R13B: "r13b", R14B: "r14b", R15B: "r15b",
	AH: "ah", CH: "ch", DH: "dh", BH: "bh",
	RIP: "rip",
}

// String returns the lower-case assembler name of the register.
func (r Reg) String() string {
	if r >= numRegs {
		return "invalid"
	}
	return regNames[r]
}

// IsGPR reports whether r is a view of one of the 16 general-purpose
// registers.
func (r Reg) IsGPR() bool {
	return r >= RAX && r <= BH
}

// IsHighByte reports whether r is one of AH, CH, DH, BH.
func (r Reg) IsHighByte() bool {
	return r >= AH && r <= BH
}

// Width returns the width of the register view.
func (r Reg) Width() Width {
	switch {
	case r >= RAX && r <= R15, r == RIP:
		return Width64
	case r >= EAX && r <= R15D:
		return Width32
	case r >= AX && r <= R15W:
		return Width16
	case r >= AL && r <= BH:
		return Width8
	default:
		return 0
	}
}

// Index returns the hardware number (0-15) of the backing general-purpose
// register. It returns -1 for registers that are not GPR views.
func (r Reg) Index() int {
	switch {
	case r >= RAX && r <= R15:
		return int(r - RAX)
	case r >= EAX && r <= R15D:
		return int(r - EAX)
	case r >= AX && r <= R15W:
		return int(r - AX)
	case r >= AL && r <= R15B:
		return int(r - AL)
	case r >= AH && r <= BH:
		return int(r - AH)
	default:
		return -1
	}
}

// Full returns the 64-bit register backing r.
func (r Reg) Full() Reg {
	if r == RIP {
		return RIP
	}
	idx := r.Index()
	if idx < 0 {
		return RegNone
	}
	return RAX + Reg(idx)
}

// GPR64 returns the 64-bit view of general-purpose register number idx.
func GPR64(idx int) Reg {
	return RAX + Reg(idx&0xF)
}

// ParseReg looks a register up by its assembler name, ignoring case.
func ParseReg(name string) (Reg, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r := RAX; r < numRegs; r++ {
		if regNames[r] == name {
			return r, true
		}
	}
	return RegNone, false
}
