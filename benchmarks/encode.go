package benchmarks

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/x64sim/insts"
)

// Helper functions for building x86-64 programs. They only encode the eight
// legacy registers so that no REX prefix is needed.

// BuildProgram concatenates encoded instructions.
func BuildProgram(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}

	program := make([]byte, 0, n)
	for _, p := range parts {
		program = append(program, p...)
	}
	return program
}

// Repeat returns n copies of the instructions in parts.
func Repeat(n int, parts ...[]byte) []byte {
	body := BuildProgram(parts...)
	program := make([]byte, 0, n*len(body))
	for i := 0; i < n; i++ {
		program = append(program, body...)
	}
	return program
}

func low32(r insts.Reg) byte {
	if r.Width() != insts.Width32 || r.Index() >= 8 {
		panic(fmt.Sprintf("benchmarks: %s is not a legacy 32-bit register", r))
	}
	return byte(r.Index())
}

func baseReg(r insts.Reg) byte {
	if r.Width() != insts.Width64 || r.Index() >= 8 || r == insts.RSP {
		panic(fmt.Sprintf("benchmarks: %s cannot be a base register", r))
	}
	return byte(r.Index())
}

func modRMReg(op byte, dst, src insts.Reg) []byte {
	return []byte{op, 0xC0 | low32(src)<<3 | low32(dst)}
}

func modRMMem(op byte, reg insts.Reg, base insts.Reg, disp int8) []byte {
	return []byte{op, 0x40 | low32(reg)<<3 | baseReg(base), byte(disp)}
}

// EncodeMovImm encodes MOV r32, imm32.
func EncodeMovImm(r insts.Reg, imm uint32) []byte {
	inst := []byte{0xB8 + low32(r), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(inst[1:], imm)
	return inst
}

// EncodeMovReg encodes MOV dst, src.
func EncodeMovReg(dst, src insts.Reg) []byte {
	return modRMReg(0x89, dst, src)
}

// EncodeAddReg encodes ADD dst, src.
func EncodeAddReg(dst, src insts.Reg) []byte {
	return modRMReg(0x01, dst, src)
}

// EncodeXorReg encodes XOR dst, src.
func EncodeXorReg(dst, src insts.Reg) []byte {
	return modRMReg(0x31, dst, src)
}

func encodeGroup1(ext byte, r insts.Reg, imm int8) []byte {
	return []byte{0x83, 0xC0 | ext<<3 | low32(r), byte(imm)}
}

// EncodeAddImm encodes ADD r32, imm8.
func EncodeAddImm(r insts.Reg, imm int8) []byte {
	return encodeGroup1(0, r, imm)
}

// EncodeSubImm encodes SUB r32, imm8.
func EncodeSubImm(r insts.Reg, imm int8) []byte {
	return encodeGroup1(5, r, imm)
}

// EncodeCmpImm encodes CMP r32, imm8.
func EncodeCmpImm(r insts.Reg, imm int8) []byte {
	return encodeGroup1(7, r, imm)
}

// EncodeInc encodes INC r32.
func EncodeInc(r insts.Reg) []byte {
	return []byte{0xFF, 0xC0 | low32(r)}
}

// EncodeDec encodes DEC r32.
func EncodeDec(r insts.Reg) []byte {
	return []byte{0xFF, 0xC8 | low32(r)}
}

// EncodeStore encodes MOV [base+disp], src.
func EncodeStore(base insts.Reg, disp int8, src insts.Reg) []byte {
	return modRMMem(0x89, src, base, disp)
}

// EncodeLoad encodes MOV dst, [base+disp].
func EncodeLoad(dst, base insts.Reg, disp int8) []byte {
	return modRMMem(0x8B, dst, base, disp)
}

// EncodeAddLoad encodes ADD dst, [base+disp].
func EncodeAddLoad(dst, base insts.Reg, disp int8) []byte {
	return modRMMem(0x03, dst, base, disp)
}

// EncodeJNE encodes JNE rel8. rel is relative to the next instruction.
func EncodeJNE(rel int8) []byte {
	return []byte{0x75, byte(rel)}
}

// EncodeJMP encodes JMP rel8.
func EncodeJMP(rel int8) []byte {
	return []byte{0xEB, byte(rel)}
}

// EncodeSyscall encodes SYSCALL.
func EncodeSyscall() []byte {
	return []byte{0x0F, 0x05}
}

// EncodeLoop closes a loop over body: body followed by DEC counter and a
// JNE back to the start of body.
func EncodeLoop(counter insts.Reg, body []byte) []byte {
	dec := EncodeDec(counter)
	back := -(len(body) + len(dec) + 2)
	if back < -128 {
		panic("benchmarks: loop body too long for rel8")
	}
	return BuildProgram(body, dec, EncodeJNE(int8(back)))
}

// EncodeExit exits with the value of r as status.
func EncodeExit(r insts.Reg) []byte {
	var parts [][]byte
	if r != insts.EDI {
		parts = append(parts, EncodeMovReg(insts.EDI, r))
	}
	parts = append(parts, EncodeMovImm(insts.EAX, 60), EncodeSyscall())
	return BuildProgram(parts...)
}
