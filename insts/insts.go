// Package insts provides x86-64 instruction definitions and decoding.
//
// This package turns raw x86-64 machine code into structured instructions
// that the emulator can execute. Decoding of the byte stream itself is done
// by golang.org/x/arch/x86/x86asm; this package adds what the execution
// engine needs on top of it:
//   - a mnemonic (Op) and a precise encoding form (Form) per instruction
//   - operand descriptors with emulator register names (Reg)
//   - the instruction address and length, for RIP-relative operands and
//     relative branches
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst, err := decoder.Decode([]byte{0x30, 0xc0}, 0x401000) // XOR AL, AL
//	fmt.Printf("Op: %v, Form: %v, Len: %d\n", inst.Op, inst.Form, inst.Len)
package insts
