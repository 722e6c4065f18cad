// Package emu provides functional x86-64 emulation.
package emu

import "github.com/sarchlab/x64sim/insts"

// RegFile represents the x86-64 register file.
// It contains 16 general-purpose registers (RAX-R15),
// the instruction pointer (RIP), and RFLAGS.
type RegFile struct {
	// GPR holds the 64-bit general-purpose registers in hardware order.
	GPR [16]uint64

	// RIP is the instruction pointer.
	RIP uint64

	// RFLAGS holds the status and control flags.
	RFLAGS Flags
}

// Read reads a register view. The view determines the width: EAX reads the
// low 32 bits of RAX, AH reads bits 8-15 of RAX. Reading RegNone returns 0.
func (r *RegFile) Read(reg insts.Reg) uint64 {
	if reg == insts.RIP {
		return r.RIP
	}

	idx := reg.Index()
	if idx < 0 {
		return 0
	}

	full := r.GPR[idx]
	if reg.IsHighByte() {
		return (full >> 8) & 0xFF
	}

	return full & reg.Width().Mask()
}

// Write writes a register view.
//   - 64-bit views replace the whole register.
//   - 32-bit views zero-extend into the whole register.
//   - 16- and 8-bit views only replace their own bits.
//   - High-byte views (AH, CH, DH, BH) only replace bits 8-15.
//
// Writes to RegNone are ignored.
func (r *RegFile) Write(reg insts.Reg, value uint64) {
	if reg == insts.RIP {
		r.RIP = value
		return
	}

	idx := reg.Index()
	if idx < 0 {
		return
	}

	switch w := reg.Width(); {
	case reg.IsHighByte():
		r.GPR[idx] = r.GPR[idx]&^0xFF00 | (value&0xFF)<<8
	case w == insts.Width64:
		r.GPR[idx] = value
	case w == insts.Width32:
		r.GPR[idx] = value & 0xFFFFFFFF
	default:
		r.GPR[idx] = r.GPR[idx]&^w.Mask() | value&w.Mask()
	}
}

// Flag reports whether all bits of f are set in RFLAGS.
func (r *RegFile) Flag(f Flags) bool {
	return r.RFLAGS&f == f
}

// SetFlag sets or clears the bits of f in RFLAGS.
func (r *RegFile) SetFlag(f Flags, on bool) {
	if on {
		r.RFLAGS |= f
	} else {
		r.RFLAGS &^= f
	}
}

// Flags returns RFLAGS.
func (r *RegFile) Flags() Flags {
	return r.RFLAGS
}
