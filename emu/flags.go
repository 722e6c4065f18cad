package emu

import (
	"fmt"
	"strings"

	"github.com/sarchlab/x64sim/insts"
)

// Flags is the bit-packed RFLAGS register.
type Flags uint64

// RFLAGS bits.
const (
	FlagCF Flags = 1 << 0  // Carry
	FlagPF Flags = 1 << 2  // Parity
	FlagAF Flags = 1 << 4  // Auxiliary carry
	FlagZF Flags = 1 << 6  // Zero
	FlagSF Flags = 1 << 7  // Sign
	FlagTF Flags = 1 << 8  // Trap
	FlagIF Flags = 1 << 9  // Interrupt enable
	FlagDF Flags = 1 << 10 // Direction
	FlagOF Flags = 1 << 11 // Overflow
)

// StatusFlags are the six arithmetic status flags.
const StatusFlags = FlagCF | FlagPF | FlagAF | FlagZF | FlagSF | FlagOF

// resultFlags are derived from the result value instead of being reported
// by the operation.
const resultFlags = FlagZF | FlagSF | FlagPF

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagCF, "CF"},
	{FlagPF, "PF"},
	{FlagAF, "AF"},
	{FlagZF, "ZF"},
	{FlagSF, "SF"},
	{FlagTF, "TF"},
	{FlagIF, "IF"},
	{FlagDF, "DF"},
	{FlagOF, "OF"},
}

// String lists the set flags, e.g. "PF|ZF".
func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

// FlagSpec describes how an instruction updates RFLAGS.
type FlagSpec struct {
	// Set lists flags the instruction always updates. ZF, SF and PF are
	// computed from the result, any other flag listed here is set to 1.
	Set Flags

	// Clear lists flags zeroed unless the operation reports them.
	Clear Flags

	// NoWriteBack discards the result and only updates flags (CMP, TEST).
	NoWriteBack bool

	// NoReadDst skips reading the destination before the operation (MOV).
	NoReadDst bool
}

// parity reports whether b has an even number of set bits.
func parity(b uint8) bool {
	b ^= b >> 4
	b ^= b >> 2
	b ^= b >> 1
	return b&1 == 0
}

// ResultFlags computes ZF, SF and PF for a result at width w.
func ResultFlags(result uint64, w insts.Width) Flags {
	var f Flags
	result &= w.Mask()
	if result == 0 {
		f |= FlagZF
	}
	if result&w.SignBit() != 0 {
		f |= FlagSF
	}
	if parity(uint8(result)) {
		f |= FlagPF
	}
	return f
}

// applyFlags updates RFLAGS after an operation at width w that produced
// result and reported opFlags.
func (r *RegFile) applyFlags(spec FlagSpec, result uint64, w insts.Width, opFlags Flags) {
	if opFlags&spec.Set != 0 {
		panic(fmt.Sprintf("operation reported flags %v that are already in the set mask %v",
			opFlags, spec.Set))
	}

	applied := spec.Set | opFlags
	computed := ResultFlags(result, w)

	flags := r.RFLAGS
	flags &^= spec.Clear &^ applied
	flags &^= applied & resultFlags
	flags |= computed & applied & resultFlags
	flags |= applied &^ resultFlags

	r.RFLAGS = flags
}
