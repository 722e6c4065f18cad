// Package latency provides instruction timing models for cycle-level
// simulation.
//
// The latency values can be configured via TimingConfig.
package latency

import (
	"github.com/sarchlab/x64sim/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the execution latency in cycles for the given
// instruction, assuming L1 hits. Memory operands add the load latency when
// read and the store latency when written.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	var base uint64
	switch {
	case isALU(inst.Op):
		base = t.config.ALULatency
	case t.IsBranchOp(inst):
		base = t.config.BranchLatency
	case inst.Op == insts.OpSYSCALL:
		return t.config.SyscallLatency
	case inst.Op == insts.OpNOP:
		return t.config.NopLatency
	default:
		return 1
	}

	load, store := memoryAccess(inst)
	switch {
	case inst.Op == insts.OpMOV && load:
		return t.config.LoadLatency
	case inst.Op == insts.OpMOV && store:
		return t.config.StoreLatency
	}

	if load {
		base += t.config.LoadLatency
	}
	if store {
		base += t.config.StoreLatency
	}

	return base
}

func isALU(op insts.Op) bool {
	switch op {
	case insts.OpADD, insts.OpSUB, insts.OpAND, insts.OpOR, insts.OpXOR,
		insts.OpCMP, insts.OpTEST, insts.OpINC, insts.OpDEC,
		insts.OpNEG, insts.OpNOT, insts.OpMOV:
		return true
	default:
		return false
	}
}

// memoryAccess reports whether inst reads and whether it writes a memory
// operand.
func memoryAccess(inst *insts.Instruction) (load, store bool) {
	switch inst.Op {
	case insts.OpNOP, insts.OpSYSCALL, insts.OpUnknown:
		return false, false
	}

	for i, op := range inst.Operands {
		if op.Kind != insts.OperandMem {
			continue
		}

		if i > 0 {
			load = true
			continue
		}

		switch inst.Op {
		case insts.OpMOV:
			store = true
		case insts.OpCMP, insts.OpTEST, insts.OpJMP:
			load = true
		default:
			load, store = true, true
		}
	}

	return load, store
}

// IsMemoryOp returns true if the instruction accesses memory.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	load, store := memoryAccess(inst)
	return load || store
}

// IsLoadOp returns true if the instruction reads a memory operand.
func (t *Table) IsLoadOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	load, _ := memoryAccess(inst)
	return load
}

// IsStoreOp returns true if the instruction writes a memory operand.
func (t *Table) IsStoreOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	_, store := memoryAccess(inst)
	return store
}

// IsBranchOp returns true if the instruction is a branch operation.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	switch inst.Op {
	case insts.OpJMP, insts.OpJCC, insts.OpJRCXZ:
		return true
	default:
		return false
	}
}

// IsConditionalBranch returns true if the branch may fall through.
func (t *Table) IsConditionalBranch(inst *insts.Instruction) bool {
	return inst != nil && (inst.Op == insts.OpJCC || inst.Op == insts.OpJRCXZ)
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
