package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds latency values for different instruction types and the
// geometry of the L1 data cache.
type TimingConfig struct {
	// ALULatency is the execution latency for integer ALU operations
	// (ADD, SUB, AND, OR, XOR, CMP, TEST, INC, DEC, NEG, NOT, MOV).
	// Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency"`

	// BranchLatency is the base execution latency for branch instructions.
	// This does not include misprediction penalty. Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// BranchMispredictPenalty is the additional cycles lost on branch misprediction.
	// Default: 14 cycles.
	BranchMispredictPenalty uint64 `json:"branch_mispredict_penalty"`

	// LoadLatency is the latency of a memory operand read assuming an L1
	// hit. Default: 4 cycles.
	LoadLatency uint64 `json:"load_latency"`

	// StoreLatency is the latency of a memory operand write.
	// Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency"`

	// NopLatency is the latency of NOP. Default: 1 cycle.
	NopLatency uint64 `json:"nop_latency"`

	// SyscallLatency is the latency for system call instructions.
	// Default: 1 cycle (handling is external).
	SyscallLatency uint64 `json:"syscall_latency"`

	// MemoryLatency is the penalty of an L1 data cache miss.
	// Default: 150 cycles.
	MemoryLatency uint64 `json:"memory_latency"`

	// L1DSize is the L1 data cache capacity in bytes. Default: 48KB.
	L1DSize uint64 `json:"l1d_size"`

	// L1DAssociativity is the number of ways per set. Default: 12.
	L1DAssociativity int `json:"l1d_associativity"`

	// L1DBlockSize is the cache line size in bytes. Default: 64.
	L1DBlockSize int `json:"l1d_block_size"`
}

// DefaultTimingConfig returns a TimingConfig with values typical of a
// recent x86-64 core.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:              1,
		BranchLatency:           1,
		BranchMispredictPenalty: 14,
		LoadLatency:             4,
		StoreLatency:            1,
		NopLatency:              1,
		SyscallLatency:          1,
		MemoryLatency:           150,
		L1DSize:                 48 * 1024,
		L1DAssociativity:        12,
		L1DBlockSize:            64,
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields missing from the
// file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// L1DSets returns the number of sets of the L1 data cache.
func (c *TimingConfig) L1DSets() int {
	return int(c.L1DSize) / (c.L1DAssociativity * c.L1DBlockSize)
}

// Validate checks that all latency values are valid (> 0) and that the
// cache geometry is consistent.
func (c *TimingConfig) Validate() error {
	if c.ALULatency == 0 {
		return fmt.Errorf("alu_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return fmt.Errorf("branch_latency must be > 0")
	}
	if c.LoadLatency == 0 {
		return fmt.Errorf("load_latency must be > 0")
	}
	if c.StoreLatency == 0 {
		return fmt.Errorf("store_latency must be > 0")
	}
	if c.NopLatency == 0 {
		return fmt.Errorf("nop_latency must be > 0")
	}
	if c.SyscallLatency == 0 {
		return fmt.Errorf("syscall_latency must be > 0")
	}
	if c.L1DBlockSize <= 0 || c.L1DBlockSize&(c.L1DBlockSize-1) != 0 {
		return fmt.Errorf("l1d_block_size must be a power of two")
	}
	if c.L1DAssociativity <= 0 {
		return fmt.Errorf("l1d_associativity must be > 0")
	}
	if c.L1DSets() == 0 ||
		c.L1DSize != uint64(c.L1DSets()*c.L1DAssociativity*c.L1DBlockSize) {
		return fmt.Errorf("l1d_size must be a multiple of l1d_associativity * l1d_block_size")
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
