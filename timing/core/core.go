// Package core provides the timing CPU core model.
// It drives the functional emulator one instruction at a time and charges
// cycles from the latency table, the L1 data cache and the branch predictor.
package core

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/x64sim/emu"
	"github.com/sarchlab/x64sim/insts"
	"github.com/sarchlab/x64sim/timing/cache"
	"github.com/sarchlab/x64sim/timing/latency"
)

// Stats holds performance statistics for the core.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// MemoryStalls is the number of cycles lost to L1 data cache misses.
	MemoryStalls uint64
	// Branches is the number of branches retired.
	Branches uint64
	// Mispredictions is the number of mispredicted branches.
	Mispredictions uint64
	// BranchStalls is the number of cycles lost to mispredictions.
	BranchStalls uint64

	L1D       cache.Statistics
	Predictor BranchPredictorStats
}

// CPI returns cycles per instruction, or 0 before any instruction retired.
func (s Stats) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// Core represents a timing CPU core model.
type Core struct {
	emulator  *emu.Emulator
	config    *latency.TimingConfig
	latency   *latency.Table
	l1d       *cache.Observer
	predictor *BranchPredictor

	log   logrus.FieldLogger
	stats Stats
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger used for per-instruction timing records.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Core) {
		c.log = log
	}
}

// WithBranchPredictor replaces the default branch predictor.
func WithBranchPredictor(config BranchPredictorConfig) Option {
	return func(c *Core) {
		c.predictor = NewBranchPredictor(config)
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// NewCore creates a Core that times e with config. The core registers an
// L1 data cache observer on the emulator's memory.
func NewCore(e *emu.Emulator, config *latency.TimingConfig, opts ...Option) *Core {
	l1d := cache.New(cache.Config{
		Size:          int(config.L1DSize),
		Associativity: config.L1DAssociativity,
		BlockSize:     config.L1DBlockSize,
		HitLatency:    config.LoadLatency,
		MissLatency:   config.MemoryLatency,
	})

	c := &Core{
		emulator:  e,
		config:    config,
		latency:   latency.NewTableWithConfig(config),
		l1d:       cache.NewObserver(l1d),
		predictor: NewBranchPredictor(DefaultBranchPredictorConfig()),
		log:       discardLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	e.Memory().AddObserver(c.l1d)

	return c
}

// Emulator returns the functional emulator driven by the core.
func (c *Core) Emulator() *emu.Emulator {
	return c.emulator
}

// Cache returns the L1 data cache.
func (c *Core) Cache() *cache.Cache {
	return c.l1d.Cache()
}

// Predictor returns the branch predictor.
func (c *Core) Predictor() *BranchPredictor {
	return c.predictor
}

// Step executes one instruction and accounts for its cycles. Instructions
// that fail are not charged.
func (c *Core) Step() emu.StepResult {
	result := c.emulator.Step()

	stall := c.l1d.Drain()
	if result.Inst == nil || result.Err != nil {
		return result
	}

	inst := result.Inst
	cycles := c.latency.GetLatency(inst)
	c.stats.MemoryStalls += stall
	cycles += stall

	if c.latency.IsBranchOp(inst) {
		cycles += c.resolveBranch(inst)
	}

	c.stats.Cycles += cycles
	c.stats.Instructions++

	c.log.WithFields(logrus.Fields{
		"rip":    fmt.Sprintf("0x%X", inst.Address),
		"inst":   inst.String(),
		"cycles": cycles,
	}).Trace("Core Step")

	return result
}

// resolveBranch trains the predictor and returns the misprediction penalty.
// Direct unconditional jumps are always predicted correctly. A branch whose
// target is the next instruction counts as not taken.
func (c *Core) resolveBranch(inst *insts.Instruction) uint64 {
	c.stats.Branches++

	indirect := inst.Op == insts.OpJMP && inst.Form.Encoding == insts.EncodingRm
	if !indirect && !c.latency.IsConditionalBranch(inst) {
		return 0
	}

	target := c.emulator.RegFile().RIP
	outcome := Outcome{
		RIP:      inst.Address,
		Taken:    target != inst.NextIP(),
		Target:   target,
		Indirect: indirect,
	}
	if !c.predictor.Resolve(outcome) {
		return 0
	}

	c.stats.Mispredictions++
	c.stats.BranchStalls += c.config.BranchMispredictPenalty
	return c.config.BranchMispredictPenalty
}

// Run executes until the program exits, runs off the end of the code or an
// error occurs. Returns the exit code (-1 if error).
func (c *Core) Run() int64 {
	result := c.RunContext(context.Background())
	if result.Err != nil {
		return -1
	}
	return result.ExitCode
}

// RunContext is like Run but stops with ctx.Err() when ctx is done.
func (c *Core) RunContext(ctx context.Context) emu.StepResult {
	for {
		select {
		case <-ctx.Done():
			return emu.StepResult{Err: ctx.Err()}
		default:
		}

		result := c.Step()
		if result.Exited || result.Finished || result.Err != nil {
			return result
		}
	}
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	s := c.stats
	s.L1D = c.l1d.Cache().Stats()
	s.Predictor = c.predictor.Stats()
	return s
}

// Reset clears the timing state: statistics, cache lines and predictor
// tables. The emulator is untouched.
func (c *Core) Reset() {
	c.stats = Stats{}
	c.l1d.Cache().Reset()
	c.l1d.Drain()
	c.predictor.Reset()
}
