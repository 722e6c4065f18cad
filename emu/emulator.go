// Package emu provides functional x86-64 emulation.
package emu

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/x64sim/insts"
)

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated (via exit syscall).
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Finished is true if RIP reached the end of the code region.
	Finished bool

	// Inst is the executed instruction, nil if fetch or decode failed.
	Inst *insts.Instruction

	// Err is set if an error occurred during execution.
	Err error
}

// Emulator executes x86-64 instructions functionally.
type Emulator struct {
	regFile        *RegFile
	memory         *Memory
	decoder        *insts.Decoder
	syscallHandler SyscallHandler
	branchUnit     *BranchUnit

	log logrus.FieldLogger

	// I/O
	stdout io.Writer
	stderr io.Writer

	// Execution state
	stackTop         uint64
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithLogger sets the logger for executed instructions. The default logger
// discards everything.
func WithLogger(log logrus.FieldLogger) EmulatorOption {
	return func(e *Emulator) {
		e.log = log
	}
}

// WithMemoryObserver registers an observer for memory accesses.
func WithMemoryObserver(o MemoryObserver) EmulatorOption {
	return func(e *Emulator) {
		e.memory.AddObserver(o)
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// NewEmulator creates a new x86-64 emulator with a zeroed register file and
// an empty address space.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	regFile := &RegFile{}

	e := &Emulator{
		regFile: regFile,
		memory:  NewMemory(),
		decoder: insts.NewDecoder(),
		log:     discardLogger(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}

	// Apply options first (may set stdout/stderr)
	for _, opt := range opts {
		opt(e)
	}

	e.branchUnit = NewBranchUnit(regFile)

	// If no syscall handler was provided, create a default one
	if e.syscallHandler == nil {
		e.syscallHandler = NewDefaultSyscallHandler(regFile, e.memory, e.stdout, e.stderr)
	}

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// StackTop returns the address one past the stack area, or 0 if no stack
// was set up.
func (e *Emulator) StackTop() uint64 {
	return e.stackTop
}

// LoadCode installs code at start and points RIP at its first byte.
func (e *Emulator) LoadCode(start uint64, code []byte) error {
	if err := e.memory.LoadCode(start, code); err != nil {
		return err
	}
	e.regFile.RIP = start
	return nil
}

const (
	stackProbeStart = uint64(0x1000)
	stackProbeLimit = uint64(0x7fff_ffff_ffff_ffff)
)

// InitStack maps a zeroed stack area of length bytes and points RSP at its
// last 8-byte slot. Candidate start addresses begin at 0x1000 and double
// until one does not collide with the code region or another area.
func (e *Emulator) InitStack(length uint64) error {
	if length < 8 {
		return &AreaMappingError{
			Name: "stack", Length: length,
			Reason: "stack must hold at least 8 bytes",
		}
	}

	for start := stackProbeStart; start < stackProbeLimit; start *= 2 {
		if e.memory.CheckMapping(start, length, "stack") != nil {
			continue
		}

		if err := e.memory.InitZero(start, length, "stack"); err != nil {
			return err
		}

		e.regFile.Write(insts.RSP, start+length-8)
		e.stackTop = start + length
		return nil
	}

	return &AreaMappingError{
		Name: "stack", Length: length,
		Reason: "no free address range",
	}
}

// Finished reports whether RIP is at the end of the code region.
func (e *Emulator) Finished() bool {
	start, length := e.memory.CodeRegion()
	return length > 0 && e.regFile.RIP == start+length
}

// Execute runs one decoded instruction: RIP is advanced past it, then its
// handler runs. Branch handlers overwrite RIP when taken.
func (e *Emulator) Execute(inst *insts.Instruction) StepResult {
	e.log.WithFields(logrus.Fields{
		"rip":  fmt.Sprintf("0x%X", inst.Address),
		"inst": inst.String(),
		"len":  inst.Len,
	}).Trace("CPU Step")

	e.regFile.RIP = inst.NextIP()

	result := e.execute(inst)
	result.Inst = inst
	return result
}

// Step fetches, decodes and executes a single instruction.
// Returns a StepResult indicating whether execution should continue.
func (e *Emulator) Step() StepResult {
	if e.Finished() {
		return StepResult{Finished: true}
	}

	// Check instruction limit before executing
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{
			Err: fmt.Errorf("%w: %d", ErrMaxInstructions, e.maxInstructions),
		}
	}

	rip := e.regFile.RIP

	// 1. Fetch
	code := e.memory.Fetch(rip)
	if code == nil {
		return StepResult{
			Err: fmt.Errorf("instruction fetch outside the code region: %w",
				&MemoryAccessError{Addr: rip, Length: 1}),
		}
	}

	// 2. Decode
	inst, err := e.decoder.Decode(code, rip)
	if err != nil {
		return StepResult{Err: &DecodeError{Addr: rip, Cause: err}}
	}

	// 3. Execute
	result := e.Execute(inst)
	if result.Err != nil {
		return result
	}

	e.instructionCount++
	result.Finished = !result.Exited && e.Finished()

	return result
}

// Run executes instructions until the program exits, runs off the end of
// the code or an error occurs. Returns the exit code (-1 if error).
func (e *Emulator) Run() int64 {
	result := e.RunContext(context.Background())
	if result.Err != nil {
		_, _ = fmt.Fprintf(e.stderr, "Emulation error: %v\n", result.Err)
		return -1
	}
	return result.ExitCode
}

// RunContext is like Run but stops with ctx.Err() when ctx is done. The
// context is checked between instructions.
func (e *Emulator) RunContext(ctx context.Context) StepResult {
	for {
		select {
		case <-ctx.Done():
			return StepResult{Err: ctx.Err()}
		default:
		}

		result := e.Step()
		if result.Exited || result.Finished || result.Err != nil {
			return result
		}
	}
}

// execute dispatches a decoded instruction to its handler.
func (e *Emulator) execute(inst *insts.Instruction) StepResult {
	var err error

	switch inst.Op {
	case insts.OpSYSCALL:
		return e.executeSYSCALL(inst)
	case insts.OpADD:
		err = e.executeADD(inst)
	case insts.OpSUB:
		err = e.executeSUB(inst)
	case insts.OpCMP:
		err = e.executeCMP(inst)
	case insts.OpXOR:
		err = e.executeXOR(inst)
	case insts.OpOR:
		err = e.executeOR(inst)
	case insts.OpAND:
		err = e.executeAND(inst)
	case insts.OpTEST:
		err = e.executeTEST(inst)
	case insts.OpMOV:
		err = e.executeMOV(inst)
	case insts.OpINC:
		err = e.executeINC(inst)
	case insts.OpDEC:
		err = e.executeDEC(inst)
	case insts.OpNEG:
		err = e.executeNEG(inst)
	case insts.OpNOT:
		err = e.executeNOT(inst)
	case insts.OpNOP:
		err = e.executeNOP(inst)
	case insts.OpJCC:
		err = e.executeJCC(inst)
	case insts.OpJRCXZ:
		err = e.executeJRCXZ(inst)
	case insts.OpJMP:
		err = e.executeJMP(inst)
	default:
		err = notImplemented(inst)
	}

	return StepResult{Err: err}
}

// executeSYSCALL saves the return address in RCX and RFLAGS in R11, then
// hands over to the syscall handler.
func (e *Emulator) executeSYSCALL(inst *insts.Instruction) StepResult {
	if inst.Form.Encoding != insts.EncodingNone {
		return StepResult{Err: notImplemented(inst)}
	}

	e.regFile.Write(insts.RCX, e.regFile.RIP)
	e.regFile.Write(insts.R11, uint64(e.regFile.RFLAGS))

	result := e.syscallHandler.Handle()

	return StepResult{
		Exited:   result.Exited,
		ExitCode: result.ExitCode,
	}
}
