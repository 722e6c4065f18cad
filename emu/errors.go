package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/x64sim/insts"
)

// Sentinel errors. Every typed error below matches one of them with
// errors.Is.
var (
	ErrMemoryAccess    = errors.New("memory access error")
	ErrAreaMapping     = errors.New("area mapping error")
	ErrInvalidOperand  = errors.New("invalid operand")
	ErrNotImplemented  = errors.New("not implemented")
	ErrDecode          = errors.New("malformed guest code")
	ErrMaxInstructions = errors.New("max instructions reached")
)

// MemoryAccessError reports a read or write that is not fully contained in
// a single memory area. Nothing is written when it is returned.
type MemoryAccessError struct {
	Addr   uint64
	Length uint64
	Write  bool
}

func (e *MemoryAccessError) Error() string {
	kind := "read"
	if e.Write {
		kind = "write"
	}
	return fmt.Sprintf("invalid memory %s of %d bytes at 0x%X", kind, e.Length, e.Addr)
}

// Is matches ErrMemoryAccess.
func (e *MemoryAccessError) Is(target error) bool {
	return target == ErrMemoryAccess
}

// AreaMappingError reports a rejected area mapping. The memory layout is
// unchanged when it is returned.
type AreaMappingError struct {
	Name   string
	Start  uint64
	Length uint64
	Reason string
}

func (e *AreaMappingError) Error() string {
	return fmt.Sprintf("cannot map area %q at 0x%X (length 0x%X): %s",
		e.Name, e.Start, e.Length, e.Reason)
}

// Is matches ErrAreaMapping.
func (e *AreaMappingError) Is(target error) bool {
	return target == ErrAreaMapping
}

// InvalidOperandError reports an operand the instruction form cannot use,
// which means the decoded instruction is inconsistent. It is fatal.
type InvalidOperandError struct {
	Inst   string
	Index  int
	Reason string
}

func (e *InvalidOperandError) Error() string {
	return fmt.Sprintf("invalid operand %d of %q: %s", e.Index, e.Inst, e.Reason)
}

// Is matches ErrInvalidOperand.
func (e *InvalidOperandError) Is(target error) bool {
	return target == ErrInvalidOperand
}

// NotImplementedError reports an instruction or encoding form the emulator
// has no handler for.
type NotImplementedError struct {
	Mnemonic string
	Form     insts.Form
	Addr     uint64
}

func (e *NotImplementedError) Error() string {
	if e.Form.Encoding == insts.EncodingNone && e.Form.OperandSize == 0 {
		return fmt.Sprintf("instruction %q at 0x%X is not implemented", e.Mnemonic, e.Addr)
	}
	return fmt.Sprintf("instruction %q with form %v at 0x%X is not implemented",
		e.Mnemonic, e.Form, e.Addr)
}

// Is matches ErrNotImplemented.
func (e *NotImplementedError) Is(target error) bool {
	return target == ErrNotImplemented
}

// DecodeError reports guest code that cannot be decoded.
type DecodeError struct {
	Addr  uint64
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed guest code at 0x%X: %v", e.Addr, e.Cause)
}

// Unwrap returns the decoder error.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Is matches ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// IsFatal reports whether err means the emulator state can no longer be
// trusted.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidOperand)
}

func invalidOperand(inst *insts.Instruction, index int, format string, args ...any) error {
	return &InvalidOperandError{
		Inst:   inst.String(),
		Index:  index,
		Reason: fmt.Sprintf(format, args...),
	}
}

func notImplemented(inst *insts.Instruction) error {
	return &NotImplementedError{
		Mnemonic: inst.Mnemonic,
		Form:     inst.Form,
		Addr:     inst.Address,
	}
}
