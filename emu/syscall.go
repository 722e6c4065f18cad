// Package emu provides functional x86-64 emulation.
package emu

import (
	"io"

	"github.com/sarchlab/x64sim/insts"
)

// x86-64 Linux syscall numbers.
const (
	SyscallRead      uint64 = 0   // read(fd, buf, count)
	SyscallWrite     uint64 = 1   // write(fd, buf, count)
	SyscallExit      uint64 = 60  // exit(status)
	SyscallExitGroup uint64 = 231 // exit_group(status)
)

// Linux error codes.
const (
	EBADF  = 9  // Bad file descriptor
	EFAULT = 14 // Bad address
	ENOSYS = 38 // Function not implemented
	EIO    = 5  // I/O error
)

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// SyscallHandler is the interface for handling x86-64 syscalls.
type SyscallHandler interface {
	// Handle executes the syscall indicated by the register file state.
	// x86-64 Linux syscall convention:
	//   - Syscall number in RAX
	//   - Arguments in RDI, RSI, RDX, R10, R8, R9
	//   - Return value in RAX
	Handle() SyscallResult
}

// DefaultSyscallHandler provides a basic syscall handler implementation.
type DefaultSyscallHandler struct {
	regFile *RegFile
	memory  *Memory
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewDefaultSyscallHandler creates a default syscall handler.
func NewDefaultSyscallHandler(regFile *RegFile, memory *Memory, stdout, stderr io.Writer) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		memory:  memory,
		stdin:   nil,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// SetStdin sets the stdin reader for the syscall handler.
func (h *DefaultSyscallHandler) SetStdin(stdin io.Reader) {
	h.stdin = stdin
}

// Handle executes the syscall indicated by the register file state.
func (h *DefaultSyscallHandler) Handle() SyscallResult {
	switch h.regFile.Read(insts.RAX) {
	case SyscallRead:
		return h.handleRead()
	case SyscallWrite:
		return h.handleWrite()
	case SyscallExit, SyscallExitGroup:
		return h.handleExit()
	default:
		return h.handleUnknown()
	}
}

// handleExit handles exit (60) and exit_group (231).
func (h *DefaultSyscallHandler) handleExit() SyscallResult {
	exitCode := int64(int32(h.regFile.Read(insts.EDI)))
	return SyscallResult{
		Exited:   true,
		ExitCode: exitCode,
	}
}

// handleRead handles the read syscall (0).
func (h *DefaultSyscallHandler) handleRead() SyscallResult {
	fd := h.regFile.Read(insts.RDI)
	bufPtr := h.regFile.Read(insts.RSI)
	count := h.regFile.Read(insts.RDX)

	// Only stdin (fd=0) is supported for now
	if fd != 0 {
		h.setError(EBADF)
		return SyscallResult{}
	}

	// If no stdin is configured, return EOF
	if h.stdin == nil || count == 0 {
		h.regFile.Write(insts.RAX, 0)
		return SyscallResult{}
	}

	if err := h.memory.CheckAccess(bufPtr, count); err != nil {
		h.setError(EFAULT)
		return SyscallResult{}
	}

	buf := make([]byte, count)
	n, err := h.stdin.Read(buf)
	if err != nil && n == 0 {
		// EOF or error with no bytes read
		h.regFile.Write(insts.RAX, 0)
		return SyscallResult{}
	}

	if err := h.memory.Write(bufPtr, buf[:n]); err != nil {
		h.setError(EFAULT)
		return SyscallResult{}
	}

	h.regFile.Write(insts.RAX, uint64(n))
	return SyscallResult{}
}

// handleWrite handles the write syscall (1).
func (h *DefaultSyscallHandler) handleWrite() SyscallResult {
	fd := h.regFile.Read(insts.RDI)
	bufPtr := h.regFile.Read(insts.RSI)
	count := h.regFile.Read(insts.RDX)

	// Select output based on file descriptor
	var writer io.Writer
	switch fd {
	case 1:
		writer = h.stdout
	case 2:
		writer = h.stderr
	default:
		h.setError(EBADF)
		return SyscallResult{}
	}

	buf, err := h.memory.Read(bufPtr, count)
	if err != nil {
		h.setError(EFAULT)
		return SyscallResult{}
	}

	n, err := writer.Write(buf)
	if err != nil {
		h.setError(EIO)
		return SyscallResult{}
	}

	h.regFile.Write(insts.RAX, uint64(n))
	return SyscallResult{}
}

// handleUnknown handles unrecognized syscalls.
func (h *DefaultSyscallHandler) handleUnknown() SyscallResult {
	h.setError(ENOSYS)
	return SyscallResult{}
}

// setError sets RAX to -errno (as two's complement).
func (h *DefaultSyscallHandler) setError(errno int) {
	h.regFile.Write(insts.RAX, uint64(-int64(errno)))
}
