package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/x64sim/emu"
	"github.com/sarchlab/x64sim/insts"
	"github.com/sarchlab/x64sim/loader"
)

type machineFlags struct {
	stackSize       uint64
	maxInstructions uint64
	trace           bool
}

func (f *machineFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&f.stackSize, "stack-size", loader.DefaultStackSize,
		"stack size in bytes")
	cmd.Flags().Uint64Var(&f.maxInstructions, "max-instructions", 0,
		"stop after this many instructions (0 means no limit)")
	cmd.Flags().BoolVar(&f.trace, "trace", false,
		"log memory accesses at debug level")
}

// newEmulator creates an emulator whose guest output goes to the command's
// streams.
func (f *machineFlags) newEmulator(cmd *cobra.Command, log logrus.FieldLogger) *emu.Emulator {
	opts := []emu.EmulatorOption{
		emu.WithStdout(cmd.OutOrStdout()),
		emu.WithStderr(cmd.ErrOrStderr()),
		emu.WithMaxInstructions(f.maxInstructions),
		emu.WithLogger(log),
	}
	if f.trace {
		opts = append(opts, emu.WithMemoryObserver(emu.NewTraceObserver(log)))
	}

	return emu.NewEmulator(opts...)
}

// loadProgram loads the ELF file at path into e and sets up the stack.
func (f *machineFlags) loadProgram(e *emu.Emulator, path string) error {
	prog, err := loader.Load(path)
	if err != nil {
		return err
	}

	if err := prog.LoadInto(e); err != nil {
		return err
	}

	if err := e.InitStack(f.stackSize); err != nil {
		return fmt.Errorf("failed to set up stack: %w", err)
	}

	return nil
}

// parseHexCode joins args and decodes them as hex bytes. Whitespace and a
// leading 0x are ignored.
func parseHexCode(args []string) ([]byte, error) {
	s := strings.Join(strings.Fields(strings.Join(args, " ")), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, fmt.Errorf("no code bytes given")
	}

	code, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid code bytes: %w", err)
	}
	return code, nil
}

func printRegisters(w io.Writer, r *emu.RegFile) {
	for i := 0; i < len(r.GPR); i += 2 {
		fmt.Fprintf(w, "%-4s 0x%016x    %-4s 0x%016x\n",
			insts.GPR64(i), r.GPR[i], insts.GPR64(i+1), r.GPR[i+1])
	}
	fmt.Fprintf(w, "%-4s 0x%016x\n", insts.RIP, r.RIP)
	printFlags(w, r)
}

func printFlags(w io.Writer, r *emu.RegFile) {
	fmt.Fprintf(w, "rflags 0x%x [%s]\n", uint64(r.RFLAGS), r.RFLAGS)
}

// writeState saves a snapshot of e to path. The extension selects JSON or
// YAML.
func writeState(e *emu.Emulator, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}

	if err := e.Snapshot().Encode(f, emu.FormatFromPath(path)); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
