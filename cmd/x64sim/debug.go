package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/sarchlab/x64sim/emu"
)

type debugFlags struct {
	machineFlags

	history string
}

func newDebugCmd(g *globalFlags) *cobra.Command {
	f := &debugFlags{}

	cmd := &cobra.Command{
		Use:   "debug <program.elf>",
		Short: "Step through an x86-64 ELF executable interactively",
		Long: `Debug loads an ELF executable and opens a console.

Commands:
  step [n]          execute n instructions (default 1)
  continue          run until exit, end of code or error
  regs              print the registers
  flags             print RFLAGS
  mem <addr> <len>  dump memory
  areas             print the memory layout
  save <path>       write the machine state (.json, .yaml)
  quit              leave the console`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return debugProgram(cmd, g, f, args[0])
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&f.history, "history",
		filepath.Join(os.TempDir(), "x64sim_history.txt"), "console history file")

	return cmd
}

func debugProgram(cmd *cobra.Command, g *globalFlags, f *debugFlags, path string) error {
	log, err := newLogger(cmd, g.logLevel)
	if err != nil {
		return err
	}

	e := f.newEmulator(cmd, log)
	if err := f.loadProgram(e, path); err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "(x64sim) ",
		HistoryFile: f.history,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to start console: %w", err)
	}
	defer rl.Close()

	c := newConsole(cmd.Context(), e, cmd.OutOrStdout())
	fmt.Fprintf(c.out, "Loaded %s, entry point 0x%X\n", path, e.RegFile().RIP)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}

		if c.exec(line) {
			return nil
		}
	}
}

// console executes debugger commands against an emulator.
type console struct {
	ctx  context.Context
	e    *emu.Emulator
	out  io.Writer
	done bool
}

func newConsole(ctx context.Context, e *emu.Emulator, out io.Writer) *console {
	return &console{ctx: ctx, e: e, out: out}
}

// exec runs one command line and reports whether the console should close.
func (c *console) exec(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "step", "s":
		err = c.step(args)
	case "continue", "c":
		c.cont()
	case "regs", "r":
		printRegisters(c.out, c.e.RegFile())
	case "flags":
		printFlags(c.out, c.e.RegFile())
	case "mem", "x":
		err = c.mem(args)
	case "areas":
		fmt.Fprintln(c.out, c.e.Memory().Tree())
	case "save":
		err = c.save(args)
	case "quit", "q", "exit":
		return true
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
	return false
}

func (c *console) step(args []string) error {
	n := uint64(1)
	if len(args) > 0 {
		var err error
		if n, err = strconv.ParseUint(args[0], 0, 64); err != nil {
			return fmt.Errorf("invalid step count %q", args[0])
		}
	}

	for i := uint64(0); i < n; i++ {
		if c.done {
			fmt.Fprintln(c.out, "program is not running")
			return nil
		}

		result := c.e.Step()
		if result.Inst != nil {
			fmt.Fprintf(c.out, "0x%X: %s\n", result.Inst.Address, result.Inst)
		}

		if result.Exited || result.Finished || result.Err != nil {
			c.report(result)
			return nil
		}
	}

	return nil
}

func (c *console) cont() {
	if c.done {
		fmt.Fprintln(c.out, "program is not running")
		return
	}
	c.report(c.e.RunContext(c.ctx))
}

func (c *console) report(result emu.StepResult) {
	switch {
	case result.Err != nil:
		fmt.Fprintln(c.out, "error:", result.Err)
	case result.Exited:
		fmt.Fprintf(c.out, "program exited with code %d\n", result.ExitCode)
		c.done = true
	case result.Finished:
		fmt.Fprintln(c.out, "reached the end of the code")
		c.done = true
	}
}

func (c *console) mem(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: mem <addr> <len>")
	}

	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", args[0])
	}
	length, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid length %q", args[1])
	}

	data, err := c.e.Memory().Peek(addr, length)
	if err != nil {
		return err
	}

	fmt.Fprint(c.out, hex.Dump(data))
	return nil
}

func (c *console) save(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: save <path>")
	}

	if err := writeState(c.e, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "state written to %s\n", args[0])
	return nil
}
