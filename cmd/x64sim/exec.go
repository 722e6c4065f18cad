package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type execFlags struct {
	machineFlags

	base uint64
}

func newExecCmd(g *globalFlags) *cobra.Command {
	f := &execFlags{}

	cmd := &cobra.Command{
		Use:   "exec <hex bytes>",
		Short: "Run raw machine code and print the registers",
		Example: `  x64sim exec "b8 2a 00 00 00 ff c0"
  x64sim exec --base 0x10000 31c0`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execCode(cmd, g, f, args)
		},
	}

	f.register(cmd)
	cmd.Flags().Uint64Var(&f.base, "base", 0x401000, "address of the first code byte")

	return cmd
}

func execCode(cmd *cobra.Command, g *globalFlags, f *execFlags, args []string) error {
	code, err := parseHexCode(args)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, g.logLevel)
	if err != nil {
		return err
	}

	e := f.newEmulator(cmd, log)
	if err := e.LoadCode(f.base, code); err != nil {
		return err
	}
	if err := e.InitStack(f.stackSize); err != nil {
		return fmt.Errorf("failed to set up stack: %w", err)
	}

	result := e.RunContext(cmd.Context())

	out := cmd.OutOrStdout()
	printRegisters(out, e.RegFile())

	if result.Err != nil {
		return fmt.Errorf("emulation stopped at 0x%X: %w", e.RegFile().RIP, result.Err)
	}
	if result.Exited {
		fmt.Fprintf(out, "Exit code: %d\n", result.ExitCode)
	}

	return nil
}
