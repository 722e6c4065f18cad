package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x64sim/insts"
)

func newDisasmCmd() *cobra.Command {
	var base uint64

	cmd := &cobra.Command{
		Use:   "disasm <hex bytes>",
		Short: "Disassemble raw machine code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseHexCode(args)
			if err != nil {
				return err
			}
			return disassemble(cmd, code, base)
		},
	}

	cmd.Flags().Uint64Var(&base, "base", 0x401000, "address of the first code byte")

	return cmd
}

// disassemble prints one line per instruction: address, encoding, Intel
// syntax. Instructions the emulator does not execute are marked.
func disassemble(cmd *cobra.Command, code []byte, base uint64) error {
	out := cmd.OutOrStdout()
	decoder := insts.NewDecoder()

	for off := 0; off < len(code); {
		addr := base + uint64(off)

		inst, err := decoder.Decode(code[off:], addr)
		if err != nil {
			return err
		}

		raw := fmt.Sprintf("% x", code[off:off+inst.Len])
		line := fmt.Sprintf("0x%X:\t%-20s\t%s", addr, raw, inst)
		if inst.Op == insts.OpUnknown {
			line += "\t; unsupported"
		}
		fmt.Fprintln(out, line)

		off += inst.Len
	}

	return nil
}
