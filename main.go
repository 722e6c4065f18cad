// Package main provides the entry point for x64sim.
// x64sim is an x86-64 instruction emulator with an optional timing model
// built on Akita.
//
// For the full CLI, use: go run ./cmd/x64sim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("x64sim - x86-64 emulator and timing simulator")
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Usage: x64sim <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run      Run an x86-64 ELF executable")
	fmt.Println("  exec     Run raw machine code and print the registers")
	fmt.Println("  disasm   Disassemble raw machine code")
	fmt.Println("  debug    Step through an ELF executable interactively")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/x64sim --help' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/x64sim' instead.")
	}
}
