package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x64sim/emu"
	"github.com/sarchlab/x64sim/timing/core"
	"github.com/sarchlab/x64sim/timing/latency"
)

type runFlags struct {
	machineFlags
	profileFlags

	timing     bool
	configPath string
	stateOut   string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <program.elf>",
		Short: "Run an x86-64 ELF executable",
		Long: `Run loads a static x86-64 ELF executable and runs it until it exits or
runs off the end of its code. The guest exit code becomes the exit code of
x64sim.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, g, f, args[0])
		},
	}

	f.machineFlags.register(cmd)
	f.profileFlags.register(cmd)
	cmd.Flags().BoolVar(&f.timing, "timing", false,
		"run on the timing model and report cycles")
	cmd.Flags().StringVar(&f.configPath, "config", "",
		"timing configuration JSON file")
	cmd.Flags().StringVar(&f.stateOut, "state-out", "",
		"write the final machine state to this file (.json, .yaml)")

	return cmd
}

func runProgram(cmd *cobra.Command, g *globalFlags, f *runFlags, path string) error {
	log, err := newLogger(cmd, g.logLevel)
	if err != nil {
		return err
	}

	var config *latency.TimingConfig
	if f.timing {
		if config, err = loadTimingConfig(f.configPath); err != nil {
			return err
		}
	}

	e := f.newEmulator(cmd, log)
	if err := f.loadProgram(e, path); err != nil {
		return err
	}

	stopProfile, err := f.start()
	if err != nil {
		return err
	}

	var (
		result emu.StepResult
		c      *core.Core
	)
	if config != nil {
		c = core.NewCore(e, config, core.WithLogger(log))
		result = c.RunContext(cmd.Context())
	} else {
		result = e.RunContext(cmd.Context())
	}

	if err := stopProfile(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Program: %s\n", path)
	if c != nil {
		printTimingStats(out, c.Stats())
	} else {
		fmt.Fprintf(out, "Instructions: %d\n", e.InstructionCount())
	}

	if f.stateOut != "" {
		if err := writeState(e, f.stateOut); err != nil {
			return err
		}
	}

	if result.Err != nil {
		return fmt.Errorf("emulation stopped at 0x%X: %w", e.RegFile().RIP, result.Err)
	}

	fmt.Fprintf(out, "Exit code: %d\n", result.ExitCode)
	if result.ExitCode != 0 {
		return &exitError{code: int(result.ExitCode)}
	}

	return nil
}

func loadTimingConfig(path string) (*latency.TimingConfig, error) {
	if path == "" {
		return latency.DefaultTimingConfig(), nil
	}

	config, err := latency.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timing config %s: %w", path, err)
	}

	return config, nil
}

func printTimingStats(w io.Writer, s core.Stats) {
	fmt.Fprintf(w, "Instructions: %d\n", s.Instructions)
	fmt.Fprintf(w, "Cycles: %d\n", s.Cycles)
	fmt.Fprintf(w, "CPI: %.3f\n", s.CPI())
	fmt.Fprintf(w, "Memory stalls: %d\n", s.MemoryStalls)
	fmt.Fprintf(w, "Branch stalls: %d\n", s.BranchStalls)
	fmt.Fprintf(w, "Branches: %d (%d mispredicted)\n", s.Branches, s.Mispredictions)
	fmt.Fprintf(w, "L1D: %d hits, %d misses, %d writebacks (hit rate %.2f%%)\n",
		s.L1D.Hits, s.L1D.Misses, s.L1D.Writebacks, s.L1D.HitRate()*100)
	fmt.Fprintf(w, "Predictor: accuracy %.2f%%, BTB hit rate %.2f%%\n",
		s.Predictor.Accuracy(), s.Predictor.BTBHitRate())
}
