package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
)

type profileFlags struct {
	cpuProfile string
	memProfile string
}

func (f *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cpuProfile, "cpuprofile", "", "write a CPU profile of the simulator to file")
	cmd.Flags().StringVar(&f.memProfile, "memprofile", "", "write a heap profile of the simulator to file")
}

// start begins CPU profiling if requested. The returned function stops it
// and writes the heap profile.
func (f *profileFlags) start() (stop func() error, err error) {
	var cpu *os.File
	if f.cpuProfile != "" {
		if cpu, err = os.Create(f.cpuProfile); err != nil {
			return nil, fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(cpu); err != nil {
			_ = cpu.Close()
			return nil, fmt.Errorf("could not start CPU profile: %w", err)
		}
	}

	return func() error {
		if cpu != nil {
			pprof.StopCPUProfile()
			if err := cpu.Close(); err != nil {
				return err
			}
		}

		if f.memProfile == "" {
			return nil
		}

		mem, err := os.Create(f.memProfile)
		if err != nil {
			return fmt.Errorf("could not create memory profile: %w", err)
		}
		runtime.GC()
		if err := pprof.WriteHeapProfile(mem); err != nil {
			_ = mem.Close()
			return fmt.Errorf("could not write memory profile: %w", err)
		}
		return mem.Close()
	}, nil
}
