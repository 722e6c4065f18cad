package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x64sim/benchmarks"
)

type benchFlags struct {
	format          string
	configPath      string
	coreOnly        bool
	maxInstructions uint64
}

func newBenchCmd(g *globalFlags) *cobra.Command {
	f := &benchFlags{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the timing microbenchmarks",
		Long: `Bench runs the built-in x86-64 microbenchmarks on the timing model and
reports cycles, CPI, cache and branch predictor statistics. It fails if a
benchmark does not finish with its expected exit code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmarks(cmd, g, f)
		},
	}

	cmd.Flags().StringVar(&f.format, "format", "text", "output format (text, csv, json)")
	cmd.Flags().StringVar(&f.configPath, "config", "", "timing configuration JSON file")
	cmd.Flags().BoolVar(&f.coreOnly, "core", false, "run only the core benchmarks")
	cmd.Flags().Uint64Var(&f.maxInstructions, "max-instructions", 10_000_000,
		"per-benchmark instruction limit (0 means no limit)")

	return cmd
}

func runBenchmarks(cmd *cobra.Command, g *globalFlags, f *benchFlags) error {
	switch f.format {
	case "text", "csv", "json":
	default:
		return fmt.Errorf("unknown output format %q", f.format)
	}

	log, err := newLogger(cmd, g.logLevel)
	if err != nil {
		return err
	}

	timing, err := loadTimingConfig(f.configPath)
	if err != nil {
		return err
	}

	harness := benchmarks.NewHarness(benchmarks.HarnessConfig{
		Timing:          timing,
		MaxInstructions: f.maxInstructions,
		Output:          cmd.OutOrStdout(),
		Log:             log,
	})
	if f.coreOnly {
		harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
	} else {
		harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
	}

	results := harness.RunAllContext(cmd.Context())

	switch f.format {
	case "csv":
		harness.PrintCSV(results)
	case "json":
		if err := harness.PrintJSON(results); err != nil {
			return err
		}
	default:
		harness.PrintResults(results)
	}

	if failed := benchmarks.Summarize(results).Failed; failed > 0 {
		return fmt.Errorf("%d benchmark(s) failed", failed)
	}

	return nil
}
