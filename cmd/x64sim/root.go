package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// exitError carries a non-zero guest exit status out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("program exited with code %d", e.code)
}

type globalFlags struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "x64sim",
		Short: "x86-64 emulator and timing simulator",
		Long: `x64sim executes x86-64 machine code functionally, or on a timing model
with an L1 data cache and a branch predictor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warning",
		"log level (trace, debug, info, warning, error)")

	rootCmd.AddCommand(
		newRunCmd(g),
		newExecCmd(g),
		newDisasmCmd(),
		newDebugCmd(g),
		newBenchCmd(g),
	)

	return rootCmd
}

// newLogger creates a logger writing to the command's error stream.
func newLogger(cmd *cobra.Command, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	log.SetLevel(lvl)
	return log, nil
}
