// Command x64sim runs x86-64 programs on the functional emulator or on the
// timing model.
//
// Usage:
//
//	x64sim run [--timing] [--config timing.json] program.elf
//	x64sim exec "b8 2a 00 00 00"
//	x64sim disasm "31 c0 ff c0"
//	x64sim debug program.elf
//	x64sim bench --format csv
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	var exit *exitError
	switch {
	case errors.As(err, &exit):
		os.Exit(exit.code)
	case err != nil:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
