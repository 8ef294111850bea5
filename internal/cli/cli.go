// Package cli implements the ephemeraldb command.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// Main is the entry point for the CLI.
//
// If an error is returned, it is printed to stderr and the process exits with a non-zero exit code.
// An interrupt signal cancels the command, which for "up" triggers teardown.
func Main(opts ...Options) {
	ctx, stop := newContext()
	defer stop()
	if err := Run(ctx, os.Args[1:], opts...); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}

// Run runs the CLI with the provided arguments. The arguments should not include the command name
// itself, only the arguments to the command, use os.Args[1:].
func Run(ctx context.Context, args []string, opts ...Options) error {
	return run(ctx, args, opts...)
}

func newContext() (context.Context, context.CancelFunc) {
	signals := []os.Signal{os.Interrupt}
	if runtime.GOOS != "windows" {
		signals = append(signals, syscall.SIGTERM)
	}
	return signal.NotifyContext(context.Background(), signals...)
}
