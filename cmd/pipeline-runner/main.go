// Package main provides pipeline-runner, an offline, resumable, idempotent
// pipeline executor.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"pipeline/internal/cli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(os.Stdout, os.Stderr, os.Args, sigCh)

	os.Exit(exitCode)
}
