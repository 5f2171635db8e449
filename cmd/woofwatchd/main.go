// Command woofwatchd runs the acoustic bark detection and attribution
// daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/woofwatch/engine/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(exitCode)
}
