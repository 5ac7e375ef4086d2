package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"shopbot/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		cancel(cli.WithSignalCause(sig))
		// A second signal forces exit.
		<-sigCh
		os.Exit(1)
	}()

	if err := cli.Execute(ctx, version); err != nil {
		os.Exit(1)
	}
}
