package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(NewRunner(RunnerOpts{}))
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "crawlwatch: %v\n", err)
		stop()
		os.Exit(1)
	}
}
