// Package main is the armctl command itself.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/soilbed/armctl/cli"
	"github.com/soilbed/armctl/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		logging.Global().Error(err)
		cancel()
		//nolint:gocritic
		os.Exit(1)
	}
}
