// Package main runs lobby admin commands.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	lobbyctl "github.com/sprangg/Zero-K-Infrastructure/internal/cmd/lobbyctl"
	"github.com/sprangg/Zero-K-Infrastructure/internal/platform/config"
)

func main() {
	cfg, err := lobbyctl.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := lobbyctl.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		config.Exitf("Error: %v", err)
	}
}
