package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"tillpoint/internal/config"
	"tillpoint/internal/daemon"
	"tillpoint/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("TILLPOINT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "tillpointd is already running")
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
