// Package main provides the go-devserver CLI entry point.
//
// go-devserver builds a Go server, runs it on a listening socket it owns, and
// rebuilds and restarts it whenever the source changes. The socket survives
// every restart, so clients never see a refused connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/randomizedcoder/go-devserver/internal/config"
	"github.com/randomizedcoder/go-devserver/internal/logging"
	"github.com/randomizedcoder/go-devserver/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-devserver
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags()
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if cfg.ShowVersion {
		fmt.Printf("go-devserver %s\n", version)
		return 0
	}

	logger := logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	ctx := context.Background()

	if cfg.PrintCmd {
		line, err := orchestrator.BuildCommandLine(ctx, cfg, nil, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println("# Build command run on every change:")
		fmt.Println()
		fmt.Println(line)
		return 0
	}

	logger.Info("starting",
		"version", version,
		"cwd", cfg.Cwd,
		"watch", cfg.Watch,
		"release", cfg.Release,
		"signal", cfg.Signal,
		"metrics_addr", cfg.MetricsAddr,
	)

	// Run only returns on a startup failure; otherwise the process ends with
	// the child's exit code once shutdown completes.
	orch := orchestrator.New(cfg, logger, orchestrator.Options{Version: version})
	if err := orch.Run(ctx); err != nil {
		logger.Error("devserver_failed", "error", err)
		return 1
	}

	return 0
}
