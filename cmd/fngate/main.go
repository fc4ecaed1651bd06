// Package main is the entry point for FnGate, a pay-per-call execution
// pipeline: sandboxed code execution, usage metering and a durable billing
// consumer behind one HTTP surface.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fngate/fngate/bootstrap"
	"github.com/fngate/fngate/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "fngate.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fngate %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if *validate {
		cfg, err := config.LoadWithFallback(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration valid\n")
		fmt.Printf("  Database: %s\n", cfg.Database.Driver)
		fmt.Printf("  Event log: %s\n", cfg.Redis.Driver)
		fmt.Printf("  Sandbox engine: %s\n", cfg.Sandbox.Engine)
		os.Exit(0)
	}

	app, err := bootstrap.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		app.Logger.Error().Err(err).Msg("application error")
		os.Exit(1)
	}
}
