package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/flextrace/flextrace/internal/cli"
	"github.com/flextrace/flextrace/internal/config"
)

const quickStart = `tracectl - agent trace timelines

Quick start:
  tracectl sessions                     List root-session trace files
  tracectl timeline                     Reconstruct the timeline as JSON
  tracectl analyze --format table       Task/agent summary tables
  tracectl watch                        Live TUI viewer

For help:
  tracectl --help                       All commands and flags
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config defaults feed kong; CLI flags override them when set.
	vars := kong.Vars{
		"config_format":  cfg.Format,
		"config_root":    cfg.Capture.Root,
		"config_project": cfg.Capture.Project,
	}

	ctx := kong.Parse(&c,
		kong.Name("tracectl"),
		kong.Description("Record and reconstruct AI-agent session timelines from append-only trace logs"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	if err := ctx.Run(globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
