// Package cli implements the tracectl commands.
package cli

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/flextrace/flextrace/internal/config"
)

// CLI is the top-level kong command tree.
type CLI struct {
	Format  string `help:"Output format" enum:"json,table" default:"${config_format}"`
	Verbose bool   `short:"v" help:"Enable verbose debug logging"`
	Root    string `help:"Trace root directory" default:"${config_root}"`
	Project string `help:"Project id under the trace root" default:"${config_project}"`

	Analyze  AnalyzeCmd  `cmd:"" help:"Summarize task durations and agent activity from a trace log"`
	Export   ExportCmd   `cmd:"" help:"Export a trace log as JSON, CSV or Chrome trace events"`
	Timeline TimelineCmd `cmd:"" help:"Reconstruct the timeline and print it as JSON"`
	Sessions SessionsCmd `cmd:"" help:"List root-session log files for the project"`
	Watch    WatchCmd    `cmd:"" help:"Live timeline viewer (TUI)"`
}

// Globals carries shared flags and injected streams to every command.
type Globals struct {
	Format  string
	Verbose bool
	Root    string
	Project string

	Stdout io.Writer
	Stderr io.Writer
	Config *config.Config

	sugared *zap.SugaredLogger
}

// NewGlobalsWithConfig builds Globals from parsed flags with config
// fallbacks.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	g := &Globals{
		Format:  c.Format,
		Verbose: c.Verbose,
		Root:    c.Root,
		Project: c.Project,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	if g.Root == "" {
		g.Root = cfg.Capture.Root
	}
	if g.Project == "" {
		g.Project = cfg.Capture.Project
	}
	if g.Verbose {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zcfg.Encoding = "json"
		if logger, err := zcfg.Build(); err == nil {
			g.sugared = logger.Sugar()
		}
	}
	return g
}

// Debug logs when --verbose is set; a no-op otherwise.
func (g *Globals) Debug(format string, args ...interface{}) {
	if g.sugared == nil {
		return
	}
	g.sugared.Debugf(format, args...)
}
