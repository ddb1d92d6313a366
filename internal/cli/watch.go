package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/flextrace/flextrace/internal/timeline"
	"github.com/flextrace/flextrace/internal/tui"
)

// WatchCmd runs the live timeline viewer
type WatchCmd struct {
	Trace    string `arg:"" optional:"" help:"Trace file (default: discovered root-session files)"`
	Interval string `default:"2s" help:"Poll interval for re-reading the log"`
	Limit    int    `default:"20" help:"Max discovered root-session files to read"`
}

// Run executes the watch command
func (c *WatchCmd) Run(globals *Globals) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return errors.New("watch needs a terminal; use 'timeline' for machine-readable output")
	}

	interval, err := time.ParseDuration(c.Interval)
	if err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}
	if configured := globals.Config.Timeline.PollInterval; c.Interval == "2s" && configured != "" {
		if d, err := time.ParseDuration(configured); err == nil {
			interval = d
		}
	}

	// Sources are re-discovered on every poll so new root sessions show up
	// without a restart.
	load := func() (tui.Snapshot, error) {
		res, err := loadSources(globals, c.Trace, c.Limit)
		if err != nil {
			return tui.Snapshot{}, err
		}
		tl := timeline.Build(res.Records, nowMs())
		return tui.Snapshot{
			Timeline:  tl,
			Handoffs:  timeline.InferHandoffs(tl),
			Malformed: res.Malformed,
			Sources:   len(res.Sources),
			LoadedAt:  time.Now(),
		}, nil
	}

	globals.Debug("starting watch with interval %s", interval)
	model := tui.New(load, interval, globals.Project)
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
