package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/flextrace/flextrace/internal/export"
	"github.com/flextrace/flextrace/internal/timeline"
)

// ExportCmd converts a trace log into an interchange format
type ExportCmd struct {
	Trace         string `arg:"" optional:"" help:"Trace file (default: discovered root-session files)"`
	Out           string `short:"o" help:"Output file (default: stdout)"`
	Format        string `enum:"json,csv,chrome-trace" default:"json" help:"Export format"`
	IncludeActive bool   `help:"Include still-running tasks in csv/chrome-trace output"`
	Limit         int    `default:"20" help:"Max discovered root-session files to read"`
}

// Run executes the export command
func (c *ExportCmd) Run(globals *Globals) error {
	res, err := loadSources(globals, c.Trace, c.Limit)
	if err != nil {
		return err
	}

	var w io.Writer = globals.Stdout
	if c.Out != "" {
		f, err := os.Create(c.Out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch c.Format {
	case export.FormatJSON:
		return export.JSON(w, res.Records)
	case export.FormatCSV, export.FormatChromeTrace:
		tl := timeline.Build(res.Records, nowMs())
		tasks := tl.Completed
		if c.IncludeActive {
			tasks = tl.Tasks()
		}
		if c.Format == export.FormatCSV {
			return export.CSV(w, tasks)
		}
		return export.ChromeTrace(w, tasks)
	}
	return fmt.Errorf("unsupported format %q", c.Format)
}
