package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/flextrace/flextrace/internal/timeline"
)

// AnalyzeCmd summarizes a trace log
type AnalyzeCmd struct {
	Trace string `arg:"" optional:"" help:"Trace file (default: discovered root-session files)"`
	Limit int    `default:"20" help:"Max discovered root-session files to read"`
}

// Run executes the analyze command
func (c *AnalyzeCmd) Run(globals *Globals) error {
	res, err := loadSources(globals, c.Trace, c.Limit)
	if err != nil {
		return err
	}
	sum := timeline.Summarize(res.Records, nowMs())

	if globals.Format == "table" {
		return c.renderTable(globals, res, sum)
	}

	enc := json.NewEncoder(globals.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		timeline.Summary
		MalformedLines int      `json:"malformedLines"`
		Sources        []string `json:"sources"`
	}{sum, res.Malformed, res.Sources})
}

func (c *AnalyzeCmd) renderTable(globals *Globals, res timeline.LoadResult, sum timeline.Summary) error {
	fmt.Fprintf(globals.Stdout, "tasks: %d completed, %d active, %d errors  |  total %s, avg %s, p95 %s\n",
		sum.Completed, sum.Active, sum.Errors,
		formatMs(sum.TotalMs), formatMs(sum.AvgMs), formatMs(sum.P95Ms))
	if res.Malformed > 0 {
		fmt.Fprintf(globals.Stdout, "malformed lines skipped: %d\n", res.Malformed)
	}
	fmt.Fprintln(globals.Stdout)

	table := tablewriter.NewWriter(globals.Stdout)
	table.Header([]string{"Agent", "Activity", "Count", "Total", "Avg", "Errors"})
	for _, stat := range sum.ByAgentActivity {
		table.Append([]string{
			stat.Agent,
			stat.Activity,
			strconv.Itoa(stat.Count),
			formatMs(stat.TotalMs),
			formatMs(stat.AvgMs),
			strconv.Itoa(stat.Errors),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(sum.SlowTasks) > 0 {
		fmt.Fprintln(globals.Stdout)
		slow := tablewriter.NewWriter(globals.Stdout)
		slow.Header([]string{"Slowest Tasks", "Agent", "Duration"})
		for _, st := range sum.SlowTasks {
			slow.Append([]string{st.Name, st.Agent, formatMs(st.DurationMs)})
		}
		return slow.Render()
	}
	return nil
}

func formatMs(ms int64) string {
	switch {
	case ms >= 60_000:
		return fmt.Sprintf("%.1fm", float64(ms)/60_000)
	case ms >= 1_000:
		return fmt.Sprintf("%.1fs", float64(ms)/1_000)
	default:
		return strconv.FormatInt(ms, 10) + "ms"
	}
}
