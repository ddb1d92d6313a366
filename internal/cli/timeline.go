package cli

import (
	"encoding/json"

	"github.com/flextrace/flextrace/internal/timeline"
)

// TimelineCmd reconstructs and prints the full timeline
type TimelineCmd struct {
	Trace    string `arg:"" optional:"" help:"Trace file (default: discovered root-session files)"`
	Limit    int    `default:"20" help:"Max discovered root-session files to read"`
	Handoffs bool   `default:"true" negatable:"" help:"Infer parent→child handoff links"`
}

// Envelope is the timeline command's JSON output shape.
type Envelope struct {
	GeneratedAt      int64              `json:"generatedAt"`
	LagMs            int64              `json:"lagMs"`
	StaleThresholdMs int64              `json:"staleThresholdMs"`
	IsStale          bool               `json:"isStale"`
	MalformedLines   int                `json:"malformedLines"`
	Sources          []string           `json:"sources"`
	Timeline         *timeline.Timeline `json:"timeline"`
	Handoffs         []timeline.Handoff `json:"handoffs,omitempty"`
}

// Run executes the timeline command
func (c *TimelineCmd) Run(globals *Globals) error {
	res, err := loadSources(globals, c.Trace, c.Limit)
	if err != nil {
		return err
	}

	now := nowMs()
	tl := timeline.Build(res.Records, now)

	env := Envelope{
		GeneratedAt:      now,
		StaleThresholdMs: globals.Config.Timeline.StaleThresholdMs,
		MalformedLines:   res.Malformed,
		Sources:          res.Sources,
		Timeline:         tl,
	}
	if tl.LatestTs > 0 {
		env.LagMs = now - tl.LatestTs
		if env.LagMs < 0 {
			env.LagMs = 0
		}
	}
	env.IsStale = env.StaleThresholdMs > 0 && env.LagMs > env.StaleThresholdMs
	if c.Handoffs {
		env.Handoffs = timeline.InferHandoffs(tl)
	}

	enc := json.NewEncoder(globals.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}
