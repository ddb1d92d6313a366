package cli

import (
	"fmt"
	"time"

	"github.com/flextrace/flextrace/internal/timeline"
)

// resolveSources picks the log files a read command operates on: an
// explicit trace file when given, otherwise the newest root-session files
// discovered under the project directory.
func resolveSources(g *Globals, traceFile string, limit int) ([]string, error) {
	if traceFile != "" {
		return []string{traceFile}, nil
	}
	paths, err := timeline.Discover(g.Root, g.Project, limit)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no trace files under %s/%s (write some traces first, or pass a file)", g.Root, g.Project)
	}
	g.Debug("discovered %d trace files under %s/%s", len(paths), g.Root, g.Project)
	return paths, nil
}

func loadSources(g *Globals, traceFile string, limit int) (timeline.LoadResult, error) {
	paths, err := resolveSources(g, traceFile, limit)
	if err != nil {
		return timeline.LoadResult{}, err
	}
	return timeline.Load(paths...)
}

func nowMs() int64 { return time.Now().UnixMilli() }
