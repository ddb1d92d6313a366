package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/flextrace/flextrace/internal/timeline"
)

// SessionsCmd lists the project's root-session log files
type SessionsCmd struct {
	Limit int `default:"50" help:"Max files to list"`
}

type sessionFile struct {
	RootSessionID string `json:"rootSessionId"`
	Path          string `json:"path"`
	SizeBytes     int64  `json:"sizeBytes"`
	ModifiedAt    string `json:"modifiedAt"`
}

// Run executes the sessions command
func (c *SessionsCmd) Run(globals *Globals) error {
	paths, err := timeline.Discover(globals.Root, globals.Project, c.Limit)
	if err != nil {
		return err
	}

	files := make([]sessionFile, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, sessionFile{
			RootSessionID: strings.TrimSuffix(filepath.Base(path), ".ndjson"),
			Path:          path,
			SizeBytes:     info.Size(),
			ModifiedAt:    info.ModTime().UTC().Format(time.RFC3339),
		})
	}

	if globals.Format == "table" {
		table := tablewriter.NewWriter(globals.Stdout)
		table.Header([]string{"Root Session", "Size", "Modified", "Path"})
		for _, f := range files {
			table.Append([]string{
				f.RootSessionID,
				strconv.FormatInt(f.SizeBytes, 10),
				f.ModifiedAt,
				f.Path,
			})
		}
		return table.Render()
	}

	enc := json.NewEncoder(globals.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(files)
}
