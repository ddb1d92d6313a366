// Package timeline reconstructs task spans, session trees and aggregate
// statistics from the append-only trace log. Reconstruction is a pure
// function over a record snapshot; nothing here holds state between calls.
package timeline

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flextrace/flextrace/internal/trace"
)

// maxLineBytes bounds a single log line; previews are capped at capture
// time, so anything beyond this is malformed input.
const maxLineBytes = 1 << 20

// LoadResult is a validated record snapshot from one or more log files.
type LoadResult struct {
	Records   []trace.Record
	Malformed int
	Sources   []string
}

// Load reads the given NDJSON files in order. Blank lines are ignored;
// lines that fail parsing or validation bump Malformed and are skipped.
func Load(paths ...string) (LoadResult, error) {
	var out LoadResult
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return LoadResult{}, err
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			rec, ok := trace.ParseLine([]byte(line))
			if !ok {
				out.Malformed++
				continue
			}
			out.Records = append(out.Records, rec)
		}
		scanErr := sc.Err()
		_ = f.Close()
		if scanErr != nil {
			return LoadResult{}, scanErr
		}
		out.Sources = append(out.Sources, path)
	}
	return out, nil
}

// Discover lists root-session log files under <rootDir>/<projectID>,
// newest first by modification time, capped at limit when limit > 0.
// Files starting with "_" (the capture bracket file) are skipped. A
// missing project directory yields an empty result, not an error.
func Discover(rootDir, projectID string, limit int) ([]string, error) {
	dir := filepath.Join(rootDir, projectID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type candidate struct {
		path  string
		mtime int64
	}
	var found []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".ndjson") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{
			path:  filepath.Join(dir, name),
			mtime: info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mtime != found[j].mtime {
			return found[i].mtime > found[j].mtime
		}
		return found[i].path < found[j].path
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	paths := make([]string, len(found))
	for i, c := range found {
		paths[i] = c.path
	}
	return paths, nil
}
