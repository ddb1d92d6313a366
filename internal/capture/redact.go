package capture

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/flextrace/flextrace/internal/trace"
)

// DefaultPreviewMax caps captured payload previews.
const DefaultPreviewMax = 800

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`(?i)api[_-]?key["']?\s*[:=]\s*["'][^"']+["']`),
	regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["'][^"']+["']`),
	regexp.MustCompile(`(?i)password["']?\s*[:=]\s*["'][^"']+["']`),
}

// RedactSecrets masks credential-shaped substrings before anything reaches
// the log.
func RedactSecrets(raw string) string {
	for _, pattern := range secretPatterns {
		raw = pattern.ReplaceAllString(raw, "[REDACTED]")
	}
	return raw
}

// Preview renders a value as compact, redacted JSON truncated to max runes.
func Preview(input any, max int) string {
	if max <= 0 {
		max = DefaultPreviewMax
	}
	compact := RedactSecrets(safeStringify(input))
	if len(compact) <= max {
		return compact
	}
	return compact[:max] + "..."
}

func safeStringify(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(b)
}

// safeError flattens an error into loggable attrs.
func safeError(err error) trace.Attrs {
	if err == nil {
		return nil
	}
	return trace.Attrs{"message": err.Error()}
}

// collapseWhitespace normalizes a user-message preview to one line.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
