// Package diffstat extracts churn, file-count, and protected-path signals
// from a unified diff already captured as an artifact, without shelling
// out to a separate diffstat binary.
package diffstat

import (
	"strings"
)

// Stat summarizes one unified diff.
type Stat struct {
	FilesChanged     int
	Churn            int // added + removed lines, excluding hunk headers
	Files            []string
	ProtectedTouched []string // protected-path-relative files touched
	FormatterOnly    bool     // true if nearly every changed line is whitespace-only
}

// Parse scans a unified diff (as produced by `git diff`) and computes a
// Stat. protectedPrefixes are repo-relative path prefixes (e.g. "vendor/",
// "go.sum") that should never be touched without explicit opt-in.
func Parse(diff []byte, protectedPrefixes []string) Stat {
	var st Stat
	if len(diff) == 0 {
		return st
	}

	var whitespaceOnlyLines, changedLines int
	var pendingRemoved string

	lines := strings.Split(string(diff), "\n")
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			if f := extractFile(line); f != "" {
				st.Files = append(st.Files, f)
				st.FilesChanged++
				if touchesProtected(f, protectedPrefixes) {
					st.ProtectedTouched = append(st.ProtectedTouched, f)
				}
			}
		case strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "--- "):
			// file-identity lines, not content churn
		case strings.HasPrefix(line, "+"):
			st.Churn++
			changedLines++
			if pendingRemoved != "" && strings.TrimSpace(line[1:]) == strings.TrimSpace(pendingRemoved) {
				whitespaceOnlyLines += 2
			}
			pendingRemoved = ""
		case strings.HasPrefix(line, "-"):
			st.Churn++
			changedLines++
			pendingRemoved = line[1:]
		default:
			pendingRemoved = ""
		}
	}

	if changedLines > 0 {
		st.FormatterOnly = float64(whitespaceOnlyLines)/float64(changedLines) >= 0.9
	}
	return st
}

func extractFile(diffGitLine string) string {
	// "diff --git a/path/to/file b/path/to/file"
	fields := strings.Fields(diffGitLine)
	for _, f := range fields {
		if strings.HasPrefix(f, "b/") {
			return strings.TrimPrefix(f, "b/")
		}
	}
	return ""
}

func touchesProtected(file string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if strings.HasPrefix(file, p) {
			return true
		}
	}
	return false
}
