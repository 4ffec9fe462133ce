//go:build windows

package supervisor

import "strings"

// escapeArg quotes s per the CommandLineToArgvW parsing rules so a single
// flattened command line round-trips back to the original argv on
// Windows (the same algorithm syscall.EscapeArg uses internally).
func escapeArg(s string) string {
	if len(s) == 0 {
		return `""`
	}

	var hasSpecial bool
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\\', ' ', '\t':
			hasSpecial = true
		}
	}
	if !hasSpecial {
		return s
	}

	var b strings.Builder
	b.WriteByte('"')
	slashes := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			slashes++
			b.WriteByte('\\')
		case '"':
			for ; slashes > 0; slashes-- {
				b.WriteByte('\\')
			}
			b.WriteByte('\\')
			b.WriteByte('"')
			slashes = 0
		default:
			slashes = 0
			b.WriteByte(s[i])
		}
	}
	for ; slashes > 0; slashes-- {
		b.WriteByte('\\')
	}
	b.WriteByte('"')
	return b.String()
}

// buildCmdLine joins argv into one escaped command-line string for
// ConPTY, which takes a single string rather than an argv slice.
func buildCmdLine(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = escapeArg(a)
	}
	return strings.Join(parts, " ")
}
