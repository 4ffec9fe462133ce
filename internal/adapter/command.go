package adapter

import "strings"

// Command is a domain value type representing a fully-built CLI invocation.
// It is serialized to a []string only at the process-exec boundary, never
// passed through a shell, so prompt content can never be shell-interpreted.
type Command struct {
	Program string
	args    []string
	Stdin   string // non-empty when the prompt travels via stdin instead of argv
}

// Args returns the raw argument slice for exec.Command.
func (c Command) Args() []string { return c.args }

// IsEmpty reports whether the command has no program set.
func (c Command) IsEmpty() bool { return c.Program == "" }

// Param is a pre-split command fragment (a flag, or a flag+value pair,
// possibly containing a `{placeholder}` to be substituted later).
type Param struct {
	args []string
}

// NewParam builds a Param from literal argument pieces.
func NewParam(args ...string) Param {
	return Param{args: append([]string{}, args...)}
}

// IsEmpty reports whether the param carries no arguments.
func (p Param) IsEmpty() bool { return len(p.args) == 0 }

// CmdBuilder assembles a Command using a fluent API. Every method is a
// no-op when its guard condition isn't met, so adapters can chain
// unconditionally and let the builder decide what to include.
type CmdBuilder struct {
	program string
	args    []string
	stdin   string
}

// Cmd starts a builder for the given program and fixed leading arguments.
func Cmd(program string, baseArgs ...string) *CmdBuilder {
	return &CmdBuilder{program: program, args: append([]string{}, baseArgs...)}
}

// Flag appends literal argument parts unconditionally.
func (b *CmdBuilder) Flag(parts ...string) *CmdBuilder {
	b.args = append(b.args, parts...)
	return b
}

// Model appends a model flag, substituting {model} in each arg, skipped
// when the flag is empty or model is "".
func (b *CmdBuilder) Model(flag Param, model string) *CmdBuilder {
	if flag.IsEmpty() || model == "" {
		return b
	}
	for _, a := range flag.args {
		b.args = append(b.args, strings.ReplaceAll(a, "{model}", model))
	}
	return b
}

// Resume appends a resume flag plus sessionID, skipped when sessionID is
// empty, the adapter resumes natively (nativeResume), or flag is empty.
func (b *CmdBuilder) Resume(flag Param, sessionID string, nativeResume bool) *CmdBuilder {
	if sessionID == "" || nativeResume || flag.IsEmpty() {
		return b
	}
	b.args = append(b.args, flag.args...)
	b.args = append(b.args, sessionID)
	return b
}

// Prompt places the task prompt via stdin when viaStdin is true (the
// adapter supports streamed input); otherwise it is appended as a single
// positional argument — never interpolated into another flag's value, so
// the shell (if any wraps exec) cannot reinterpret prompt content.
func (b *CmdBuilder) Prompt(prompt string, viaStdin bool) *CmdBuilder {
	if prompt == "" {
		return b
	}
	if viaStdin {
		b.stdin = prompt
		return b
	}
	b.args = append(b.args, prompt)
	return b
}

// Build finalizes the Command.
func (b *CmdBuilder) Build() Command {
	return Command{Program: b.program, args: append([]string{}, b.args...), Stdin: b.stdin}
}
