// Package testparse extracts passed/total test counts from a configured
// test command's captured output, so the scoring engine can compute a
// pass-rate dimension instead of falling back to pass/fail exit codes.
package testparse

import (
	"regexp"
	"strconv"
)

// Counts is the result of a successful parse.
type Counts struct {
	Passed int
	Total  int
}

// parser recognizes one test runner's output shape and extracts counts.
// Returns ok=false if the output doesn't match its shape at all.
type parser func(output []byte) (Counts, bool)

// parsers is tried in order; the first one to recognize the output wins.
// Keyed loosely to the common runners a configured test_command invokes.
var parsers = []parser{
	parseGoTestVerbose,
	parsePassedFailedSummary,
}

var (
	goPassRe = regexp.MustCompile(`(?m)^--- PASS:`)
	goFailRe = regexp.MustCompile(`(?m)^--- FAIL:`)

	// Covers both jest ("Tests: 2 failed, 8 passed, 10 total") and pytest
	// ("12 passed, 1 failed in 3.21s") summary lines.
	passedRe = regexp.MustCompile(`(?i)(\d+)\s+passed(?:,\s*(\d+)\s+total)?`)
	failedRe = regexp.MustCompile(`(?i)(\d+)\s+failed`)
)

// Parse tries each known runner shape against output and returns the
// first match. cmd is currently unused for dispatch (every parser is
// cheap to try and shapes rarely collide) but is kept in the signature so
// a future configured-runner hint can short-circuit the table.
func Parse(cmd string, output []byte) (Counts, bool) {
	_ = cmd
	for _, p := range parsers {
		if c, ok := p(output); ok {
			return c, true
		}
	}
	return Counts{}, false
}

// parseGoTestVerbose counts "--- PASS:"/"--- FAIL:" lines emitted by
// `go test -v`. Plain `go test` (no -v) prints no per-test lines and is
// left to the exit-code fallback.
func parseGoTestVerbose(output []byte) (Counts, bool) {
	passed := len(goPassRe.FindAll(output, -1))
	failed := len(goFailRe.FindAll(output, -1))
	if passed+failed == 0 {
		return Counts{}, false
	}
	return Counts{Passed: passed, Total: passed + failed}, true
}

func parsePassedFailedSummary(output []byte) (Counts, bool) {
	m := passedRe.FindSubmatch(output)
	if m == nil {
		return Counts{}, false
	}
	passed, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return Counts{}, false
	}
	total := passed
	if len(m[2]) > 0 {
		if t, err := strconv.Atoi(string(m[2])); err == nil {
			total = t
		}
	} else if fm := failedRe.FindSubmatch(output); fm != nil {
		if failed, err := strconv.Atoi(string(fm[1])); err == nil {
			total = passed + failed
		}
	}
	return Counts{Passed: passed, Total: total}, true
}
