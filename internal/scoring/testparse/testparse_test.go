package testparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGoTestVerboseOutput(t *testing.T) {
	output := []byte(`=== RUN   TestFoo
--- PASS: TestFoo (0.00s)
=== RUN   TestBar
--- FAIL: TestBar (0.00s)
FAIL
`)
	counts, ok := Parse("go test -v ./...", output)
	require.True(t, ok)
	require.Equal(t, 1, counts.Passed)
	require.Equal(t, 2, counts.Total)
}

func TestParseJestSummaryWithTotal(t *testing.T) {
	output := []byte("Tests:       2 failed, 8 passed, 10 total\n")
	counts, ok := Parse("npx jest", output)
	require.True(t, ok)
	require.Equal(t, 8, counts.Passed)
	require.Equal(t, 10, counts.Total)
}

func TestParsePytestSummaryWithoutExplicitTotal(t *testing.T) {
	output := []byte("12 passed, 1 failed in 3.21s\n")
	counts, ok := Parse("pytest", output)
	require.True(t, ok)
	require.Equal(t, 12, counts.Passed)
	require.Equal(t, 13, counts.Total)
}

func TestParseUnrecognizedOutputFallsBack(t *testing.T) {
	_, ok := Parse("make test", []byte("running custom harness...\nall good\n"))
	require.False(t, ok)
}
