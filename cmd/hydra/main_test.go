package main

import "testing"

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty string", input: "", want: nil},
		{name: "whitespace only", input: "   ", want: nil},
		{name: "single value", input: "mock", want: []string{"mock"}},
		{name: "multiple values", input: "mock,claude,codex", want: []string{"mock", "claude", "codex"}},
		{name: "trims whitespace around commas", input: " mock , claude ,codex ", want: []string{"mock", "claude", "codex"}},
		{name: "drops empty segments", input: "mock,,claude", want: []string{"mock", "claude"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitCSV(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("splitCSV(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("splitCSV(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExitCodeTableIsComplete(t *testing.T) {
	// usage() lists every registered subcommand plus "serve"; exercising
	// it here catches a command map entry with a nil handler.
	for name, handler := range commands {
		if handler == nil {
			t.Errorf("command %q has a nil handler", name)
		}
	}
}
