package adapter

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// Mock is a deterministic adapter used by integration tests. It requires
// no external binary: its "binary" is this module's own test helper
// program, shelled out to so the supervisor's real process-spawn path is
// exercised end to end. It speaks a tiny JSONL protocol Hydra fully
// controls, so tests can assert on exact event sequences.
type Mock struct{}

// NewMock constructs the Mock adapter Definition.
func NewMock() Definition { return &Mock{} }

func (a *Mock) Key() string         { return "mock" }
func (a *Mock) Tier() hydraapi.Tier { return hydraapi.TierOne }

func (a *Mock) DetectOptions() []DetectOption {
	return []DetectOption{
		WithCommand("hydra-mock-agent"),
		WithEnvVar("HYDRA_MOCK_AGENT_BIN"),
	}
}

func (a *Mock) VersionArgs() []string { return []string{"-version"} }

func (a *Mock) StaticCapabilities() map[string]hydraapi.CapabilityState {
	verified := hydraapi.CapabilityState{Supported: true, Confidence: hydraapi.ConfidenceVerified}
	return map[string]hydraapi.CapabilityState{
		hydraapi.CapJSONStream:    verified,
		hydraapi.CapForceEditMode: verified,
		hydraapi.CapSessionResume: verified,
		hydraapi.CapEmitsUsage:    verified,
	}
}

func (a *Mock) BuildCommand(req BuildRequest) (Command, error) {
	b := Cmd("hydra-mock-agent", "-mode", "jsonl").
		Model(NewParam("-model", "{model}"), req.Model).
		Resume(NewParam("-resume"), req.SessionID, false).
		Flag(req.ExtraArgs...)

	return b.Prompt(req.Prompt, true).Build(), nil
}

type mockEvent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Tool string `json:"tool,omitempty"`
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

func (a *Mock) ParseLine(line []byte) (*hydraapi.Event, bool, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, nil
	}
	var raw mockEvent
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, false, err
	}
	now := time.Now()
	switch raw.Type {
	case "message":
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvMessage,
			Data: map[string]any{"role": "assistant", "text": raw.Text}}, true, nil
	case "tool_call":
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvToolCall,
			Data: map[string]any{"tool": raw.Tool}}, true, nil
	case "usage":
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvUsage,
			Data: map[string]any{"input_tokens": raw.InputTokens, "output_tokens": raw.OutputTokens}}, true, nil
	default:
		return nil, false, nil
	}
}
