package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// Claude drives Anthropic's Claude Code CLI over its stream-json protocol:
// one JSON object per line on stdout, the prompt delivered via stdin.
type Claude struct{}

// NewClaude constructs the Claude adapter Definition.
func NewClaude() Definition { return &Claude{} }

func (a *Claude) Key() string       { return "claude" }
func (a *Claude) Tier() hydraapi.Tier { return hydraapi.TierOne }

func (a *Claude) DetectOptions() []DetectOption {
	return []DetectOption{
		WithCommand("claude"),
		WithFileExists("~/.claude.json"),
	}
}

func (a *Claude) VersionArgs() []string { return []string{"--version"} }

func (a *Claude) StaticCapabilities() map[string]hydraapi.CapabilityState {
	verified := hydraapi.CapabilityState{Supported: true, Confidence: hydraapi.ConfidenceVerified}
	return map[string]hydraapi.CapabilityState{
		hydraapi.CapJSONStream:       verified,
		hydraapi.CapForceEditMode:    verified,
		hydraapi.CapSessionResume:    verified,
		hydraapi.CapEmitsUsage:       verified,
		hydraapi.CapApprovalControls: verified,
		hydraapi.CapSandboxControls:  {Supported: false, Confidence: hydraapi.ConfidenceObserved},
	}
}

func (a *Claude) BuildCommand(req BuildRequest) (Command, error) {
	b := Cmd("claude",
		"-p", "--output-format=stream-json", "--input-format=stream-json",
		"--permission-mode=bypassPermissions", "--verbose",
	).
		Model(NewParam("--model", "{model}"), req.Model).
		Resume(NewParam("--resume"), req.SessionID, false).
		Flag(req.ExtraArgs...)

	return b.Prompt(req.Prompt, true).Build(), nil
}

// claudeStreamEvent mirrors the subset of Claude Code's stream-json schema
// Hydra understands; unrecognized fields are ignored.
type claudeStreamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Message struct {
		Content []struct {
			Type  string `json:"type"`
			Text  string `json:"text,omitempty"`
			Name  string `json:"name,omitempty"`
			Input any    `json:"input,omitempty"`
		} `json:"content"`
	} `json:"message"`
	Usage *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Result string `json:"result,omitempty"`
	IsError bool  `json:"is_error,omitempty"`
}

func (a *Claude) ParseLine(line []byte) (*hydraapi.Event, bool, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, nil
	}

	var raw claudeStreamEvent
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, false, fmt.Errorf("parse claude stream-json line: %w", err)
	}
	if raw.Type == "" {
		return nil, false, nil
	}

	now := time.Now()
	switch raw.Type {
	case "assistant":
		for _, block := range raw.Message.Content {
			switch block.Type {
			case "text":
				return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvMessage,
					Data: map[string]any{"role": "assistant", "text": block.Text}}, true, nil
			case "tool_use":
				return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvToolCall,
					Data: map[string]any{"tool": block.Name, "input": block.Input}}, true, nil
			}
		}
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvProgress, Data: map[string]any{}}, true, nil
	case "user":
		for _, block := range raw.Message.Content {
			if block.Type == "tool_result" {
				return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvToolResult,
					Data: map[string]any{"text": block.Text}}, true, nil
			}
		}
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvProgress, Data: map[string]any{}}, true, nil
	case "result":
		ev := &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvUsage,
			Data: map[string]any{"result": raw.Result, "is_error": raw.IsError}}
		if raw.Usage != nil {
			ev.Data["input_tokens"] = raw.Usage.InputTokens
			ev.Data["output_tokens"] = raw.Usage.OutputTokens
		}
		return ev, true, nil
	case "system":
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvProgress,
			Data: map[string]any{"subtype": raw.Subtype}}, true, nil
	default:
		return nil, false, nil
	}
}
