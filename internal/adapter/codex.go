package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// Codex drives OpenAI's Codex CLI in non-interactive "exec" mode, which
// emits one JSON object per line on stdout when --json is set.
type Codex struct{}

// NewCodex constructs the Codex adapter Definition.
func NewCodex() Definition { return &Codex{} }

func (a *Codex) Key() string         { return "codex" }
func (a *Codex) Tier() hydraapi.Tier { return hydraapi.TierOne }

func (a *Codex) DetectOptions() []DetectOption {
	return []DetectOption{
		WithCommand("codex"),
		WithFileExists("~/.codex/config.toml"),
	}
}

func (a *Codex) VersionArgs() []string { return []string{"--version"} }

func (a *Codex) StaticCapabilities() map[string]hydraapi.CapabilityState {
	verified := hydraapi.CapabilityState{Supported: true, Confidence: hydraapi.ConfidenceVerified}
	observed := hydraapi.CapabilityState{Supported: true, Confidence: hydraapi.ConfidenceObserved}
	return map[string]hydraapi.CapabilityState{
		hydraapi.CapJSONStream:      verified,
		hydraapi.CapForceEditMode:   verified,
		hydraapi.CapSandboxControls: verified,
		hydraapi.CapSessionResume:   observed,
		hydraapi.CapEmitsUsage:      observed,
		hydraapi.CapApprovalControls: verified,
	}
}

func (a *Codex) BuildCommand(req BuildRequest) (Command, error) {
	b := Cmd("codex", "exec", "--json", "--skip-git-repo-check",
		"--sandbox", "workspace-write", "--full-auto").
		Model(NewParam("--model", "{model}"), req.Model).
		Resume(NewParam("resume", "--last"), req.SessionID, false).
		Flag(req.ExtraArgs...)

	return b.Prompt(req.Prompt, false).Build(), nil
}

// codexStreamEvent mirrors the subset of the Codex CLI's JSONL protocol
// Hydra understands.
type codexStreamEvent struct {
	Type string `json:"type"`
	Msg  struct {
		Type    string `json:"type"`
		Message string `json:"message,omitempty"`
		Command []string `json:"command,omitempty"`
		ExitCode *int   `json:"exit_code,omitempty"`
		Output   string `json:"aggregated_output,omitempty"`
	} `json:"msg"`
	Usage *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

func (a *Codex) ParseLine(line []byte) (*hydraapi.Event, bool, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, nil
	}

	var raw codexStreamEvent
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, false, fmt.Errorf("parse codex jsonl line: %w", err)
	}
	if raw.Type == "" {
		return nil, false, nil
	}

	now := time.Now()
	switch raw.Msg.Type {
	case "agent_message":
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvMessage,
			Data: map[string]any{"role": "assistant", "text": raw.Msg.Message}}, true, nil
	case "exec_command_begin":
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvToolCall,
			Data: map[string]any{"tool": "exec", "command": raw.Msg.Command}}, true, nil
	case "exec_command_end":
		ev := &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvToolResult,
			Data: map[string]any{"output": raw.Msg.Output}}
		if raw.Msg.ExitCode != nil {
			ev.Data["exit_code"] = *raw.Msg.ExitCode
		}
		return ev, true, nil
	case "token_count":
		ev := &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvUsage, Data: map[string]any{}}
		if raw.Usage != nil {
			ev.Data["input_tokens"] = raw.Usage.InputTokens
			ev.Data["output_tokens"] = raw.Usage.OutputTokens
		}
		return ev, true, nil
	case "task_complete":
		return &hydraapi.Event{Timestamp: now, EventType: hydraapi.EvProgress,
			Data: map[string]any{"subtype": "task_complete"}}, true, nil
	default:
		return nil, false, nil
	}
}
