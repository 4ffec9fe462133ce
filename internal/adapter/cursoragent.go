package adapter

import (
	"bytes"
	"time"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// CursorAgent drives cursor-agent, a CLI with a much thinner, largely
// plain-text protocol. It is experimental: its streaming shape is known
// from observation rather than a documented schema, so it starts blocked
// unless a run explicitly opts in.
type CursorAgent struct{}

// NewCursorAgent constructs the cursor-agent adapter Definition.
func NewCursorAgent() Definition { return &CursorAgent{} }

func (a *CursorAgent) Key() string         { return "cursor-agent" }
func (a *CursorAgent) Tier() hydraapi.Tier { return hydraapi.TierExperimental }

func (a *CursorAgent) DetectOptions() []DetectOption {
	return []DetectOption{
		WithCommand("cursor-agent"),
	}
}

func (a *CursorAgent) VersionArgs() []string { return []string{"--version"} }

func (a *CursorAgent) StaticCapabilities() map[string]hydraapi.CapabilityState {
	observed := hydraapi.CapabilityState{Supported: true, Confidence: hydraapi.ConfidenceObserved}
	unknown := hydraapi.CapabilityState{Supported: false, Confidence: hydraapi.ConfidenceUnknown}
	return map[string]hydraapi.CapabilityState{
		hydraapi.CapPlainText:     observed,
		hydraapi.CapJSONStream:    unknown,
		hydraapi.CapForceEditMode: observed,
		hydraapi.CapSessionResume: unknown,
		hydraapi.CapEmitsUsage:    unknown,
	}
}

func (a *CursorAgent) BuildCommand(req BuildRequest) (Command, error) {
	b := Cmd("cursor-agent", "--print", "--force").
		Model(NewParam("--model", "{model}"), req.Model).
		Flag(req.ExtraArgs...)

	return b.Prompt(req.Prompt, false).Build(), nil
}

// ParseLine never recognizes structured events: cursor-agent's output is
// treated as plain text from the first line, which immediately and
// deliberately trips the shared degraded-parser fallback in LineParser.
func (a *CursorAgent) ParseLine(line []byte) (*hydraapi.Event, bool, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return &hydraapi.Event{Timestamp: time.Now(), EventType: hydraapi.EvProgress,
			Data: map[string]any{}}, true, nil
	}
	return nil, false, nil
}
