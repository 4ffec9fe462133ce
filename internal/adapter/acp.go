package adapter

import (
	"bytes"
	"encoding/json"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// ACP drives agents that speak the Agent Client Protocol, a JSON-RPC 2.0
// session/permission protocol rather than a flat line-JSON stream. It is
// experimental: Hydra observes an ACP agent's session/update
// notifications for event-surface parity with the other adapters, but
// does not itself drive the ACP handshake (initialize, session/new,
// session/prompt) — that needs a persistent bidirectional connection,
// and the orchestrator's spawn-once/read-stdout-lines model has no slot
// for one. An ACP agent run today still needs its own front end issuing
// those calls over the same stdio pair Hydra's supervisor hands it.
type ACP struct{}

// NewACP constructs the ACP adapter Definition.
func NewACP() Definition { return &ACP{} }

func (a *ACP) Key() string         { return "acp" }
func (a *ACP) Tier() hydraapi.Tier { return hydraapi.TierExperimental }

func (a *ACP) DetectOptions() []DetectOption {
	return []DetectOption{
		WithCommand("acp-agent"),
	}
}

func (a *ACP) VersionArgs() []string { return []string{"--version"} }

func (a *ACP) StaticCapabilities() map[string]hydraapi.CapabilityState {
	return map[string]hydraapi.CapabilityState{
		hydraapi.CapJSONStream:    {Supported: true, Confidence: hydraapi.ConfidenceVerified},
		hydraapi.CapSessionResume: {Supported: true, Confidence: hydraapi.ConfidenceObserved},
	}
}

// BuildCommand only builds the bare invocation: an ACP agent takes its
// prompt over the JSON-RPC connection (session/prompt), not argv/stdin,
// so req.Prompt is intentionally unused here.
func (a *ACP) BuildCommand(req BuildRequest) (Command, error) {
	b := Cmd("acp-agent").Flag(req.ExtraArgs...)
	return b.Build(), nil
}

// acpEnvelope is the minimal JSON-RPC 2.0 frame every ACP message
// arrives in, one per line.
type acpEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ParseLine decodes one newline-delimited ACP JSON-RPC message. Only
// session/update notifications are translated into events; requests the
// agent sends the other direction (session/request_permission and the
// like) are outside what a passive line observer can answer and are
// left to the full client this adapter's BuildCommand output assumes is
// already wired up front.
func (a *ACP) ParseLine(line []byte) (*hydraapi.Event, bool, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, nil
	}
	var env acpEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, false, nil
	}
	if env.Method != "session/update" {
		return nil, false, nil
	}

	var notif acp.SessionNotification
	if err := json.Unmarshal(env.Params, &notif); err != nil {
		return nil, false, err
	}
	return &hydraapi.Event{
		Timestamp: time.Now(),
		EventType: hydraapi.EvMessage,
		Data:      map[string]any{"session_update": notif},
	}, true, nil
}
