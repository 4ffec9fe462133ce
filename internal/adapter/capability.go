package adapter

import "github.com/hydra-run/hydra/pkg/hydraapi"

// BuildRequest carries everything a Definition needs to build one
// invocation command for a single agent run.
type BuildRequest struct {
	Model       string
	Prompt      string
	SessionID   string
	WorktreeDir string
	ExtraArgs   []string
}

// Definition is the closed set of behaviors every supported adapter
// implements. Adding an adapter means writing a new Definition, never
// making this interface more dynamic — the dispatch table in registry.go
// stays a fixed, readable list.
type Definition interface {
	// Key is the stable identifier used in run requests, manifests and events.
	Key() string

	// Tier reports whether this adapter is enabled by default (tier1) or
	// must be explicitly opted into (experimental).
	Tier() hydraapi.Tier

	// DetectOptions returns the ordered probe chain used to decide whether
	// the adapter's binary is present on this machine.
	DetectOptions() []DetectOption

	// VersionArgs returns the args passed to the binary to print its
	// version string, used by ProbeVersion. A nil/empty slice means
	// "--version".
	VersionArgs() []string

	// StaticCapabilities returns the capability set known from reading the
	// adapter's own documentation/source, prior to any runtime probing.
	StaticCapabilities() map[string]hydraapi.CapabilityState

	// BuildCommand constructs the exact CLI invocation for one agent run.
	BuildCommand(req BuildRequest) (Command, error)

	// ParseLine attempts to interpret one line of the adapter's stdout as a
	// structured event. ok is false when the line doesn't match the
	// adapter's expected structured format (plain-text chatter, etc).
	ParseLine(line []byte) (ev *hydraapi.Event, ok bool, err error)
}

// MergeCapabilities overlays probed results onto the static baseline,
// raising confidence to verified only where a probe actually ran.
func MergeCapabilities(static map[string]hydraapi.CapabilityState, probed map[string]hydraapi.CapabilityState) map[string]hydraapi.CapabilityState {
	out := make(map[string]hydraapi.CapabilityState, len(static))
	for k, v := range static {
		out[k] = v
	}
	for k, v := range probed {
		out[k] = v
	}
	return out
}
