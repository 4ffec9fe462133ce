// Package hydraapi holds the wire-level types shared by every caller of the
// engine's command surface: the demonstration CLI, an embedding desktop
// shell, and tests. It intentionally has no behavior, only shapes.
package hydraapi

import "time"

// RunStatus is the lifecycle status of a Run.
type RunStatus string

const (
	RunStarting  RunStatus = "starting"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// AgentRunStatus is the lifecycle status of one AgentRun.
type AgentRunStatus string

const (
	AgentPending   AgentRunStatus = "pending"
	AgentRunning   AgentRunStatus = "running"
	AgentCompleted AgentRunStatus = "completed"
	AgentFailed    AgentRunStatus = "failed"
	AgentTimedOut  AgentRunStatus = "timed_out"
	AgentCancelled AgentRunStatus = "cancelled"
)

// Tier classifies an adapter's default-enablement.
type Tier string

const (
	TierOne          Tier = "tier1"
	TierExperimental Tier = "experimental"
)

// DetectionStatus is the adapter registry's readiness verdict.
type DetectionStatus string

const (
	DetectReady             DetectionStatus = "ready"
	DetectExperimentalReady DetectionStatus = "experimental_ready"
	DetectBlocked           DetectionStatus = "blocked"
	DetectMissing           DetectionStatus = "missing"
)

// Confidence is the evidence strength behind a capability probe result.
type Confidence string

const (
	ConfidenceVerified Confidence = "verified"
	ConfidenceObserved Confidence = "observed"
	ConfidenceUnknown  Confidence = "unknown"
)

// Capability names recognized by the adapter registry.
const (
	CapJSONStream       = "json_stream"
	CapPlainText        = "plain_text"
	CapForceEditMode    = "force_edit_mode"
	CapSandboxControls  = "sandbox_controls"
	CapApprovalControls = "approval_controls"
	CapSessionResume    = "session_resume"
	CapEmitsUsage       = "emits_usage"
)

// CapabilityState is one entry of an adapter's capability set.
type CapabilityState struct {
	Supported  bool       `json:"supported"`
	Confidence Confidence `json:"confidence"`
}

// AdapterRecord is the process-wide, registry-owned view of one adapter.
type AdapterRecord struct {
	Key              string                     `json:"key"`
	Tier             Tier                       `json:"tier"`
	BinaryPath       string                     `json:"binary_path,omitempty"`
	Version          string                     `json:"version,omitempty"`
	Capabilities     map[string]CapabilityState `json:"capabilities"`
	Detection        DetectionStatus            `json:"detection"`
	DetectedAt       time.Time                  `json:"detected_at"`
	DegradedReason   string                     `json:"degraded_reason,omitempty"`
}

// Run is the top-level race entity.
type Run struct {
	ID              string            `json:"id"`
	RepoRoot        string            `json:"repo_root"`
	BaseRef         string            `json:"base_ref"`
	TaskPrompt      string            `json:"task_prompt"`
	TaskPromptSHA256 string           `json:"task_prompt_sha256"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	Status          RunStatus         `json:"status"`
	Adapters        []string          `json:"adapters"`
	RetentionPolicy string            `json:"retention_policy"`
	Reason          string            `json:"reason,omitempty"` // e.g. budget_exceeded
}

// AgentRun is a single adapter invocation inside one Run.
type AgentRun struct {
	RunID         string          `json:"run_id"`
	AdapterKey    string          `json:"adapter_key"`
	AdapterVersion string         `json:"adapter_version,omitempty"`
	Branch        string          `json:"branch"`
	WorktreePath  string          `json:"worktree_path"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	Status        AgentRunStatus  `json:"status"`
	ExitCode      *int            `json:"exit_code,omitempty"`
	TokensUsed    *int64          `json:"tokens_used,omitempty"`
	CostUSD       *float64        `json:"cost_usd,omitempty"`
	Score         *CandidateScore `json:"score,omitempty"`
	FailureCode   string          `json:"failure_code,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Event is one normalized, persisted record in a run's event log.
type Event struct {
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	AgentKey  string         `json:"agent_key"` // "system" for run-level events
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// Event types, grouped by what they describe: run lifecycle, agent
// lifecycle, agent output, and scoring.
const (
	EvRunStarted   = "run_started"
	EvRunCompleted = "run_completed"
	EvRunFailed    = "run_failed"
	EvRunCancelled = "run_cancelled"

	EvAgentStarted  = "agent_started"
	EvAgentCompleted = "agent_completed"
	EvAgentFailed    = "agent_failed"
	EvAgentTimedOut  = "agent_timed_out"
	EvAgentCancelled = "agent_cancelled"

	EvAgentStdout = "agent_stdout"
	EvAgentStderr = "agent_stderr"
	EvMessage     = "message"
	EvToolCall    = "tool_call"
	EvToolResult  = "tool_result"
	EvProgress    = "progress"
	EvUsage       = "usage"
	EvStreamTruncated = "stream_truncated"

	EvScoreStarted  = "score_started"
	EvScoreFinished = "score_finished"
)

// Manifest is the persisted `.hydra/runs/<run_id>/manifest.json` document.
type Manifest struct {
	SchemaVersion   int        `json:"schema_version"`
	RunID           string     `json:"run_id"`
	RepoRoot        string     `json:"repo_root"`
	BaseRef         string     `json:"base_ref"`
	Adapters        []string   `json:"adapters"`
	TaskPromptSHA256 string    `json:"task_prompt_sha256"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Status          RunStatus  `json:"status"`
	RetentionPolicy string     `json:"retention_policy"`
	Budget          Budget     `json:"budget"`
	EngineVersion   string     `json:"engine_version"`
}

// Budget is the run-scoped resource ceiling.
type Budget struct {
	MaxTokensTotal    int64   `json:"max_tokens_total,omitempty"`
	MaxCostUSD        float64 `json:"max_cost_usd,omitempty"`
	MaxRuntimeMinutes float64 `json:"max_runtime_minutes,omitempty"`
}

// ArtifactKind enumerates the persisted blob kinds a run's artifact
// directory can contain.
type ArtifactKind string

const (
	ArtifactManifest      ArtifactKind = "manifest"
	ArtifactEventsJSONL    ArtifactKind = "events_jsonl"
	ArtifactRawStdout      ArtifactKind = "raw_stdout"
	ArtifactRawStderr      ArtifactKind = "raw_stderr"
	ArtifactDiffUnified    ArtifactKind = "diff_unified"
	ArtifactScoreJSON      ArtifactKind = "score_json"
	ArtifactTestOutput     ArtifactKind = "test_output"
	ArtifactLintOutput     ArtifactKind = "lint_output"
	ArtifactConflictReport ArtifactKind = "conflict_report"
)

// Artifact is an immutable persisted blob reference.
type Artifact struct {
	RunID    string       `json:"run_id"`
	AgentKey string       `json:"agent_key,omitempty"`
	Kind     ArtifactKind `json:"kind"`
	Path     string       `json:"path"`
	SHA256   string       `json:"sha256"`
}

// DimensionScore is one scoring dimension's result plus evidence.
type DimensionScore struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	Weight   float64  `json:"weight"`
	Active   bool     `json:"active"`
	Evidence []string `json:"evidence,omitempty"` // artifact paths
	Annotation string `json:"annotation,omitempty"` // e.g. "no_change", "parser_fallback"
}

// CandidateScore is the scoring engine's output for one AgentRun.
type CandidateScore struct {
	RunID         string           `json:"run_id"`
	AdapterKey    string           `json:"adapter_key"`
	Composite     float64          `json:"composite"`
	Dimensions    []DimensionScore `json:"dimensions"`
	Mergeable     bool             `json:"mergeable"`
	FailedGates   []string         `json:"failed_gates,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
	EngineVersion string           `json:"engine_version"`
	Weights       ScoringWeightsSnapshot `json:"weights"`
}

// ScoringWeightsSnapshot records the effective weights used for a score,
// for reproducibility: given the same inputs, a score should be
// recomputable byte-for-byte from its recorded weights.
type ScoringWeightsSnapshot struct {
	Build     float64 `json:"build"`
	Tests     float64 `json:"tests"`
	Lint      float64 `json:"lint"`
	DiffScope float64 `json:"diff_scope"`
	Speed     float64 `json:"speed"`
}

// InteractiveSessionStatus is the lifecycle status of an InteractiveSession.
type InteractiveSessionStatus string

const (
	SessionStarting  InteractiveSessionStatus = "starting"
	SessionRunning   InteractiveSessionStatus = "running"
	SessionCompleted InteractiveSessionStatus = "completed"
	SessionFailed    InteractiveSessionStatus = "failed"
	SessionStopped   InteractiveSessionStatus = "stopped"
)

// InteractiveSession is the process-wide record for one live PTY session.
type InteractiveSession struct {
	ID         string                   `json:"id"`
	AdapterKey string                   `json:"adapter_key"`
	Cwd        string                   `json:"cwd"`
	Status     InteractiveSessionStatus `json:"status"`
	Cols       int                      `json:"cols"`
	Rows       int                      `json:"rows"`
	StartedAt  time.Time                `json:"started_at"`
	StoppedAt  *time.Time               `json:"stopped_at,omitempty"`
}

// SessionOutputEvent is one chunk of a session's raw output, in cursor
// (sequence) order. Data carries the exact bytes produced by the process,
// ANSI control codes included; display normalization is left to the
// caller.
type SessionOutputEvent struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"` // "pty"
	Data      []byte    `json:"data"`
}
