// Package engine implements Hydra's single command-surface entry point:
// the Engine interface every external caller (the demonstration CLI, an
// embedding desktop shell, or GET handlers in internal/api) drives
// instead of reaching into internal/orchestrator, internal/merge,
// internal/session, or internal/doctor directly. Engine's job is pure
// composition: it resolves a call into the concrete run/agent/session
// state those packages already own and applies the few cross-package
// preconditions none of them knows about by itself (the "successful
// preview or explicit override" and "no failed gates unless overridden"
// rules gating ExecuteMerge).
package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/adapter"
	"github.com/hydra-run/hydra/internal/common/config"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/doctor"
	"github.com/hydra-run/hydra/internal/eventbus/artifact"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/internal/merge"
	"github.com/hydra-run/hydra/internal/orchestrator"
	"github.com/hydra-run/hydra/internal/session"
	"github.com/hydra-run/hydra/internal/store"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// RaceResult is the aggregate get_race_result response: the run plus
// every agent's final record.
type RaceResult struct {
	Run    hydraapi.Run        `json:"run"`
	Agents []hydraapi.AgentRun `json:"agents"`
}

// WorkingTreeStatus is the get_working_tree_status response.
type WorkingTreeStatus struct {
	Clean bool     `json:"clean"`
	Files []string `json:"files,omitempty"`
}

// Engine is the single command-surface entry point spec.md §6 names: one
// method per operation, so cmd/hydra, internal/api, and tests all drive
// the exact same code path instead of each growing their own logic.
type Engine interface {
	ListAdapters(ctx context.Context) []hydraapi.AdapterRecord
	RunPreflight(ctx context.Context, repoRoot string) doctor.Report
	StartRace(ctx context.Context, req orchestrator.StartRunRequest) (hydraapi.Run, error)
	PollRaceEvents(ctx context.Context, runID string, cursor int64) ([]hydraapi.Event, int64, error)
	GetRaceResult(runID string) (RaceResult, error)
	GetCandidateDiff(runID, agentKey, cwd string) ([]byte, error)
	PreviewMerge(ctx context.Context, runID, agentKey string, unsafe bool) (merge.PreviewResult, error)
	ExecuteMerge(ctx context.Context, runID, agentKey string, unsafe bool) (merge.ExecuteResult, error)
	GetWorkingTreeStatus(ctx context.Context, cwd string) (WorkingTreeStatus, error)
	StartInteractiveSession(ctx context.Context, req session.StartRequest) (hydraapi.InteractiveSession, error)
	PollInteractiveEvents(sessionID string, cursor int64) ([]hydraapi.SessionOutputEvent, int64, error)
	WriteInteractiveInput(sessionID string, data []byte) error
	ResizeInteractiveSession(sessionID string, cols, rows int) error
	StopInteractiveSession(sessionID string) error
	ListInteractiveSessions() []hydraapi.InteractiveSession
}

// engine is the composed implementation of Engine.
type engine struct {
	cfg          config.Config
	adapters     *adapter.Registry
	orchestrator *orchestrator.Orchestrator
	merge        *merge.Coordinator
	sessions     *session.Manager
	doctor       *doctor.Doctor
	index        store.Index // optional; nil disables run-index mirroring
	log          *logger.Logger
}

var _ Engine = (*engine)(nil)

// New composes an Engine from its already-constructed collaborators.
// index may be nil: the run index is a cache, not a dependency any
// command-surface operation requires to function.
func New(
	cfg config.Config,
	adapters *adapter.Registry,
	orch *orchestrator.Orchestrator,
	mergeCoordinator *merge.Coordinator,
	sessions *session.Manager,
	doc *doctor.Doctor,
	index store.Index,
	log *logger.Logger,
) Engine {
	if log == nil {
		log = logger.Default()
	}
	return &engine{
		cfg:          cfg,
		adapters:     adapters,
		orchestrator: orch,
		merge:        mergeCoordinator,
		sessions:     sessions,
		doctor:       doc,
		index:        index,
		log:          log,
	}
}

// ListAdapters returns every registered adapter's last detection result,
// re-probing first.
func (e *engine) ListAdapters(ctx context.Context) []hydraapi.AdapterRecord {
	return e.adapters.Detect(ctx)
}

// RunPreflight runs every doctor check against repoRoot.
func (e *engine) RunPreflight(ctx context.Context, repoRoot string) doctor.Report {
	workspaceDir := filepath.Join(repoRoot, e.cfg.General.WorkspaceDir)
	return e.doctor.Run(ctx, repoRoot, workspaceDir)
}

// StartRace starts a new race and mirrors its initial record into the run
// index, if one is configured.
func (e *engine) StartRace(ctx context.Context, req orchestrator.StartRunRequest) (hydraapi.Run, error) {
	run, err := e.orchestrator.Start(ctx, req)
	if err != nil {
		return run, err
	}
	e.mirrorRun(ctx, run)
	return run, nil
}

// PollRaceEvents returns every event after cursor from the run's durable
// log (never the live bus, which only fans out to already-connected
// subscribers and would miss events published before Subscribe).
func (e *engine) PollRaceEvents(ctx context.Context, runID string, cursor int64) ([]hydraapi.Event, int64, error) {
	run, err := e.orchestrator.GetRun(runID)
	if err != nil {
		return nil, cursor, err
	}
	runDir := orchestrator.DefaultRunDir(run.RepoRoot, runID)
	events, err := artifact.NewReader(runDir).ReadSince(cursor)
	if err != nil {
		return nil, cursor, err
	}
	newCursor := cursor
	if len(events) > 0 {
		newCursor = events[len(events)-1].Sequence
	}
	return events, newCursor, nil
}

// GetRaceResult returns a run's current record plus every agent's.
func (e *engine) GetRaceResult(runID string) (RaceResult, error) {
	run, err := e.orchestrator.GetRun(runID)
	if err != nil {
		return RaceResult{}, err
	}
	agents, err := e.orchestrator.ListAgentRuns(runID)
	if err != nil {
		return RaceResult{}, err
	}
	return RaceResult{Run: run, Agents: agents}, nil
}

// GetCandidateDiff returns one candidate's persisted unified diff
// artifact. cwd overrides the run's recorded repo root, for a caller
// that knows the repository moved since the run started.
func (e *engine) GetCandidateDiff(runID, agentKey, cwd string) ([]byte, error) {
	repoRoot := cwd
	if repoRoot == "" {
		run, err := e.orchestrator.GetRun(runID)
		if err != nil {
			return nil, err
		}
		repoRoot = run.RepoRoot
	}
	runDir := orchestrator.DefaultRunDir(repoRoot, runID)
	path := artifact.ArtifactPath(runDir, agentKey, hydraapi.ArtifactDiffUnified)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, herr.Wrap(herr.CodeStorageFailed, err, "read candidate diff")
	}
	return data, nil
}

// PreviewMerge previews merging one candidate's branch into the run's
// base branch without mutating the real repository.
func (e *engine) PreviewMerge(ctx context.Context, runID, agentKey string, unsafe bool) (merge.PreviewResult, error) {
	run, agentRun, err := e.lookupCandidate(runID, agentKey)
	if err != nil {
		return merge.PreviewResult{}, err
	}
	return e.merge.Preview(ctx, merge.PreviewRequest{
		RepoRoot:        run.RepoRoot,
		TargetBranch:    run.BaseRef,
		CandidateBranch: agentRun.Branch,
		UnsafeMode:      unsafe,
		ArtifactDir:     orchestrator.DefaultRunDir(run.RepoRoot, runID),
	})
}

// ExecuteMerge enforces spec.md §4.7's merge preconditions — no failed
// gates unless overridden, and a clean preview immediately beforehand —
// then performs the real merge. Preview is always re-run here rather
// than trusting an earlier PreviewMerge call's result, since the
// candidate or target branch may have moved since that call returned.
func (e *engine) ExecuteMerge(ctx context.Context, runID, agentKey string, unsafe bool) (merge.ExecuteResult, error) {
	run, agentRun, err := e.lookupCandidate(runID, agentKey)
	if err != nil {
		return merge.ExecuteResult{}, err
	}

	if !unsafe && agentRun.Score != nil && !agentRun.Score.Mergeable {
		return merge.ExecuteResult{}, herr.Newf(herr.CodeSafetyGate,
			"candidate %q failed scoring gates: %s", agentKey, strings.Join(agentRun.Score.FailedGates, ", "))
	}

	preview, err := e.merge.Preview(ctx, merge.PreviewRequest{
		RepoRoot:        run.RepoRoot,
		TargetBranch:    run.BaseRef,
		CandidateBranch: agentRun.Branch,
		UnsafeMode:      unsafe,
	})
	if err != nil {
		return merge.ExecuteResult{}, err
	}
	if preview.Conflicted && !unsafe {
		return merge.ExecuteResult{Conflicted: true, ConflictFiles: preview.ConflictFiles},
			herr.New(herr.CodeMergeConflict, "candidate branch conflicts with the target branch")
	}

	strategy := merge.Strategy(e.cfg.Merge.DefaultStrategy)
	return e.merge.Execute(ctx, merge.ExecuteRequest{
		RepoRoot:        run.RepoRoot,
		TargetBranch:    run.BaseRef,
		CandidateBranch: agentRun.Branch,
		UnsafeMode:      unsafe,
		Strategy:        strategy,
		Message:         "hydra: merge " + agentKey + " into " + run.BaseRef,
	})
}

// GetWorkingTreeStatus reports whether cwd's git working tree is clean.
func (e *engine) GetWorkingTreeStatus(ctx context.Context, cwd string) (WorkingTreeStatus, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return WorkingTreeStatus{}, herr.Wrap(herr.CodeNotAGitRepo, err, "read working tree status")
	}
	var files []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files = append(files, strings.TrimSpace(line))
		}
	}
	return WorkingTreeStatus{Clean: len(files) == 0, Files: files}, nil
}

// StartInteractiveSession provisions a new PTY-backed interactive session.
func (e *engine) StartInteractiveSession(ctx context.Context, req session.StartRequest) (hydraapi.InteractiveSession, error) {
	return e.sessions.Start(ctx, req)
}

// PollInteractiveEvents returns an interactive session's output events
// after cursor.
func (e *engine) PollInteractiveEvents(sessionID string, cursor int64) ([]hydraapi.SessionOutputEvent, int64, error) {
	return e.sessions.Poll(sessionID, cursor)
}

// WriteInteractiveInput queues input for an interactive session's PTY.
func (e *engine) WriteInteractiveInput(sessionID string, data []byte) error {
	return e.sessions.Write(sessionID, data)
}

// ResizeInteractiveSession resizes an interactive session's PTY.
func (e *engine) ResizeInteractiveSession(sessionID string, cols, rows int) error {
	return e.sessions.Resize(sessionID, cols, rows)
}

// StopInteractiveSession gracefully cancels an interactive session.
func (e *engine) StopInteractiveSession(sessionID string) error {
	return e.sessions.Stop(sessionID)
}

// ListInteractiveSessions returns every session's current record.
func (e *engine) ListInteractiveSessions() []hydraapi.InteractiveSession {
	return e.sessions.List()
}

func (e *engine) lookupCandidate(runID, agentKey string) (hydraapi.Run, hydraapi.AgentRun, error) {
	run, err := e.orchestrator.GetRun(runID)
	if err != nil {
		return hydraapi.Run{}, hydraapi.AgentRun{}, err
	}
	agentRun, err := e.orchestrator.GetAgentRun(runID, agentKey)
	if err != nil {
		return hydraapi.Run{}, hydraapi.AgentRun{}, err
	}
	return run, agentRun, nil
}

// mirrorRun best-effort repairs the run index from the orchestrator's
// authoritative record. The index is a cache: a failure here is logged
// and never surfaces to the caller of StartRace.
func (e *engine) mirrorRun(ctx context.Context, run hydraapi.Run) {
	if e.index == nil {
		return
	}
	if err := e.index.UpsertRun(ctx, run); err != nil {
		e.log.Warn("failed to mirror run into index", zap.Error(err), zap.String("run_id", run.ID))
	}
}
