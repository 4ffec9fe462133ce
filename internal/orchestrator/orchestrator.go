// Package orchestrator coordinates one race end to end: resolving
// configuration, provisioning worktrees, spawning adapters concurrently,
// relaying their events to the durable log and live bus, scoring the
// candidates, and writing the final manifest. It depends on the adapter
// registry, worktree manager, process supervisor, and event bus only
// through small interfaces it declares itself, the same dependency-
// inversion shape as a service wiring an AgentManagerClient/TaskRepository
// against its own interfaces rather than concrete types.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/hydra-run/hydra/internal/adapter"
	"github.com/hydra-run/hydra/internal/common/config"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/common/redact"
	"github.com/hydra-run/hydra/internal/eventbus"
	"github.com/hydra-run/hydra/internal/eventbus/artifact"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/internal/supervisor"
	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
	"go.uber.org/zap"
)

// AdapterRegistry is the subset of adapter.Registry the orchestrator needs.
type AdapterRegistry interface {
	Get(key string) (adapter.Definition, error)
	Ready(key string, allowExperimental bool) error
	BuildCommand(key string, req adapter.BuildRequest) (adapter.Command, error)
	NewParser(key string) (*adapter.LineParser, error)
}

// WorktreeManager is the subset of worktree.Manager the orchestrator needs.
type WorktreeManager interface {
	Create(ctx context.Context, req worktree.CreateRequest) (*worktree.Worktree, error)
	Remove(ctx context.Context, runID, adapterKey string, removeBranch bool) error
}

// ProcessSupervisor is the subset of supervisor.Supervisor the orchestrator
// needs.
type ProcessSupervisor interface {
	Spawn(ctx context.Context, req supervisor.SpawnRequest) (*supervisor.Handle, error)
}

// RunDirFunc resolves the on-disk directory a run's artifacts live under,
// e.g. "<repoRoot>/.hydra/runs/<runID>".
type RunDirFunc func(repoRoot, runID string) string

// DefaultRunDir is Hydra's default on-disk layout for a run's artifacts.
func DefaultRunDir(repoRoot, runID string) string {
	return repoRoot + "/.hydra/runs/" + runID
}

// Orchestrator owns the set of in-flight and recently-finished runs.
type Orchestrator struct {
	cfg        config.Config
	adapters   AdapterRegistry
	worktrees  WorktreeManager
	supervisor ProcessSupervisor
	bus        eventbus.Bus
	scorer     Scorer // optional; nil skips scoring (step 8 becomes a no-op)
	scrubber   *redact.Scrubber
	runDir     RunDirFunc
	log        *logger.Logger

	mu   sync.RWMutex
	runs map[string]*runState
}

// runState is the orchestrator's live bookkeeping for one run. It is not
// the system of record — internal/eventbus/artifact is — but lets the
// orchestrator answer get_race_result/list-style queries without re-reading
// the JSONL log for every call.
type runState struct {
	mu     sync.Mutex
	run    hydraapi.Run
	agents map[string]*hydraapi.AgentRun
	budget *budgetTracker
	writer *artifact.Writer
	cancel func()
}

// New constructs an Orchestrator. scorer may be nil; deps may be nil to
// fall back to their package defaults (useful in tests that only exercise
// a subset of the pipeline).
func New(cfg config.Config, adapters AdapterRegistry, worktrees WorktreeManager, sup ProcessSupervisor, bus eventbus.Bus, scorer Scorer, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	if sup == nil {
		sup = supervisor.New(log)
	}
	if bus == nil {
		bus = eventbus.NewMemoryBus(log)
	}
	scrubber, err := redact.NewFromPatterns(cfg.Security.RedactPatterns)
	if err != nil {
		log.Warn("invalid custom redaction pattern, using defaults only", zap.Error(err))
		scrubber = redact.New(nil)
	}
	return &Orchestrator{
		cfg:        cfg,
		adapters:   adapters,
		worktrees:  worktrees,
		supervisor: sup,
		bus:        bus,
		scorer:     scorer,
		scrubber:   scrubber,
		runDir:     DefaultRunDir,
		log:        log.With(zap.String("component", "orchestrator")),
		runs:       make(map[string]*runState),
	}
}

// GetRun returns a snapshot of a run's top-level record.
func (o *Orchestrator) GetRun(runID string) (hydraapi.Run, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rs, ok := o.runs[runID]
	if !ok {
		return hydraapi.Run{}, herr.Newf(herr.CodeNotFound, "run %q not found", runID)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.run, nil
}

// GetAgentRun returns a snapshot of one agent run within a run.
func (o *Orchestrator) GetAgentRun(runID, adapterKey string) (hydraapi.AgentRun, error) {
	o.mu.RLock()
	rs, ok := o.runs[runID]
	o.mu.RUnlock()
	if !ok {
		return hydraapi.AgentRun{}, herr.Newf(herr.CodeNotFound, "run %q not found", runID)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ar, ok := rs.agents[adapterKey]
	if !ok {
		return hydraapi.AgentRun{}, herr.Newf(herr.CodeNotFound, "no agent run %q in run %q", adapterKey, runID)
	}
	return *ar, nil
}

// ListAgentRuns returns a snapshot of every agent run in a run.
func (o *Orchestrator) ListAgentRuns(runID string) ([]hydraapi.AgentRun, error) {
	o.mu.RLock()
	rs, ok := o.runs[runID]
	o.mu.RUnlock()
	if !ok {
		return nil, herr.Newf(herr.CodeNotFound, "run %q not found", runID)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]hydraapi.AgentRun, 0, len(rs.agents))
	for _, ar := range rs.agents {
		out = append(out, *ar)
	}
	return out, nil
}

// Cancel stops a run: every in-flight agent's context is cancelled, which
// the supervisor turns into a SIGTERM-then-SIGKILL shutdown, and the run's
// status is marked cancelled once finalize observes no further agents can
// complete.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.RLock()
	rs, ok := o.runs[runID]
	o.mu.RUnlock()
	if !ok {
		return herr.Newf(herr.CodeNotFound, "run %q not found", runID)
	}
	rs.mu.Lock()
	if rs.run.Status == hydraapi.RunCompleted || rs.run.Status == hydraapi.RunFailed || rs.run.Status == hydraapi.RunCancelled {
		rs.mu.Unlock()
		return nil
	}
	rs.run.Reason = "cancelled_by_user"
	cancel := rs.cancel
	rs.mu.Unlock()
	cancel()
	return nil
}

func (o *Orchestrator) trackRun(rs *runState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[rs.run.ID] = rs
}

func (o *Orchestrator) activeRunIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.runs))
	for id, rs := range o.runs {
		rs.mu.Lock()
		terminal := rs.run.Status == hydraapi.RunCompleted || rs.run.Status == hydraapi.RunFailed || rs.run.Status == hydraapi.RunCancelled
		rs.mu.Unlock()
		if !terminal {
			out = append(out, id)
		}
	}
	return out
}

// elapsedSince is a tiny indirection so tests can stub wall-clock-derived
// speed scoring deterministically if ever needed; production always uses
// time.Since.
func elapsedSince(t time.Time) time.Duration { return time.Since(t) }
