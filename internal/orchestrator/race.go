package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hydra-run/hydra/internal/adapter"
	"github.com/hydra-run/hydra/internal/eventbus/artifact"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/internal/supervisor"
	"github.com/hydra-run/hydra/internal/telemetry"
	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// StartRunRequest describes a new race.
type StartRunRequest struct {
	RepoRoot          string
	BaseRef           string // defaults to "HEAD"
	TaskPrompt        string
	Adapters          []string
	AllowExperimental bool
	Budget            hydraapi.Budget
	RetentionPolicy   string // defaults to cfg.Retention.Policy
}

const engineVersion = "0.1.0"

// Start runs one end-to-end race: it validates adapters, provisions
// worktrees, spawns every requested agent concurrently, relays their
// events, scores the finished candidates, and writes the final manifest.
// It returns once every agent has reached a terminal state or the run's
// hard cap trips. The returned Run reflects the final aggregate status.
func (o *Orchestrator) Start(ctx context.Context, req StartRunRequest) (hydraapi.Run, error) {
	if req.RepoRoot == "" {
		return hydraapi.Run{}, herr.New(herr.CodeInvalidConfig, "repo_root is required")
	}
	if len(req.Adapters) == 0 {
		return hydraapi.Run{}, herr.New(herr.CodeInvalidConfig, "at least one adapter must be requested")
	}
	if req.BaseRef == "" {
		req.BaseRef = "HEAD"
	}
	retention := req.RetentionPolicy
	if retention == "" {
		retention = o.cfg.Retention.Policy
	}

	// Step 1: resolve configuration, acquire (then release) the per-repo
	// lock as a readiness gate — structural mutations below take the same
	// lock themselves, scoped to each mutation rather than the whole run.
	lock, err := worktree.LockRepo(req.RepoRoot)
	if err != nil {
		return hydraapi.Run{}, herr.Wrap(herr.CodeLockContention, err, "acquire repository lock")
	}
	lock.Release()

	// Step 2: validate the requested adapter set.
	for _, key := range req.Adapters {
		if err := o.adapters.Ready(key, req.AllowExperimental); err != nil {
			return hydraapi.Run{}, err
		}
	}

	runID := uuid.NewString()
	sum := sha256.Sum256([]byte(req.TaskPrompt))
	run := hydraapi.Run{
		ID:               runID,
		RepoRoot:         req.RepoRoot,
		BaseRef:          req.BaseRef,
		TaskPrompt:       req.TaskPrompt,
		TaskPromptSHA256: hex.EncodeToString(sum[:]),
		StartedAt:        time.Now().UTC(),
		Status:           hydraapi.RunStarting,
		Adapters:         req.Adapters,
		RetentionPolicy:  retention,
	}

	runDir := o.runDir(req.RepoRoot, runID)
	w, err := artifact.OpenWriter(runDir)
	if err != nil {
		return hydraapi.Run{}, err
	}

	ctx, raceSpan := telemetry.StartRace(ctx, runID, req.RepoRoot, req.Adapters)

	runCtx, cancel := context.WithCancel(ctx)
	if o.cfg.General.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.General.TimeoutSeconds)*time.Second)
	}

	rs := &runState{
		run:    run,
		agents: make(map[string]*hydraapi.AgentRun),
		budget: newBudgetTracker(req.Budget),
		writer: w,
		cancel: cancel,
	}
	o.trackRun(rs)

	o.log.Info("run starting", zap.String("run_id", runID), zap.Strings("adapters", req.Adapters))

	rs.mu.Lock()
	rs.run.Status = hydraapi.RunRunning
	rs.mu.Unlock()
	if _, err := o.publish(runCtx, w, runID, lifecycleEvent(runID, "system", hydraapi.EvRunStarted, map[string]any{
		"adapters": req.Adapters,
		"base_ref": req.BaseRef,
	})); err != nil {
		cancel()
		telemetry.EndRace(raceSpan, string(hydraapi.RunFailed), err)
		return hydraapi.Run{}, err
	}

	if req.Budget.MaxRuntimeMinutes > 0 {
		go o.watchRuntimeBudget(runCtx, rs)
	}

	// Step 3/4: baseline + base worktree, then one worktree per adapter.
	_, baselineHandle := o.captureBaseline(runCtx, &run, runDir)

	o.runAgents(runCtx, rs, &run, runDir, req)

	// Step 7 already satisfied by runAgents blocking until all agents are
	// terminal or the run context expires.

	// Step 8: score each candidate whose build completed.
	o.scoreCandidates(runCtx, rs, runDir, baselineHandle)

	// Step 9: finalize.
	o.finalize(rs, w, runDir)

	cancel()
	o.reconcileWorktrees()

	rs.mu.Lock()
	final := rs.run
	rs.mu.Unlock()
	telemetry.EndRace(raceSpan, string(final.Status), nil)
	return final, nil
}

// captureBaseline creates the base worktree (step 4, base branch) and, if a
// Scorer is wired, runs the baseline build/tests/lint commands against it
// (step 3). It never fails the run: a baseline failure just means scoring
// dimensions that depend on it are reported inactive.
func (o *Orchestrator) captureBaseline(ctx context.Context, run *hydraapi.Run, runDir string) (*worktree.Worktree, any) {
	baseWT, err := o.worktrees.Create(ctx, worktree.CreateRequest{
		RunID:      run.ID,
		AdapterKey: "base",
		RepoRoot:   run.RepoRoot,
		BaseRef:    run.BaseRef,
	})
	if err != nil {
		o.log.Warn("base worktree creation failed, scoring baseline unavailable",
			zap.String("run_id", run.ID), zap.Error(err))
		return nil, nil
	}

	if o.scorer == nil {
		return baseWT, nil
	}

	handle, err := o.scorer.Baseline(ctx, BaselineRequest{
		RunID:       run.ID,
		BaseDir:     baseWT.Path,
		ArtifactDir: runDir + "/base",
	})
	if err != nil {
		o.log.Warn("baseline capture failed", zap.String("run_id", run.ID), zap.Error(err))
		return baseWT, nil
	}
	return baseWT, handle
}

// runAgents provisions one worktree per adapter and spawns them
// concurrently via errgroup, never failing the group on one adapter's
// spawn error — each agent's outcome is recorded on its own AgentRun.
func (o *Orchestrator) runAgents(ctx context.Context, rs *runState, run *hydraapi.Run, runDir string, req StartRunRequest) {
	var g errgroup.Group

	for _, key := range req.Adapters {
		key := key
		ar := &hydraapi.AgentRun{
			RunID:      run.ID,
			AdapterKey: key,
			Status:     hydraapi.AgentPending,
			StartedAt:  time.Now().UTC(),
		}
		rs.mu.Lock()
		rs.agents[key] = ar
		rs.mu.Unlock()

		g.Go(func() error {
			o.runOneAgent(ctx, rs, run, runDir, key)
			return nil // errors are recorded on the AgentRun, never propagated to the group
		})
	}
	_ = g.Wait()
}

// runOneAgent provisions a worktree, builds and spawns the adapter's
// process, relays its stdout/stderr through the shared LineParser, and
// records the terminal AgentRun status. It never returns an error: all
// failure is recorded on the AgentRun itself so one adapter's problem
// cannot abort the others.
func (o *Orchestrator) runOneAgent(ctx context.Context, rs *runState, run *hydraapi.Run, runDir, key string) {
	ctx, agentSpan := telemetry.StartAgentRun(ctx, run.ID, key)
	defer agentSpan.End()

	fail := func(code herr.Code, err error) {
		rs.mu.Lock()
		ar := rs.agents[key]
		now := time.Now().UTC()
		ar.Status = hydraapi.AgentFailed
		ar.FinishedAt = &now
		ar.FailureCode = string(code)
		ar.FailureReason = err.Error()
		rs.mu.Unlock()
		_, _ = o.publish(ctx, rs.writer, run.ID, lifecycleEvent(run.ID, key, hydraapi.EvAgentFailed, map[string]any{
			"code": string(code), "reason": err.Error(),
		}))
		telemetry.SetAgentOutcome(agentSpan, string(hydraapi.AgentFailed), -1, err)
	}

	wt, err := o.worktrees.Create(ctx, worktree.CreateRequest{
		RunID:      run.ID,
		AdapterKey: key,
		RepoRoot:   run.RepoRoot,
		BaseRef:    run.BaseRef,
	})
	if err != nil {
		fail(herr.CodeStorageFailed, err)
		return
	}

	rs.mu.Lock()
	ar := rs.agents[key]
	ar.WorktreePath = wt.Path
	ar.Branch = wt.Branch
	rs.mu.Unlock()

	cmd, err := o.adapters.BuildCommand(key, adapter.BuildRequest{
		Prompt:      run.TaskPrompt,
		WorktreeDir: wt.Path,
	})
	if err != nil {
		fail(herr.CodeSpawnFailed, err)
		return
	}

	parser, err := o.adapters.NewParser(key)
	if err != nil {
		fail(herr.CodeInternal, err)
		return
	}

	rs.mu.Lock()
	ar.Status = hydraapi.AgentRunning
	rs.mu.Unlock()
	_, _ = o.publish(ctx, rs.writer, run.ID, lifecycleEvent(run.ID, key, hydraapi.EvAgentStarted, map[string]any{
		"branch": wt.Branch, "worktree_path": wt.Path,
	}))

	bounds := o.boundsFor(key)

	handle, err := o.supervisor.Spawn(ctx, supervisor.SpawnRequest{
		Command: cmd,
		Dir:     wt.Path,
		Mode:    o.streamModeFor(key),
		Bounds:  bounds,
		OnOutput: func(stream string, line []byte) {
			o.relayLine(ctx, rs, run.ID, key, parser, stream, line)
		},
	})
	if err != nil {
		fail(herr.CodeSpawnFailed, err)
		return
	}

	exitCode, waitErr := handle.Wait()

	now := time.Now().UTC()
	rs.mu.Lock()
	ar.FinishedAt = &now
	ar.ExitCode = &exitCode
	switch handle.Status() {
	case supervisor.StatusTimedOut:
		ar.Status = hydraapi.AgentTimedOut
	case supervisor.StatusCancelled:
		ar.Status = hydraapi.AgentCancelled
	case supervisor.StatusExited:
		if exitCode == 0 {
			ar.Status = hydraapi.AgentCompleted
		} else {
			ar.Status = hydraapi.AgentFailed
			ar.FailureCode = string(herr.CodeSpawnFailed)
			if waitErr != nil {
				ar.FailureReason = waitErr.Error()
			} else {
				ar.FailureReason = fmt.Sprintf("process exited with code %d", exitCode)
			}
		}
	default:
		ar.Status = hydraapi.AgentFailed
	}
	if degraded, reason := parser.Degraded(); degraded {
		ar.FailureReason = reason // advisory only; status above already reflects the real outcome
	}
	terminalStatus := ar.Status
	rs.mu.Unlock()

	if truncated := handle.StreamTruncated(); truncated {
		_, _ = o.publish(ctx, rs.writer, run.ID, lifecycleEvent(run.ID, key, hydraapi.EvStreamTruncated, nil))
	}

	o.persistAgentArtifacts(runDir, key, handle)

	evType := hydraapi.EvAgentCompleted
	switch terminalStatus {
	case hydraapi.AgentFailed:
		evType = hydraapi.EvAgentFailed
	case hydraapi.AgentTimedOut:
		evType = hydraapi.EvAgentTimedOut
	case hydraapi.AgentCancelled:
		evType = hydraapi.EvAgentCancelled
	}
	_, _ = o.publish(ctx, rs.writer, run.ID, lifecycleEvent(run.ID, key, evType, map[string]any{
		"exit_code": exitCode,
	}))
	telemetry.SetAgentOutcome(agentSpan, string(terminalStatus), exitCode, nil)
}

// relayLine feeds one line of output through the adapter's parser and
// publishes the resulting event, accumulating any usage it reports against
// the run's budget and cancelling in-flight agents if it trips.
func (o *Orchestrator) relayLine(ctx context.Context, rs *runState, runID, agentKey string, parser *adapter.LineParser, stream string, line []byte) {
	ev, err := parser.Feed(runID, agentKey, 0, line, time.Now().UTC())
	if err != nil || ev == nil {
		return
	}
	if stream == "stderr" && ev.EventType == hydraapi.EvAgentStdout {
		ev.EventType = hydraapi.EvAgentStderr
	}

	if ev.EventType == hydraapi.EvUsage {
		tokens := tokenCount(ev.Data)
		var cost float64
		if v, ok := ev.Data["cost_usd"].(float64); ok {
			cost = v
		}
		if exceeded, reason := rs.budget.addUsage(tokens, cost); exceeded {
			o.tripBudget(rs, reason)
		}
	}

	_, _ = o.publish(ctx, rs.writer, runID, *ev)
}

// tokenCount extracts a usage event's token total, accepting either a
// pre-combined "total_tokens" field or the adapter's raw
// "input_tokens"/"output_tokens" pair.
func tokenCount(data map[string]any) int64 {
	if v, ok := data["total_tokens"].(int64); ok {
		return v
	}
	var total int64
	if v, ok := data["input_tokens"].(int64); ok {
		total += v
	}
	if v, ok := data["output_tokens"].(int64); ok {
		total += v
	}
	return total
}

// watchRuntimeBudget polls the wall-clock budget independent of usage
// events, since a run with no usage-reporting adapter would otherwise
// never trip MaxRuntimeMinutes.
func (o *Orchestrator) watchRuntimeBudget(ctx context.Context, rs *runState) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if exceeded, reason := rs.budget.checkRuntime(); exceeded {
				o.tripBudget(rs, reason)
				return
			}
		}
	}
}

func (o *Orchestrator) tripBudget(rs *runState, reason string) {
	rs.mu.Lock()
	rs.run.Reason = reason
	cancel := rs.cancel
	rs.mu.Unlock()
	o.log.Warn("run budget exceeded, cancelling in-flight agents", zap.String("reason", reason))
	cancel()
}

func (o *Orchestrator) boundsFor(key string) supervisor.Bounds {
	seconds := o.cfg.General.TimeoutSeconds
	if ac, ok := o.cfg.Adapters[key]; ok && ac.TimeoutSeconds > 0 {
		seconds = ac.TimeoutSeconds
	}
	if seconds <= 0 {
		seconds = 1800
	}
	return supervisor.Bounds{
		Start: 30 * time.Second,
		Idle:  120 * time.Second,
		Hard:  time.Duration(seconds) * time.Second,
	}
}

// streamModeFor picks pipes for adapters whose capability set declares
// structured JSON streaming, pty otherwise, since a plain-text CLI often
// needs a real terminal to produce full output.
func (o *Orchestrator) streamModeFor(key string) supervisor.Mode {
	def, err := o.adapters.Get(key)
	if err != nil {
		return supervisor.ModePipes
	}
	if state, ok := def.StaticCapabilities()[hydraapi.CapJSONStream]; ok && state.Supported {
		return supervisor.ModePipes
	}
	return supervisor.ModePTY
}

func (o *Orchestrator) persistAgentArtifacts(runDir, agentKey string, handle *supervisor.Handle) {
	stdout := o.scrubber.ScrubBytes(handle.Stdout())
	if _, err := artifact.WriteArtifact(runDir, agentKey, hydraapi.ArtifactRawStdout, stdout); err != nil {
		o.log.Warn("failed to persist stdout artifact", zap.String("agent_key", agentKey), zap.Error(err))
	}
	if stderr := handle.Stderr(); len(stderr) > 0 {
		scrubbed := o.scrubber.ScrubBytes(stderr)
		if _, err := artifact.WriteArtifact(runDir, agentKey, hydraapi.ArtifactRawStderr, scrubbed); err != nil {
			o.log.Warn("failed to persist stderr artifact", zap.String("agent_key", agentKey), zap.Error(err))
		}
	}
}

// scoreCandidates scores every agent run whose process exited 0. A
// candidate's diff is captured directly from its worktree via `git diff`
// against the base ref, pure git-plumbing rather than a library.
func (o *Orchestrator) scoreCandidates(ctx context.Context, rs *runState, runDir string, baselineHandle any) {
	if o.scorer == nil {
		return
	}

	rs.mu.Lock()
	candidates := make([]*hydraapi.AgentRun, 0, len(rs.agents))
	var fastest time.Duration
	for _, ar := range rs.agents {
		if ar.Status != hydraapi.AgentCompleted {
			continue
		}
		candidates = append(candidates, ar)
		if ar.FinishedAt != nil {
			wc := ar.FinishedAt.Sub(ar.StartedAt)
			if fastest == 0 || wc < fastest {
				fastest = wc
			}
		}
	}
	rs.mu.Unlock()

	for _, ar := range candidates {
		scoreCtx, scoreSpan := telemetry.StartScoring(ctx, rs.run.ID, ar.AdapterKey)
		_, _ = o.publish(ctx, rs.writer, rs.run.ID, lifecycleEvent(rs.run.ID, ar.AdapterKey, hydraapi.EvScoreStarted, nil))

		diff := o.diffArtifact(ar, rs.run.BaseRef)
		artifactDir := runDir + "/" + ar.AdapterKey
		if _, err := artifact.WriteArtifact(runDir, ar.AdapterKey, hydraapi.ArtifactDiffUnified, diff); err != nil {
			o.log.Warn("failed to persist diff artifact", zap.String("adapter_key", ar.AdapterKey), zap.Error(err))
		}

		wallClock := time.Duration(0)
		if ar.FinishedAt != nil {
			wallClock = ar.FinishedAt.Sub(ar.StartedAt)
		}

		score, err := o.scorer.Score(scoreCtx, ScoreRequest{
			RunID:            rs.run.ID,
			AdapterKey:       ar.AdapterKey,
			CandidateDir:     ar.WorktreePath,
			ArtifactDir:      artifactDir,
			Baseline:         baselineHandle,
			WallClock:        wallClock,
			FastestWallClock: fastest,
			ZeroDiff:         len(diff) == 0,
		})
		if err != nil {
			o.log.Warn("scoring failed", zap.String("adapter_key", ar.AdapterKey), zap.Error(err))
			telemetry.EndScoring(scoreSpan, 0, false, err)
			continue
		}

		rs.mu.Lock()
		ar.Score = &score
		rs.mu.Unlock()

		if _, err := artifact.WriteArtifact(runDir, ar.AdapterKey, hydraapi.ArtifactScoreJSON, scoreJSON(score)); err != nil {
			o.log.Warn("failed to persist score artifact", zap.String("adapter_key", ar.AdapterKey), zap.Error(err))
		}
		_, _ = o.publish(ctx, rs.writer, rs.run.ID, lifecycleEvent(rs.run.ID, ar.AdapterKey, hydraapi.EvScoreFinished, map[string]any{
			"composite": score.Composite, "mergeable": score.Mergeable,
		}))
		telemetry.EndScoring(scoreSpan, score.Composite, score.Mergeable, nil)
	}
}

// diffArtifact runs `git diff <baseRef>` directly via exec.Command in the
// candidate worktree, capturing everything the agent changed since its
// branch point, rather than through a git library.
func (o *Orchestrator) diffArtifact(ar *hydraapi.AgentRun, baseRef string) []byte {
	if ar.WorktreePath == "" {
		return nil
	}
	cmd := exec.Command("git", "diff", "--no-color", baseRef)
	cmd.Dir = ar.WorktreePath
	out, err := cmd.Output()
	if err != nil {
		o.log.Debug("git diff failed", zap.String("adapter_key", ar.AdapterKey), zap.Error(err))
		return nil
	}
	return out
}

func scoreJSON(score hydraapi.CandidateScore) []byte {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`{"composite":%.2f,"mergeable":%t}`, score.Composite, score.Mergeable))
	return []byte(sb.String())
}

// finalize applies the aggregate-status rule, writes the manifest, and
// closes the event log.
func (o *Orchestrator) finalize(rs *runState, w *artifact.Writer, runDir string) {
	rs.mu.Lock()
	completed, total, failedToStart := 0, 0, 0
	for _, ar := range rs.agents {
		total++
		if ar.Status == hydraapi.AgentCompleted {
			completed++
		}
		// ExitCode is only ever nil when the agent never reached Spawn's
		// Wait() — worktree creation, command build, or spawn itself
		// failed before the process ever ran.
		if ar.Status == hydraapi.AgentFailed && ar.ExitCode == nil {
			failedToStart++
		}
	}
	now := time.Now().UTC()
	rs.run.FinishedAt = &now
	switch {
	case rs.run.Reason == "cancelled_by_user" && completed == 0:
		rs.run.Status = hydraapi.RunCancelled
	case total > 0 && failedToStart == total:
		rs.run.Status = hydraapi.RunFailed
	default:
		rs.run.Status = hydraapi.RunCompleted
	}
	finalRun := rs.run
	rs.mu.Unlock()

	evType := hydraapi.EvRunCompleted
	switch finalRun.Status {
	case hydraapi.RunFailed:
		evType = hydraapi.EvRunFailed
	case hydraapi.RunCancelled:
		evType = hydraapi.EvRunCancelled
	}
	_, _ = o.publish(context.Background(), w, finalRun.ID, lifecycleEvent(finalRun.ID, "system", evType, map[string]any{
		"reason": finalRun.Reason,
	}))

	manifest := hydraapi.Manifest{
		SchemaVersion:    1,
		RunID:            finalRun.ID,
		RepoRoot:         finalRun.RepoRoot,
		BaseRef:          finalRun.BaseRef,
		Adapters:         finalRun.Adapters,
		TaskPromptSHA256: finalRun.TaskPromptSHA256,
		StartedAt:        finalRun.StartedAt,
		FinishedAt:       finalRun.FinishedAt,
		Status:           finalRun.Status,
		RetentionPolicy:  finalRun.RetentionPolicy,
		EngineVersion:    engineVersion,
	}
	if err := artifact.WriteManifest(runDir, manifest); err != nil {
		o.log.Warn("failed to write manifest", zap.String("run_id", finalRun.ID), zap.Error(err))
	}
	if err := w.Close(); err != nil {
		o.log.Warn("failed to close event log", zap.String("run_id", finalRun.ID), zap.Error(err))
	}
}

func (o *Orchestrator) reconcileWorktrees() {
	type reconciler interface {
		Reconcile(ctx context.Context, activeRunIDs []string) error
	}
	r, ok := o.worktrees.(reconciler)
	if !ok {
		return
	}
	if err := r.Reconcile(context.Background(), o.activeRunIDs()); err != nil {
		o.log.Warn("worktree reconcile failed", zap.Error(err))
	}
}
