package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/internal/adapter"
	"github.com/hydra-run/hydra/internal/common/config"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/doctor"
	"github.com/hydra-run/hydra/internal/eventbus"
	"github.com/hydra-run/hydra/internal/merge"
	"github.com/hydra-run/hydra/internal/orchestrator"
	"github.com/hydra-run/hydra/internal/session"
	"github.com/hydra-run/hydra/internal/supervisor"
	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// fakeOrchAdapters satisfies orchestrator.AdapterRegistry without needing a
// real external binary, mirroring the orchestrator package's own test fake.
type fakeOrchAdapters struct {
	script   string
	readyErr error
	def      adapter.Definition
}

func newFakeOrchAdapters(script string) *fakeOrchAdapters {
	return &fakeOrchAdapters{script: script, def: adapter.NewMock()}
}

func (f *fakeOrchAdapters) Get(string) (adapter.Definition, error) { return f.def, nil }
func (f *fakeOrchAdapters) Ready(string, bool) error               { return f.readyErr }
func (f *fakeOrchAdapters) BuildCommand(string, adapter.BuildRequest) (adapter.Command, error) {
	return adapter.Cmd("/bin/sh", "-c", f.script).Build(), nil
}
func (f *fakeOrchAdapters) NewParser(string) (*adapter.LineParser, error) {
	return adapter.NewLineParser(f.def), nil
}

// realWorktrees hands every agent the real repository root as its
// "worktree", so the orchestrator's git-diff/score plumbing has an actual
// repository to run against instead of a bare temp directory.
type realWorktrees struct {
	repoRoot string
}

func (r realWorktrees) Create(_ context.Context, req worktree.CreateRequest) (*worktree.Worktree, error) {
	return &worktree.Worktree{
		RunID:      req.RunID,
		AdapterKey: req.AdapterKey,
		RepoRoot:   req.RepoRoot,
		Path:       r.repoRoot,
		Branch:     "hydra/" + req.RunID + "/" + req.AdapterKey,
	}, nil
}

func (r realWorktrees) Remove(context.Context, string, string, bool) error { return nil }

type fakeScorer struct {
	score hydraapi.CandidateScore
}

func (f *fakeScorer) Baseline(context.Context, orchestrator.BaselineRequest) (any, error) {
	return "baseline", nil
}

func (f *fakeScorer) Score(ctx context.Context, req orchestrator.ScoreRequest) (hydraapi.CandidateScore, error) {
	s := f.score
	s.RunID = req.RunID
	s.AdapterKey = req.AdapterKey
	return s, nil
}

// fakeSessionAdapters satisfies session.AdapterChecker for interactive
// session tests, mirroring internal/session's own test fake.
type fakeSessionAdapters struct{}

func (fakeSessionAdapters) Ready(string, bool) error { return nil }
func (fakeSessionAdapters) Cached(string) (hydraapi.AdapterRecord, bool) {
	return hydraapi.AdapterRecord{
		Key: "mock",
		Capabilities: map[string]hydraapi.CapabilityState{
			hydraapi.CapPlainText: {Supported: true, Confidence: hydraapi.ConfidenceObserved},
		},
	}, true
}
func (fakeSessionAdapters) BuildCommand(string, adapter.BuildRequest) (adapter.Command, error) {
	return adapter.Cmd("/bin/sh", "-c", "cat").Build(), nil
}

// initGitRepo creates a real, clean git repository with one commit so
// worktree-scoped git plumbing (diff, status) has something real to run
// against.
func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	run("config", "user.email", "hydra@example.com")
	run("config", "user.name", "hydra")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial")
	return dir
}

func newTestEngine(t *testing.T, script string, scorer orchestrator.Scorer) (Engine, string) {
	t.Helper()
	repoRoot := initGitRepo(t)

	cfg := config.Default()
	cfg.General.TimeoutSeconds = 10

	orch := orchestrator.New(cfg, newFakeOrchAdapters(script), realWorktrees{repoRoot}, supervisor.New(logger.Default()),
		eventbus.NewMemoryBus(logger.Default()), scorer, logger.Default())

	mergeCoordinator := merge.New(logger.Default())
	sessions := session.New(supervisor.New(logger.Default()), fakeSessionAdapters{}, logger.Default())
	doc := doctor.New(adapter.New(logger.Default()), logger.Default())

	return New(cfg, adapter.New(logger.Default()), orch, mergeCoordinator, sessions, doc, nil, logger.Default()), repoRoot
}

func TestStartRaceThenGetRaceResultAndPollEvents(t *testing.T) {
	script := `echo '{"type":"message","text":"hi"}'`
	e, repoRoot := newTestEngine(t, script, &fakeScorer{score: hydraapi.CandidateScore{Composite: 1, Mergeable: true}})

	run, err := e.StartRace(context.Background(), orchestrator.StartRunRequest{
		RepoRoot:   repoRoot,
		TaskPrompt: "do the thing",
		Adapters:   []string{"mock"},
	})
	require.NoError(t, err)
	require.Equal(t, hydraapi.RunCompleted, run.Status)

	result, err := e.GetRaceResult(run.ID)
	require.NoError(t, err)
	require.Len(t, result.Agents, 1)
	require.True(t, result.Agents[0].Score.Mergeable)

	events, cursor, err := e.PollRaceEvents(context.Background(), run.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, events[len(events)-1].Sequence, cursor)

	more, nextCursor, err := e.PollRaceEvents(context.Background(), run.ID, cursor)
	require.NoError(t, err)
	require.Empty(t, more)
	require.Equal(t, cursor, nextCursor)
}

func TestGetCandidateDiffReadsPersistedArtifact(t *testing.T) {
	script := `echo '{"type":"message","text":"hi"}'`
	e, repoRoot := newTestEngine(t, script, &fakeScorer{score: hydraapi.CandidateScore{Composite: 1, Mergeable: true}})

	run, err := e.StartRace(context.Background(), orchestrator.StartRunRequest{
		RepoRoot: repoRoot,
		Adapters: []string{"mock"},
	})
	require.NoError(t, err)

	diff, err := e.GetCandidateDiff(run.ID, "mock", "")
	require.NoError(t, err)
	_ = diff // the fake worktree makes no real changes; an empty diff is a valid read
}

func TestExecuteMergeRejectsFailedGateUnlessUnsafe(t *testing.T) {
	script := `echo '{"type":"message","text":"hi"}'`
	e, repoRoot := newTestEngine(t, script, &fakeScorer{score: hydraapi.CandidateScore{
		Composite: 0.1, Mergeable: false, FailedGates: []string{"tests_failed"},
	}})

	run, err := e.StartRace(context.Background(), orchestrator.StartRunRequest{
		RepoRoot: repoRoot,
		Adapters: []string{"mock"},
	})
	require.NoError(t, err)

	_, err = e.ExecuteMerge(context.Background(), run.ID, "mock", false)
	require.Error(t, err)
}

func TestGetWorkingTreeStatusReportsCleanAndDirty(t *testing.T) {
	e, repoRoot := newTestEngine(t, `true`, nil)

	status, err := e.GetWorkingTreeStatus(context.Background(), repoRoot)
	require.NoError(t, err)
	require.True(t, status.Clean)

	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "new.txt"), []byte("x"), 0o644))

	status, err = e.GetWorkingTreeStatus(context.Background(), repoRoot)
	require.NoError(t, err)
	require.False(t, status.Clean)
	require.Len(t, status.Files, 1)
}

func TestInteractiveSessionLifecycleThroughEngine(t *testing.T) {
	e, repoRoot := newTestEngine(t, "", nil)

	sess, err := e.StartInteractiveSession(context.Background(), session.StartRequest{
		AdapterKey: "mock",
		Cwd:        repoRoot,
		Build:      adapter.BuildRequest{},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	list := e.ListInteractiveSessions()
	require.Len(t, list, 1)

	require.NoError(t, e.StopInteractiveSession(sess.ID))
}

func TestRunPreflightReportsGitChecks(t *testing.T) {
	e, repoRoot := newTestEngine(t, "", nil)

	report := e.RunPreflight(context.Background(), repoRoot)
	require.NotEmpty(t, report.Checks)
}
