package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/internal/store"
	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "hydra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestUpsertRunThenGetRunRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := hydraapi.Run{
		ID:               "run-1",
		RepoRoot:         "/repo",
		BaseRef:          "main",
		TaskPromptSHA256: "abc123",
		Adapters:         []string{"claude", "codex"},
		Status:           hydraapi.RunRunning,
		RetentionPolicy:  "failed",
		StartedAt:        time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.UpsertRun(ctx, run))

	got, ok, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, run.RepoRoot, got.RepoRoot)
	require.Equal(t, run.Adapters, got.Adapters)
	require.Equal(t, run.Status, got.Status)
	require.Nil(t, got.FinishedAt)
}

func TestUpsertRunOverwritesExistingRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := hydraapi.Run{ID: "run-1", RepoRoot: "/repo", Status: hydraapi.RunRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, s.UpsertRun(ctx, run))

	finished := time.Now().UTC().Truncate(time.Second)
	run.Status = hydraapi.RunCompleted
	run.FinishedAt = &finished
	require.NoError(t, s.UpsertRun(ctx, run))

	got, ok, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hydraapi.RunCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestGetRunMissingReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetRun(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListRunsFiltersByStatusAndOrdersByStartedAtDesc(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertRun(ctx, hydraapi.Run{ID: "a", Status: hydraapi.RunCompleted, StartedAt: base}))
	require.NoError(t, s.UpsertRun(ctx, hydraapi.Run{ID: "b", Status: hydraapi.RunFailed, StartedAt: base.Add(time.Minute)}))
	require.NoError(t, s.UpsertRun(ctx, hydraapi.Run{ID: "c", Status: hydraapi.RunCompleted, StartedAt: base.Add(2 * time.Minute)}))

	runs, err := s.ListRuns(ctx, store.RunFilter{Status: hydraapi.RunCompleted})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "c", runs[0].ID) // most recent first
	require.Equal(t, "a", runs[1].ID)
}

func TestWorktreeCreateGetUpdateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	wt := &worktree.Worktree{
		RunID:      "run-1",
		AdapterKey: "claude",
		RepoRoot:   "/repo",
		Path:       "/repo/.hydra/worktrees/run-1-claude",
		Branch:     "hydra/run-1/claude",
		BaseRef:    "main",
		Status:     worktree.StatusActive,
	}
	require.NoError(t, s.CreateWorktree(wt))

	got, err := s.GetWorktree("run-1", "claude")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, wt.Path, got.Path)
	require.Equal(t, worktree.StatusActive, got.Status)

	got.Status = worktree.StatusMerged
	require.NoError(t, s.UpdateWorktree(got))

	again, err := s.GetWorktree("run-1", "claude")
	require.NoError(t, err)
	require.Equal(t, worktree.StatusMerged, again.Status)
}

func TestListWorktreesByRepoReturnsOnlyMatchingRepo(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.CreateWorktree(&worktree.Worktree{RunID: "r1", AdapterKey: "claude", RepoRoot: "/repo-a", Status: worktree.StatusActive}))
	require.NoError(t, s.CreateWorktree(&worktree.Worktree{RunID: "r2", AdapterKey: "codex", RepoRoot: "/repo-b", Status: worktree.StatusActive}))

	list, err := s.ListWorktreesByRepo("/repo-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "r1", list[0].RunID)
}

func TestGetWorktreeMissingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	wt, err := s.GetWorktree("no-such-run", "claude")
	require.NoError(t, err)
	require.Nil(t, wt)
}
