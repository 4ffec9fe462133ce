package worktree

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) string {
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
	require.NoError(t, exec.Command("bash", "-c", "echo hi > "+filepath.Join(dir, "README.md")).Run())
	run("add", "README.md")
	run("commit", "-m", "initial")
	return dir
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BasePath = t.TempDir()
	m, err := NewManager(cfg, nil, nil)
	require.NoError(t, err)
	return m
}

func TestCreateProvisionsWorktreeAndBranch(t *testing.T) {
	repo := initTestRepo(t)
	m := newTestManager(t)

	wt, err := m.Create(context.Background(), CreateRequest{
		RunID: "run1", AdapterKey: "claude", RepoRoot: repo, BaseRef: "main",
	})
	require.NoError(t, err)
	require.True(t, m.IsValid(wt.Path))
	require.Equal(t, "hydra/run1/agent/claude", wt.Branch)
}

func TestCreateIsIdempotentForSameRunAdapter(t *testing.T) {
	repo := initTestRepo(t)
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, CreateRequest{RunID: "run1", AdapterKey: "claude", RepoRoot: repo, BaseRef: "main"})
	require.NoError(t, err)

	second, err := m.Create(ctx, CreateRequest{RunID: "run1", AdapterKey: "claude", RepoRoot: repo, BaseRef: "main"})
	require.NoError(t, err)
	require.Equal(t, first.Path, second.Path)
}

func TestCreateRejectsNonGitRepo(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), CreateRequest{
		RunID: "run1", AdapterKey: "claude", RepoRoot: t.TempDir(), BaseRef: "main",
	})
	require.Error(t, err)
}

func TestRemoveDeletesWorktreeDirectory(t *testing.T) {
	repo := initTestRepo(t)
	m := newTestManager(t)
	ctx := context.Background()

	wt, err := m.Create(ctx, CreateRequest{RunID: "run1", AdapterKey: "claude", RepoRoot: repo, BaseRef: "main"})
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "run1", "claude", true))
	require.False(t, m.IsValid(wt.Path))
}

func TestReconcileRemovesOrphanedWorktrees(t *testing.T) {
	repo := initTestRepo(t)
	m := newTestManager(t)
	ctx := context.Background()

	wt, err := m.Create(ctx, CreateRequest{RunID: "orphan", AdapterKey: "claude", RepoRoot: repo, BaseRef: "main"})
	require.NoError(t, err)

	require.NoError(t, m.Reconcile(ctx, []string{}))
	require.False(t, m.IsValid(wt.Path))
}
