package doctor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/internal/adapter"
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
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial")
	return dir
}

func TestRunReportsNotAGitRepo(t *testing.T) {
	dir := t.TempDir() // never git-initialized
	d := New(adapter.New(nil), nil)

	report := d.Run(context.Background(), dir, filepath.Join(dir, ".hydra"))
	require.False(t, report.OK)

	found := false
	for _, c := range report.Checks {
		if c.Name == "git_repository" {
			found = true
			require.False(t, c.Passed)
		}
	}
	require.True(t, found)
}

func TestRunCleanRepoPassesGitChecks(t *testing.T) {
	repo := initTestRepo(t)
	d := New(adapter.New(nil), nil)

	report := d.Run(context.Background(), repo, filepath.Join(repo, ".hydra"))

	for _, name := range []string{"git_binary", "git_repository", "clean_worktree", "disk_space"} {
		found := false
		for _, c := range report.Checks {
			if c.Name == name {
				found = true
				require.True(t, c.Passed, name)
			}
		}
		require.True(t, found, name)
	}
}

func TestRunFlagsDirtyWorktree(t *testing.T) {
	repo := initTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "untracked.txt"), []byte("oops\n"), 0o644))
	d := New(adapter.New(nil), nil)

	report := d.Run(context.Background(), repo, filepath.Join(repo, ".hydra"))
	for _, c := range report.Checks {
		if c.Name == "clean_worktree" {
			require.False(t, c.Passed)
		}
	}
	// Dirty worktree is not Tier-1, so it lowers the score but never fails
	// the report outright.
	require.Less(t, report.HealthScore, float64(100))
}

func TestRunWithoutAnyAvailableAdapterFailsTier1(t *testing.T) {
	repo := initTestRepo(t)
	d := New(adapter.New(nil), nil)

	report := d.Run(context.Background(), repo, filepath.Join(repo, ".hydra"))

	require.False(t, report.OK) // no adapter binaries are installed in this environment
	found := false
	for _, c := range report.Checks {
		if c.Name == "at_least_one_tier1_adapter_ready" {
			found = true
			require.False(t, c.Passed)
			require.True(t, c.Tier1)
		}
	}
	require.True(t, found)
	require.NotEmpty(t, report.Adapters)
}

func TestRunHealthScoreIsBetweenZeroAndHundred(t *testing.T) {
	repo := initTestRepo(t)
	d := New(adapter.New(nil), nil)

	report := d.Run(context.Background(), repo, filepath.Join(repo, ".hydra"))
	require.GreaterOrEqual(t, report.HealthScore, float64(0))
	require.LessOrEqual(t, report.HealthScore, float64(100))
}
