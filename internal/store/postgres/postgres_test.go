package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/internal/store"
	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// These tests require a live postgres instance and are skipped unless
// HYDRA_TEST_POSTGRES_DSN points at one, mirroring how this corpus gates
// other external-service-dependent tests on an environment variable.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("HYDRA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HYDRA_TEST_POSTGRES_DSN not set, skipping postgres store test")
	}
	s, err := Open(context.Background(), dsn, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.Exec(`DROP TABLE IF EXISTS runs, worktrees`)
		require.NoError(t, s.Close())
	})
	return s
}

func TestUpsertRunThenGetRunRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := hydraapi.Run{
		ID:               "run-pg-1",
		RepoRoot:         "/repo",
		BaseRef:          "main",
		TaskPromptSHA256: "abc123",
		Adapters:         []string{"claude"},
		Status:           hydraapi.RunRunning,
		StartedAt:        time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.UpsertRun(ctx, run))

	got, ok, err := s.GetRun(ctx, "run-pg-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, run.Adapters, got.Adapters)
}

func TestListRunsFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertRun(ctx, hydraapi.Run{ID: "pg-a", Status: hydraapi.RunCompleted, StartedAt: base}))
	require.NoError(t, s.UpsertRun(ctx, hydraapi.Run{ID: "pg-b", Status: hydraapi.RunFailed, StartedAt: base}))

	runs, err := s.ListRuns(ctx, store.RunFilter{Status: hydraapi.RunCompleted})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "pg-a", runs[0].ID)
}

func TestWorktreeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	wt := &worktree.Worktree{RunID: "pg-run", AdapterKey: "claude", RepoRoot: "/repo", Status: worktree.StatusActive}
	require.NoError(t, s.CreateWorktree(wt))

	got, err := s.GetWorktree("pg-run", "claude")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, worktree.StatusActive, got.Status)
}
