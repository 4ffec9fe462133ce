// Package store defines Hydra's run index: a queryable relational mirror
// of run metadata and worktree bookkeeping, used for list/lookup without
// scanning the on-disk .hydra/runs/* tree. The index is a cache, never
// authoritative — on mismatch with a run's manifest.json, the manifest
// wins and the caller repairs the index row via UpsertRun.
package store

import (
	"context"

	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// RunFilter narrows ListRuns. A zero value matches every run.
type RunFilter struct {
	Status hydraapi.RunStatus
	Limit  int
}

// Index is the run-history cache plus the worktree bookkeeping table.
// internal/store/sqlite and internal/store/postgres both implement it
// over the same schema shape. Index embeds worktree.Store so either
// backend can be handed directly to worktree.NewManager.
type Index interface {
	worktree.Store

	UpsertRun(ctx context.Context, run hydraapi.Run) error
	GetRun(ctx context.Context, runID string) (hydraapi.Run, bool, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]hydraapi.Run, error)

	Close() error
}
