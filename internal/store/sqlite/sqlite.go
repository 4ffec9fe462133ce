// Package sqlite is the default embedded implementation of
// internal/store.Index, backed by a single hydra.db file under
// .hydra/state/.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hydra-run/hydra/internal/store"
	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

const busyTimeoutMillis = 5000

// Store is the sqlite-backed run index.
type Store struct {
	db *sqlx.DB
}

var _ store.Index = (*Store)(nil)

// Open creates (if needed) and opens the sqlite database at dbPath,
// configured for a single writer connection serialized via WAL, and
// ensures its schema exists.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		dbPath, busyTimeoutMillis,
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer, avoids SQLITE_BUSY under WAL
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id                  TEXT PRIMARY KEY,
		repo_root           TEXT NOT NULL,
		base_ref            TEXT NOT NULL,
		task_prompt_sha256  TEXT NOT NULL,
		adapters_json       TEXT NOT NULL DEFAULT '[]',
		status              TEXT NOT NULL,
		retention_policy    TEXT NOT NULL DEFAULT '',
		reason              TEXT NOT NULL DEFAULT '',
		started_at          TIMESTAMP NOT NULL,
		finished_at         TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_repo_root ON runs(repo_root);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS worktrees (
		run_id      TEXT NOT NULL,
		adapter_key TEXT NOT NULL,
		repo_root   TEXT NOT NULL,
		path        TEXT NOT NULL,
		branch      TEXT NOT NULL,
		base_ref    TEXT NOT NULL,
		status      TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL,
		removed_at  TIMESTAMP,
		PRIMARY KEY (run_id, adapter_key)
	);
	CREATE INDEX IF NOT EXISTS idx_worktrees_repo_root ON worktrees(repo_root);
	`)
	return err
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// UpsertRun inserts or replaces a run's index row.
func (s *Store) UpsertRun(ctx context.Context, run hydraapi.Run) error {
	adapters, err := json.Marshal(run.Adapters)
	if err != nil {
		return fmt.Errorf("marshal adapters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO runs (
			id, repo_root, base_ref, task_prompt_sha256, adapters_json,
			status, retention_policy, reason, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_root = excluded.repo_root,
			base_ref = excluded.base_ref,
			task_prompt_sha256 = excluded.task_prompt_sha256,
			adapters_json = excluded.adapters_json,
			status = excluded.status,
			retention_policy = excluded.retention_policy,
			reason = excluded.reason,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`), run.ID, run.RepoRoot, run.BaseRef, run.TaskPromptSHA256, string(adapters),
		run.Status, run.RetentionPolicy, run.Reason, run.StartedAt, run.FinishedAt)
	return err
}

// GetRun returns one run by ID. The second return value is false if no
// row exists for runID.
func (s *Store) GetRun(ctx context.Context, runID string) (hydraapi.Run, bool, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM runs WHERE id = ?`), runID)
	if err == sql.ErrNoRows {
		return hydraapi.Run{}, false, nil
	}
	if err != nil {
		return hydraapi.Run{}, false, err
	}
	run, err := row.toRun()
	return run, true, err
}

// ListRuns returns runs matching filter, most recently started first.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]hydraapi.Run, error) {
	query := `SELECT * FROM runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	runs := make([]hydraapi.Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

type runRow struct {
	ID               string     `db:"id"`
	RepoRoot         string     `db:"repo_root"`
	BaseRef          string     `db:"base_ref"`
	TaskPromptSHA256 string     `db:"task_prompt_sha256"`
	AdaptersJSON     string     `db:"adapters_json"`
	Status           string     `db:"status"`
	RetentionPolicy  string     `db:"retention_policy"`
	Reason           string     `db:"reason"`
	StartedAt        time.Time  `db:"started_at"`
	FinishedAt       *time.Time `db:"finished_at"`
}

func (r runRow) toRun() (hydraapi.Run, error) {
	var adapters []string
	if err := json.Unmarshal([]byte(r.AdaptersJSON), &adapters); err != nil {
		return hydraapi.Run{}, fmt.Errorf("unmarshal adapters: %w", err)
	}
	return hydraapi.Run{
		ID:               r.ID,
		RepoRoot:         r.RepoRoot,
		BaseRef:          r.BaseRef,
		TaskPromptSHA256: r.TaskPromptSHA256,
		Adapters:         adapters,
		Status:           hydraapi.RunStatus(r.Status),
		RetentionPolicy:  r.RetentionPolicy,
		Reason:           r.Reason,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
	}, nil
}

// --- worktree.Store ---
//
// These four methods have no context parameter, matching
// internal/worktree.Store's signature; they use context.Background()
// internally since worktree bookkeeping calls are always short local
// writes/reads.

// CreateWorktree persists a new worktree record.
func (s *Store) CreateWorktree(wt *worktree.Worktree) error {
	now := time.Now().UTC()
	if wt.CreatedAt.IsZero() {
		wt.CreatedAt = now
	}
	wt.UpdatedAt = now
	_, err := s.db.Exec(s.db.Rebind(`
		INSERT INTO worktrees (
			run_id, adapter_key, repo_root, path, branch, base_ref,
			status, created_at, updated_at, removed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, adapter_key) DO UPDATE SET
			repo_root = excluded.repo_root,
			path = excluded.path,
			branch = excluded.branch,
			base_ref = excluded.base_ref,
			status = excluded.status,
			updated_at = excluded.updated_at,
			removed_at = excluded.removed_at
	`), wt.RunID, wt.AdapterKey, wt.RepoRoot, wt.Path, wt.Branch, wt.BaseRef,
		wt.Status, wt.CreatedAt, wt.UpdatedAt, wt.RemovedAt)
	return err
}

// GetWorktree returns the worktree for one run's adapter, or nil if none
// has been recorded.
func (s *Store) GetWorktree(runID, adapterKey string) (*worktree.Worktree, error) {
	var row worktreeRow
	err := s.db.Get(&row, s.db.Rebind(`
		SELECT * FROM worktrees WHERE run_id = ? AND adapter_key = ?
	`), runID, adapterKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wt := row.toWorktree()
	return &wt, nil
}

// ListWorktreesByRepo returns every worktree recorded for repoRoot,
// active or not.
func (s *Store) ListWorktreesByRepo(repoRoot string) ([]*worktree.Worktree, error) {
	var rows []worktreeRow
	if err := s.db.Select(&rows, s.db.Rebind(`
		SELECT * FROM worktrees WHERE repo_root = ? ORDER BY created_at ASC
	`), repoRoot); err != nil {
		return nil, err
	}
	out := make([]*worktree.Worktree, 0, len(rows))
	for _, row := range rows {
		wt := row.toWorktree()
		out = append(out, &wt)
	}
	return out, nil
}

// UpdateWorktree overwrites an existing worktree record.
func (s *Store) UpdateWorktree(wt *worktree.Worktree) error {
	return s.CreateWorktree(wt) // upsert semantics cover both paths
}

type worktreeRow struct {
	RunID      string     `db:"run_id"`
	AdapterKey string     `db:"adapter_key"`
	RepoRoot   string     `db:"repo_root"`
	Path       string     `db:"path"`
	Branch     string     `db:"branch"`
	BaseRef    string     `db:"base_ref"`
	Status     string     `db:"status"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	RemovedAt  *time.Time `db:"removed_at"`
}

func (r worktreeRow) toWorktree() worktree.Worktree {
	return worktree.Worktree{
		RunID:      r.RunID,
		AdapterKey: r.AdapterKey,
		RepoRoot:   r.RepoRoot,
		Path:       r.Path,
		Branch:     r.Branch,
		BaseRef:    r.BaseRef,
		Status:     worktree.Status(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		RemovedAt:  r.RemovedAt,
	}
}
