// Package worktree manages one isolated git worktree per agent run, so
// concurrent adapters never contend for the same working directory.
package worktree

import "time"

// Status is the lifecycle state of a Worktree record.
type Status string

const (
	StatusActive  Status = "active"
	StatusMerged  Status = "merged"
	StatusDeleted Status = "deleted"
)

// Worktree is the persisted record of one agent run's isolated checkout.
type Worktree struct {
	RunID      string     `json:"run_id"`
	AdapterKey string     `json:"adapter_key"`
	RepoRoot   string      `json:"repo_root"`
	Path       string     `json:"path"`
	Branch     string     `json:"branch"`
	BaseRef    string     `json:"base_ref"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	RemovedAt  *time.Time `json:"removed_at,omitempty"`
}

// CreateRequest is the input to Manager.Create.
type CreateRequest struct {
	RunID      string
	AdapterKey string
	RepoRoot   string
	BaseRef    string
	// BranchName overrides the generated branch name when non-empty.
	BranchName string
}

// Store persists Worktree records. internal/store/sqlite provides the
// production implementation; tests may use an in-memory fake.
type Store interface {
	CreateWorktree(wt *Worktree) error
	GetWorktree(runID, adapterKey string) (*Worktree, error)
	ListWorktreesByRepo(repoRoot string) ([]*Worktree, error)
	UpdateWorktree(wt *Worktree) error
}
