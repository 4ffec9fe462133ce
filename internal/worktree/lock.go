package worktree

import "path/filepath"

// RepoLock is the public handle on the same cross-process advisory lock
// Manager uses internally to guard worktree mutations. The run orchestrator
// acquires it once per race, as a brief readiness gate before any
// structural worktree mutation, so a run's own bookkeeping never races a
// worktree mutation on the same repository.
type RepoLock struct {
	inner *repoLock
}

// LockRepo acquires the repository-scoped advisory lock, blocking until it
// is available.
func LockRepo(repoRoot string) (*RepoLock, error) {
	l, err := acquireRepoLock(filepath.Join(repoRoot, ".git", lockFileName))
	if err != nil {
		return nil, err
	}
	return &RepoLock{inner: l}, nil
}

// Release frees the lock.
func (l *RepoLock) Release() error {
	return l.inner.Release()
}
