package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/herr"
)

// lockFileName is the on-disk advisory lock guarding git-mutating
// operations against concurrent Hydra processes on the same repository.
const lockFileName = ".hydra-worktree.lock"

// Manager creates, tracks and reclaims per-run git worktrees.
type Manager struct {
	config Config
	log    *logger.Logger
	store  Store

	mu    sync.RWMutex
	cache map[string]*Worktree // "runID/adapterKey" -> worktree
}

// NewManager constructs a Manager, ensuring the configured base directory
// exists.
func NewManager(cfg Config, store Store, log *logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	basePath, err := cfg.ExpandedBasePath()
	if err != nil {
		return nil, fmt.Errorf("expand worktree base path: %w", err)
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	return &Manager{
		config: cfg,
		log:    log.With(zap.String("component", "worktree_manager")),
		store:  store,
		cache:  make(map[string]*Worktree),
	}, nil
}

func cacheKey(runID, adapterKey string) string { return runID + "/" + adapterKey }

// Create provisions an isolated worktree and branch for one agent run. If
// a worktree already exists for (runID, adapterKey) it is reused as-is.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Worktree, error) {
	if req.RunID == "" || req.AdapterKey == "" {
		return nil, herr.New(herr.CodeInvalidConfig, "worktree create requires run id and adapter key")
	}
	if existing, err := m.Get(req.RunID, req.AdapterKey); err == nil {
		if m.IsValid(existing.Path) {
			return existing, nil
		}
		m.log.Warn("worktree directory invalid, recreating",
			zap.String("run_id", req.RunID), zap.String("adapter_key", req.AdapterKey))
	}

	if !isGitRepo(req.RepoRoot) {
		return nil, herr.New(herr.CodeNotAGitRepo, "repository is not a git repository: "+req.RepoRoot)
	}
	if !branchExists(req.RepoRoot, req.BaseRef) {
		return nil, herr.Newf(herr.CodeInvalidConfig, "base ref %q does not exist", req.BaseRef)
	}

	count, err := m.countActiveForRepo(req.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("count active worktrees: %w", err)
	}
	if count >= m.config.MaxPerRepo {
		return nil, herr.Newf(herr.CodeInvalidConfig, "repository already has %d active worktrees (max %d)", count, m.config.MaxPerRepo)
	}

	lock, err := m.lockRepo(req.RepoRoot)
	if err != nil {
		return nil, herr.Wrap(herr.CodeLockContention, err, "acquire repository lock")
	}
	defer lock.Release()

	return m.createWorktree(ctx, req)
}

func (m *Manager) createWorktree(ctx context.Context, req CreateRequest) (*Worktree, error) {
	path, err := m.config.WorktreePath(req.RunID, req.AdapterKey)
	if err != nil {
		return nil, err
	}
	branch := req.BranchName
	if branch == "" {
		branch = m.config.BranchName(req.RunID, req.AdapterKey)
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path, req.BaseRef)
	cmd.Dir = req.RepoRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		m.log.Error("git worktree add failed", zap.String("output", string(output)), zap.Error(err))
		return nil, herr.Wrap(herr.CodeStorageFailed, err, "git worktree add: "+strings.TrimSpace(string(output)))
	}

	now := time.Now()
	wt := &Worktree{
		RunID:      req.RunID,
		AdapterKey: req.AdapterKey,
		RepoRoot:   req.RepoRoot,
		Path:       path,
		Branch:     branch,
		BaseRef:    req.BaseRef,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if m.store != nil {
		if err := m.store.CreateWorktree(wt); err != nil {
			m.removeWorktreeDir(ctx, path, req.RepoRoot)
			return nil, fmt.Errorf("persist worktree: %w", err)
		}
	}

	m.mu.Lock()
	m.cache[cacheKey(req.RunID, req.AdapterKey)] = wt
	m.mu.Unlock()

	m.log.Info("created worktree",
		zap.String("run_id", req.RunID), zap.String("adapter_key", req.AdapterKey),
		zap.String("path", path), zap.String("branch", branch))
	return wt, nil
}

// Get returns the worktree for (runID, adapterKey), checking the in-memory
// cache before falling back to the store.
func (m *Manager) Get(runID, adapterKey string) (*Worktree, error) {
	m.mu.RLock()
	if wt, ok := m.cache[cacheKey(runID, adapterKey)]; ok {
		m.mu.RUnlock()
		return wt, nil
	}
	m.mu.RUnlock()

	if m.store != nil {
		wt, err := m.store.GetWorktree(runID, adapterKey)
		if err == nil && wt != nil {
			m.mu.Lock()
			m.cache[cacheKey(runID, adapterKey)] = wt
			m.mu.Unlock()
			return wt, nil
		}
	}
	return nil, herr.New(herr.CodeNotFound, "worktree not found")
}

// IsValid checks that path is an existing, well-formed worktree directory.
func (m *Manager) IsValid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	content, err := os.ReadFile(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(content), "gitdir:")
}

// Remove tears down a run's worktree directory and, optionally, its
// branch.
func (m *Manager) Remove(ctx context.Context, runID, adapterKey string, removeBranch bool) error {
	wt, err := m.Get(runID, adapterKey)
	if err != nil {
		return err
	}

	lock, err := m.lockRepo(wt.RepoRoot)
	if err != nil {
		return herr.Wrap(herr.CodeLockContention, err, "acquire repository lock")
	}
	defer lock.Release()

	if err := m.removeWorktreeDir(ctx, wt.Path, wt.RepoRoot); err != nil {
		m.log.Warn("failed to remove worktree directory", zap.String("path", wt.Path), zap.Error(err))
	}

	if removeBranch {
		cmd := exec.CommandContext(ctx, "git", "branch", "-D", wt.Branch)
		cmd.Dir = wt.RepoRoot
		if output, err := cmd.CombinedOutput(); err != nil {
			m.log.Warn("failed to delete branch", zap.String("branch", wt.Branch), zap.String("output", string(output)))
		}
	}

	now := time.Now()
	wt.Status = StatusDeleted
	wt.RemovedAt = &now
	wt.UpdatedAt = now
	if m.store != nil {
		if err := m.store.UpdateWorktree(wt); err != nil {
			m.log.Warn("failed to update worktree record", zap.Error(err))
		}
	}

	m.mu.Lock()
	delete(m.cache, cacheKey(runID, adapterKey))
	m.mu.Unlock()

	m.log.Info("removed worktree", zap.String("run_id", runID), zap.String("adapter_key", adapterKey))
	return nil
}

// Reconcile removes any worktree directory under the base path that has no
// corresponding active run, reclaiming disk from crashed or killed runs.
func (m *Manager) Reconcile(ctx context.Context, activeRunIDs []string) error {
	basePath, err := m.config.ExpandedBasePath()
	if err != nil {
		return err
	}
	active := make(map[string]bool, len(activeRunIDs))
	for _, id := range activeRunIDs {
		active[id] = true
	}

	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read worktree base directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := strings.SplitN(entry.Name(), "_", 2)[0]
		if active[runID] {
			continue
		}
		path := filepath.Join(basePath, entry.Name())
		m.log.Info("cleaning up orphaned worktree", zap.String("path", path))
		if err := os.RemoveAll(path); err != nil {
			m.log.Warn("failed to remove orphaned worktree", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) countActiveForRepo(repoRoot string) (int, error) {
	if m.store == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		count := 0
		for _, wt := range m.cache {
			if wt.RepoRoot == repoRoot && wt.Status == StatusActive {
				count++
			}
		}
		return count, nil
	}
	worktrees, err := m.store.ListWorktreesByRepo(repoRoot)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, wt := range worktrees {
		if wt.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func (m *Manager) removeWorktreeDir(ctx context.Context, worktreePath, repoRoot string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", worktreePath)
	cmd.Dir = repoRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		m.log.Debug("git worktree remove failed, falling back to rm -rf", zap.String("output", string(output)))
		if err := os.RemoveAll(worktreePath); err != nil {
			return err
		}
		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = repoRoot
		_ = prune.Run()
	}
	return nil
}

func (m *Manager) lockRepo(repoRoot string) (*repoLock, error) {
	return acquireRepoLock(filepath.Join(repoRoot, ".git", lockFileName))
}

func isGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

func branchExists(repoRoot, ref string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", ref)
	cmd.Dir = repoRoot
	return cmd.Run() == nil
}
