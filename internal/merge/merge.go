// Package merge implements the run's merge coordinator: a dry-run preview
// that never touches the real working tree, and a guarded execute that
// performs the actual merge commit. Both operations are pure git-plumbing,
// shelling out the same way the teacher's GitOperator does, rather than
// linking a git library.
package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/eventbus/artifact"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/internal/telemetry"
	"github.com/hydra-run/hydra/internal/worktree"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// Strategy selects how Execute folds the candidate branch into the target.
type Strategy string

const (
	StrategyThreeWay        Strategy = "three_way"
	StrategyFastForwardOnly Strategy = "fast_forward_only"
)

// ErrInvalidBranchName is returned when a branch name contains characters
// unsafe to pass to git on the command line.
var ErrInvalidBranchName = errors.New("invalid branch name")

// validBranchNameRegex mirrors the teacher's branch-name allowlist: no
// spaces, no shell metacharacters, no control characters.
var validBranchNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)

func isValidBranchName(branch string) bool {
	if branch == "" || len(branch) > 255 {
		return false
	}
	if strings.Contains(branch, "..") {
		return false
	}
	if strings.HasSuffix(branch, ".lock") {
		return false
	}
	return validBranchNameRegex.MatchString(branch)
}

// PreviewRequest is the input to Coordinator.Preview.
type PreviewRequest struct {
	RepoRoot        string
	TargetBranch    string // the branch active when the run started
	CandidateBranch string
	UnsafeMode      bool // skip the clean-working-tree pre-check
	// ArtifactDir, if set, receives a conflict_report artifact when the
	// preview merge conflicts. Treated as an already-joined directory,
	// not rejoined with any agent key.
	ArtifactDir string
}

// PreviewResult reports the outcome of a dry-run merge.
type PreviewResult struct {
	Conflicted         bool
	ConflictFiles      []string
	ConflictReportPath string
	MergeBaseSHA       string
}

// ExecuteRequest is the input to Coordinator.Execute.
type ExecuteRequest struct {
	RepoRoot        string
	TargetBranch    string
	CandidateBranch string
	UnsafeMode      bool
	Strategy        Strategy // defaults to StrategyThreeWay when empty
	Message         string   // merge commit message; a default is used when empty
}

// ExecuteResult reports the outcome of a real merge.
type ExecuteResult struct {
	MergeCommitSHA string
	FastForwarded  bool
	Conflicted     bool
	ConflictFiles  []string
}

// Coordinator runs merge previews and executes merges, one repository at a
// time, guarded by the repository's advisory lock for the mutating path.
type Coordinator struct {
	log *logger.Logger
}

// New returns a Coordinator. log may be nil in tests that never exercise a
// logging path.
func New(log *logger.Logger) *Coordinator {
	return &Coordinator{log: log}
}

// Preview performs a dry-run merge of candidateBranch into targetBranch
// using an ephemeral index and scratch work tree, so the repository's real
// index, HEAD, and working tree are left untouched regardless of outcome.
func (c *Coordinator) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	ctx, span := telemetry.StartMergePreview(ctx, req.TargetBranch, req.CandidateBranch)
	defer span.End()

	if !isValidBranchName(req.TargetBranch) || !isValidBranchName(req.CandidateBranch) {
		err := herr.Wrap(herr.CodeMergeFailed, ErrInvalidBranchName, "validate branch names")
		telemetry.EndMerge(span, false, err)
		return PreviewResult{}, err
	}

	if err := c.preMergeChecks(ctx, req.RepoRoot, req.TargetBranch, req.CandidateBranch, req.UnsafeMode); err != nil {
		telemetry.EndMerge(span, false, err)
		return PreviewResult{}, err
	}

	gitDir, err := resolveGitDir(ctx, req.RepoRoot)
	if err != nil {
		err = herr.Wrap(herr.CodeMergeFailed, err, "resolve git directory")
		telemetry.EndMerge(span, false, err)
		return PreviewResult{}, err
	}

	scratchDir, err := os.MkdirTemp("", "hydra-merge-preview-*")
	if err != nil {
		err = herr.Wrap(herr.CodeMergeFailed, err, "create scratch work tree")
		telemetry.EndMerge(span, false, err)
		return PreviewResult{}, err
	}
	defer func() { _ = os.RemoveAll(scratchDir) }()

	indexPath := filepath.Join(scratchDir, ".index")
	env := previewEnv(gitDir, scratchDir, indexPath)

	base, err := runGit(ctx, req.RepoRoot, nil, "merge-base", req.TargetBranch, req.CandidateBranch)
	if err != nil {
		err = herr.Wrap(herr.CodeMergeFailed, err, "compute merge base")
		telemetry.EndMerge(span, false, err)
		return PreviewResult{}, err
	}
	mergeBaseSHA := strings.TrimSpace(base)

	if _, err := runGit(ctx, scratchDir, env, "read-tree", req.TargetBranch); err != nil {
		err = herr.Wrap(herr.CodeMergeFailed, err, "load target tree into ephemeral index")
		telemetry.EndMerge(span, false, err)
		return PreviewResult{}, err
	}

	mergeOutput, mergeErr := runGit(ctx, scratchDir, env, "merge-recursive", mergeBaseSHA, "--", req.TargetBranch, req.CandidateBranch)
	if mergeErr == nil {
		telemetry.EndMerge(span, false, nil)
		return PreviewResult{MergeBaseSHA: mergeBaseSHA}, nil
	}

	conflicts := parseConflictFiles(mergeOutput)
	if len(conflicts) == 0 {
		// merge-recursive failed for a reason other than a content conflict
		// (e.g. the scratch work tree vanished); surface it as a hard failure.
		err := herr.Wrap(herr.CodeMergeFailed, mergeErr, "preview merge failed")
		telemetry.EndMerge(span, false, err)
		return PreviewResult{}, err
	}

	result := PreviewResult{Conflicted: true, ConflictFiles: conflicts, MergeBaseSHA: mergeBaseSHA}
	if req.ArtifactDir != "" {
		report := formatConflictReport(req.TargetBranch, req.CandidateBranch, conflicts)
		art, err := writeArtifact(req.ArtifactDir, hydraapi.ArtifactConflictReport, report)
		if err != nil {
			c.warn("failed to persist conflict report", zap.Error(err))
		} else {
			result.ConflictReportPath = art.Path
		}
	}
	telemetry.EndMerge(span, true, nil)
	return result, nil
}

// Execute performs the real merge of candidateBranch into targetBranch,
// guarded by the repository's advisory lock. Any failure leaves the
// working tree exactly as it was before the call: a failed merge is
// aborted, never left half-applied.
func (c *Coordinator) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyThreeWay
	}
	ctx, span := telemetry.StartMergeExecute(ctx, req.TargetBranch, req.CandidateBranch, string(strategy))
	defer span.End()

	if !isValidBranchName(req.TargetBranch) || !isValidBranchName(req.CandidateBranch) {
		err := herr.Wrap(herr.CodeMergeFailed, ErrInvalidBranchName, "validate branch names")
		telemetry.EndMerge(span, false, err)
		return ExecuteResult{}, err
	}

	lock, err := worktree.LockRepo(req.RepoRoot)
	if err != nil {
		err = herr.Wrap(herr.CodeLockContention, err, "acquire repository lock")
		telemetry.EndMerge(span, false, err)
		return ExecuteResult{}, err
	}
	defer func() { _ = lock.Release() }()

	if err := c.preMergeChecks(ctx, req.RepoRoot, req.TargetBranch, req.CandidateBranch, req.UnsafeMode); err != nil {
		telemetry.EndMerge(span, false, err)
		return ExecuteResult{}, err
	}

	args := []string{"merge"}
	switch strategy {
	case StrategyFastForwardOnly:
		args = append(args, "--ff-only")
	default:
		args = append(args, "--no-ff")
		msg := req.Message
		if msg == "" {
			msg = fmt.Sprintf("Merge %s into %s", req.CandidateBranch, req.TargetBranch)
		}
		args = append(args, "-m", msg)
	}
	args = append(args, req.CandidateBranch)

	output, mergeErr := runGit(ctx, req.RepoRoot, nil, args...)
	if mergeErr != nil {
		conflicts := parseConflictFiles(output)
		if _, abortErr := runGit(ctx, req.RepoRoot, nil, "merge", "--abort"); abortErr != nil {
			c.warn("failed to abort merge after failure", zap.Error(abortErr))
		}
		result := ExecuteResult{Conflicted: len(conflicts) > 0, ConflictFiles: conflicts}
		err := herr.Wrap(herr.CodeMergeConflict, mergeErr, "execute merge")
		telemetry.EndMerge(span, result.Conflicted, err)
		return result, err
	}

	sha, err := runGit(ctx, req.RepoRoot, nil, "rev-parse", "HEAD")
	if err != nil {
		err = herr.Wrap(herr.CodeMergeFailed, err, "resolve merge commit sha")
		telemetry.EndMerge(span, false, err)
		return ExecuteResult{}, err
	}

	telemetry.EndMerge(span, false, nil)
	return ExecuteResult{
		MergeCommitSHA: strings.TrimSpace(sha),
		FastForwarded:  strings.Contains(output, "Fast-forward"),
	}, nil
}

// preMergeChecks enforces the checks common to both preview and execute:
// the candidate branch exists, the repository's current branch is still
// the one the run started against, and (unless unsafe mode opts out) the
// working tree has no uncommitted changes.
func (c *Coordinator) preMergeChecks(ctx context.Context, repoRoot, targetBranch, candidateBranch string, unsafe bool) error {
	if _, err := runGit(ctx, repoRoot, nil, "rev-parse", "--verify", "--quiet", "refs/heads/"+candidateBranch); err != nil {
		return herr.Newf(herr.CodeMergeFailed, "candidate branch %q does not exist", candidateBranch)
	}

	current, err := runGit(ctx, repoRoot, nil, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return herr.Wrap(herr.CodeMergeFailed, err, "resolve current branch")
	}
	if strings.TrimSpace(current) != targetBranch {
		return herr.Newf(herr.CodeMergeFailed, "target branch %q is no longer checked out (currently on %q)", targetBranch, strings.TrimSpace(current))
	}

	if !unsafe {
		status, err := runGit(ctx, repoRoot, nil, "status", "--porcelain")
		if err != nil {
			return herr.Wrap(herr.CodeMergeFailed, err, "check working tree status")
		}
		if strings.TrimSpace(status) != "" {
			return herr.New(herr.CodeDirtyWorktree, "working tree has uncommitted changes")
		}
	}
	return nil
}

// previewEnv filters the real GIT_DIR/GIT_WORK_TREE out of the inherited
// environment and replaces them with the ephemeral ones, the same trick
// the teacher uses before shelling out to tools that must see the real
// repository location.
func previewEnv(gitDir, scratchWorkTree, indexPath string) []string {
	env := filterGitEnv(os.Environ())
	env = append(env,
		"GIT_DIR="+gitDir,
		"GIT_WORK_TREE="+scratchWorkTree,
		"GIT_INDEX_FILE="+indexPath,
	)
	return env
}

func filterGitEnv(env []string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		if strings.HasPrefix(e, "GIT_DIR=") || strings.HasPrefix(e, "GIT_WORK_TREE=") || strings.HasPrefix(e, "GIT_INDEX_FILE=") {
			continue
		}
		result = append(result, e)
	}
	return result
}

func resolveGitDir(ctx context.Context, repoRoot string) (string, error) {
	out, err := runGit(ctx, repoRoot, nil, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(out)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoRoot, dir)
	}
	return dir, nil
}

// runGit executes git in dir with the given environment override (the
// process's own environment is used when env is nil), returning the
// combined stdout+stderr the way the teacher's runGitCommand does.
func runGit(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += stderr.String()
	}
	if err != nil {
		return output, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return output, nil
}

// parseConflictFiles extracts conflicted paths from git's "CONFLICT (...)
// Merge conflict in <file>" output lines.
func parseConflictFiles(output string) []string {
	var conflicts []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "CONFLICT") {
			continue
		}
		if idx := strings.Index(line, "Merge conflict in "); idx != -1 {
			file := strings.TrimSpace(line[idx+len("Merge conflict in "):])
			if file != "" {
				conflicts = append(conflicts, file)
			}
		}
	}
	return conflicts
}

func formatConflictReport(targetBranch, candidateBranch string, files []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "merge preview: %s into %s\n", candidateBranch, targetBranch)
	fmt.Fprintf(&b, "conflicted files (%d):\n", len(files))
	for _, f := range files {
		fmt.Fprintf(&b, "  %s\n", f)
	}
	return []byte(b.String())
}

func writeArtifact(artifactDir string, kind hydraapi.ArtifactKind, data []byte) (hydraapi.Artifact, error) {
	return artifact.WriteArtifact(artifactDir, "", kind, data)
}

func (c *Coordinator) warn(msg string, fields ...zap.Field) {
	if c.log == nil {
		return
	}
	c.log.Warn(msg, fields...)
}
