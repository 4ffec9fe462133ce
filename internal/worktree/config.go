package worktree

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// Config holds configuration for the worktree manager.
type Config struct {
	// BasePath is the base directory under which per-run worktrees are
	// created. Supports ~ expansion. Default: ~/.hydra/worktrees
	BasePath string `mapstructure:"base_path"`

	// MaxPerRepo is the maximum number of concurrently active worktrees
	// for a single repository.
	MaxPerRepo int `mapstructure:"max_per_repo"`

	// BranchPrefix prefixes every branch Hydra creates, so races never
	// collide with a user's own branches.
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// DefaultConfig returns the built-in worktree defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:     "~/.hydra/worktrees",
		MaxPerRepo:   8,
		BranchPrefix: "hydra/",
	}
}

// Validate normalizes zero values and reports any unfixable problem.
func (c *Config) Validate() error {
	if c.MaxPerRepo <= 0 {
		c.MaxPerRepo = 8
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = "hydra/"
	}
	if c.BasePath == "" {
		c.BasePath = "~/.hydra/worktrees"
	}
	return nil
}

// ExpandedBasePath returns BasePath with ~ expanded to the user's home.
func (c *Config) ExpandedBasePath() (string, error) {
	path := c.BasePath
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

// WorktreeDirName is the directory (and cache key) for one agent run's
// worktree: runID and adapterKey together are unique within a repo.
func WorktreeDirName(runID, adapterKey string) string {
	return runID + "_" + adapterKey
}

// WorktreePath returns the full path for a given run/adapter worktree.
func (c *Config) WorktreePath(runID, adapterKey string) (string, error) {
	basePath, err := c.ExpandedBasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(basePath, WorktreeDirName(runID, adapterKey)), nil
}

// BranchName returns the branch name Hydra checks out for one agent run.
// Format: {prefix}{runID}/agent/{adapterKey}
func (c *Config) BranchName(runID, adapterKey string) string {
	return c.BranchPrefix + runID + "/agent/" + adapterKey
}

// BaseBranchName returns the branch name for a run's captured base
// snapshot: {prefix}{runID}/base.
func (c *Config) BaseBranchName(runID string) string {
	return c.BranchPrefix + runID + "/base"
}

// IntegrationBranchName returns the branch name for a run's composed
// integration branch: {prefix}{runID}/integration.
func (c *Config) IntegrationBranchName(runID string) string {
	return c.BranchPrefix + runID + "/integration"
}

var consecutiveHyphens = regexp.MustCompile(`-+`)

// SanitizeForBranch lowercases title, replaces non-alphanumerics with
// hyphens, collapses runs of hyphens, and truncates to maxLen. Useful when
// branch names should carry a human-readable hint of the task.
func SanitizeForBranch(title string, maxLen int) string {
	if title == "" {
		return ""
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('-')
		}
	}
	result := consecutiveHyphens.ReplaceAllString(sb.String(), "-")
	result = strings.Trim(result, "-")
	if len(result) > maxLen {
		result = strings.TrimRight(result[:maxLen], "-")
	}
	return result
}
