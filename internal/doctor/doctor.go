// Package doctor aggregates Hydra's preflight readiness checks — git
// repository validity, required environment, adapter detection, working
// tree cleanliness, and disk space under the workspace directory — into a
// single report suitable for a UI dashboard, `hydra doctor`, or
// GET /v1/doctor.
package doctor

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/hydra-run/hydra/internal/adapter"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// minFreeBytes is the disk-space floor below which the workspace check
// warns; below it a run is likely to fail mid-way through writing
// artifacts rather than up front.
const minFreeBytes = 200 * 1024 * 1024

// Check is one named pass/fail probe contributing to the report's health
// score. Tier1 checks failing force a non-zero report.
type Check struct {
	Name    string  `json:"name"`
	Passed  bool    `json:"passed"`
	Tier1   bool    `json:"tier1"`
	Message string  `json:"message,omitempty"`
	Weight  float64 `json:"weight"`
}

// Report is the aggregate preflight readiness result.
type Report struct {
	RepoRoot    string                   `json:"repo_root"`
	GeneratedAt time.Time                `json:"generated_at"`
	Checks      []Check                  `json:"checks"`
	Adapters    []hydraapi.AdapterRecord `json:"adapters"`
	HealthScore float64                  `json:"health_score"` // weighted pass rate, 0-100
	Warnings    []string                 `json:"warnings,omitempty"`
	OK          bool                     `json:"ok"` // false if any Tier-1 check failed
}

// Doctor runs preflight checks against one repository using a shared
// adapter registry.
type Doctor struct {
	adapters *adapter.Registry
	log      *logger.Logger
}

// New returns a Doctor. adapters is re-probed on every Run; log may be nil.
func New(adapters *adapter.Registry, log *logger.Logger) *Doctor {
	return &Doctor{adapters: adapters, log: log}
}

// Run executes every preflight check against repoRoot and workspaceDir
// (typically "<repoRoot>/.hydra") and returns the aggregate report.
func (d *Doctor) Run(ctx context.Context, repoRoot, workspaceDir string) Report {
	report := Report{
		RepoRoot:    repoRoot,
		GeneratedAt: time.Now().UTC(),
	}

	report.Checks = append(report.Checks, checkGitBinary())
	report.Checks = append(report.Checks, checkGitRepo(ctx, repoRoot))
	report.Checks = append(report.Checks, checkCleanWorktree(ctx, repoRoot))
	report.Checks = append(report.Checks, checkDiskSpace(workspaceDir))

	records := d.adapters.Detect(ctx)
	report.Adapters = records
	report.Checks = append(report.Checks, adapterChecks(records)...)

	report.OK = true
	var weightedPass, totalWeight float64
	for _, c := range report.Checks {
		totalWeight += c.Weight
		if c.Passed {
			weightedPass += c.Weight
			continue
		}
		if c.Tier1 {
			report.OK = false
		}
		report.Warnings = append(report.Warnings, c.Name+": "+c.Message)
	}
	if totalWeight > 0 {
		report.HealthScore = (weightedPass / totalWeight) * 100
	}

	return report
}

func checkGitBinary() Check {
	path, err := exec.LookPath("git")
	if err != nil {
		return Check{Name: "git_binary", Tier1: true, Weight: 2, Message: "git was not found on PATH"}
	}
	return Check{Name: "git_binary", Passed: true, Tier1: true, Weight: 2, Message: path}
}

func checkGitRepo(ctx context.Context, repoRoot string) Check {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return Check{Name: "git_repository", Tier1: true, Weight: 2, Message: "not a git working tree"}
	}
	return Check{Name: "git_repository", Passed: true, Tier1: true, Weight: 2}
}

func checkCleanWorktree(ctx context.Context, repoRoot string) Check {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return Check{Name: "clean_worktree", Tier1: false, Weight: 1, Message: "could not determine working tree status"}
	}
	if strings.TrimSpace(string(out)) != "" {
		return Check{Name: "clean_worktree", Tier1: false, Weight: 1, Message: "working tree has uncommitted changes"}
	}
	return Check{Name: "clean_worktree", Passed: true, Tier1: false, Weight: 1}
}

func adapterChecks(records []hydraapi.AdapterRecord) []Check {
	checks := make([]Check, 0, len(records))
	haveTier1Ready := false
	for _, rec := range records {
		tier1 := rec.Tier == hydraapi.TierOne
		passed := rec.Detection == hydraapi.DetectReady || rec.Detection == hydraapi.DetectExperimentalReady
		if tier1 && rec.Detection == hydraapi.DetectReady {
			haveTier1Ready = true
		}
		msg := string(rec.Detection)
		if rec.DegradedReason != "" {
			msg = rec.DegradedReason
		}
		checks = append(checks, Check{
			Name:    "adapter_" + rec.Key,
			Passed:  passed,
			Tier1:   false,
			Weight:  1,
			Message: msg,
		})
	}
	// At least one Tier-1 adapter must be ready; otherwise no race can
	// ever run, which is the one adapter-level condition that should
	// fail the whole report rather than just lower its score.
	checks = append(checks, Check{
		Name:    "at_least_one_tier1_adapter_ready",
		Passed:  haveTier1Ready,
		Tier1:   true,
		Weight:  3,
		Message: "no Tier-1 adapter is ready",
	})
	return checks
}
