// Package scoring implements the race's dimensioned candidate scoring:
// running the configured build/tests/lint commands against a baseline and
// each candidate worktree, combining the results into a weighted
// composite, and evaluating the mergeability gates. It satisfies
// internal/orchestrator's Scorer interface but has no dependency the
// other way; the orchestrator only ever sees the interface.
package scoring

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hydra-run/hydra/internal/common/config"
	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/eventbus/artifact"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/internal/orchestrator"
	"github.com/hydra-run/hydra/internal/scoring/diffstat"
	"github.com/hydra-run/hydra/internal/scoring/testparse"
	"github.com/hydra-run/hydra/pkg/hydraapi"
	"go.uber.org/zap"
)

// engineVersion is stamped onto every CandidateScore so a score can later
// be traced back to the formula revision that produced it.
const engineVersion = "0.1.0"

// Engine is the scoring engine's concrete implementation.
type Engine struct {
	cfg config.ScoringConfig
	log *logger.Logger
}

// New constructs an Engine from repo-scoped scoring configuration.
func New(cfg config.ScoringConfig, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{cfg: cfg, log: log.With(zap.String("component", "scoring"))}
}

// baseline is the opaque handle Baseline hands back to the orchestrator
// and Score later receives unchanged.
type baseline struct {
	buildAvailable bool

	testsAvailable bool
	testsParsed    bool
	testsPassed    int
	testsTotal     int

	lintAvailable bool
	lintErrors    int
	lintWarnings  int
}

// commandResult is the outcome of running one configured shell command.
type commandResult struct {
	exitOK bool
	output []byte
}

func runConfigured(ctx context.Context, dir, shellCmd string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", shellCmd)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return commandResult{exitOK: false, output: out.Bytes()}, nil
		}
		return commandResult{}, herr.Wrap(herr.CodeScoringUnavailable, err, fmt.Sprintf("run %q", shellCmd))
	}
	return commandResult{exitOK: true, output: out.Bytes()}, nil
}

// Baseline runs the configured build/tests/lint commands once against the
// base worktree. A nil, nil return means no command is configured at all
// and every dimension that needs a baseline is reported inactive.
func (e *Engine) Baseline(ctx context.Context, req orchestrator.BaselineRequest) (any, error) {
	if e.cfg.BuildCmd == "" && e.cfg.TestCmd == "" && e.cfg.LintCmd == "" {
		return nil, nil
	}
	bl := &baseline{}

	if e.cfg.BuildCmd != "" {
		if _, err := runConfigured(ctx, req.BaseDir, e.cfg.BuildCmd); err != nil {
			e.log.Warn("baseline build command failed to run", zap.Error(err))
		} else {
			bl.buildAvailable = true
		}
	}

	if e.cfg.TestCmd != "" {
		res, err := runConfigured(ctx, req.BaseDir, e.cfg.TestCmd)
		if err != nil {
			e.log.Warn("baseline test command failed to run", zap.Error(err))
		} else {
			bl.testsAvailable = true
			if counts, ok := testparse.Parse(e.cfg.TestCmd, res.output); ok {
				bl.testsParsed = true
				bl.testsPassed = counts.Passed
				bl.testsTotal = counts.Total
			}
			if _, err := artifact.WriteArtifact(req.ArtifactDir, "", hydraapi.ArtifactTestOutput, res.output); err != nil {
				e.log.Warn("failed to persist baseline test output", zap.Error(err))
			}
		}
	}

	if e.cfg.LintCmd != "" {
		res, err := runConfigured(ctx, req.BaseDir, e.cfg.LintCmd)
		if err != nil {
			e.log.Warn("baseline lint command failed to run", zap.Error(err))
		} else {
			bl.lintAvailable = true
			bl.lintErrors, bl.lintWarnings = countLintIssues(res.output)
			if _, err := artifact.WriteArtifact(req.ArtifactDir, "", hydraapi.ArtifactLintOutput, res.output); err != nil {
				e.log.Warn("failed to persist baseline lint output", zap.Error(err))
			}
		}
	}

	return bl, nil
}

// Score evaluates one candidate worktree against the baseline handle.
func (e *Engine) Score(ctx context.Context, req orchestrator.ScoreRequest) (hydraapi.CandidateScore, error) {
	bl, _ := req.Baseline.(*baseline) // nil baseline -> every dimension below reports inactive

	score := hydraapi.CandidateScore{
		RunID:         req.RunID,
		AdapterKey:    req.AdapterKey,
		EngineVersion: engineVersion,
		Weights:       hydraapi.ScoringWeightsSnapshot(e.cfg.Weights),
	}

	var warnings []string
	var dims []hydraapi.DimensionScore

	buildDim, buildPassed := e.scoreBuild(ctx, req, bl)
	dims = append(dims, buildDim)

	testsDim, testsDropped, testsRegressionPercent := e.scoreTests(ctx, req, bl)
	dims = append(dims, testsDim)
	if testsDropped {
		warnings = append(warnings, "tests_dropped")
	}

	diffDim, protectedTouched, formatterOnly := e.scoreDiffScope(req)
	dims = append(dims, diffDim)

	lintDim := e.scoreLint(ctx, req, bl, formatterOnly)
	dims = append(dims, lintDim)

	speedDim := e.scoreSpeed(req)
	dims = append(dims, speedDim)

	if formatterOnly {
		warnings = append(warnings, "formatter_only_diff")
	}

	score.Composite = composite(dims)
	score.Dimensions = dims
	score.Warnings = warnings
	score.Mergeable, score.FailedGates = e.evaluateGates(req, buildPassed, testsDim, testsRegressionPercent, protectedTouched)

	return score, nil
}

// composite implements Σ(active_weight_i * dim_score_i) / Σ(active_weight_i),
// dropping inactive dimensions from both sums so their weight is implicitly
// redistributed across whatever remains active.
func composite(dims []hydraapi.DimensionScore) float64 {
	var weightedSum, weightSum float64
	for _, d := range dims {
		if !d.Active {
			continue
		}
		weightedSum += d.Weight * d.Score
		weightSum += d.Weight
	}
	if weightSum == 0 {
		return 0
	}
	return clamp(weightedSum/weightSum, 0, 100)
}

func (e *Engine) scoreBuild(ctx context.Context, req orchestrator.ScoreRequest, bl *baseline) (hydraapi.DimensionScore, bool) {
	dim := hydraapi.DimensionScore{Name: "build", Weight: e.cfg.Weights.Build}
	if bl == nil || !bl.buildAvailable {
		return dim, false
	}
	res, err := runConfigured(ctx, req.CandidateDir, e.cfg.BuildCmd)
	if err != nil {
		e.log.Warn("candidate build command failed to run", zap.String("adapter_key", req.AdapterKey), zap.Error(err))
		return dim, false
	}
	dim.Active = true
	if res.exitOK {
		dim.Score = 100
	}
	return dim, res.exitOK
}

// scoreTests returns the tests dimension, whether the anti-gaming
// test-count-drop penalty fired, and the pass-count regression percent
// against baseline (0 when unavailable) for the mergeability gate to
// evaluate directly rather than re-deriving it from the final score.
func (e *Engine) scoreTests(ctx context.Context, req orchestrator.ScoreRequest, bl *baseline) (hydraapi.DimensionScore, bool, float64) {
	dim := hydraapi.DimensionScore{Name: "tests", Weight: e.cfg.Weights.Tests}
	if bl == nil || !bl.testsAvailable {
		return dim, false, 0
	}
	res, err := runConfigured(ctx, req.CandidateDir, e.cfg.TestCmd)
	if err != nil {
		e.log.Warn("candidate test command failed to run", zap.String("adapter_key", req.AdapterKey), zap.Error(err))
		return dim, false, 0
	}
	dim.Active = true

	path, writeErr := writeArtifact(req.ArtifactDir, hydraapi.ArtifactTestOutput, res.output)
	if writeErr != nil {
		e.log.Warn("failed to persist candidate test output", zap.Error(writeErr))
	} else {
		dim.Evidence = append(dim.Evidence, path)
	}

	counts, parsed := testparse.Parse(e.cfg.TestCmd, res.output)
	if !parsed || !bl.testsParsed {
		dim.Annotation = "parser_fallback"
		if res.exitOK {
			dim.Score = 100
		}
		return dim, false, 0
	}

	passRate := 0.0
	if counts.Total > 0 {
		passRate = float64(counts.Passed) / float64(counts.Total)
	}
	regression := maxFloat(0, float64(bl.testsPassed-counts.Passed))
	regressionPercent := 0.0
	if bl.testsPassed > 0 {
		regressionPercent = (regression / float64(bl.testsPassed)) * 100
	}
	newTestBonus := clamp(maxFloat(0, float64(counts.Total-bl.testsTotal))*0.5, 0, 10)
	dim.Score = clamp(passRate*100-regressionPercent*0.6+newTestBonus, 0, 100)

	dropped := false
	dropThreshold := e.cfg.Gates.MaxTestRegressionPercent
	if dropThreshold <= 0 {
		dropThreshold = 10
	}
	if bl.testsTotal > 0 {
		dropRatio := maxFloat(0, float64(bl.testsTotal-counts.Total)) / float64(bl.testsTotal)
		if dropRatio*100 > dropThreshold {
			dim.Score = clamp(dim.Score-dropRatio*40, 0, 100)
			dim.Annotation = "tests_dropped"
			dropped = true
		}
	}
	return dim, dropped, regressionPercent
}

// scoreLint runs the configured lint command and scores the candidate on
// new issues introduced versus baseline, with a "resolved" bonus for
// issues the candidate cleared. formatterOnly suppresses that bonus: a
// diff that is >=90% whitespace-only hunks commonly clears lint
// warnings by reformatting rather than by fixing anything, per spec.md
// §4.6's anti-gaming rule.
func (e *Engine) scoreLint(ctx context.Context, req orchestrator.ScoreRequest, bl *baseline, formatterOnly bool) hydraapi.DimensionScore {
	dim := hydraapi.DimensionScore{Name: "lint", Weight: e.cfg.Weights.Lint}
	if bl == nil || !bl.lintAvailable {
		return dim
	}
	res, err := runConfigured(ctx, req.CandidateDir, e.cfg.LintCmd)
	if err != nil {
		e.log.Warn("candidate lint command failed to run", zap.String("adapter_key", req.AdapterKey), zap.Error(err))
		return dim
	}
	dim.Active = true

	if path, writeErr := writeArtifact(req.ArtifactDir, hydraapi.ArtifactLintOutput, res.output); writeErr != nil {
		e.log.Warn("failed to persist candidate lint output", zap.Error(writeErr))
	} else {
		dim.Evidence = append(dim.Evidence, path)
	}

	candErr, candWarn := countLintIssues(res.output)
	newErrors := maxFloat(0, float64(candErr-bl.lintErrors))
	newWarnings := maxFloat(0, float64(candWarn-bl.lintWarnings))
	resolved := maxFloat(0, float64((bl.lintErrors+bl.lintWarnings)-(candErr+candWarn)))
	if formatterOnly {
		resolved = 0
	}
	dim.Score = clamp(100-12*newErrors-2*newWarnings+resolved, 0, 100)
	return dim
}

func (e *Engine) scoreDiffScope(req orchestrator.ScoreRequest) (hydraapi.DimensionScore, bool, bool) {
	dim := hydraapi.DimensionScore{Name: "diff_scope", Weight: e.cfg.Weights.DiffScope}
	diffPath := filepath.Join(req.ArtifactDir, "diff.patch")
	diff, err := os.ReadFile(diffPath)
	if err != nil {
		return dim, false, false
	}
	dim.Active = true
	dim.Evidence = append(dim.Evidence, diffPath)

	if req.ZeroDiff {
		dim.Score = 100
		dim.Annotation = "no_change"
		return dim, false, false
	}

	st := diffstat.Parse(diff, e.cfg.DiffScope.ProtectedPaths)
	if st.FormatterOnly {
		// A near-all-whitespace diff is trivially "small", so the usual
		// churn/file-count credit would reward reformatting as if it were
		// focused work. Score it neutrally instead of through the curve.
		dim.Score = 50
		dim.Annotation = "formatter_only_diff"
	} else {
		dim.Score = clamp(0.6*churnScore(st.Churn)+0.4*fileCountScore(st.FilesChanged), 0, 100)
	}

	protectedTouched := len(st.ProtectedTouched) > 0
	if protectedTouched {
		dim.Score = minFloat(dim.Score, 30)
		dim.Annotation = "protected_path_touched"
	}
	return dim, protectedTouched, st.FormatterOnly
}

// churnScore: linear 100 down to 60 across 100-500 changed lines, 60 down
// to 20 across 500-1500.
func churnScore(churn int) float64 {
	c := float64(churn)
	switch {
	case c <= 100:
		return 100
	case c <= 500:
		return 100 - (c-100)/(500-100)*40
	case c <= 1500:
		return 60 - (c-500)/(1500-500)*40
	default:
		return 20
	}
}

// fileCountScore: linear 100 down to 70 across 5-15 files, continuing the
// same decline down to 30 across 15-50, floored at 30 beyond.
func fileCountScore(files int) float64 {
	f := float64(files)
	switch {
	case f <= 5:
		return 100
	case f <= 15:
		return 100 - (f-5)/(15-5)*30
	case f <= 50:
		return 70 - (f-15)/(50-15)*40
	default:
		return 30
	}
}

func (e *Engine) scoreSpeed(req orchestrator.ScoreRequest) hydraapi.DimensionScore {
	dim := hydraapi.DimensionScore{Name: "speed", Weight: e.cfg.Weights.Speed}
	if req.FastestWallClock <= 0 || req.WallClock <= 0 {
		return dim
	}
	dim.Active = true
	dim.Score = clamp(float64(req.FastestWallClock)/float64(req.WallClock)*100, 0, 100)
	return dim
}

func (e *Engine) evaluateGates(req orchestrator.ScoreRequest, buildPassed bool, testsDim hydraapi.DimensionScore, testsRegressionPercent float64, protectedTouched bool) (bool, []string) {
	var failed []string

	if e.cfg.Gates.RequireBuildPass && !buildPassed {
		failed = append(failed, "require_build_pass")
	}

	threshold := e.cfg.Gates.MaxTestRegressionPercent
	if threshold <= 0 {
		threshold = 10
	}
	if testsDim.Active && testsDim.Annotation != "parser_fallback" && testsRegressionPercent > threshold {
		failed = append(failed, "max_test_regression_percent")
	}

	if protectedTouched && e.cfg.Gates.BlockOnProtectedPath {
		failed = append(failed, "protected_path_touched_without_opt_in")
	}

	if req.ParserDegraded && e.cfg.Gates.BlockOnDegradedParser {
		failed = append(failed, "block_on_degraded_parser")
	}

	return len(failed) == 0, failed
}

// countLintIssues is a best-effort line-oriented scan for "error"/"warning"
// markers, the common denominator across linters that print one issue per
// line (golangci-lint, eslint, ruff).
func countLintIssues(output []byte) (errCount, warnCount int) {
	for _, line := range strings.Split(string(output), "\n") {
		l := strings.ToLower(line)
		switch {
		case strings.Contains(l, "error"):
			errCount++
		case strings.Contains(l, "warning"):
			warnCount++
		}
	}
	return errCount, warnCount
}

// writeArtifact persists data under an already-joined artifact directory
// (a run or candidate's own directory, not a top-level runDir), mirroring
// how the orchestrator's own artifact writes are addressed.
func writeArtifact(artifactDir string, kind hydraapi.ArtifactKind, data []byte) (string, error) {
	art, err := artifact.WriteArtifact(artifactDir, "", kind, data)
	if err != nil {
		return "", err
	}
	return art.Path, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
