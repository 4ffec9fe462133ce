package orchestrator

import (
	"context"
	"time"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// Scorer is implemented by internal/scoring's engine. The orchestrator
// depends only on this interface so the scoring dimension formulas and
// gates can change without touching race coordination.
type Scorer interface {
	// Baseline runs the configured build/tests/lint commands against the
	// base worktree once per run and returns an opaque handle that Score
	// uses to compute regressions. A nil error with a nil handle means
	// scoring is unavailable (no commands configured) and every dimension
	// that depends on a baseline is reported inactive.
	Baseline(ctx context.Context, req BaselineRequest) (any, error)

	// Score evaluates one candidate worktree against baseline (the handle
	// returned by Baseline, or nil if unavailable).
	Score(ctx context.Context, req ScoreRequest) (hydraapi.CandidateScore, error)
}

// BaselineRequest carries what Baseline needs to run the configured
// commands against the base worktree.
type BaselineRequest struct {
	RunID       string
	BaseDir     string // the base worktree's working directory
	ArtifactDir string // "<runDir>/base"
}

// ScoreRequest carries what Score needs to evaluate one candidate.
type ScoreRequest struct {
	RunID            string
	AdapterKey       string
	CandidateDir     string // the candidate worktree's working directory
	ArtifactDir      string // "<runDir>/<adapterKey>"
	Baseline         any
	WallClock        time.Duration
	FastestWallClock time.Duration // 0 if this candidate is the fastest so far
	ParserDegraded   bool
	ZeroDiff         bool
}
