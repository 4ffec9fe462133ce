package scoring

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/internal/common/config"
	"github.com/hydra-run/hydra/internal/orchestrator"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

func TestChurnScore(t *testing.T) {
	cases := []struct {
		name  string
		churn int
		want  float64
	}{
		{"well within budget", 50, 100},
		{"at the soft boundary", 100, 100},
		{"midway through the first band", 300, 80},
		{"at the second boundary", 500, 60},
		{"midway through the second band", 1000, 40},
		{"past the ceiling", 2000, 20},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.InDelta(t, c.want, churnScore(c.churn), 0.01)
		})
	}
}

func TestFileCountScore(t *testing.T) {
	require.InDelta(t, 100, fileCountScore(3), 0.01)
	require.InDelta(t, 100, fileCountScore(5), 0.01)
	require.InDelta(t, 85, fileCountScore(10), 0.01)
	require.InDelta(t, 70, fileCountScore(15), 0.01)
	require.InDelta(t, 30, fileCountScore(50), 0.01)
	require.InDelta(t, 30, fileCountScore(100), 0.01)
	require.Less(t, fileCountScore(30), fileCountScore(15))
}

// TestFileCountScoreHasNoCliffAtFifteenFiles guards against the curve
// dropping sharply right after the 5-15 band instead of continuing its
// decline toward the 30 floor.
func TestFileCountScoreHasNoCliffAtFifteenFiles(t *testing.T) {
	at15 := fileCountScore(15)
	at16 := fileCountScore(16)
	require.Less(t, at16, at15)
	require.InDelta(t, at15, at16, 5, "score should decline gradually, not cliff, just past the 15-file band")
}

func TestCompositeDropsInactiveDimensions(t *testing.T) {
	dims := []hydraapi.DimensionScore{
		{Name: "build", Weight: 30, Active: true, Score: 100},
		{Name: "tests", Weight: 30, Active: false},
		{Name: "lint", Weight: 15, Active: true, Score: 50},
	}
	// (30*100 + 15*50) / (30+15) = 4500/45 = 100... recompute: 30*100=3000, 15*50=750, sum=3750/45=83.33
	require.InDelta(t, 83.33, composite(dims), 0.01)
}

func TestCompositeAllInactiveIsZero(t *testing.T) {
	dims := []hydraapi.DimensionScore{{Name: "build", Weight: 30, Active: false}}
	require.Equal(t, 0.0, composite(dims))
}

func newTestEngine(t *testing.T, buildCmd, testCmd, lintCmd string) *Engine {
	t.Helper()
	cfg := config.Default().Scoring
	cfg.BuildCmd = buildCmd
	cfg.TestCmd = testCmd
	cfg.LintCmd = lintCmd
	return New(cfg, nil)
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
}

func TestBaselineUnavailableWhenNoCommandsConfigured(t *testing.T) {
	e := newTestEngine(t, "", "", "")
	handle, err := e.Baseline(context.Background(), orchestrator.BaselineRequest{BaseDir: t.TempDir()})
	require.NoError(t, err)
	require.Nil(t, handle)
}

func TestScoreBuildPassFailAndMergeability(t *testing.T) {
	e := newTestEngine(t, "./build.sh", "", "")

	baseDir := t.TempDir()
	writeScript(t, baseDir, "build.sh", "#!/bin/sh\nexit 0\n")
	handle, err := e.Baseline(context.Background(), orchestrator.BaselineRequest{BaseDir: baseDir, ArtifactDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, handle)

	candidateDir := t.TempDir()
	writeScript(t, candidateDir, "build.sh", "#!/bin/sh\nexit 1\n")
	score, err := e.Score(context.Background(), orchestrator.ScoreRequest{
		RunID:        "run-1",
		AdapterKey:   "mock",
		CandidateDir: candidateDir,
		ArtifactDir:  t.TempDir(),
		Baseline:     handle,
	})
	require.NoError(t, err)
	require.False(t, score.Mergeable)
	require.Contains(t, score.FailedGates, "require_build_pass")

	var buildDim *hydraapi.DimensionScore
	for i := range score.Dimensions {
		if score.Dimensions[i].Name == "build" {
			buildDim = &score.Dimensions[i]
		}
	}
	require.NotNil(t, buildDim)
	require.True(t, buildDim.Active)
	require.Equal(t, 0.0, buildDim.Score)
}

func TestScoreTestsRegressionBlocksMerge(t *testing.T) {
	e := newTestEngine(t, "", "./test.sh", "")

	baseDir := t.TempDir()
	writeScript(t, baseDir, "test.sh", `#!/bin/sh
echo "--- PASS: TestA"
echo "--- PASS: TestB"
echo "--- PASS: TestC"
echo "--- PASS: TestD"
echo "--- PASS: TestE"
echo "--- PASS: TestF"
echo "--- PASS: TestG"
echo "--- PASS: TestH"
echo "--- PASS: TestI"
echo "--- PASS: TestJ"
`)
	handle, err := e.Baseline(context.Background(), orchestrator.BaselineRequest{BaseDir: baseDir, ArtifactDir: t.TempDir()})
	require.NoError(t, err)

	candidateDir := t.TempDir()
	writeScript(t, candidateDir, "test.sh", `#!/bin/sh
echo "--- PASS: TestA"
echo "--- PASS: TestB"
echo "--- FAIL: TestC"
echo "--- FAIL: TestD"
echo "--- PASS: TestE"
echo "--- PASS: TestF"
echo "--- PASS: TestG"
echo "--- PASS: TestH"
echo "--- PASS: TestI"
echo "--- PASS: TestJ"
exit 1
`)
	score, err := e.Score(context.Background(), orchestrator.ScoreRequest{
		RunID:        "run-1",
		AdapterKey:   "mock",
		CandidateDir: candidateDir,
		ArtifactDir:  t.TempDir(),
		Baseline:     handle,
	})
	require.NoError(t, err)
	require.False(t, score.Mergeable)
	require.Contains(t, score.FailedGates, "max_test_regression_percent")
}

func TestScoreDiffScopeZeroDiffIsAnnotatedNotExcluded(t *testing.T) {
	e := newTestEngine(t, "", "", "")
	artifactDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "diff.patch"), []byte{}, 0o644))

	dim, protected, formatterOnly := e.scoreDiffScope(orchestrator.ScoreRequest{ArtifactDir: artifactDir, ZeroDiff: true})
	require.True(t, dim.Active)
	require.Equal(t, "no_change", dim.Annotation)
	require.Equal(t, 100.0, dim.Score)
	require.False(t, protected)
	require.False(t, formatterOnly)
}

func TestScoreDiffScopeProtectedPathCapsScore(t *testing.T) {
	e := newTestEngine(t, "", "", "")
	e.cfg.DiffScope.ProtectedPaths = []string{"vendor/"}
	artifactDir := t.TempDir()
	diff := []byte("diff --git a/vendor/lib.go b/vendor/lib.go\n--- a/vendor/lib.go\n+++ b/vendor/lib.go\n+changed\n")
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "diff.patch"), diff, 0o644))

	dim, protected, _ := e.scoreDiffScope(orchestrator.ScoreRequest{ArtifactDir: artifactDir})
	require.True(t, protected)
	require.LessOrEqual(t, dim.Score, 30.0)
}

// TestScoreDiffScopeFormatterOnlyDoesNotEarnChurnBonus asserts that a
// near-all-whitespace diff is scored neutrally instead of through the
// churn/file-count curve, which would otherwise reward it as a "small,
// focused" change.
func TestScoreDiffScopeFormatterOnlyDoesNotEarnChurnBonus(t *testing.T) {
	e := newTestEngine(t, "", "", "")
	artifactDir := t.TempDir()
	diff := []byte("diff --git a/foo.go b/foo.go\n--- a/foo.go\n+++ b/foo.go\n@@ -1,1 +1,1 @@\n-func Foo() {}\n+func Foo() {}\n")
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "diff.patch"), diff, 0o644))

	dim, _, formatterOnly := e.scoreDiffScope(orchestrator.ScoreRequest{ArtifactDir: artifactDir})
	require.True(t, formatterOnly)
	require.Equal(t, "formatter_only_diff", dim.Annotation)
	require.Less(t, dim.Score, 100.0, "must not receive the full churn/file-count credit")
}

// TestScoreLintSuppressesResolvedBonusForFormatterOnlyDiff asserts the
// "resolved" lint bonus does not apply when the whole diff is a
// reformat: clearing style warnings by reformatting is not the
// engineering improvement the bonus is meant to reward.
func TestScoreLintSuppressesResolvedBonusForFormatterOnlyDiff(t *testing.T) {
	e := newTestEngine(t, "", "", `printf 'error\nerror\nerror\nerror\nerror\nerror\n'`)
	bl := &baseline{lintAvailable: true, lintErrors: 5, lintWarnings: 5}

	withBonus := e.scoreLint(context.Background(), orchestrator.ScoreRequest{ArtifactDir: t.TempDir()}, bl, false)
	suppressed := e.scoreLint(context.Background(), orchestrator.ScoreRequest{ArtifactDir: t.TempDir()}, bl, true)

	require.Less(t, suppressed.Score, withBonus.Score)
}
