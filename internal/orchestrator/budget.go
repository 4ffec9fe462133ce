package orchestrator

import (
	"sync"
	"time"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// budgetTracker accumulates usage events against a run's configured budget
// and reports the first limit that trips, once, so callers can cancel
// in-flight agents and record a budget_exceeded reason exactly once.
type budgetTracker struct {
	mu         sync.Mutex
	budget     hydraapi.Budget
	startedAt  time.Time
	tokensUsed int64
	costUSD    float64
	tripped    bool
}

func newBudgetTracker(budget hydraapi.Budget) *budgetTracker {
	return &budgetTracker{budget: budget, startedAt: time.Now()}
}

// addUsage folds in one agent's reported token/cost usage and reports
// whether this call is the one that newly exceeded a limit.
func (b *budgetTracker) addUsage(tokens int64, costUSD float64) (exceeded bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokensUsed += tokens
	b.costUSD += costUSD
	return b.checkLocked()
}

// checkRuntime re-evaluates the wall-clock bound independent of usage
// events; called periodically by the run's watchdog.
func (b *budgetTracker) checkRuntime() (exceeded bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkLocked()
}

func (b *budgetTracker) checkLocked() (bool, string) {
	if b.tripped {
		return false, "" // already reported once
	}
	switch {
	case b.budget.MaxTokensTotal > 0 && b.tokensUsed > b.budget.MaxTokensTotal:
		b.tripped = true
		return true, "budget_exceeded"
	case b.budget.MaxCostUSD > 0 && b.costUSD > b.budget.MaxCostUSD:
		b.tripped = true
		return true, "budget_exceeded"
	case b.budget.MaxRuntimeMinutes > 0 && time.Since(b.startedAt) > time.Duration(b.budget.MaxRuntimeMinutes*float64(time.Minute)):
		b.tripped = true
		return true, "budget_exceeded"
	default:
		return false, ""
	}
}

// snapshot returns current usage totals for manifest/AgentRun reporting.
func (b *budgetTracker) snapshot() (tokens int64, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokensUsed, b.costUSD
}
