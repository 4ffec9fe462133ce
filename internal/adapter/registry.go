// Package adapter implements Hydra's adapter registry: a closed dispatch
// table over the small set of external coding-agent CLIs Hydra knows how to
// drive, plus capability detection, command construction and structured
// event parsing for each of them.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/internal/herr"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// Registry is the process-wide, closed set of adapter Definitions plus a
// cache of their last detection result. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	defs       map[string]Definition
	order      []string // registration order, for stable List() output
	detections map[string]hydraapi.AdapterRecord
	log        *logger.Logger
}

// New builds a Registry seeded with Hydra's built-in adapter definitions.
// This is the one fixed dispatch table the whole engine dispatches
// through — there is no dynamic plugin loading.
func New(log *logger.Logger) *Registry {
	r := &Registry{
		defs:       make(map[string]Definition),
		detections: make(map[string]hydraapi.AdapterRecord),
		log:        log,
	}
	for _, def := range []Definition{
		NewClaude(),
		NewCodex(),
		NewCursorAgent(),
		NewACP(),
		NewMock(),
	} {
		r.register(def)
	}
	return r
}

func (r *Registry) register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Key()] = def
	r.order = append(r.order, def.Key())
}

// Get returns the Definition for key, or an herr.CodeNotFound error.
func (r *Registry) Get(key string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[key]
	if !ok {
		return nil, herr.Newf(herr.CodeNotFound, "unknown adapter %q", key)
	}
	return def, nil
}

// List returns every registered adapter key in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Detect probes every registered adapter and caches the result. It never
// returns an error itself: an individual adapter's absence or a probe
// failure is recorded as DetectMissing/DetectBlocked on that adapter's
// record, not surfaced as a Detect() failure.
func (r *Registry) Detect(ctx context.Context) []hydraapi.AdapterRecord {
	r.mu.RLock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	r.mu.RUnlock()

	records := make([]hydraapi.AdapterRecord, 0, len(keys))
	for _, key := range keys {
		rec := r.detectOne(ctx, key)
		records = append(records, rec)
	}

	r.mu.Lock()
	for _, rec := range records {
		r.detections[rec.Key] = rec
	}
	r.mu.Unlock()

	return records
}

func (r *Registry) detectOne(ctx context.Context, key string) hydraapi.AdapterRecord {
	def, err := r.Get(key)
	if err != nil {
		return hydraapi.AdapterRecord{Key: key, Detection: hydraapi.DetectMissing, DetectedAt: time.Now()}
	}

	result, err := Detect(ctx, def.DetectOptions()...)
	rec := hydraapi.AdapterRecord{
		Key:          key,
		Tier:         def.Tier(),
		Capabilities: def.StaticCapabilities(),
		DetectedAt:   time.Now(),
	}
	if err != nil {
		rec.Detection = hydraapi.DetectBlocked
		rec.DegradedReason = err.Error()
		if r.log != nil {
			r.log.Warn("adapter detection probe failed", zap.String("adapter", key), zap.Error(err))
		}
		return rec
	}
	if !result.Available {
		rec.Detection = hydraapi.DetectMissing
		return rec
	}

	rec.BinaryPath = result.MatchedPath
	rec.Version = ProbeVersion(ctx, result.MatchedPath, def.VersionArgs()...)
	if def.Tier() == hydraapi.TierExperimental {
		rec.Detection = hydraapi.DetectExperimentalReady
	} else {
		rec.Detection = hydraapi.DetectReady
	}
	return rec
}

// Cached returns the last Detect() result for key without re-probing.
func (r *Registry) Cached(key string) (hydraapi.AdapterRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.detections[key]
	return rec, ok
}

// Ready reports whether key is usable given allowExperimental, returning an
// herr error describing why not when it isn't.
func (r *Registry) Ready(key string, allowExperimental bool) error {
	rec, ok := r.Cached(key)
	if !ok {
		return herr.Newf(herr.CodeNotFound, "adapter %q has not been detected yet", key)
	}
	switch rec.Detection {
	case hydraapi.DetectReady:
		return nil
	case hydraapi.DetectExperimentalReady:
		if allowExperimental {
			return nil
		}
		return herr.Newf(herr.CodeExperimentalBlocked, "adapter %q is experimental and was not explicitly allowed", key)
	case hydraapi.DetectBlocked:
		return herr.Newf(herr.CodeBinaryMissing, "adapter %q detection failed: %s", key, rec.DegradedReason)
	default:
		return herr.Newf(herr.CodeBinaryMissing, "adapter %q binary was not found", key)
	}
}

// BuildCommand constructs the invocation for key using req.
func (r *Registry) BuildCommand(key string, req BuildRequest) (Command, error) {
	def, err := r.Get(key)
	if err != nil {
		return Command{}, err
	}
	cmd, err := def.BuildCommand(req)
	if err != nil {
		return Command{}, herr.Wrap(herr.CodeSpawnFailed, err, fmt.Sprintf("build command for adapter %q", key))
	}
	return cmd, nil
}

// NewParser returns a fresh per-run LineParser for key.
func (r *Registry) NewParser(key string) (*LineParser, error) {
	def, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	return NewLineParser(def), nil
}
