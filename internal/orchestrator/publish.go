package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/eventbus/artifact"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// publish durably appends ev to the run's event log (assigning the real
// sequence number) and then fans it out over the live bus. The durable
// write happens first and is what the caller's error return reflects; a
// bus fan-out problem is only ever logged, never returned, since the bus
// is not the system of record.
func (o *Orchestrator) publish(ctx context.Context, w *artifact.Writer, runID string, ev hydraapi.Event) (hydraapi.Event, error) {
	if ev.Data != nil {
		ev.Data = o.redactPayload(ev.Data)
	}
	stored, err := w.Append(ev)
	if err != nil {
		return stored, err
	}
	if err := o.bus.Publish(ctx, runID, stored); err != nil {
		o.log.Warn("bus publish failed", zap.String("run_id", runID), zap.Error(err))
	}
	return stored, nil
}

// redactPayload scrubs every string value in an event's data map in place,
// returning a new map so the caller's original is untouched.
func (o *Orchestrator) redactPayload(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = o.scrubber.Scrub(s)
			continue
		}
		out[k] = v
	}
	return out
}

func lifecycleEvent(runID, agentKey, eventType string, data map[string]any) hydraapi.Event {
	return hydraapi.Event{
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		AgentKey:  agentKey,
		EventType: eventType,
		Data:      data,
	}
}
