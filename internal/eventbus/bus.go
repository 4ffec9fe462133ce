// Package eventbus provides live fan-out of run events to in-process and
// cross-process subscribers. It is never the system of record: the
// durable, gap-free log lives in internal/eventbus/artifact and is what
// poll_events always reads from. The bus exists purely so an interactive
// caller can get near-real-time pushes instead of polling.
package eventbus

import (
	"context"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// Handler receives one event. A non-nil error is logged but never stops
// delivery to other subscribers.
type Handler func(ctx context.Context, ev hydraapi.Event) error

// Subscription is a live handle on one Subscribe call.
type Subscription interface {
	Unsubscribe()
}

// Bus is the live fan-out surface. Implementations: memory (single
// process) and nats (multi-process / multi-host).
type Bus interface {
	// Publish fans ev out to every current subscriber of runID. It never
	// blocks on slow subscribers and never returns their errors.
	Publish(ctx context.Context, runID string, ev hydraapi.Event) error

	// Subscribe registers handler for every future event published for
	// runID.
	Subscribe(runID string, handler Handler) (Subscription, error)

	// Close releases the bus's resources. Already-delivered events are
	// unaffected; new Publish/Subscribe calls after Close fail.
	Close() error
}
