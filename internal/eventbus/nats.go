package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// subjectPrefix namespaces Hydra's run-event subjects on a shared NATS
// deployment.
const subjectPrefix = "hydra.events."

// NATSBus is a Bus backed by a NATS connection, for deployments where the
// engine and an external dashboard/embedder run as separate processes (or
// hosts) and want live event push without polling the durable log.
type NATSBus struct {
	nc  *nats.Conn
	log *logger.Logger
}

// NewNATSBus connects to url and returns a Bus over it.
func NewNATSBus(url string, log *logger.Logger) (*NATSBus, error) {
	if log == nil {
		log = logger.Default()
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATSBus{nc: nc, log: log.With(zap.String("component", "eventbus_nats"))}, nil
}

func subject(runID string) string { return subjectPrefix + runID }

func (b *NATSBus) Publish(ctx context.Context, runID string, ev hydraapi.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.nc.Publish(subject(runID), payload)
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() {
	_ = s.sub.Unsubscribe()
}

func (b *NATSBus) Subscribe(runID string, handler Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject(runID), func(msg *nats.Msg) {
		var ev hydraapi.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Warn("discarding malformed event from nats", zap.Error(err))
			return
		}
		if err := handler(context.Background(), ev); err != nil {
			b.log.Warn("event handler returned an error", zap.String("run_id", runID), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject(runID), err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}
