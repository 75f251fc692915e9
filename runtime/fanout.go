package runtime

import (
	"context"

	"chat-sync/contract"
)

// Ensure *FanoutWorker implements the contract.Worker interface at
// compile time.
var _ contract.Worker = (*FanoutWorker)(nil)

// FanoutWorker drains the hub's event channel and drives snapshot
// deliveries. A single worker per hub keeps each subscriber's
// notification stream in order.
type FanoutWorker struct {
	hub *Hub
}

func NewFanoutWorker(hub *Hub) *FanoutWorker {
	return &FanoutWorker{hub: hub}
}

func (w *FanoutWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.hub.log.Debug("Context done, stopping fan-out")
			return ctx.Err()
		case evt := <-w.hub.events:
			w.hub.fanout(evt)
		}
	}
}
