package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/telemetry"
)

// Bridge forwards telemetry hub events onto the bus as JSON, one subject
// per event type (excella.events.<type>).
type Bridge struct {
	hub    *telemetry.Hub
	bus    MessageBus
	logger *logging.Logger

	stop func()
	wg   sync.WaitGroup
	once sync.Once
}

// NewBridge connects hub to mb. Call Start to begin forwarding.
func NewBridge(hub *telemetry.Hub, mb MessageBus, logger *logging.Logger) *Bridge {
	return &Bridge{hub: hub, bus: mb, logger: logger}
}

// Start forwards events until ctx is done or Stop is called.
func (b *Bridge) Start(ctx context.Context) {
	events, unsubscribe := b.hub.Subscribe(telemetry.Filter{})
	b.stop = unsubscribe
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				b.forward(ctx, ev)
			}
		}
	}()
}

// Stop unsubscribes from the hub and waits for the forwarder to exit.
func (b *Bridge) Stop() {
	b.once.Do(func() {
		if b.stop != nil {
			b.stop()
		}
		b.wg.Wait()
	})
}

func (b *Bridge) forward(ctx context.Context, ev telemetry.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn(logging.CategoryNetwork, "bridge_encode_failed", err.Error(), map[string]any{"type": string(ev.Type)})
		return
	}
	if err := b.bus.Publish(ctx, SubjectEventsPrefix+string(ev.Type), data); err != nil {
		b.logger.Warn(logging.CategoryNetwork, "bridge_publish_failed", err.Error(), map[string]any{"type": string(ev.Type)})
	}
}
