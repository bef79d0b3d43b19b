package telemetry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/odvcencio/batchq/pkg/bus"
)

// Subject returns the bus subject an event is forwarded to, e.g.
// "batchq.job.failed" for prefix "batchq".
func Subject(prefix string, t EventType) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return string(t)
	}
	return prefix + "." + string(t)
}

// Forward publishes every event from events to b as JSON until the channel
// closes or ctx is done. Publish failures are dropped; telemetry is best effort.
func Forward(ctx context.Context, events <-chan Event, b bus.MessageBus, prefix string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = b.Publish(ctx, Subject(prefix, ev.Type), data)
		}
	}
}
