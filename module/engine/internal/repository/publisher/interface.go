package publisher

import (
	"context"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

// EventStreamPublisher pushes transition events onto the output stream,
// keyed by device id so downstream consumers keep per-device order.
type EventStreamPublisher interface {
	Publish(ctx context.Context, ev *domain.GeofenceEvent) error
}

// DeadLetterPublisher parks samples that exhausted their retry budget.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, payload []byte, reason string) error
}
