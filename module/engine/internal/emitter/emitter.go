package emitter

import (
	"context"

	"go.uber.org/zap"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/observability"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/database"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/publisher"
)

// Emitter records a transition durably and republishes it on the output
// stream. The durable row, keyed by the deterministic event id, is the
// source of truth for "did this transition happen"; the stream publish
// always runs, even when the row already existed, because a duplicate
// insert means an earlier attempt may have died before reaching the
// stream. Downstream consumers dedupe on the event id.
type Emitter struct {
	eventLog database.EventLog
	stream   publisher.EventStreamPublisher
	log      *zap.Logger
}

func New(eventLog database.EventLog, stream publisher.EventStreamPublisher, log *zap.Logger) *Emitter {
	return &Emitter{
		eventLog: eventLog,
		stream:   stream,
		log:      log.With(zap.String("component", "emitter")),
	}
}

func (e *Emitter) Publish(ctx context.Context, ev *domain.GeofenceEvent) error {
	inserted, err := e.eventLog.Insert(ctx, ev)
	if err != nil {
		return domain.Retryable("event log insert", err)
	}
	if !inserted {
		observability.EventsDuplicate.Inc()
		e.log.Debug("duplicate event id, durable write was a no-op",
			zap.String("event_id", ev.ID))
	}

	if err := e.stream.Publish(ctx, ev); err != nil {
		return domain.Retryable("event stream publish", err)
	}
	return nil
}
