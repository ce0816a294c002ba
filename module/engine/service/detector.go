package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/observability"
)

type GeofenceIndex interface {
	GeofencesFor(ctx context.Context, accountID string) ([]domain.Geofence, error)
}

type StateStore interface {
	Load(ctx context.Context, deviceID, geofenceID string) (*domain.ContainmentState, error)
	Save(ctx context.Context, deviceID, geofenceID string, st *domain.ContainmentState) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev *domain.GeofenceEvent) error
}

// Detector evaluates one location sample against every geofence relevant
// to the sample's account. One Detector is shared by all partition
// workers; per-pair state isolation comes from partitioning, not from
// locks here.
type Detector struct {
	index   GeofenceIndex
	store   StateStore
	pub     EventPublisher
	tracker *Tracker
	log     *zap.Logger
}

func NewDetector(index GeofenceIndex, store StateStore, pub EventPublisher, tracker *Tracker, log *zap.Logger) *Detector {
	return &Detector{
		index:   index,
		store:   store,
		pub:     pub,
		tracker: tracker,
		log:     log.With(zap.String("component", "detector")),
	}
}

// Process runs the full pipeline for one sample: resolve candidate
// fences, track each pair, publish transitions, persist state.
//
// The event publish happens before the state save: if we crash between
// the two, reprocessing re-emits the event, and the deterministic event
// id turns the re-emit into a no-op. The reverse order could lose the
// transition forever. A retried sample that already advanced some pairs'
// LastSampleAt simply sees those pairs as stale and skips them.
func (d *Detector) Process(ctx context.Context, s *domain.LocationSample) error {
	start := time.Now()
	defer observability.ObserveEvalLatency(start)

	fences, err := d.index.GeofencesFor(ctx, s.AccountID)
	if err != nil {
		return err
	}

	for i := range fences {
		gf := &fences[i]

		st, err := d.store.Load(ctx, s.DeviceID, gf.ID)
		if err != nil {
			return err
		}

		eval, err := d.tracker.Track(gf, st, s)
		if err != nil {
			return err
		}
		if eval.Stale {
			observability.SamplesStale.Inc()
			continue
		}

		if eval.Event != nil {
			if err := d.pub.Publish(ctx, eval.Event); err != nil {
				return err
			}
			observability.EventsEmitted.WithLabelValues(string(eval.Event.Type)).Inc()
			d.log.Info("transition detected",
				zap.String("device_id", s.DeviceID),
				zap.String("geofence_id", gf.ID),
				zap.String("event_type", string(eval.Event.Type)),
				zap.Time("event_time", eval.Event.Timestamp),
			)
		}

		if err := d.store.Save(ctx, s.DeviceID, gf.ID, eval.State); err != nil {
			return err
		}
	}
	return nil
}
