package service

import (
	"math"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
)

// DefaultMaxAccuracyMeters is the accuracy above which near-boundary
// results are held back. Tunable via configuration.
const DefaultMaxAccuracyMeters = 100

// TrackerConfig tunes the noisy-sample hysteresis.
type TrackerConfig struct {
	// MaxAccuracyMeters: samples reporting a worse (larger) accuracy are
	// not allowed to flip the containment side near a boundary. Zero
	// disables the hysteresis entirely.
	MaxAccuracyMeters float64
}

// Tracker applies one location sample against the containment state of a
// single (device, geofence) pair. It is pure bookkeeping: all I/O stays
// in the caller.
type Tracker struct {
	cfg TrackerConfig
}

func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg}
}

// Evaluation is the outcome of tracking one sample against one fence.
type Evaluation struct {
	// State is the post-sample state. When Stale is true it is the prior
	// state, untouched.
	State *domain.ContainmentState
	// Event is the emitted transition, nil if none.
	Event *domain.GeofenceEvent
	// Stale marks a duplicate or out-of-order sample that was discarded.
	Stale bool
}

// Track runs the containment state machine for one sample.
//
// Samples whose timestamp does not advance past the pair's LastSampleAt
// are discarded without mutation, which makes redelivery and in-window
// reordering idempotent. Every accepted sample advances LastSampleAt,
// transition or not.
func (t *Tracker) Track(gf *domain.Geofence, prev *domain.ContainmentState, s *domain.LocationSample) (Evaluation, error) {
	if prev == nil {
		prev = domain.NewContainmentState()
	}
	if !s.Timestamp.After(prev.LastSampleAt) {
		return Evaluation{State: prev, Stale: true}, nil
	}

	inside, err := Contains(gf, s.Point)
	if err != nil {
		return Evaluation{}, err
	}
	inside, err = t.applyHysteresis(gf, prev, s, inside)
	if err != nil {
		return Evaluation{}, err
	}

	next := *prev
	next.LastSampleAt = s.Timestamp

	var event *domain.GeofenceEvent
	switch prev.Status {
	case domain.StatusOutside:
		if inside {
			entered := s.Timestamp
			next.Status = domain.StatusInside
			next.EnteredAt = &entered
			event = domain.NewGeofenceEvent(domain.EventEnter, gf, s)
		}
	case domain.StatusInside:
		switch {
		case !inside:
			next.Status = domain.StatusOutside
			next.EnteredAt = nil
			event = domain.NewGeofenceEvent(domain.EventExit, gf, s)
		case gf.DwellEnabled() && prev.EnteredAt != nil &&
			s.Timestamp.Sub(*prev.EnteredAt) >= gf.DwellThreshold:
			next.Status = domain.StatusDwelling
			event = domain.NewGeofenceEvent(domain.EventDwell, gf, s)
		}
	case domain.StatusDwelling:
		if !inside {
			next.Status = domain.StatusOutside
			next.EnteredAt = nil
			event = domain.NewGeofenceEvent(domain.EventExit, gf, s)
		}
	}

	if event != nil {
		next.LastEvent = event.Type
	}
	return Evaluation{State: &next, Event: event}, nil
}

// applyHysteresis keeps a noisy sample from flipping the containment
// side when the fix could plausibly sit on either side of the boundary.
// For circles "near the boundary" means within the reported accuracy of
// the radius; for polygons any side flip under excessive accuracy is
// treated as near-boundary. Suppression still counts the sample as seen.
func (t *Tracker) applyHysteresis(gf *domain.Geofence, prev *domain.ContainmentState, s *domain.LocationSample, inside bool) (bool, error) {
	if t.cfg.MaxAccuracyMeters <= 0 || s.AccuracyMeters <= t.cfg.MaxAccuracyMeters {
		return inside, nil
	}
	if inside == prev.Inside() {
		return inside, nil
	}
	switch gf.Kind {
	case domain.KindCircle, domain.KindPoint:
		bd, err := circleBoundaryDistance(gf, s.Point)
		if err != nil {
			return false, err
		}
		if math.Abs(bd) <= s.AccuracyMeters {
			return prev.Inside(), nil
		}
		return inside, nil
	default:
		return prev.Inside(), nil
	}
}
