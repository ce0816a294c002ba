package domain

import "time"

type ContainmentStatus string

const (
	StatusOutside  ContainmentStatus = "OUTSIDE"
	StatusInside   ContainmentStatus = "INSIDE"
	StatusDwelling ContainmentStatus = "DWELLING"
)

// ContainmentState is the durable per-(device, geofence) tracking record.
// It is mutated only by the partition worker that owns the device, so no
// locking is needed on the value itself.
type ContainmentState struct {
	Status       ContainmentStatus `json:"status"`
	EnteredAt    *time.Time        `json:"entered_at,omitempty"`
	LastSampleAt time.Time         `json:"last_sample_at"`
	LastEvent    EventType         `json:"last_event,omitempty"`
}

// NewContainmentState is the implicit state for a pair that has never
// been evaluated: outside, no entry time, zero LastSampleAt so the first
// sample is never considered stale.
func NewContainmentState() *ContainmentState {
	return &ContainmentState{Status: StatusOutside}
}

// Inside reports whether the device is currently considered inside the
// fence (INSIDE or DWELLING).
func (s *ContainmentState) Inside() bool {
	return s.Status == StatusInside || s.Status == StatusDwelling
}
