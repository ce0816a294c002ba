package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventEnter EventType = "enter"
	EventExit  EventType = "exit"
	EventDwell EventType = "dwell"
)

// eventNamespace seeds the UUIDv5 derivation of event ids. Changing it
// would break idempotent replay against an existing event log.
var eventNamespace = uuid.MustParse("9a1c0f3e-5b2d-4c8a-9f6e-1d7b3a2c4e85")

// GeofenceEvent is a detected containment transition. Its ID is derived
// deterministically from the identifying fields so that reprocessing the
// same sample produces the same id and the durable log write becomes an
// idempotent upsert.
type GeofenceEvent struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	GeofenceID string    `json:"geofence_id"`
	AccountID  string    `json:"account_id"`
	Type       EventType `json:"event_type"`
	Point      GeoPoint  `json:"point"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewGeofenceEvent builds a transition event for the triggering sample,
// stamped with the sample's event time.
func NewGeofenceEvent(t EventType, gf *Geofence, s *LocationSample) *GeofenceEvent {
	return &GeofenceEvent{
		ID:         EventID(s.DeviceID, gf.ID, t, s.Timestamp),
		DeviceID:   s.DeviceID,
		GeofenceID: gf.ID,
		AccountID:  gf.AccountID,
		Type:       t,
		Point:      s.Point,
		Timestamp:  s.Timestamp,
	}
}

// EventID derives the deterministic event id: UUIDv5 over the device,
// fence, type and event-time millisecond timestamp.
func EventID(deviceID, geofenceID string, t EventType, ts time.Time) string {
	name := fmt.Sprintf("%s|%s|%s|%d", deviceID, geofenceID, t, ts.UnixMilli())
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}
