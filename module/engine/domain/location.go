package domain

import "time"

// GeoPoint is a WGS 84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// LocationSample is one device location report, stamped with event time
// (when the device observed the fix, not when we received it).
type LocationSample struct {
	DeviceID       string    `json:"device_id"`
	AccountID      string    `json:"account_id"`
	Point          GeoPoint  `json:"point"`
	AccuracyMeters float64   `json:"accuracy_meters,omitempty"`
	Altitude       float64   `json:"altitude,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
